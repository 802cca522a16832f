package postgres_test

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/postgres"
)

var _ = Describe("IsTransient", func() {
	DescribeTable("classifies server errors by SQLSTATE",
		func(code string, transient bool) {
			err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
			Expect(postgres.IsTransient(err)).To(Equal(transient))
		},
		Entry("connection failure", "08006", true),
		Entry("too many connections", "53300", true),
		Entry("admin shutdown", "57P01", true),
		Entry("serialization failure", "40001", true),
		Entry("undefined table", "42P01", false),
		Entry("unique violation", "23505", false),
	)

	It("ignores nil and unrelated errors", func() {
		Expect(postgres.IsTransient(nil)).To(BeFalse())
		Expect(postgres.IsTransient(errors.New("boom"))).To(BeFalse())
	})
})

var _ = Describe("Open", func() {
	It("requires a connection string", func() {
		_, err := postgres.Open("")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("QuoteIdentifier", func() {
	It("doubles embedded quotes", func() {
		Expect(postgres.QuoteIdentifier(`my"table`)).To(Equal(`"my""table"`))
	})
})
