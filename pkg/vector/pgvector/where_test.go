package pgvector

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/vector"
)

var _ = Describe("buildWhere", func() {
	layout := vector.Layout{Name: "chunks"}.WithDefaults()

	It("matches everything for an empty filter", func() {
		where, args, err := buildWhere(layout, vector.Filter{}, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(where).To(Equal("TRUE"))
		Expect(args).To(BeEmpty())
	})

	It("uses jsonb containment for metadata", func() {
		where, args, err := buildWhere(layout, vector.SourceFilter("handbook.md"), 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(where).To(Equal(`"metadata" @> $1::jsonb`))
		Expect(args).To(Equal([]any{`{"source_id":"handbook.md"}`}))
	})

	It("numbers placeholders from the given offset", func() {
		where, args, err := buildWhere(layout, vector.Filter{
			IDs:      []string{"a", "b"},
			Metadata: map[string]string{vector.MetaSourceID: "doc"},
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(where).To(Equal(`"id" = ANY($3) AND "metadata" @> $4::jsonb`))
		Expect(args).To(HaveLen(2))
		Expect(args[0]).To(Equal([]string{"a", "b"}))
	})
})
