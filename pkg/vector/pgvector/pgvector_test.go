package pgvector

import (
	"context"
	"fmt"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/vector"
)

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("KDB_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("KDB_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

func unit(i, dims int) []float32 {
	v := make([]float32, dims)
	v[i%dims] = 1
	return v
}

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *Driver
		layout vector.Layout
	)

	BeforeEach(func() {
		ctx = context.Background()
		dsn := connStr()

		var err error
		driver, err = NewDriver(Config{ConnStr: dsn}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		layout = vector.Layout{
			Name:       fmt.Sprintf("kdb_test_%d", time.Now().UnixNano()),
			VectorSize: 4,
			HNSW:       true,
		}.WithDefaults()
		Expect(driver.Configure(ctx, layout)).To(Succeed())

		DeferCleanup(func() {
			_, _ = driver.db.ExecContext(context.Background(), fmt.Sprintf(`DROP TABLE IF EXISTS %q`, layout.Name))
			driver.Close()
		})
	})

	It("is idempotent and detects a size conflict", func() {
		Expect(driver.Configure(ctx, layout)).To(Succeed())

		conflicting := layout
		conflicting.VectorSize = 8
		Expect(driver.Configure(ctx, conflicting)).To(MatchError(vector.ErrSchemaConflict))
	})

	It("detects a size conflict on a mixed-case table name", func() {
		mixed := vector.Layout{
			Name:       fmt.Sprintf("KdbChunks_%d", time.Now().UnixNano()),
			VectorSize: 4,
		}.WithDefaults()
		Expect(driver.Configure(ctx, mixed)).To(Succeed())
		DeferCleanup(func() {
			_, _ = driver.db.ExecContext(context.Background(), fmt.Sprintf(`DROP TABLE IF EXISTS %q`, mixed.Name))
		})

		conflicting := mixed
		conflicting.VectorSize = 8
		Expect(driver.Configure(ctx, conflicting)).To(MatchError(vector.ErrSchemaConflict))
	})

	It("upserts, searches, lists and deletes", func() {
		records := []vector.Record{
			{ID: "a", Content: "alpha", Embedding: unit(0, 4), Metadata: map[string]string{vector.MetaSourceID: "doc-1"}},
			{ID: "b", Content: "beta", Embedding: unit(1, 4), Metadata: map[string]string{vector.MetaSourceID: "doc-1"}},
			{ID: "c", Content: "gamma", Embedding: unit(0, 4), Metadata: map[string]string{vector.MetaSourceID: "doc-2"}},
		}
		n, err := driver.Upsert(ctx, records)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		records[0].Content = "alpha v2"
		_, err = driver.Upsert(ctx, records[:1])
		Expect(err).NotTo(HaveOccurred())

		results, err := driver.Query(ctx, unit(0, 4), 5, vector.SourceFilter("doc-1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results[0].ID).To(Equal("a"))
		Expect(results[0].Content).To(Equal("alpha v2"))
		Expect(results[0].Score).To(BeNumerically("~", 1, 1e-5))

		listed, err := driver.List(ctx, vector.SourceFilter("doc-1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(listed).To(HaveLen(2))

		deleted, err := driver.DeleteByFilter(ctx, vector.Filter{
			IDs:      []string{"b", "c"},
			Metadata: map[string]string{vector.MetaSourceID: "doc-1"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(Equal(1))

		deleted, err = driver.DeleteByFilter(ctx, vector.SourceFilter("doc-2"))
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(Equal(1))
	})

	It("rejects an empty delete filter", func() {
		_, err := driver.DeleteByFilter(ctx, vector.Filter{})
		Expect(err).To(MatchError(vector.ErrEmptyFilter))
	})
})
