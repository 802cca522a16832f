package vector_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	testutils "github.com/papercomputeco/kdb/pkg/utils/test"
	"github.com/papercomputeco/kdb/pkg/vector"
	"github.com/papercomputeco/kdb/pkg/vector/inmemory"
)

func record(id, sourceID, content string) vector.Record {
	return vector.Record{
		ID:      id,
		Content: content,
		Metadata: map[string]string{
			vector.MetaSourceID: sourceID,
			vector.MetaContext:  "context of " + id,
		},
	}
}

var _ = Describe("Store", func() {
	var (
		ctx      context.Context
		driver   *inmemory.Driver
		embedder *testutils.MockEmbedder
		store    *vector.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		embedder = testutils.NewMockEmbedder()
		store = vector.NewStore(driver, embedder, vector.Layout{
			Name:       "chunks",
			VectorSize: testutils.DefaultMockDimensions,
		})
	})

	It("applies layout defaults", func() {
		layout := store.Layout()
		Expect(layout.ContentColumn).To(Equal("document"))
		Expect(layout.MetadataColumn).To(Equal("metadata"))
		Expect(layout.IDColumn).To(Equal("id"))
	})

	It("refuses to operate before Configure", func() {
		_, err := store.Upsert(ctx, []vector.Record{record("a", "doc", "x")})
		Expect(err).To(MatchError(vector.ErrNotConfigured))

		_, err = store.Search(ctx, "x", 1, vector.Filter{})
		Expect(err).To(MatchError(vector.ErrNotConfigured))
	})

	Context("when configured", func() {
		BeforeEach(func() {
			Expect(store.Configure(ctx)).To(Succeed())
		})

		It("is idempotent", func() {
			Expect(store.Configure(ctx)).To(Succeed())
			Expect(store.Configured()).To(BeTrue())
		})

		It("reports a schema conflict when the size changes", func() {
			other := vector.NewStore(driver, embedder, vector.Layout{Name: "chunks", VectorSize: 16})
			Expect(other.Configure(ctx)).To(MatchError(vector.ErrSchemaConflict))
		})

		It("embeds records without an embedding and writes them", func() {
			n, err := store.Upsert(ctx, []vector.Record{
				record("a", "doc", "alpha"),
				record("b", "doc", "beta"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(embedder.Calls).To(Equal(2))
			Expect(driver.Len()).To(Equal(2))
		})

		It("replaces records with the same id", func() {
			_, err := store.Upsert(ctx, []vector.Record{record("a", "doc", "alpha")})
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Upsert(ctx, []vector.Record{record("a", "doc", "alpha v2")})
			Expect(err).NotTo(HaveOccurred())

			records, err := store.List(ctx, vector.SourceFilter("doc"))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Content).To(Equal("alpha v2"))
		})

		It("rejects embeddings of the wrong size", func() {
			r := record("a", "doc", "alpha")
			r.Embedding = []float32{1, 2, 3}
			_, err := store.Upsert(ctx, []vector.Record{r})
			Expect(err).To(MatchError(vector.ErrSchemaConflict))
			Expect(driver.Len()).To(BeZero())
		})

		It("reports embedder failures as store unavailability", func() {
			embedder.FailOn = "alpha"
			_, err := store.Upsert(ctx, []vector.Record{record("a", "doc", "alpha")})
			Expect(err).To(MatchError(vector.ErrStoreUnavailable))
		})

		It("retries transient embedder failures when retry is enabled", func() {
			retrying := vector.NewStore(driver, embedder, store.Layout(), vector.WithRetry(3, time.Millisecond))
			Expect(retrying.Configure(ctx)).To(Succeed())
			embedder.FailFirst = 1

			n, err := retrying.Upsert(ctx, []vector.Record{record("a", "doc", "alpha")})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(embedder.Calls).To(Equal(2))

			embedder.FailFirst = embedder.Calls + 1
			results, err := retrying.Search(ctx, "alpha", 1, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})

		It("gives up on the embedder after the retry attempts", func() {
			retrying := vector.NewStore(driver, embedder, store.Layout(), vector.WithRetry(2, time.Millisecond))
			Expect(retrying.Configure(ctx)).To(Succeed())
			embedder.FailFirst = 10

			_, err := retrying.Upsert(ctx, []vector.Record{record("a", "doc", "alpha")})
			Expect(err).To(MatchError(vector.ErrStoreUnavailable))
			Expect(embedder.Calls).To(Equal(2))
		})

		It("embeds the context with the content when enabled", func() {
			withContext := vector.NewStore(driver, embedder, store.Layout(), vector.WithEmbedContext(true))
			r := record("a", "doc", "alpha")
			Expect(withContext.EmbeddingText(r)).To(Equal("context of a\n\nalpha"))
			Expect(store.EmbeddingText(r)).To(Equal("alpha"))
		})

		It("ranks search results by similarity and honours the filter", func() {
			_, err := store.Upsert(ctx, []vector.Record{
				record("a", "doc-1", "vacation policy"),
				record("b", "doc-1", "expense reports"),
				record("c", "doc-2", "vacation policy"),
			})
			Expect(err).NotTo(HaveOccurred())

			results, err := store.Search(ctx, "vacation policy", 10, vector.SourceFilter("doc-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("a"))
			Expect(results[0].Score).To(BeNumerically("~", 1.0, 1e-5))
			Expect(results[0].Score).To(BeNumerically(">", results[1].Score))
		})

		It("limits results to topK", func() {
			_, err := store.Upsert(ctx, []vector.Record{
				record("a", "doc", "one"),
				record("b", "doc", "two"),
				record("c", "doc", "three"),
			})
			Expect(err).NotTo(HaveOccurred())

			results, err := store.Search(ctx, "one", 2, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
		})

		It("deletes by source and ids", func() {
			_, err := store.Upsert(ctx, []vector.Record{
				record("a", "doc-1", "one"),
				record("b", "doc-1", "two"),
				record("c", "doc-2", "three"),
			})
			Expect(err).NotTo(HaveOccurred())

			n, err := store.DeleteByFilter(ctx, vector.Filter{
				IDs:      []string{"a", "c"},
				Metadata: map[string]string{vector.MetaSourceID: "doc-1"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			n, err = store.DeleteByFilter(ctx, vector.SourceFilter("doc-2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			records, err := store.List(ctx, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal("b"))
		})

		It("never deletes with an empty filter", func() {
			_, err := store.Upsert(ctx, []vector.Record{record("a", "doc", "one")})
			Expect(err).NotTo(HaveOccurred())

			_, err = store.DeleteByFilter(ctx, vector.Filter{})
			Expect(err).To(MatchError(vector.ErrEmptyFilter))
			Expect(driver.Len()).To(Equal(1))
		})
	})
})

var _ = Describe("Layout", func() {
	It("rejects identifiers that are not plain names", func() {
		layout := vector.Layout{Name: "chunks; DROP TABLE x"}.WithDefaults()
		Expect(layout.Validate()).To(MatchError(ContainSubstring("invalid identifier")))
	})

	It("rejects a non-positive vector size", func() {
		layout := vector.Layout{Name: "chunks", VectorSize: -1}.WithDefaults()
		Expect(layout.Validate()).To(MatchError(vector.ErrSchemaConflict))
	})
})

var _ = Describe("Filter", func() {
	r := record("a", "doc", "x")

	It("matches on metadata and ids together", func() {
		Expect(vector.SourceFilter("doc").Matches(r)).To(BeTrue())
		Expect(vector.SourceFilter("other").Matches(r)).To(BeFalse())
		Expect(vector.Filter{IDs: []string{"b"}, Metadata: map[string]string{vector.MetaSourceID: "doc"}}.Matches(r)).To(BeFalse())
		Expect(vector.Filter{IDs: []string{"a"}}.Matches(r)).To(BeTrue())
	})

	It("reports emptiness", func() {
		Expect(vector.Filter{}.IsEmpty()).To(BeTrue())
		Expect(vector.SourceFilter("doc").IsEmpty()).To(BeFalse())
	})
})
