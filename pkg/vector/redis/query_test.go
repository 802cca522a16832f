package redis

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/vector"
)

var _ = Describe("sourceKey", func() {
	It("is a stable hex digest that keeps separators and case apart", func() {
		Expect(sourceKey("report,v2.md")).To(MatchRegexp("^[0-9a-f]{64}$"))
		Expect(sourceKey("report,v2.md")).To(Equal(sourceKey("report,v2.md")))
		Expect(sourceKey("report,v2.md")).NotTo(Equal(sourceKey("report")))
		Expect(sourceKey("Doc.md")).NotTo(Equal(sourceKey("doc.md")))
	})
})

var _ = Describe("searchQuery", func() {
	It("matches everything without metadata", func() {
		q, rest := searchQuery(vector.Filter{})
		Expect(q).To(Equal("*"))
		Expect(rest).To(BeEmpty())
	})

	It("renders indexed keys and leaves the rest for Go", func() {
		q, rest := searchQuery(vector.Filter{Metadata: map[string]string{
			vector.MetaSourceID:      "a,b",
			vector.MetaSequenceIndex: "3",
			"section":                "Intro",
		}})
		Expect(q).To(Equal(`@sequence_index:[3 3] @source_key:{` + sourceKey("a,b") + `}`))
		Expect(rest).To(Equal(map[string]string{"section": "Intro"}))
	})
})

var _ = Describe("parseSearch", func() {
	It("decodes keys and fields", func() {
		total, docs, err := parseSearch([]any{
			int64(2),
			"chunks:a", []any{"id", "a", "document", "alpha", "__score", "0.1"},
			"chunks:b", []any{"id", "b", "document", "beta"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(2))
		Expect(docs).To(HaveLen(2))
		Expect(docs[0].key).To(Equal("chunks:a"))
		Expect(docs[0].fields).To(HaveKeyWithValue("__score", "0.1"))
		Expect(docs[1].fields).To(HaveKeyWithValue("document", "beta"))
	})

	It("rejects unexpected replies", func() {
		_, _, err := parseSearch("OK")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("toRecord", func() {
	layout := vector.Layout{Name: "chunks"}.WithDefaults()

	It("falls back to the key for the id and decodes metadata", func() {
		r, err := toRecord(layout, searchDoc{key: "chunks:xyz", fields: map[string]string{
			"document": "text",
			"metadata": `{"source_id":"doc"}`,
		}})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.ID).To(Equal("xyz"))
		Expect(r.SourceID()).To(Equal("doc"))
	})
})

var _ = Describe("parseDim", func() {
	It("finds the embedding dimension in FT.INFO", func() {
		info := []any{
			"index_name", "chunks",
			"attributes", []any{
				[]any{"identifier", "document", "attribute", "document", "type", "TEXT"},
				[]any{"identifier", "embedding", "attribute", "embedding", "type", "VECTOR", "algorithm", "HNSW", "data_type", "FLOAT32", "dim", int64(768), "distance_metric", "COSINE"},
			},
		}
		dim, ok := parseDim(info)
		Expect(ok).To(BeTrue())
		Expect(dim).To(Equal(768))
	})

	It("reports absence", func() {
		_, ok := parseDim([]any{"index_name", "chunks"})
		Expect(ok).To(BeFalse())
	})
})
