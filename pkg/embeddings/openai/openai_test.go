package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/embeddings"
	"github.com/papercomputeco/kdb/pkg/embeddings/openai"
)

var _ = Describe("Embedder", func() {
	var (
		server   *httptest.Server
		received map[string]any
		status   int
	)

	BeforeEach(func() {
		received = nil
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(HaveSuffix("/embeddings"))
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if status != http.StatusOK {
				_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
				return
			}
			_, _ = w.Write([]byte(`{
				"object": "list",
				"model": "text-embedding-3-small",
				"data": [{"object": "embedding", "index": 0, "embedding": [0.25, 0.5, 0.75]}],
				"usage": {"prompt_tokens": 3, "total_tokens": 3}
			}`))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("defaults the model", func() {
		e, err := openai.NewEmbedder(openai.EmbedderConfig{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Model()).To(Equal(openai.DefaultEmbeddingModel))
	})

	It("returns the embedding vector", func() {
		e, err := openai.NewEmbedder(openai.EmbedderConfig{
			BaseURL: server.URL,
			Model:   "text-embedding-3-small",
		})
		Expect(err).NotTo(HaveOccurred())

		vec, err := e.Embed(context.Background(), "hello world")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{0.25, 0.5, 0.75}))
		Expect(received["model"]).To(Equal("text-embedding-3-small"))
	})

	It("wraps API failures in ErrEmbedding", func() {
		status = http.StatusBadRequest
		e, err := openai.NewEmbedder(openai.EmbedderConfig{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		_, err = e.Embed(context.Background(), "hello")
		Expect(err).To(MatchError(embeddings.ErrEmbedding))
	})
})
