package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/llm"
	"github.com/papercomputeco/kdb/pkg/llm/provider/ollama"
)

var _ = Describe("Completer", func() {
	var (
		server   *httptest.Server
		received map[string]any
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/chat"))
			received = map[string]any{}
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"{\"context\":\"ok\"}"},"done":true}`))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("defaults the model", func() {
		c, err := ollama.NewCompleter(ollama.Config{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).To(Equal(ollama.DefaultModel))
	})

	It("prepends the system prompt and requests JSON format", func() {
		c, err := ollama.NewCompleter(ollama.Config{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		temperature := 0.0
		out, err := c.Complete(context.Background(), &llm.CompletionRequest{
			System:      "system prompt",
			Messages:    []llm.Message{llm.NewTextMessage(llm.RoleUser, "chunk")},
			JSON:        true,
			Temperature: &temperature,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(`{"context":"ok"}`))

		Expect(received["format"]).To(Equal("json"))
		Expect(received["stream"]).To(BeFalse())
		messages := received["messages"].([]any)
		Expect(messages).To(HaveLen(2))
		Expect(messages[0].(map[string]any)["role"]).To(Equal("system"))
		Expect(received["options"].(map[string]any)["temperature"]).To(BeNumerically("==", 0))
	})

	It("wraps connection failures with ErrCompletion", func() {
		c, err := ollama.NewCompleter(ollama.Config{BaseURL: "http://127.0.0.1:1"})
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Complete(context.Background(), &llm.CompletionRequest{
			Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "chunk")},
		})
		Expect(err).To(MatchError(llm.ErrCompletion))
	})
})
