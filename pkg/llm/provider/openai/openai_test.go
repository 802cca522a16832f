package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/kdb/pkg/llm"
	"github.com/papercomputeco/kdb/pkg/llm/provider/openai"
)

var _ = Describe("Completer", func() {
	var (
		server   *httptest.Server
		received map[string]any
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(HaveSuffix("/chat/completions"))
			received = map[string]any{}
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1,
				"model": "gpt-test",
				"choices": [{
					"index": 0,
					"message": {"role": "assistant", "content": "{\"context\":\"ok\"}"},
					"finish_reason": "stop"
				}],
				"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
			}`))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends system and user messages in JSON mode", func() {
		c, err := openai.NewCompleter(openai.Config{BaseURL: server.URL + "/v1", Model: "gpt-test"})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).To(Equal("gpt-test"))

		out, err := c.Complete(context.Background(), &llm.CompletionRequest{
			System:   "system prompt",
			Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "chunk")},
			JSON:     true,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(`{"context":"ok"}`))

		messages := received["messages"].([]any)
		Expect(messages).To(HaveLen(2))
		Expect(messages[0].(map[string]any)["role"]).To(Equal("system"))
		Expect(messages[1].(map[string]any)["role"]).To(Equal("user"))
		Expect(received).To(HaveKey("response_format"))
	})
})
