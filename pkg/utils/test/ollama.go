package testutils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
)

// OllamaServer is an httptest server speaking the subset of the Ollama API
// kdb uses: /api/chat for context generation and /api/embed for embeddings.
type OllamaServer struct {
	*httptest.Server

	Dimensions int

	chats  atomic.Int64
	embeds atomic.Int64
}

// NewOllamaServer starts a server producing hash-seeded embeddings of size
// dims and a fixed JSON context for every chat request.
func NewOllamaServer(dims int) *OllamaServer {
	s := &OllamaServer{Dimensions: dims}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		s.chats.Add(1)
		var req struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"model":   req.Model,
			"message": map[string]string{"role": "assistant", "content": `{"context": "Part of a test document."}`},
			"done":    true,
		})
	})
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		s.embeds.Add(1)
		var req struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"embeddings": [][]float32{HashEmbedding(req.Input, s.Dimensions)},
		})
	})

	s.Server = httptest.NewServer(mux)
	return s
}

// Chats returns the number of /api/chat requests served.
func (s *OllamaServer) Chats() int {
	return int(s.chats.Load())
}

// Embeds returns the number of /api/embed requests served.
func (s *OllamaServer) Embeds() int {
	return int(s.embeds.Load())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
