package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/papercomputeco/kdb/pkg/llm"
)

// ErrMockCompletion is returned by MockCompleter for scripted failures.
var ErrMockCompletion = errors.New("mock completion failure")

// MockCompleter is a scriptable llm.Completer. By default it answers every
// request with a valid {"context": ...} object derived from the chunk.
type MockCompleter struct {
	mu sync.Mutex

	ModelName string

	// Failures maps a substring of the user message to the number of calls
	// that should fail. A negative count fails forever.
	Failures map[string]int

	// Raw, when set, is returned verbatim instead of the generated JSON.
	Raw string

	calls    int
	perInput map[string]int
}

func NewMockCompleter() *MockCompleter {
	return &MockCompleter{
		ModelName: "mock-model",
		Failures:  make(map[string]int),
		perInput:  make(map[string]int),
	}
}

func (m *MockCompleter) Model() string {
	return m.ModelName
}

func (m *MockCompleter) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	user := ""
	if len(req.Messages) > 0 {
		user = req.Messages[len(req.Messages)-1].Content
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.perInput[user]++

	for needle, remaining := range m.Failures {
		if !strings.Contains(user, needle) {
			continue
		}
		if remaining < 0 {
			return "", ErrMockCompletion
		}
		if remaining > 0 {
			m.Failures[needle] = remaining - 1
			return "", ErrMockCompletion
		}
	}

	if m.Raw != "" {
		return m.Raw, nil
	}

	payload, err := json.Marshal(map[string]string{
		"context": "context for " + summarize(user),
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Calls returns the total number of Complete invocations.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CallsContaining returns how many requests had a user message containing needle.
func (m *MockCompleter) CallsContaining(needle string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for input, count := range m.perInput {
		if strings.Contains(input, needle) {
			n += count
		}
	}
	return n
}

func summarize(s string) string {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "<chunk>"), "</chunk>"))
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 40 {
		return s[:40]
	}
	return s
}
