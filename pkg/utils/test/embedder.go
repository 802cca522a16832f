// Package testutils holds deterministic collaborators for tests.
package testutils

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// DefaultMockDimensions is the vector size produced by NewMockEmbedder.
const DefaultMockDimensions = 8

// MockEmbedder is a test embedder that returns predictable embeddings.
// Identical texts always map to identical unit vectors.
type MockEmbedder struct {
	mu sync.Mutex

	Dimensions int
	Embeddings map[string][]float32

	// FailOn causes Embed to return an error when the input text matches
	FailOn string

	// FailFirst makes the first FailFirst calls fail whatever the input.
	FailFirst int

	// Calls counts Embed invocations.
	Calls int
}

func NewMockEmbedder() *MockEmbedder {
	return NewMockEmbedderWithDimensions(DefaultMockDimensions)
}

func NewMockEmbedderWithDimensions(dims int) *MockEmbedder {
	return &MockEmbedder{
		Dimensions: dims,
		Embeddings: make(map[string][]float32),
	}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++

	if m.Calls <= m.FailFirst {
		return nil, fmt.Errorf("mock embedder unavailable (call %d)", m.Calls)
	}
	if m.FailOn != "" && text == m.FailOn {
		return nil, fmt.Errorf("mock embedding failure for: %s", text)
	}

	if emb, ok := m.Embeddings[text]; ok {
		return emb, nil
	}

	return HashEmbedding(text, m.Dimensions), nil
}

func (m *MockEmbedder) Close() error {
	return nil
}

// HashEmbedding derives a normalized vector of size dims from the SHA-256
// stream of text.
func HashEmbedding(text string, dims int) []float32 {
	out := make([]float32, dims)
	seed := sha256.Sum256([]byte(text))
	block := seed[:]

	var norm float64
	for i := range dims {
		if (i*4)%len(block) == 0 && i > 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		off := (i * 4) % len(block)
		v := float64(binary.BigEndian.Uint32(block[off:off+4]))/float64(math.MaxUint32)*2 - 1
		out[i] = float32(v)
		norm += v * v
	}

	if norm == 0 {
		return out
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= scale
	}
	return out
}
