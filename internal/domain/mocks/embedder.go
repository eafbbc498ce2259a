package mocks

import (
	"context"
	"sync"
)

// Embedder is a mock implementation of ports.Embedder.
// When Vectors has an entry for a text it is returned instead of EmbeddingResult.
type Embedder struct {
	EmbeddingResult []float32
	Vectors         map[string][]float32
	Err             error

	mu    sync.Mutex
	calls int
}

// Embed returns the configured embedding or error.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.vector(text), nil
}

// EmbedBatch returns embeddings for multiple texts.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = m.vector(texts[i])
	}
	return result, nil
}

// Calls returns how many times the embedder was called.
func (m *Embedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Embedder) vector(text string) []float32 {
	if v, ok := m.Vectors[text]; ok {
		return v
	}
	return m.EmbeddingResult
}
