// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"sync"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// LLMClient is a mock implementation of ports.LLMClient.
// ExtractFunc and JudgeFunc take precedence over the static return values.
type LLMClient struct {
	// ExtractRecords return values
	Extraction  *ports.RawExtraction
	ExtractErr  error
	ExtractFunc func(ctx context.Context, text string, factContext []entities.StoryFact) (*ports.RawExtraction, error)

	// JudgeContradiction return values
	Judgement ports.Judgement
	JudgeErr  error
	JudgeFunc func(existing entities.StoryFact, candidate entities.CandidateFact) (ports.Judgement, error)

	mu              sync.Mutex
	extractCalls    int
	judgeCalls      int
	lastFactContext []entities.StoryFact
	extractedTexts  []string
}

// ExtractRecords returns the configured extraction or error.
func (m *LLMClient) ExtractRecords(ctx context.Context, text string, factContext []entities.StoryFact) (*ports.RawExtraction, error) {
	m.mu.Lock()
	m.extractCalls++
	m.lastFactContext = factContext
	m.extractedTexts = append(m.extractedTexts, text)
	m.mu.Unlock()

	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, text, factContext)
	}
	if m.ExtractErr != nil {
		return nil, m.ExtractErr
	}
	if m.Extraction == nil {
		return &ports.RawExtraction{}, nil
	}
	return m.Extraction, nil
}

// JudgeContradiction returns the configured judgement or error.
func (m *LLMClient) JudgeContradiction(ctx context.Context, existing entities.StoryFact, candidate entities.CandidateFact) (ports.Judgement, error) {
	m.mu.Lock()
	m.judgeCalls++
	m.mu.Unlock()

	if m.JudgeFunc != nil {
		return m.JudgeFunc(existing, candidate)
	}
	if m.JudgeErr != nil {
		return ports.Judgement{}, m.JudgeErr
	}
	return m.Judgement, nil
}

// ExtractCalls returns how many times ExtractRecords was called.
func (m *LLMClient) ExtractCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractCalls
}

// JudgeCalls returns how many times JudgeContradiction was called.
func (m *LLMClient) JudgeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.judgeCalls
}

// LastFactContext returns the fact context of the latest extraction call.
func (m *LLMClient) LastFactContext() []entities.StoryFact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFactContext
}

// ExtractedTexts returns every text passed to ExtractRecords.
func (m *LLMClient) ExtractedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.extractedTexts...)
}
