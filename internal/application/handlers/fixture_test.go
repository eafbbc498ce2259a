package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/mocks"
	"github.com/ersonp/continuity/internal/domain/ports"
	"github.com/ersonp/continuity/internal/domain/services"
	"github.com/ersonp/continuity/internal/infrastructure/manuscript/fs"
)

// eyeExtractor reports the eye colour the text mentions.
func eyeExtractor(_ context.Context, text string, _ []entities.StoryFact) (*ports.RawExtraction, error) {
	var raw ports.RawExtraction
	switch {
	case strings.Contains(text, "blue eyes"):
		raw.Facts = append(raw.Facts, ports.RawFact{Subject: "Marcus", Attribute: "eye color", Value: "blue",
			Category: "character_trait", Importance: "significant", Excerpt: "Marcus had blue eyes"})
	case strings.Contains(text, "green eyes"):
		raw.Facts = append(raw.Facts, ports.RawFact{Subject: "Marcus", Attribute: "eye color", Value: "green",
			Category: "character_trait", Importance: "significant", Excerpt: "Marcus's green eyes"})
	}
	if strings.Contains(text, "Elena") {
		raw.Facts = append(raw.Facts, ports.RawFact{Subject: "Elena", Attribute: "hometown", Value: "Varn",
			Category: "location", Importance: "minor", Excerpt: "Elena of Varn"})
	}
	return &raw, nil
}

type testBook struct {
	dir    string
	source *fs.Source
	engine *services.Engine
}

// newTestBook writes chapters into a temporary manuscript directory and
// builds an engine reading from it.
func newTestBook(t *testing.T, chapters map[string]string) *testBook {
	t.Helper()
	return newTestBookWithLLM(t, chapters, &mocks.LLMClient{ExtractFunc: eyeExtractor})
}

func newTestBookWithLLM(t *testing.T, chapters map[string]string, llm *mocks.LLMClient) *testBook {
	t.Helper()
	dir := t.TempDir()
	for name, text := range chapters {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0644))
	}
	source := fs.NewSource(func(bookID string) (string, error) {
		return dir, nil
	})

	cfg := services.DefaultEngineConfig()
	cfg.Extraction.MaxAttempts = 1
	cfg.Extraction.InitialBackoff = time.Millisecond
	cfg.Scheduler.Debounce = 10 * time.Millisecond
	cfg.Scheduler.Throttle = time.Millisecond

	engine, err := services.NewEngine(cfg, services.EngineDeps{
		LLM:    llm,
		Repo:   mocks.NewBookRepository(),
		Source: source,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &testBook{dir: dir, source: source, engine: engine}
}

var sagaChapters = map[string]string{
	"01-arrival.md": "# Arrival\n\nMarcus had blue eyes. Elena of Varn watched him.",
	"02-road.md":    "# The Road\n\nThe road was long.",
	"03-gate.md":    "# The Gate\n\nMarcus's green eyes narrowed at the gate.",
}
