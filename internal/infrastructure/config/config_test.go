package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeBookID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple lowercase",
			input:    "saga",
			expected: "saga",
		},
		{
			name:     "uppercase converted",
			input:    "TheSaga",
			expected: "thesaga",
		},
		{
			name:     "spaces and hyphens to underscores",
			input:    "the long-night",
			expected: "the_long_night",
		},
		{
			name:     "special characters removed",
			input:    "saga@home!",
			expected: "sagahome",
		},
		{
			name:     "consecutive underscores collapsed",
			input:    "the--saga",
			expected: "the_saga",
		},
		{
			name:     "leading trailing underscores trimmed",
			input:    "-saga-",
			expected: "saga",
		},
		{
			name:     "empty string returns default",
			input:    "",
			expected: "default",
		},
		{
			name:     "complex mixed input",
			input:    "Iron-Throne (Book 1)",
			expected: "iron_throne_book_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeBookID(tt.input))
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
	assert.Empty(t, cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 2*time.Second, cfg.Engine.Debounce)
	assert.Equal(t, 3*time.Second, cfg.Engine.Throttle)
	assert.Equal(t, ScoreWeights{Critical: 8, Warning: 3, Suggestion: 1}, cfg.Engine.ScoreWeights)
}

func TestParse(t *testing.T) {
	t.Run("default file matches defaults", func(t *testing.T) {
		cfg, err := Parse("/project", []byte(DefaultConfigYAML))
		require.NoError(t, err)

		def := Default()
		assert.Equal(t, def.Engine, cfg.Engine)
		assert.Equal(t, 168*time.Hour, cfg.Cache.TTL)
		assert.Empty(t, cfg.Qdrant.Host)
		assert.Equal(t, "/project/.continuity/continuity.db", cfg.SQLite.Path)
		assert.Equal(t, "/project/.continuity/cache", cfg.Cache.Path)
	})

	t.Run("yaml overrides", func(t *testing.T) {
		data := []byte(`
engine:
  workers: 8
  judge_strategy: semantic
  throttle: 5s
sqlite:
  path: /var/lib/continuity.db
logging:
  format: json
`)
		cfg, err := Parse("/project", data)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Engine.Workers)
		assert.Equal(t, "semantic", cfg.Engine.JudgeStrategy)
		assert.Equal(t, 5*time.Second, cfg.Engine.Throttle)
		assert.Equal(t, 2*time.Second, cfg.Engine.Debounce, "unset keys keep defaults")
		assert.Equal(t, "/var/lib/continuity.db", cfg.SQLite.Path)
		assert.Equal(t, "json", cfg.Logging.Format)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("CONTINUITY_ENGINE_WORKERS", "2")
		t.Setenv("CONTINUITY_ENGINE_SCORE_CRITICAL", "10")
		t.Setenv("CONTINUITY_QDRANT_HOST", "qdrant.internal")
		t.Setenv("CONTINUITY_LLM_API_KEY", "sk-llm")

		cfg, err := Parse("/project", []byte(DefaultConfigYAML))
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Engine.Workers)
		assert.Equal(t, float64(10), cfg.Engine.ScoreWeights.Critical)
		assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
		assert.Equal(t, "sk-llm", cfg.LLM.APIKey, "explicit key wins over OPENAI_API_KEY")
		assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
	})

	t.Run("invalid environment value", func(t *testing.T) {
		t.Setenv("CONTINUITY_ENGINE_DEBOUNCE", "soon")
		_, err := Parse("/project", nil)
		require.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Parse("/project", []byte("engine: [unterminated"))
		require.Error(t, err)
	})
}

func TestLoadAndWrite(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err)
	assert.False(t, Exists(dir))

	require.NoError(t, WriteDefault(dir))
	assert.True(t, Exists(dir))
	require.Error(t, WriteDefault(dir), "existing config is not overwritten")

	cfg, err := Load(dir)
	require.NoError(t, err)
	cfg.Engine.Workers = 6
	require.NoError(t, Write(dir, cfg))

	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 6, again.Engine.Workers)
	assert.Equal(t, filepath.Join(dir, ".continuity", "continuity.db"), again.SQLite.Path)
}

func TestBooks(t *testing.T) {
	dir := t.TempDir()

	books, err := LoadBooks(dir)
	require.NoError(t, err)
	assert.Empty(t, books.Books)
	_, err = books.Get("saga")
	assert.True(t, errors.Is(err, ErrBookNotRegistered))

	id := books.Add("The Long Night", BookEntry{Dir: "manuscripts/night"})
	assert.Equal(t, "the_long_night", id)
	books.Add("saga", BookEntry{Dir: "/abs/saga"})
	require.NoError(t, books.Save(dir))

	loaded, err := LoadBooks(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"saga", "the_long_night"}, loaded.IDs())
	assert.True(t, loaded.Exists("saga"))

	entry, err := loaded.Get("the_long_night")
	require.NoError(t, err)
	assert.Equal(t, "The Long Night", entry.Title)

	path, err := loaded.Dir(dir, "the_long_night")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "manuscripts/night"), path)
	path, err = loaded.Dir(dir, "saga")
	require.NoError(t, err)
	assert.Equal(t, "/abs/saga", path)

	_, err = loaded.Get("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: saga, the_long_night")

	loaded.Remove("saga")
	assert.False(t, loaded.Exists("saga"))
}

func TestConfigPaths(t *testing.T) {
	assert.Equal(t, "/home/user/project/.continuity", ConfigDir("/home/user/project"))
	assert.Equal(t, "/home/user/project/.continuity/config.yaml", ConfigFilePath("/home/user/project"))
	assert.Equal(t, "/home/user/project/.continuity/books.yaml", BooksFilePath("/home/user/project"))
}
