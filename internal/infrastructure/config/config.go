// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigDir is the directory name for continuity configuration.
	DefaultConfigDir = ".continuity"
	// DefaultConfigFile is the default config file name.
	DefaultConfigFile = "config.yaml"
	// DefaultBooksFile is the default book registry file name.
	DefaultBooksFile = "books.yaml"
	// DefaultDatabaseFile is the SQLite file used when sqlite.path is unset.
	DefaultDatabaseFile = "continuity.db"
	// DefaultCacheDir is the Badger directory used when cache.path is unset.
	DefaultCacheDir = "cache"
)

var (
	// reNonAlphanumeric matches characters that aren't alphanumeric or underscore.
	reNonAlphanumeric = regexp.MustCompile(`[^a-z0-9_]`)
	// reMultipleUnderscores matches consecutive underscores.
	reMultipleUnderscores = regexp.MustCompile(`_+`)
)

// Config holds static configuration (read-only after init).
type Config struct {
	LLM      LLMConfig      `yaml:"llm,omitempty" envPrefix:"CONTINUITY_LLM_"`
	Embedder EmbedderConfig `yaml:"embedder,omitempty" envPrefix:"CONTINUITY_EMBEDDER_"`
	Qdrant   QdrantConfig   `yaml:"qdrant,omitempty" envPrefix:"CONTINUITY_QDRANT_"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" envPrefix:"CONTINUITY_SQLITE_"`
	Cache    CacheConfig    `yaml:"cache,omitempty" envPrefix:"CONTINUITY_CACHE_"`
	Engine   EngineConfig   `yaml:"engine,omitempty" envPrefix:"CONTINUITY_ENGINE_"`
	Server   ServerConfig   `yaml:"server,omitempty" envPrefix:"CONTINUITY_SERVER_"`
	Logging  LoggingConfig  `yaml:"logging,omitempty" envPrefix:"CONTINUITY_LOG_"`
}

// LLMConfig holds configuration for the extraction and judgement provider.
type LLMConfig struct {
	Provider string `yaml:"provider,omitempty" env:"PROVIDER"`
	Model    string `yaml:"model,omitempty" env:"MODEL"`
	APIKey   string `yaml:"api_key,omitempty" env:"API_KEY"`
	BaseURL  string `yaml:"base_url,omitempty" env:"BASE_URL"`
}

// EmbedderConfig holds configuration for the embedding provider.
// An empty provider disables embeddings, the semantic judge and the fact index.
type EmbedderConfig struct {
	Provider string `yaml:"provider,omitempty" env:"PROVIDER"`
	Model    string `yaml:"model,omitempty" env:"MODEL"`
	APIKey   string `yaml:"api_key,omitempty" env:"API_KEY"`
	BaseURL  string `yaml:"base_url,omitempty" env:"BASE_URL"`
}

// QdrantConfig holds configuration for the Qdrant fact index.
// An empty host disables the index.
type QdrantConfig struct {
	Host       string `yaml:"host,omitempty" env:"HOST"`
	Port       int    `yaml:"port,omitempty" env:"PORT"`
	Collection string `yaml:"collection,omitempty" env:"COLLECTION"`
	APIKey     string `yaml:"api_key,omitempty" env:"API_KEY"`
}

// SQLiteConfig holds configuration for the SQLite relational database.
type SQLiteConfig struct {
	// Path is the file path to the SQLite database. Relative paths are
	// resolved against the config directory.
	Path string `yaml:"path,omitempty" env:"PATH"`
}

// CacheConfig holds configuration for the incremental check cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Path    string        `yaml:"path,omitempty" env:"PATH"`
	TTL     time.Duration `yaml:"ttl,omitempty" env:"TTL"`
}

// EngineConfig holds the tunables of the continuity engine.
type EngineConfig struct {
	Workers           int           `yaml:"workers,omitempty" env:"WORKERS"`
	WindowSize        int           `yaml:"window_size,omitempty" env:"WINDOW_SIZE"`
	ChunkSize         int           `yaml:"chunk_size,omitempty" env:"CHUNK_SIZE"`
	ChunkOverlap      int           `yaml:"chunk_overlap,omitempty" env:"CHUNK_OVERLAP"`
	Timeout           time.Duration `yaml:"timeout,omitempty" env:"TIMEOUT"`
	MaxAttempts       int           `yaml:"max_attempts,omitempty" env:"MAX_ATTEMPTS"`
	InitialBackoff    time.Duration `yaml:"initial_backoff,omitempty" env:"INITIAL_BACKOFF"`
	MaxBackoff        time.Duration `yaml:"max_backoff,omitempty" env:"MAX_BACKOFF"`
	Debounce          time.Duration `yaml:"debounce,omitempty" env:"DEBOUNCE"`
	Throttle          time.Duration `yaml:"throttle,omitempty" env:"THROTTLE"`
	CheckTimeout      time.Duration `yaml:"check_timeout,omitempty" env:"CHECK_TIMEOUT"`
	JudgeStrategy     string        `yaml:"judge_strategy,omitempty" env:"JUDGE_STRATEGY"`
	SemanticThreshold float64       `yaml:"semantic_threshold,omitempty" env:"SEMANTIC_THRESHOLD"`
	ContextLimit      int           `yaml:"context_limit,omitempty" env:"CONTEXT_LIMIT"`
	ReraiseSuppressed bool          `yaml:"reraise_suppressed,omitempty" env:"RERAISE_SUPPRESSED"`
	TimeOfDayCheck    bool          `yaml:"time_of_day_check,omitempty" env:"TIME_OF_DAY_CHECK"`
	ScoreWeights      ScoreWeights  `yaml:"score_weights,omitempty" envPrefix:"SCORE_"`
}

// ScoreWeights are the per-severity penalties of the continuity score.
type ScoreWeights struct {
	Critical   float64 `yaml:"critical" env:"CRITICAL"`
	Warning    float64 `yaml:"warning" env:"WARNING"`
	Suggestion float64 `yaml:"suggestion" env:"SUGGESTION"`
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr,omitempty" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" env:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig holds configuration for the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" env:"LEVEL"`
	Format string `yaml:"format,omitempty" env:"FORMAT"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedder: EmbedderConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Qdrant: QdrantConfig{
			Port:       6334,
			Collection: "continuity_facts",
		},
		SQLite: SQLiteConfig{
			Path: DefaultDatabaseFile,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    DefaultCacheDir,
			TTL:     7 * 24 * time.Hour,
		},
		Engine: EngineConfig{
			Workers:           4,
			WindowSize:        2000,
			ChunkSize:         2000,
			ChunkOverlap:      200,
			Timeout:           30 * time.Second,
			MaxAttempts:       2,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			Debounce:          2 * time.Second,
			Throttle:          3 * time.Second,
			CheckTimeout:      30 * time.Second,
			JudgeStrategy:     "rule",
			SemanticThreshold: 0.9,
			ContextLimit:      10,
			ScoreWeights:      ScoreWeights{Critical: 8, Warning: 3, Suggestion: 1},
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:7700",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the .continuity directory in the given path.
func Load(basePath string) (*Config, error) {
	configFile := ConfigFilePath(basePath)

	data, err := os.ReadFile(configFile)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s (run 'continuity init' first)", configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(basePath, data)
}

// Parse builds a Config from YAML data on top of the defaults and applies
// environment overrides.
func Parse(basePath string, data []byte) (*Config, error) {
	// Start with defaults
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.SQLite.Path = resolvePath(basePath, cfg.SQLite.Path)
	cfg.Cache.Path = resolvePath(basePath, cfg.Cache.Path)
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
		if c.Embedder.APIKey == "" {
			c.Embedder.APIKey = key
		}
	}
	if key := os.Getenv("QDRANT_API_KEY"); key != "" {
		if c.Qdrant.APIKey == "" {
			c.Qdrant.APIKey = key
		}
	}
	return nil
}

// resolvePath anchors relative paths in the config directory.
func resolvePath(basePath, path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ConfigDir(basePath), path)
}

// ConfigDir returns the path to the .continuity config directory.
func ConfigDir(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir)
}

// ConfigFilePath returns the path to the config file.
func ConfigFilePath(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir, DefaultConfigFile)
}

// BooksFilePath returns the path to the book registry file.
func BooksFilePath(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir, DefaultBooksFile)
}

// Exists checks if a continuity config exists in the given path.
func Exists(basePath string) bool {
	_, err := os.Stat(ConfigFilePath(basePath))
	return err == nil
}

// SanitizeBookID converts a book name to an identifier usable in storage
// keys and URLs.
func SanitizeBookID(name string) string {
	// Convert to lowercase
	name = strings.ToLower(name)

	// Replace spaces and hyphens with underscores
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")

	// Remove any characters that aren't alphanumeric or underscore
	name = reNonAlphanumeric.ReplaceAllString(name, "")

	// Remove consecutive underscores
	name = reMultipleUnderscores.ReplaceAllString(name, "_")

	// Trim leading/trailing underscores
	name = strings.Trim(name, "_")

	if name == "" {
		return "default"
	}

	return name
}
