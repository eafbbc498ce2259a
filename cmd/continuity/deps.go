package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ersonp/continuity/internal/domain/services"
	cache "github.com/ersonp/continuity/internal/infrastructure/cache/badger"
	"github.com/ersonp/continuity/internal/infrastructure/config"
	embedder "github.com/ersonp/continuity/internal/infrastructure/embedder/openai"
	llm "github.com/ersonp/continuity/internal/infrastructure/llm/openai"
	"github.com/ersonp/continuity/internal/infrastructure/logging"
	"github.com/ersonp/continuity/internal/infrastructure/manuscript/fs"
	"github.com/ersonp/continuity/internal/infrastructure/metrics"
	"github.com/ersonp/continuity/internal/infrastructure/relationaldb/sqlite"
	"github.com/ersonp/continuity/internal/infrastructure/vectordb/qdrant"
)

// Deps holds the dependencies shared by commands.
type Deps struct {
	BasePath string
	Config   *config.Config
	Books    *config.BooksConfig
	Logger   *slog.Logger
	Engine   *services.Engine
	Source   *fs.Source
	Registry *prometheus.Registry
	// Cache is nil when the check cache is disabled.
	Cache *cache.Cache
}

// withDeps loads config and builds dependencies, then calls the provided function.
// It handles cleanup automatically.
func withDeps(ctx context.Context, fn func(*Deps) error) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	books, err := config.LoadBooks(cwd)
	if err != nil {
		return fmt.Errorf("loading books: %w", err)
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	relationalDB, err := sqlite.NewRepository(cfg.SQLite)
	if err != nil {
		return fmt.Errorf("creating sqlite repository: %w", err)
	}
	defer relationalDB.Close()

	if err := relationalDB.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring sqlite schema: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	source := fs.NewSource(func(bookID string) (string, error) {
		return books.Dir(cwd, bookID)
	})

	engineDeps := services.EngineDeps{
		LLM:     llmClient,
		Repo:    relationalDB,
		Source:  source,
		Metrics: m,
	}

	// Embeddings and the fact index are optional.
	if cfg.Embedder.Provider != "" {
		emb, err := embedder.NewEmbedder(cfg.Embedder)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}
		engineDeps.Embedder = emb

		if cfg.Qdrant.Host != "" {
			index, err := qdrant.NewRepository(cfg.Qdrant)
			if err != nil {
				return fmt.Errorf("creating qdrant repository: %w", err)
			}
			defer index.Close()
			engineDeps.Index = index
		}
	}

	var checkCache *cache.Cache
	if cfg.Cache.Enabled {
		checkCache, err = cache.Open(cache.Config{
			Path:   cfg.Cache.Path,
			TTL:    cfg.Cache.TTL,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("opening check cache: %w", err)
		}
		defer checkCache.Close()
		engineDeps.Cache = checkCache
	}

	engine, err := services.NewEngine(engineConfig(cfg.Engine), engineDeps, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	return fn(&Deps{
		BasePath: cwd,
		Config:   cfg,
		Books:    books,
		Logger:   logger,
		Engine:   engine,
		Source:   source,
		Registry: registry,
		Cache:    checkCache,
	})
}

// withBook is withDeps for commands that operate on the --book book.
func withBook(ctx context.Context, fn func(d *Deps, bookID string) error) error {
	if globalBook == "" {
		return errors.New("book is required (use --book flag)")
	}
	return withDeps(ctx, func(d *Deps) error {
		if _, err := d.Books.Get(globalBook); err != nil {
			return err
		}
		return fn(d, globalBook)
	})
}

// engineConfig maps the engine section of the config file to engine settings.
func engineConfig(c config.EngineConfig) services.EngineConfig {
	return services.EngineConfig{
		Extraction: services.ExtractionConfig{
			ChunkSize:      c.ChunkSize,
			ChunkOverlap:   c.ChunkOverlap,
			Timeout:        c.Timeout,
			MaxAttempts:    c.MaxAttempts,
			InitialBackoff: c.InitialBackoff,
			MaxBackoff:     c.MaxBackoff,
		},
		Checker: services.CheckerConfig{
			TimeOfDayCheck: c.TimeOfDayCheck,
		},
		Issues: services.IssueConfig{
			ReraiseSuppressed: c.ReraiseSuppressed,
			Weights: services.ScoreWeights{
				Critical:   c.ScoreWeights.Critical,
				Warning:    c.ScoreWeights.Warning,
				Suggestion: c.ScoreWeights.Suggestion,
			},
		},
		Scanner: services.ScannerConfig{
			Workers: c.Workers,
		},
		Scheduler: services.SchedulerConfig{
			Debounce: c.Debounce,
			Throttle: c.Throttle,
			Timeout:  c.CheckTimeout,
		},
		WindowSize:        c.WindowSize,
		JudgeStrategy:     c.JudgeStrategy,
		SemanticThreshold: c.SemanticThreshold,
		ContextLimit:      c.ContextLimit,
	}
}
