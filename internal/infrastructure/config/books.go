package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrBookNotRegistered is returned when a book ID is missing from the registry.
var ErrBookNotRegistered = errors.New("book not registered")

// BooksConfig is the book registry (read/write). It maps book IDs to the
// manuscript directories they are read from.
type BooksConfig struct {
	Books map[string]BookEntry `yaml:"books,omitempty"`
}

// BookEntry holds configuration for a specific book.
type BookEntry struct {
	// Dir is the manuscript directory, relative to the project root unless absolute.
	Dir         string `yaml:"dir"`
	Title       string `yaml:"title,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// LoadBooks loads the book registry from the .continuity directory.
func LoadBooks(basePath string) (*BooksConfig, error) {
	data, err := os.ReadFile(BooksFilePath(basePath))
	if os.IsNotExist(err) {
		// Return empty config if file doesn't exist
		return &BooksConfig{
			Books: make(map[string]BookEntry),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading books file: %w", err)
	}

	var cfg BooksConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing books file: %w", err)
	}

	if cfg.Books == nil {
		cfg.Books = make(map[string]BookEntry)
	}

	return &cfg, nil
}

// Save writes the book registry to the books file.
func (b *BooksConfig) Save(basePath string) error {
	configDir := ConfigDir(basePath)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshaling books config: %w", err)
	}

	if err := os.WriteFile(BooksFilePath(basePath), data, 0600); err != nil {
		return fmt.Errorf("writing books file: %w", err)
	}

	return nil
}

// Add adds a book to the registry and returns its sanitized ID.
func (b *BooksConfig) Add(name string, entry BookEntry) string {
	if b.Books == nil {
		b.Books = make(map[string]BookEntry)
	}
	id := SanitizeBookID(name)
	if entry.Title == "" {
		entry.Title = name
	}
	b.Books[id] = entry
	return id
}

// Remove removes a book from the registry.
func (b *BooksConfig) Remove(id string) {
	if b.Books != nil {
		delete(b.Books, id)
	}
}

// Get returns the configuration for a specific book.
func (b *BooksConfig) Get(id string) (*BookEntry, error) {
	if len(b.Books) == 0 {
		return nil, fmt.Errorf("%w: no books configured", ErrBookNotRegistered)
	}

	entry, ok := b.Books[id]
	if !ok {
		available := b.IDs()
		if len(available) > 5 {
			available = append(available[:5], "...")
		}
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrBookNotRegistered, id, strings.Join(available, ", "))
	}

	return &entry, nil
}

// IDs returns the registered book IDs in sorted order.
func (b *BooksConfig) IDs() []string {
	ids := make([]string, 0, len(b.Books))
	for id := range b.Books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dir returns the absolute manuscript directory of a book.
func (b *BooksConfig) Dir(basePath, id string) (string, error) {
	entry, err := b.Get(id)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(entry.Dir) {
		return entry.Dir, nil
	}
	return filepath.Join(basePath, entry.Dir), nil
}

// Exists checks if a book exists in the registry.
func (b *BooksConfig) Exists(id string) bool {
	if b.Books == nil {
		return false
	}
	_, ok := b.Books[id]
	return ok
}
