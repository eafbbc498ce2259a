// Package fs reads manuscripts from book directories on disk.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// Resolver maps a book ID to its manuscript directory.
type Resolver func(bookID string) (string, error)

// Source implements ports.ManuscriptSource over a directory of chapter
// files. Every *.md and *.txt file is a chapter; chapters are ordered by
// file name.
type Source struct {
	resolve Resolver
}

var _ ports.ManuscriptSource = (*Source)(nil)

// NewSource creates a source that finds book directories with resolve.
func NewSource(resolve Resolver) *Source {
	return &Source{resolve: resolve}
}

// IsChapterFile reports whether name is a chapter file.
func IsChapterFile(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt":
		return true
	}
	return false
}

// ChapterID derives the chapter ID from a chapter file name.
func ChapterID(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Chapters returns the chapters of a book. Indexes start at 1.
func (s *Source) Chapters(ctx context.Context, bookID string) ([]entities.Chapter, error) {
	dir, err := s.resolve(bookID)
	if err != nil {
		return nil, err
	}
	names, err := chapterFiles(dir)
	if err != nil {
		return nil, err
	}

	chapters := make([]entities.Chapter, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch, err := readChapter(filepath.Join(dir, name), i+1)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, ch)
	}
	return chapters, nil
}

// Chapter reads the single chapter stored in file name of a book, with
// its index in the current directory listing.
func (s *Source) Chapter(_ context.Context, bookID, name string) (entities.Chapter, error) {
	dir, err := s.resolve(bookID)
	if err != nil {
		return entities.Chapter{}, err
	}
	names, err := chapterFiles(dir)
	if err != nil {
		return entities.Chapter{}, err
	}
	base := filepath.Base(name)
	for i, n := range names {
		if n == base {
			return readChapter(filepath.Join(dir, n), i+1)
		}
	}
	return entities.Chapter{}, fmt.Errorf("chapter file %s not found in %s", base, dir)
}

func chapterFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading manuscript directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsChapterFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func readChapter(path string, index int) (entities.Chapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return entities.Chapter{}, fmt.Errorf("reading chapter: %w", err)
	}
	text := string(data)
	return entities.Chapter{
		ID:    ChapterID(path),
		Title: title(text, filepath.Base(path)),
		Index: index,
		Text:  text,
	}, nil
}

// title returns the first "# " heading, or the file name without extension.
func title(text, name string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if heading, ok := strings.CutPrefix(line, "# "); ok {
			if heading = strings.TrimSpace(heading); heading != "" {
				return heading
			}
		}
	}
	return ChapterID(name)
}
