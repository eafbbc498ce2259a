// Package parsers reads story bible facts from structured files.
package parsers

import (
	"path/filepath"
	"strings"

	"github.com/ersonp/continuity/internal/domain/ports"
)

var (
	_ ports.FactParser = (*JSONParser)(nil)
	_ ports.FactParser = (*CSVParser)(nil)
)

// ForFormat returns the appropriate parser for the given format.
// Supported formats: "json", "csv".
func ForFormat(format string) ports.FactParser {
	switch strings.ToLower(format) {
	case "json":
		return &JSONParser{}
	case "csv":
		return &CSVParser{}
	default:
		return nil
	}
}

// ForFile returns the appropriate parser based on file extension.
func ForFile(filename string) ports.FactParser {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".json":
		return &JSONParser{}
	case ".csv":
		return &CSVParser{}
	default:
		return nil
	}
}
