package parsers

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ersonp/continuity/internal/domain/ports"
)

// JSONParser parses facts from a JSON array.
type JSONParser struct{}

// Parse reads JSON from the reader and returns parsed records.
func (p *JSONParser) Parse(r io.Reader) ([]ports.ImportRecord, error) {
	var records []ports.ImportRecord

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&records); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	// Set line numbers (array index + 1, 1-indexed)
	for i := range records {
		records[i].Line = i + 1
	}

	return records, nil
}
