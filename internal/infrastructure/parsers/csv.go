package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/ersonp/continuity/internal/domain/ports"
)

// CSVParser parses facts from CSV format.
type CSVParser struct{}

// requiredColumns must appear in the header row.
var requiredColumns = []string{"subject", "attribute", "value", "category"}

// Parse reads CSV from the reader and returns parsed records.
// Expected columns: subject, attribute, value, category, importance, chapter, notes
func (p *CSVParser) Parse(r io.Reader) ([]ports.ImportRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	colIndex, err := p.readHeader(reader)
	if err != nil {
		return nil, err
	}

	return p.readRecords(reader, colIndex)
}

// readHeader reads and validates the CSV header row.
func (p *CSVParser) readHeader(reader *csv.Reader) (map[string]int, error) {
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	return colIndex, nil
}

// readRecords reads all data rows and converts them to records.
func (p *CSVParser) readRecords(reader *csv.Reader, colIndex map[string]int) ([]ports.ImportRecord, error) {
	var records []ports.ImportRecord
	lineNum := 1 // Header is line 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		records = append(records, ports.ImportRecord{
			Subject:    getColumn(row, colIndex, "subject"),
			Attribute:  getColumn(row, colIndex, "attribute"),
			Value:      getColumn(row, colIndex, "value"),
			Category:   getColumn(row, colIndex, "category"),
			Importance: getColumn(row, colIndex, "importance"),
			Chapter:    getColumn(row, colIndex, "chapter"),
			Notes:      getColumn(row, colIndex, "notes"),
			Line:       lineNum,
		})
	}

	return records, nil
}

// getColumn safely retrieves a column value from a record.
func getColumn(record []string, colIndex map[string]int, col string) string {
	if idx, ok := colIndex[col]; ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}
