package parsers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/ports"
)

func TestJSONParser_Parse_ValidInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []ports.ImportRecord
	}{
		{
			name:  "single fact",
			input: `[{"subject": "Marcus", "attribute": "eye color", "value": "blue", "category": "character_trait"}]`,
			expected: []ports.ImportRecord{
				{Subject: "Marcus", Attribute: "eye color", Value: "blue", Category: "character_trait", Line: 1},
			},
		},
		{
			name:     "empty array",
			input:    "[]",
			expected: []ports.ImportRecord{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := &JSONParser{}
			result, err := parser.Parse(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestJSONParser_Parse_AllFields(t *testing.T) {
	input := `[
		{"subject": "Varn", "attribute": "ruler", "value": "Queen Ysolde", "category": "location"},
		{
			"subject": "Elena",
			"attribute": "hometown",
			"value": "Varn",
			"category": "location",
			"importance": "significant",
			"chapter": "01-arrival",
			"notes": "Stated in the prologue draft"
		}
	]`

	parser := &JSONParser{}
	result, err := parser.Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, result, 2)

	rec := result[1]
	assert.Equal(t, "Elena", rec.Subject)
	assert.Equal(t, "hometown", rec.Attribute)
	assert.Equal(t, "Varn", rec.Value)
	assert.Equal(t, "location", rec.Category)
	assert.Equal(t, "significant", rec.Importance)
	assert.Equal(t, "01-arrival", rec.Chapter)
	assert.Equal(t, "Stated in the prologue draft", rec.Notes)
	assert.Equal(t, 2, rec.Line)
}

func TestJSONParser_Parse_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "not json"},
		{name: "object instead of array", input: `{"subject": "Marcus"}`},
		{name: "unknown field", input: `[{"subject": "Marcus", "predicate": "has"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := &JSONParser{}
			_, err := parser.Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "parsing JSON")
		})
	}
}

func TestCSVParser_Parse_ValidInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []ports.ImportRecord
	}{
		{
			name:  "required columns only",
			input: "subject,attribute,value,category\nMarcus,eye color,blue,character_trait\n",
			expected: []ports.ImportRecord{
				{Subject: "Marcus", Attribute: "eye color", Value: "blue", Category: "character_trait", Line: 2},
			},
		},
		{
			name:     "empty CSV (header only)",
			input:    "subject,attribute,value,category\n",
			expected: nil,
		},
		{
			name:  "columns in different order",
			input: "category,value,attribute,subject\ncharacter_trait,blue,eye color,Marcus\n",
			expected: []ports.ImportRecord{
				{Subject: "Marcus", Attribute: "eye color", Value: "blue", Category: "character_trait", Line: 2},
			},
		},
		{
			name:  "header case and spacing",
			input: " Subject , ATTRIBUTE,Value,Category\nMarcus, eye color ,blue,character_trait\n",
			expected: []ports.ImportRecord{
				{Subject: "Marcus", Attribute: "eye color", Value: "blue", Category: "character_trait", Line: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := &CSVParser{}
			result, err := parser.Parse(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestCSVParser_Parse_AllColumns(t *testing.T) {
	input := "subject,attribute,value,category,importance,chapter,notes\n" +
		"Marcus,eye color,blue,character_trait,minor,01-arrival,\n" +
		"Elena,hometown,Varn,location,critical,01-arrival,Prologue\n"

	parser := &CSVParser{}
	result, err := parser.Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, result, 2)

	rec := result[1]
	assert.Equal(t, "Elena", rec.Subject)
	assert.Equal(t, "hometown", rec.Attribute)
	assert.Equal(t, "Varn", rec.Value)
	assert.Equal(t, "location", rec.Category)
	assert.Equal(t, "critical", rec.Importance)
	assert.Equal(t, "01-arrival", rec.Chapter)
	assert.Equal(t, "Prologue", rec.Notes)
	assert.Equal(t, 3, rec.Line)
}

func TestCSVParser_Parse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		errMsg string
	}{
		{
			name:   "missing required column",
			input:  "subject,attribute,value\nMarcus,eye color,blue\n",
			errMsg: "missing required column: category",
		},
		{
			name:   "empty input",
			input:  "",
			errMsg: "reading CSV header",
		},
		{
			name:   "wrong field count",
			input:  "subject,attribute,value,category\nMarcus,eye color\n",
			errMsg: "line 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := &CSVParser{}
			_, err := parser.Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestForFormat(t *testing.T) {
	assert.IsType(t, &JSONParser{}, ForFormat("json"))
	assert.IsType(t, &CSVParser{}, ForFormat("CSV"))
	assert.Nil(t, ForFormat("unknown"))
}

func TestForFile(t *testing.T) {
	assert.IsType(t, &JSONParser{}, ForFile("bible.json"))
	assert.IsType(t, &CSVParser{}, ForFile("facts.CSV"))
	assert.Nil(t, ForFile("chapter.md"))
	assert.Nil(t, ForFile("noextension"))
}
