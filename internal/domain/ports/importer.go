package ports

import "io"

// ImportRecord is one canonical fact read from a story bible.
type ImportRecord struct {
	Subject    string `json:"subject" validate:"required"`
	Attribute  string `json:"attribute" validate:"required"`
	Value      string `json:"value" validate:"required"`
	Category   string `json:"category" validate:"required,oneof=character_trait character_knowledge character_status timeline location object world_rule relationship plot_thread"`
	Importance string `json:"importance,omitempty" validate:"omitempty,oneof=minor significant critical"`
	// Chapter is the chapter that establishes the fact; empty for facts
	// that hold before the story starts.
	Chapter string `json:"chapter,omitempty"`
	Notes   string `json:"notes,omitempty"`
	Line    int    `json:"-"` // line number in the source file, set by the parser
}

// FactParser reads import records from a structured file.
type FactParser interface {
	Parse(r io.Reader) ([]ImportRecord, error)
}
