package entities

import "time"

// SeverityCounts counts unresolved issues per severity.
type SeverityCounts struct {
	Critical   int `json:"critical"`
	Warning    int `json:"warning"`
	Suggestion int `json:"suggestion"`
}

// Total returns the sum of all counts.
func (c SeverityCounts) Total() int {
	return c.Critical + c.Warning + c.Suggestion
}

// Of returns the count for one severity.
func (c SeverityCounts) Of(s Severity) int {
	switch s {
	case SeverityCritical:
		return c.Critical
	case SeverityWarning:
		return c.Warning
	case SeveritySuggestion:
		return c.Suggestion
	}
	return 0
}

// Add increments the count for one severity.
func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityCritical:
		c.Critical++
	case SeverityWarning:
		c.Warning++
	case SeveritySuggestion:
		c.Suggestion++
	}
}

// ContinuityAnalysis is a derived snapshot of a book's continuity health.
// It is always recomputed from the fact store and the open issues.
type ContinuityAnalysis struct {
	BookID          string         `json:"book_id"`
	ContinuityScore int            `json:"continuity_score"`
	OpenIssues      SeverityCounts `json:"open_issues"`
	FactCount       int            `json:"fact_count"`
	EventCount      int            `json:"event_count"`
	ComputedAt      time.Time      `json:"computed_at"`
}
