package entities

import (
	"strings"
	"time"
)

// Alias maps an alternative name of an entity to its canonical name.
// Names are matched after NormalizeName.
type Alias struct {
	BookID    string    `json:"book_id"`
	Alias     string    `json:"alias"`     // Original spelling (e.g., "Marcus")
	Canonical string    `json:"canonical"` // Canonical display name (e.g., "Marcus Webb")
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeName converts a name to lowercase for case-insensitive matching.
// A trailing possessive is removed so "Marcus's" matches "Marcus".
func NormalizeName(name string) string {
	name = strings.Join(strings.Fields(strings.ToLower(name)), " ")
	name = strings.TrimSuffix(name, "'s")
	name = strings.TrimSuffix(name, "’s")
	return strings.TrimSpace(name)
}
