package entities

import "strings"

// Filter restricts one dimension of a query. The zero value matches
// everything; Only builds a filter that matches a single value.
type Filter[T comparable] struct {
	value T
	set   bool
}

// Any returns a filter that matches every value.
func Any[T comparable]() Filter[T] {
	return Filter[T]{}
}

// Only returns a filter that matches exactly v.
func Only[T comparable](v T) Filter[T] {
	return Filter[T]{value: v, set: true}
}

// Matches reports whether v passes the filter.
func (f Filter[T]) Matches(v T) bool {
	return !f.set || f.value == v
}

// Value returns the filtered value and whether the filter is set.
func (f Filter[T]) Value() (T, bool) {
	return f.value, f.set
}

// ParseFilter builds a filter from user input. An empty string yields Any;
// anything else must be accepted by parse.
func ParseFilter[T comparable](raw string, parse func(string) (T, error)) (Filter[T], error) {
	if strings.TrimSpace(raw) == "" {
		return Any[T](), nil
	}
	v, err := parse(raw)
	if err != nil {
		return Filter[T]{}, err
	}
	return Only(v), nil
}

// FactFilter selects facts.
type FactFilter struct {
	Category Filter[Category]
	Subject  string // matched after alias resolution; empty matches all
}

// IssueFilter selects issues.
type IssueFilter struct {
	Severity Filter[Severity]
	Status   Filter[IssueStatus]
	Type     Filter[IssueType]
}

// Matches reports whether the issue passes every dimension of the filter.
func (f IssueFilter) Matches(issue ConsistencyIssue) bool {
	return f.Severity.Matches(issue.Severity) &&
		f.Status.Matches(issue.Status) &&
		f.Type.Matches(issue.Type)
}
