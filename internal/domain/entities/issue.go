package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// IssueType classifies a consistency issue.
type IssueType string

const (
	IssueFactContradiction     IssueType = "fact_contradiction"
	IssueTimelineContradiction IssueType = "timeline_contradiction"
	IssueUnresolvedThread      IssueType = "unresolved_thread"
	IssueImplausibleTime       IssueType = "implausible_time"
)

// IsValid reports whether t is a known issue type.
func (t IssueType) IsValid() bool {
	switch t {
	case IssueFactContradiction, IssueTimelineContradiction, IssueUnresolvedThread, IssueImplausibleTime:
		return true
	}
	return false
}

// ParseIssueType converts a raw string into an IssueType.
func ParseIssueType(raw string) (IssueType, error) {
	t := IssueType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown issue type %q", raw)
	}
	return t, nil
}

// Severity drives both display and score weighting.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
)

// Severities lists severities from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityWarning, SeveritySuggestion}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeveritySuggestion:
		return true
	}
	return false
}

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeveritySuggestion:
		return 1
	}
	return 0
}

// ParseSeverity converts a raw string into a Severity.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return s, nil
}

// IssueStatus is the lifecycle state of an issue.
type IssueStatus string

const (
	StatusOpen         IssueStatus = "open"
	StatusAcknowledged IssueStatus = "acknowledged"
	StatusResolved     IssueStatus = "resolved"
	StatusDismissed    IssueStatus = "dismissed"
)

// IsValid reports whether s is a known status.
func (s IssueStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusResolved, StatusDismissed:
		return true
	}
	return false
}

// IsClosed reports whether the issue no longer counts against the score.
func (s IssueStatus) IsClosed() bool {
	return s == StatusResolved || s == StatusDismissed
}

// ParseIssueStatus converts a raw string into an IssueStatus.
func ParseIssueStatus(raw string) (IssueStatus, error) {
	s := IssueStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown issue status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether moving from s to next is allowed.
// Closed issues only move back to open, through an explicit reopen.
func (s IssueStatus) CanTransition(next IssueStatus) bool {
	switch s {
	case StatusOpen:
		return next == StatusAcknowledged || next == StatusResolved || next == StatusDismissed
	case StatusAcknowledged:
		return next == StatusResolved || next == StatusDismissed
	case StatusResolved, StatusDismissed:
		return next == StatusOpen
	}
	return false
}

// ResolutionMethod records how an issue was closed.
type ResolutionMethod string

const (
	ResolutionFixed       ResolutionMethod = "fixed"
	ResolutionIntentional ResolutionMethod = "intentional"
	ResolutionWontFix     ResolutionMethod = "wont_fix"
)

// IsValid reports whether m is a known resolution method.
func (m ResolutionMethod) IsValid() bool {
	switch m {
	case ResolutionFixed, ResolutionIntentional, ResolutionWontFix:
		return true
	}
	return false
}

// Resolution is attached to an issue once it is resolved or dismissed.
type Resolution struct {
	Method     ResolutionMethod `json:"method,omitempty"`
	Notes      string           `json:"notes,omitempty"`
	Value      string           `json:"value,omitempty"` // canonical value adopted by an intentional resolution
	ResolvedAt time.Time        `json:"resolved_at"`
}

// IssueTransition is one entry of an issue's status audit trail.
type IssueTransition struct {
	From  IssueStatus `json:"from"`
	To    IssueStatus `json:"to"`
	Notes string      `json:"notes,omitempty"`
	At    time.Time   `json:"at"`
}

// ConsistencyIssue is a detected contradiction or risk.
type ConsistencyIssue struct {
	ID             string            `json:"id"`
	BookID         string            `json:"book_id"`
	DedupKey       string            `json:"dedup_key"`
	Type           IssueType         `json:"type"`
	Severity       Severity          `json:"severity"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Locations      []SourceRef       `json:"locations"`
	Suggestions    []string          `json:"suggestions,omitempty"`
	Status         IssueStatus       `json:"status"`
	RelatedFactIDs []string          `json:"related_fact_ids,omitempty"`
	Subject        string            `json:"subject,omitempty"`
	Attribute      string            `json:"attribute,omitempty"`
	ExpectedValue  string            `json:"expected_value,omitempty"`
	FoundValue     string            `json:"found_value,omitempty"`
	Resolution     *Resolution       `json:"resolution,omitempty"`
	Transitions    []IssueTransition `json:"transitions,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	LastDetectedAt time.Time         `json:"last_detected_at"`
}

// ChapterID returns the chapter the issue was raised in.
func (i ConsistencyIssue) ChapterID() string {
	if len(i.Locations) == 0 {
		return ""
	}
	return i.Locations[0].ChapterID
}

// Clone returns a deep copy of the issue.
func (i ConsistencyIssue) Clone() ConsistencyIssue {
	c := i
	c.Locations = append([]SourceRef(nil), i.Locations...)
	c.Suggestions = append([]string(nil), i.Suggestions...)
	c.RelatedFactIDs = append([]string(nil), i.RelatedFactIDs...)
	c.Transitions = append([]IssueTransition(nil), i.Transitions...)
	if i.Resolution != nil {
		r := *i.Resolution
		c.Resolution = &r
	}
	return c
}

// DedupKey identifies an issue across repeated scans.
func DedupKey(issueType IssueType, subject, attribute, chapterID string) string {
	h := sha256.New()
	for _, part := range []string{
		string(issueType),
		NormalizeName(subject),
		NormalizeAttribute(attribute),
		chapterID,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
