package entities

import "time"

// Audit actions recorded by the engine.
const (
	AuditFactSuperseded  = "fact_superseded"
	AuditAliasRegistered = "alias_registered"
	AuditIssueTransition = "issue_transition"
	AuditScanCompleted   = "scan_completed"
)

// AuditEntry represents a logged action in the system.
type AuditEntry struct {
	ID        int64          `json:"id"`
	BookID    string         `json:"book_id"`
	Action    string         `json:"action"`
	TargetID  string         `json:"target_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
