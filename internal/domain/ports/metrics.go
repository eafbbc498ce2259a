package ports

import (
	"time"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// Metrics receives engine measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	CheckFinished(outcome string, elapsed time.Duration)
	ScanFinished(outcome string, elapsed time.Duration)
	ExtractionAttempt(outcome string)
	RecordDropped(reason string)
	IssueRaised(severity entities.Severity)
}
