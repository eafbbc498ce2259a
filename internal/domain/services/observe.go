package services

import (
	"time"

	"go.opentelemetry.io/otel"

	"github.com/ersonp/continuity/internal/domain/entities"
)

var tracer = otel.Tracer("github.com/ersonp/continuity/services")

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) CheckFinished(string, time.Duration) {}
func (NopMetrics) ScanFinished(string, time.Duration)  {}
func (NopMetrics) ExtractionAttempt(string)            {}
func (NopMetrics) RecordDropped(string)                {}
func (NopMetrics) IssueRaised(entities.Severity)       {}
