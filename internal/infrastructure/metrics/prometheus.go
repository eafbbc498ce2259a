// Package metrics provides a Prometheus implementation of the Metrics interface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

const namespace = "continuity"

// Prometheus records engine measurements as Prometheus collectors.
type Prometheus struct {
	checks             *prometheus.CounterVec
	checkLatency       *prometheus.HistogramVec
	scans              *prometheus.CounterVec
	scanDuration       *prometheus.HistogramVec
	extractionAttempts *prometheus.CounterVec
	droppedRecords     *prometheus.CounterVec
	issuesRaised       *prometheus.CounterVec
}

var _ ports.Metrics = (*Prometheus)(nil)

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "check",
			Name:      "total",
			Help:      "Incremental checks by outcome.",
		}, []string{"outcome"}),
		checkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "check",
			Name:      "duration_seconds",
			Help:      "Incremental check latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "total",
			Help:      "Full scans by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Full scan duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"outcome"}),
		extractionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "attempts_total",
			Help:      "Extraction capability calls by outcome.",
		}, []string{"outcome"}),
		droppedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "dropped_records_total",
			Help:      "Malformed extraction records dropped by reason.",
		}, []string{"reason"}),
		issuesRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issues",
			Name:      "raised_total",
			Help:      "New consistency issues by severity.",
		}, []string{"severity"}),
	}

	for _, c := range []prometheus.Collector{
		p.checks, p.checkLatency, p.scans, p.scanDuration,
		p.extractionAttempts, p.droppedRecords, p.issuesRaised,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// CheckFinished records one incremental check.
func (p *Prometheus) CheckFinished(outcome string, elapsed time.Duration) {
	p.checks.WithLabelValues(outcome).Inc()
	p.checkLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ScanFinished records one full scan.
func (p *Prometheus) ScanFinished(outcome string, elapsed time.Duration) {
	p.scans.WithLabelValues(outcome).Inc()
	p.scanDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ExtractionAttempt records one extraction call.
func (p *Prometheus) ExtractionAttempt(outcome string) {
	p.extractionAttempts.WithLabelValues(outcome).Inc()
}

// RecordDropped records one dropped extraction record.
func (p *Prometheus) RecordDropped(reason string) {
	p.droppedRecords.WithLabelValues(reason).Inc()
}

// IssueRaised records one new issue.
func (p *Prometheus) IssueRaised(severity entities.Severity) {
	p.issuesRaised.WithLabelValues(string(severity)).Inc()
}
