package handlers

import (
	"context"
	"time"

	"github.com/ersonp/continuity/internal/domain/services"
)

// DefaultProgressInterval is how often scan progress is polled.
const DefaultProgressInterval = 250 * time.Millisecond

// ScanHandler runs full-book scans and reports their progress.
type ScanHandler struct {
	engine   *services.Engine
	interval time.Duration
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(engine *services.Engine) *ScanHandler {
	return &ScanHandler{
		engine:   engine,
		interval: DefaultProgressInterval,
	}
}

// Handle starts a scan and blocks until it finishes. progressFn, when set,
// is called whenever the phase or percentage changes and once with the
// final status. Cancelling ctx cancels the scan.
func (h *ScanHandler) Handle(ctx context.Context, bookID string, progressFn func(services.ScanStatus)) (services.ScanStatus, error) {
	handle, err := h.engine.StartScan(ctx, bookID)
	if err != nil {
		return services.ScanStatus{}, err
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last services.ScanStatus
	report := func(st services.ScanStatus) {
		if progressFn == nil {
			return
		}
		if st.Phase == last.Phase && st.Percent == last.Percent && !st.Phase.IsTerminal() {
			return
		}
		last = st
		progressFn(st)
	}

	for {
		select {
		case <-handle.Done():
			st := handle.Status()
			report(st)
			return st, nil
		case <-ticker.C:
			report(handle.Status())
		case <-ctx.Done():
			handle.Cancel()
			<-handle.Done()
			st := handle.Status()
			report(st)
			return st, ctx.Err()
		}
	}
}
