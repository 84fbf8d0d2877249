package reminders

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/carewatch/internal/metrics"
)

// DueWorker periodically triggers reminders whose due time has passed.
type DueWorker struct {
	store    *Store
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDueWorker creates a DueWorker. If interval is <= 0, it defaults to 30s.
func NewDueWorker(store *Store, interval time.Duration, m *metrics.Metrics) *DueWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &DueWorker{
		store:    store,
		interval: interval,
		metrics:  m,
		logger:   slog.Default(),
	}
}

// Run scans immediately and then once per interval until ctx is cancelled.
// An in-flight scan finishes before Run returns.
func (w *DueWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("due reminder scan failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// RunOnce performs a single scan and returns the number of reminders it
// triggered.
func (w *DueWorker) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	// The scan itself is not cut short by shutdown; cancellation is checked
	// between scans.
	fired, err := w.store.TriggerDue(context.WithoutCancel(ctx), w.store.now())
	w.metrics.ObserveDueScan(time.Since(start))
	if len(fired) > 0 {
		w.logger.Info("reminders triggered", "count", len(fired))
	}
	return len(fired), err
}
