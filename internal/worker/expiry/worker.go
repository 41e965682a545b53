package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/corray333/labshop/internal/service/services/expirysvc"
)

type sweeper interface {
	Sweep(ctx context.Context) (expirysvc.Result, error)
}

// Worker runs the expiration sweep on a fixed interval.
type Worker struct {
	sweeper  sweeper
	interval time.Duration
	stopCh   chan struct{}
}

// NewWorker creates a new expiry worker.
func NewWorker(sweeper sweeper, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Worker{
		sweeper:  sweeper,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start sweeps once immediately and then on every tick.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("Expiry worker started", "interval", w.interval)
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Expiry worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Expiry worker stopped")

			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) sweep(ctx context.Context) {
	res, err := w.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("Expiration sweep failed", "error", err)

		return
	}
	if res.ExpiredCount > 0 {
		slog.Info("Expiration sweep finished", "expired", res.ExpiredCount, "candidates", res.Candidates)
	}
}
