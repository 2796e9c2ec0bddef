// Package catchup drives the aggregation engine over elapsed minutes.
//
// A minute-granularity cursor marks the last fully processed boundary. Each
// tick aggregates at most MaxBatchMinutes complete minutes ahead of the
// cursor and advances it only on success, so a failed run is retried over
// the same range on the next tick (aggregation is idempotent, so repeating
// is safe). The in-progress minute is left for a later tick once it has
// completed.
package catchup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Aggregator is the engine surface the worker drives.
type Aggregator interface {
	Aggregate(ctx context.Context, from, to time.Time) error
}

// Config holds catch-up scheduling parameters.
type Config struct {
	// CatchupMinutes bounds the initial backfill when no cursor exists yet.
	CatchupMinutes int

	// Interval is the sleep between ticks once caught up.
	Interval time.Duration

	// MaxBatchMinutes caps the minutes covered by one engine call.
	MaxBatchMinutes int
}

// DefaultConfig returns sensible catch-up defaults.
func DefaultConfig() Config {
	return Config{
		CatchupMinutes:  10,
		Interval:        time.Minute,
		MaxBatchMinutes: 5000,
	}
}

// Worker periodically invokes the aggregation engine until caught up.
type Worker struct {
	engine Aggregator
	cfg    Config
	logger *slog.Logger
	stopCh chan struct{}

	// now is injectable for tests.
	now func() time.Time

	// errLimiter keeps a persistent aggregation outage to one log line a
	// minute.
	errLimiter *rate.Limiter

	mu     sync.Mutex
	cursor time.Time
}

// NewWorker creates a catch-up worker driving engine.
func NewWorker(engine Aggregator, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxBatchMinutes < 1 {
		cfg.MaxBatchMinutes = 1
	}
	return &Worker{
		engine:     engine,
		cfg:        cfg,
		logger:     logger.With("component", "catchup"),
		stopCh:     make(chan struct{}),
		now:        time.Now,
		errLimiter: rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

// Start begins the worker in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// Cursor returns the last fully processed minute boundary.
func (w *Worker) Cursor() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

func (w *Worker) run(ctx context.Context) {
	w.logger.Info("catch-up worker started",
		"interval", w.cfg.Interval,
		"catchup_minutes", w.cfg.CatchupMinutes,
		"max_batch_minutes", w.cfg.MaxBatchMinutes)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on start.
	w.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("catch-up worker stopped")
			return
		case <-w.stopCh:
			w.logger.Info("catch-up worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick aggregates up to MaxBatchMinutes complete minutes past the cursor.
// The cursor advances only when the engine call succeeds. The first tick
// initializes the cursor to CatchupMinutes before now, bounding the initial
// backfill.
func (w *Worker) Tick(ctx context.Context) {
	w.mu.Lock()
	if w.cursor.IsZero() {
		w.cursor = w.now().Add(-time.Duration(w.cfg.CatchupMinutes) * time.Minute).Truncate(time.Minute)
	}
	cursor := w.cursor
	w.mu.Unlock()

	target := w.now().Truncate(time.Minute)
	if !cursor.Before(target) {
		return
	}

	upTo := cursor.Add(time.Duration(w.cfg.MaxBatchMinutes) * time.Minute)
	if upTo.After(target) {
		upTo = target
	}

	if err := w.engine.Aggregate(ctx, cursor, upTo.Add(-time.Millisecond)); err != nil {
		if w.errLimiter.Allow() {
			w.logger.Error("aggregation run failed, will retry",
				"from", cursor,
				"to", upTo,
				"error", err)
		}
		return
	}

	w.mu.Lock()
	w.cursor = upTo
	w.mu.Unlock()

	w.logger.Debug("aggregation run complete",
		"from", cursor,
		"to", upTo,
		"behind", target.Sub(upTo))
}
