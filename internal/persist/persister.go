// Package persist buffers probe samples and flushes them to the store.
//
// # Design
//
// Samples are buffered in memory and flushed when:
// 1. The buffer reaches the count threshold (one probe cycle's worth, >= 10)
// 2. The flush timer fires
// 3. Shutdown is requested (final synchronous flush)
//
// # Resilience
//
// A failed flush keeps samples buffered for the next trigger. The buffer is
// bounded by maxPending with oldest-first shedding, trading completeness for
// bounded memory during sustained storage outages. Flush outcomes are
// counted and logged at most once per minute so an outage cannot amplify
// into a log storm.
package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rafrcruz/pingflux/pkg/types"
)

// SampleWriter is the narrow store interface the persister needs.
type SampleWriter interface {
	// InsertSamples writes all rows atomically, all-or-nothing.
	InsertSamples(ctx context.Context, samples []types.Sample) error
}

// Persister batches samples and writes them to the store.
type Persister struct {
	store  SampleWriter
	logger *slog.Logger

	threshold     int
	flushInterval time.Duration
	maxPending    int

	mu  sync.Mutex
	buf []types.Sample

	// shedSinceSnapshot counts entries shed while a flush batch is in
	// flight; the success path subtracts it so samples added mid-flush are
	// never mistaken for flushed batch members.
	shedSinceSnapshot int

	// Outcome counters accumulated between summary log lines.
	flushedSamples int64
	failedFlushes  int64
	droppedSamples int64
	lastBatchID    string
	logLimiter     *rate.Limiter

	flushCh chan struct{}
}

// Config for the persister.
type Config struct {
	Threshold     int           // count-based flush trigger
	FlushInterval time.Duration // timer-based flush trigger
	MaxPending    int           // hard buffer bound, oldest shed first
	Logger        *slog.Logger
}

// New creates a persister writing through store.
func New(store SampleWriter, cfg Config) *Persister {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Threshold < 10 {
		cfg.Threshold = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxPending < cfg.Threshold {
		cfg.MaxPending = cfg.Threshold
	}
	return &Persister{
		store:         store,
		logger:        cfg.Logger.With("component", "persister"),
		threshold:     cfg.Threshold,
		flushInterval: cfg.FlushInterval,
		maxPending:    cfg.MaxPending,
		buf:           make([]types.Sample, 0, cfg.Threshold),
		logLimiter:    rate.NewLimiter(rate.Every(time.Minute), 1),
		flushCh:       make(chan struct{}, 1),
	}
}

// Add buffers one sample. May trigger an asynchronous flush when the count
// threshold is reached. The buffer never exceeds maxPending entries.
func (p *Persister) Add(s types.Sample) {
	p.mu.Lock()
	p.buf = append(p.buf, s)
	p.shedLocked()
	shouldFlush := len(p.buf) >= p.threshold
	p.mu.Unlock()

	if shouldFlush {
		select {
		case p.flushCh <- struct{}{}:
		default:
		}
	}
}

// shedLocked drops the oldest entries beyond maxPending. Caller holds p.mu.
func (p *Persister) shedLocked() {
	if excess := len(p.buf) - p.maxPending; excess > 0 {
		p.buf = append(p.buf[:0], p.buf[excess:]...)
		p.droppedSamples += int64(excess)
		p.shedSinceSnapshot += excess
	}
}

// Depth returns the current buffer length.
func (p *Persister) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Run drives timer flushes until ctx is cancelled, then performs a final
// synchronous flush.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Flush(context.Background())
			p.logSummary(true)
			return ctx.Err()
		case <-ticker.C:
			p.Flush(ctx)
		case <-p.flushCh:
			p.Flush(ctx)
		}
	}
}

// Flush writes all buffered samples in one atomic batch. On failure the
// samples stay buffered (bounded by maxPending) for the next trigger.
func (p *Persister) Flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buf) == 0 {
		p.mu.Unlock()
		return
	}
	batch := make([]types.Sample, len(p.buf))
	copy(batch, p.buf)
	p.shedSinceSnapshot = 0
	p.mu.Unlock()

	batchID := uuid.New().String()
	err := p.store.InsertSamples(ctx, batch)

	p.mu.Lock()
	p.lastBatchID = batchID
	if err != nil {
		p.failedFlushes++
		p.shedLocked()
		p.mu.Unlock()
		p.logSummary(false)
		return
	}

	// Drop only what remains of the flushed batch: shedding during the
	// write removes oldest entries, which are batch members, so the prefix
	// shrinks by however much was shed mid-flight.
	remaining := len(batch) - p.shedSinceSnapshot
	if remaining < 0 {
		remaining = 0
	}
	if remaining > len(p.buf) {
		remaining = len(p.buf)
	}
	p.buf = append(p.buf[:0], p.buf[remaining:]...)
	p.flushedSamples += int64(len(batch))
	p.mu.Unlock()

	p.logger.Debug("flushed samples", "count", len(batch), "batch_id", batchID)
	p.logSummary(false)
}

// logSummary emits the accumulated outcome counters, at most once per
// minute unless forced at shutdown.
func (p *Persister) logSummary(force bool) {
	p.mu.Lock()
	if p.flushedSamples == 0 && p.failedFlushes == 0 && p.droppedSamples == 0 {
		p.mu.Unlock()
		return
	}
	if !force && !p.logLimiter.Allow() {
		p.mu.Unlock()
		return
	}
	flushed, failed, dropped := p.flushedSamples, p.failedFlushes, p.droppedSamples
	pending := len(p.buf)
	batchID := p.lastBatchID
	p.flushedSamples, p.failedFlushes, p.droppedSamples = 0, 0, 0
	p.mu.Unlock()
	if failed > 0 || dropped > 0 {
		p.logger.Warn("persistence summary",
			"flushed", flushed,
			"failed_flushes", failed,
			"dropped", dropped,
			"pending", pending,
			"last_batch_id", batchID)
		return
	}
	p.logger.Info("persistence summary",
		"flushed", flushed,
		"pending", pending,
		"last_batch_id", batchID)
}
