// Package aggregate computes multi-resolution statistical rollups from raw
// probe samples.
//
// # Algorithm
//
// One pass buckets samples by (target, minute). Each resolution then slides
// a trailing queue of per-minute buckets over the range: buckets older than
// the window are evicted and the sent/received sums maintained
// incrementally, so the pass stays O(total buckets) in queue maintenance
// instead of recomputing every window from scratch. Each emitted minute
// produces one WindowEntry per target per resolution.
//
// Aggregation is a pure function of the underlying raw samples: re-running
// the same range upserts identical rows.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rafrcruz/pingflux/pkg/types"
)

// Store is the persistence surface the engine needs.
type Store interface {
	// QueryRawSamples returns samples in [from, to] ordered by timestamp.
	// An empty target matches all targets.
	QueryRawSamples(ctx context.Context, target string, from, to time.Time) ([]types.Sample, error)

	// UpsertWindowEntries atomically writes one resolution's entries,
	// idempotent on (bucket_ts, target).
	UpsertWindowEntries(ctx context.Context, resolution types.Resolution, entries []types.WindowEntry) error
}

// Config holds the engine's statistical parameters.
type Config struct {
	// ProbeInterval drives each resolution's minimum-sample floor.
	ProbeInterval time.Duration

	// LatencyMs and LossPct are the severity thresholds.
	LatencyMs types.ThresholdPair
	LossPct   types.ThresholdPair

	Logger *slog.Logger
}

// Engine aggregates raw samples into per-resolution window entries.
type Engine struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an aggregation engine over store.
func NewEngine(store Store, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "aggregator"),
	}
}

// bucket accumulates one (target, minute) of raw samples.
type bucket struct {
	minute    time.Time
	sent      int
	received  int
	latencies []float64 // successful-sample RTTs
}

// Aggregate processes all samples in [from, to] and upserts window entries
// for every resolution. A reversed range fails fast and is never retried.
func (e *Engine) Aggregate(ctx context.Context, from, to time.Time) error {
	if to.Before(from) {
		return fmt.Errorf("aggregate: to %s before from %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	samples, err := e.store.QueryRawSamples(ctx, "", from, to)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}

	perTarget := bucketize(samples)

	targets := make([]string, 0, len(perTarget))
	for t := range perTarget {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	firstMinute := from.Truncate(time.Minute)
	lastMinute := to.Truncate(time.Minute)

	for _, res := range types.Resolutions() {
		var entries []types.WindowEntry
		for _, target := range targets {
			entries = append(entries, e.slide(res, target, perTarget[target], firstMinute, lastMinute)...)
		}
		if err := e.store.UpsertWindowEntries(ctx, res, entries); err != nil {
			return fmt.Errorf("aggregate %s: %w", res.Label(), err)
		}
		e.logger.Debug("upserted window entries",
			"resolution", res.Label(),
			"entries", len(entries),
			"targets", len(targets))
	}
	return nil
}

// bucketize groups samples by target and minute floor.
func bucketize(samples []types.Sample) map[string]map[int64]*bucket {
	perTarget := make(map[string]map[int64]*bucket)
	for _, s := range samples {
		minute := s.Timestamp.Truncate(time.Minute)
		key := minute.UnixMilli()

		minutes, ok := perTarget[s.Target]
		if !ok {
			minutes = make(map[int64]*bucket)
			perTarget[s.Target] = minutes
		}
		b, ok := minutes[key]
		if !ok {
			b = &bucket{minute: minute}
			minutes[key] = b
		}

		b.sent++
		if s.Success {
			b.received++
			if s.RTTMs != nil {
				b.latencies = append(b.latencies, *s.RTTMs)
			}
		}
	}
	return perTarget
}

// slide walks every minute in [firstMinute, lastMinute] maintaining a
// trailing queue of buckets covering the resolution's window. Minutes whose
// window holds no samples emit nothing.
func (e *Engine) slide(res types.Resolution, target string, minutes map[int64]*bucket, firstMinute, lastMinute time.Time) []types.WindowEntry {
	var (
		queue   []*bucket
		sentSum int
		recvSum int
		entries []types.WindowEntry
	)

	for m := firstMinute; !m.After(lastMinute); m = m.Add(time.Minute) {
		if b, ok := minutes[m.UnixMilli()]; ok {
			queue = append(queue, b)
			sentSum += b.sent
			recvSum += b.received
		}

		// Evict buckets older than the trailing window.
		cutoff := m.Add(-res.Duration() + time.Minute)
		for len(queue) > 0 && queue[0].minute.Before(cutoff) {
			sentSum -= queue[0].sent
			recvSum -= queue[0].received
			queue = queue[1:]
		}

		if sentSum == 0 {
			continue
		}
		entries = append(entries, e.finalize(res, m, target, sentSum, recvSum, queue))
	}
	return entries
}

// finalize turns one window's accumulated buckets into a WindowEntry.
func (e *Engine) finalize(res types.Resolution, minute time.Time, target string, sent, received int, queue []*bucket) types.WindowEntry {
	entry := types.WindowEntry{
		Resolution: res,
		BucketTime: minute,
		Target:     target,
		Sent:       sent,
		Received:   received,
	}

	if sent < res.MinSamples(e.cfg.ProbeInterval) {
		entry.Status = types.StatusInsufficient
		return entry
	}

	loss := float64(sent-received) / float64(sent) * 100
	entry.LossPct = types.Float64Ptr(loss)
	entry.AvailabilityPct = types.Float64Ptr(100 - loss)

	status := types.MaxStatus(types.StatusOK, e.cfg.LossPct.Evaluate(loss))

	var latencies []float64
	for _, b := range queue {
		latencies = append(latencies, b.latencies...)
	}
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		avg := Mean(latencies)
		entry.AvgMs = types.Float64Ptr(avg)
		entry.P50Ms = types.Float64Ptr(Percentile(latencies, 0.50))
		entry.P95Ms = types.Float64Ptr(Percentile(latencies, 0.95))
		entry.StdevMs = types.Float64Ptr(stddevPop(latencies, avg))

		// Both p95 and mean are checked; the worse severity wins.
		latStatus := types.MaxStatus(
			e.cfg.LatencyMs.Evaluate(*entry.P95Ms),
			e.cfg.LatencyMs.Evaluate(avg),
		)
		status = types.MaxStatus(status, latStatus)
	}

	entry.Status = status
	return entry
}
