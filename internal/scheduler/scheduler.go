// Package scheduler drives the measurement cycles.
//
// # Probe Loop
//
// For each cycle:
//  1. Resolve each target's probe method via the tracker
//  2. Run the matching executor (ICMP or TCP)
//  3. Feed the outcome back into the tracker
//  4. Emit the sample to the batched persister and the live cache
//  5. Sleep interval +/- jitter until the next cycle
//
// Targets are probed sequentially in configured order; the loop never runs
// two cycles concurrently. The jitter desynchronizes repeated identical
// timing patterns across targets and processes.
//
// # Graceful Handling
//
// Context cancellation aborts any in-flight probe, cancels the pending
// sleep, force-flushes the persister, and returns.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/rafrcruz/pingflux/internal/live"
	"github.com/rafrcruz/pingflux/internal/persist"
	"github.com/rafrcruz/pingflux/internal/probe"
	"github.com/rafrcruz/pingflux/internal/tracker"
	"github.com/rafrcruz/pingflux/pkg/types"
)

// Target is one scheduled measurement target.
type Target struct {
	Address    string
	Preference types.Preference
}

// Config for the scheduler.
type Config struct {
	Targets  []Target
	Interval time.Duration
	Jitter   time.Duration // symmetric, must be < Interval
	Logger   *slog.Logger
}

// Scheduler runs the probe loop.
type Scheduler struct {
	targets   []Target
	interval  time.Duration
	jitter    time.Duration
	tracker   *tracker.Registry
	executors map[types.Method]probe.Executor
	persister *persist.Persister
	cache     *live.Cache     // nil when live reads are disabled
	publisher *live.Publisher // nil is a no-op
	logger    *slog.Logger
	rng       *rand.Rand
}

// New creates a scheduler. cache and publisher may be nil.
func New(cfg Config, reg *tracker.Registry, executors []probe.Executor, persister *persist.Persister, cache *live.Cache, publisher *live.Publisher) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	byMethod := make(map[types.Method]probe.Executor, len(executors))
	for _, e := range executors {
		byMethod[e.Method()] = e
	}
	return &Scheduler{
		targets:   cfg.Targets,
		interval:  cfg.Interval,
		jitter:    cfg.Jitter,
		tracker:   reg,
		executors: byMethod,
		persister: persister,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With("component", "scheduler"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes probe cycles until ctx is cancelled, then force-flushes the
// persister and returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting probe loop",
		"targets", len(s.targets),
		"interval", s.interval,
		"jitter", s.jitter)

	for {
		s.runCycle(ctx)

		timer := time.NewTimer(s.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("stopping probe loop")
			s.persister.Flush(context.Background())
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextDelay returns the cycle cadence with symmetric random jitter applied.
func (s *Scheduler) nextDelay() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	offset := time.Duration((s.rng.Float64()*2 - 1) * float64(s.jitter))
	return s.interval + offset
}

// runCycle probes every target once, sequentially in configured order.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()
	for _, t := range s.targets {
		if ctx.Err() != nil {
			return
		}
		s.probeTarget(ctx, t)
	}

	if s.publisher != nil && s.cache != nil {
		s.publisher.PublishAll(ctx, s.cache, time.Now())
	}

	s.logger.Debug("probe cycle complete",
		"targets", len(s.targets),
		"elapsed", time.Since(start))
}

func (s *Scheduler) probeTarget(ctx context.Context, t Target) {
	method := s.tracker.Method(t.Address, t.Preference)
	exec, ok := s.executors[method]
	if !ok {
		s.logger.Error("no executor for method", "method", method, "target", t.Address)
		return
	}

	result := exec.Probe(ctx, t.Address)
	now := time.Now()

	s.tracker.Observe(t.Address, method, result.Success, now)

	sample := types.Sample{
		Timestamp: now,
		Target:    t.Address,
		Method:    method,
		RTTMs:     result.RTTMs,
		Success:   result.Success,
	}
	s.persister.Add(sample)
	if s.cache != nil {
		s.cache.Record(sample)
	}
}
