// Package health gathers process and store health for the presentation
// layer's liveness view.
package health

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/rafrcruz/pingflux/internal/store"
	"github.com/rafrcruz/pingflux/pkg/types"
)

// QueueDepther reports the persister's buffered sample count.
type QueueDepther interface {
	Depth() int
}

// RuntimeSnapshotter exposes per-target tracker state.
type RuntimeSnapshotter interface {
	Snapshot() []types.TargetRuntime
}

// ProcessHealth describes this process.
type ProcessHealth struct {
	Status        string  `json:"status"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Report is the full health snapshot.
type Report struct {
	Timestamp      time.Time             `json:"timestamp"`
	Process        ProcessHealth         `json:"process"`
	DatabaseOK     bool                  `json:"database_ok"`
	Pool           store.PoolStats       `json:"pool"`
	PendingSamples int                   `json:"pending_samples"`
	Targets        []types.TargetRuntime `json:"targets"`
}

// Collector gathers health metrics with short-lived caching so repeated
// reads do not hammer gopsutil and the database.
type Collector struct {
	store     *store.Store
	persister QueueDepther
	tracker   RuntimeSnapshotter
	startTime time.Time

	mu            sync.RWMutex
	cached        *Report
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a health collector.
func NewCollector(st *store.Store, persister QueueDepther, trk RuntimeSnapshotter) *Collector {
	return &Collector{
		store:         st,
		persister:     persister,
		tracker:       trk,
		startTime:     time.Now(),
		cacheDuration: 30 * time.Second,
	}
}

// Collect returns the current health report, cached for 30 seconds.
func (c *Collector) Collect(ctx context.Context) *Report {
	c.mu.RLock()
	if c.cached != nil && time.Now().Before(c.cacheExpiry) {
		report := *c.cached
		c.mu.RUnlock()
		return &report
	}
	c.mu.RUnlock()

	report := c.collect(ctx)

	c.mu.Lock()
	c.cached = report
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()

	return report
}

func (c *Collector) collect(ctx context.Context) *Report {
	report := &Report{
		Timestamp: time.Now(),
		Process:   c.processHealth(),
	}

	if c.store != nil {
		report.DatabaseOK = c.store.Ping(ctx) == nil
		report.Pool = c.store.GetPoolStats()
	}
	if c.persister != nil {
		report.PendingSamples = c.persister.Depth()
	}
	if c.tracker != nil {
		report.Targets = c.tracker.Snapshot()
	}
	return report
}

func (c *Collector) processHealth() ProcessHealth {
	health := ProcessHealth{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			health.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			health.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
		if memPct, err := proc.MemoryPercent(); err == nil {
			health.MemoryPercent = float64(memPct)
		}
	}

	if health.MemoryPercent > 90 || health.CPUPercent > 90 {
		health.Status = "degraded"
	}
	return health
}
