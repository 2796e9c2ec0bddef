// Package live serves sub-second reads over the most recent samples.
//
// Each target gets a fixed-capacity ring buffer holding enough samples to
// cover the longest live window at the configured probe interval. Snapshots
// compute the same loss and percentile statistics as the persisted rollups,
// but over in-memory samples: less statistical smoothing, zero query
// latency, and no store round trip. The cache is rebuilt from scratch on
// process restart.
package live

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rafrcruz/pingflux/internal/aggregate"
	"github.com/rafrcruz/pingflux/pkg/types"
)

// entry is one in-memory sample point.
type entry struct {
	ts      time.Time
	success bool
	rttMs   float64
	hasRTT  bool
}

// ring is a fixed-capacity circular buffer, oldest at head.
type ring struct {
	entries []entry
	head    int
	size    int
}

func newRing(capacity int) *ring {
	return &ring{entries: make([]entry, capacity)}
}

func (r *ring) append(e entry) {
	if r.size < len(r.entries) {
		r.entries[(r.head+r.size)%len(r.entries)] = e
		r.size++
		return
	}
	// Full: overwrite the oldest.
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
}

// pruneBefore drops entries older than cutoff.
func (r *ring) pruneBefore(cutoff time.Time) {
	for r.size > 0 && r.entries[r.head].ts.Before(cutoff) {
		r.head = (r.head + 1) % len(r.entries)
		r.size--
	}
}

// each visits entries oldest-first.
func (r *ring) each(fn func(entry)) {
	for i := 0; i < r.size; i++ {
		fn(r.entries[(r.head+i)%len(r.entries)])
	}
}

// WindowStats is the live statistic set for one window.
type WindowStats struct {
	Window          time.Duration `json:"-"`
	Label           string        `json:"window"`
	Count           int           `json:"count"`
	LossPct         float64       `json:"loss_pct"`
	AvailabilityPct float64       `json:"availability_pct"`
	AvgMs           *float64      `json:"avg_ms"`
	P50Ms           *float64      `json:"p50_ms"`
	P95Ms           *float64      `json:"p95_ms"`
}

// Snapshot is a point-in-time live view of one target.
type Snapshot struct {
	Target  string        `json:"target"`
	TakenAt time.Time     `json:"taken_at"`
	Windows []WindowStats `json:"windows"`
}

// Cache holds per-target ring buffers. Owned by the scheduler and injected
// at construction; never touches the persistent store.
type Cache struct {
	capacity int
	windows  []time.Duration
	maxAge   time.Duration

	mu      sync.RWMutex
	buffers map[string]*ring
}

// Capacity sizes a ring to cover the longest live window at the probe
// interval, with margin, never below maxPoints.
func Capacity(maxPoints int, longestWindow, interval time.Duration, margin int) int {
	if interval <= 0 {
		return maxPoints
	}
	need := int(math.Ceil(float64(longestWindow)/float64(interval))) + margin
	if need > maxPoints {
		return need
	}
	return maxPoints
}

// NewCache creates a cache with the given per-target capacity and live
// windows (ascending).
func NewCache(capacity int, windows []time.Duration) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	if len(windows) == 0 {
		for _, r := range types.Resolutions() {
			windows = append(windows, r.Duration())
		}
	}
	maxAge := windows[0]
	for _, w := range windows {
		if w > maxAge {
			maxAge = w
		}
	}
	return &Cache{
		capacity: capacity,
		windows:  windows,
		maxAge:   maxAge,
		buffers:  make(map[string]*ring),
	}
}

// Record appends one sample to its target's ring, pruning entries older
// than the longest window.
func (c *Cache) Record(s types.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.buffers[s.Target]
	if !ok {
		r = newRing(c.capacity)
		c.buffers[s.Target] = r
	}

	e := entry{ts: s.Timestamp, success: s.Success}
	if s.RTTMs != nil {
		e.rttMs = *s.RTTMs
		e.hasRTT = true
	}
	r.append(e)
	r.pruneBefore(s.Timestamp.Add(-c.maxAge))
}

// Targets returns all targets with live data.
func (c *Cache) Targets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.buffers))
	for t := range c.buffers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Snapshot computes live statistics for every configured window, directly
// from buffer contents. Returns ok=false for an unknown target.
func (c *Cache) Snapshot(target string, now time.Time) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.buffers[target]
	if !ok {
		return Snapshot{}, false
	}
	r.pruneBefore(now.Add(-c.maxAge))

	snap := Snapshot{Target: target, TakenAt: now, Windows: make([]WindowStats, 0, len(c.windows))}
	for _, w := range c.windows {
		snap.Windows = append(snap.Windows, windowStats(r, w, now))
	}
	return snap, true
}

func windowStats(r *ring, window time.Duration, now time.Time) WindowStats {
	stats := WindowStats{Window: window, Label: windowLabel(window)}
	cutoff := now.Add(-window)

	var latencies []float64
	received := 0
	r.each(func(e entry) {
		if e.ts.Before(cutoff) || e.ts.After(now) {
			return
		}
		stats.Count++
		if e.success {
			received++
			if e.hasRTT {
				latencies = append(latencies, e.rttMs)
			}
		}
	})

	if stats.Count == 0 {
		return stats
	}

	stats.LossPct = float64(stats.Count-received) / float64(stats.Count) * 100
	stats.AvailabilityPct = 100 - stats.LossPct

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		stats.AvgMs = types.Float64Ptr(aggregate.Mean(latencies))
		stats.P50Ms = types.Float64Ptr(aggregate.Percentile(latencies, 0.50))
		stats.P95Ms = types.Float64Ptr(aggregate.Percentile(latencies, 0.95))
	}
	return stats
}

func windowLabel(w time.Duration) string {
	minutes := int(w / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return types.Resolution(minutes).Label()
}
