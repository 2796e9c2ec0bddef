package live

import (
	"testing"
	"time"

	"github.com/rafrcruz/pingflux/internal/testutil"
	"github.com/rafrcruz/pingflux/pkg/types"
)

func recordSeries(c *Cache, target string, start time.Time, n int, step time.Duration, rtt float64, failAt map[int]bool) {
	for i := 0; i < n; i++ {
		s := testutil.FixtureSample(func(s *types.Sample) {
			s.Target = target
			s.Timestamp = start.Add(time.Duration(i) * step)
			s.RTTMs = types.Float64Ptr(rtt)
		})
		if failAt[i] {
			s.Success = false
			s.RTTMs = nil
		}
		c.Record(s)
	}
}

func TestSnapshot_WindowStats(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(100, []time.Duration{time.Minute, 5 * time.Minute})

	// 10 samples over 45s, 1 failure.
	recordSeries(c, "8.8.8.8", start, 10, 5*time.Second, 12, map[int]bool{3: true})

	now := start.Add(50 * time.Second)
	snap, ok := c.Snapshot("8.8.8.8", now)
	if !ok {
		t.Fatal("snapshot missing for recorded target")
	}
	if snap.Target != "8.8.8.8" || !snap.TakenAt.Equal(now) {
		t.Fatalf("snapshot header = %q at %s", snap.Target, snap.TakenAt)
	}
	if len(snap.Windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(snap.Windows))
	}

	oneMin := snap.Windows[0]
	if oneMin.Label != "1m" {
		t.Errorf("label = %q, want 1m", oneMin.Label)
	}
	if oneMin.Count != 10 {
		t.Fatalf("count = %d, want 10", oneMin.Count)
	}
	if oneMin.LossPct != 10 {
		t.Errorf("lossPct = %v, want 10", oneMin.LossPct)
	}
	if oneMin.AvailabilityPct != 90 {
		t.Errorf("availability = %v, want 90", oneMin.AvailabilityPct)
	}
	if oneMin.AvgMs == nil || *oneMin.AvgMs != 12 {
		t.Errorf("avgMs = %v, want 12", oneMin.AvgMs)
	}
	if oneMin.P95Ms == nil || *oneMin.P95Ms != 12 {
		t.Errorf("p95Ms = %v, want 12", oneMin.P95Ms)
	}
}

func TestSnapshot_WindowExcludesOlderSamples(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(100, []time.Duration{time.Minute, 5 * time.Minute})

	// Two samples: one 3 minutes old, one 10 seconds old.
	recordSeries(c, "host-a", start, 1, 0, 50, nil)
	recordSeries(c, "host-a", start.Add(3*time.Minute-10*time.Second), 1, 0, 10, nil)

	snap, ok := c.Snapshot("host-a", start.Add(3*time.Minute))
	if !ok {
		t.Fatal("snapshot missing")
	}

	if got := snap.Windows[0].Count; got != 1 {
		t.Errorf("1m count = %d, want 1 (older sample excluded)", got)
	}
	if got := snap.Windows[1].Count; got != 2 {
		t.Errorf("5m count = %d, want 2", got)
	}
	if avg := snap.Windows[0].AvgMs; avg == nil || *avg != 10 {
		t.Errorf("1m avg = %v, want 10", avg)
	}
}

func TestSnapshot_AgePruning(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(100, []time.Duration{time.Minute})

	recordSeries(c, "host-a", start, 5, time.Second, 8, nil)

	// Everything is older than the longest window by now.
	snap, ok := c.Snapshot("host-a", start.Add(10*time.Minute))
	if !ok {
		t.Fatal("snapshot should report the target even when its buffer drained")
	}
	if got := snap.Windows[0].Count; got != 0 {
		t.Fatalf("count = %d, want 0 after pruning", got)
	}
	if snap.Windows[0].AvgMs != nil {
		t.Errorf("avgMs = %v, want nil with no samples", *snap.Windows[0].AvgMs)
	}
}

func TestRecord_RingOverwritesOldestAtCapacity(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(3, []time.Duration{time.Minute})

	// 5 samples a second apart into a 3-slot ring: only the last 3 survive.
	recordSeries(c, "host-a", start, 5, time.Second, 7, nil)

	snap, _ := c.Snapshot("host-a", start.Add(5*time.Second))
	if got := snap.Windows[0].Count; got != 3 {
		t.Fatalf("count = %d, want capacity 3", got)
	}
}

func TestSnapshot_UnknownTarget(t *testing.T) {
	c := NewCache(10, nil)
	if _, ok := c.Snapshot("nope", time.Now()); ok {
		t.Fatal("expected ok=false for unknown target")
	}
}

func TestTargets_SortedAndComplete(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(10, nil)
	recordSeries(c, "zeta.example", start, 1, 0, 1, nil)
	recordSeries(c, "alpha.example", start, 1, 0, 1, nil)

	got := c.Targets()
	if len(got) != 2 || got[0] != "alpha.example" || got[1] != "zeta.example" {
		t.Fatalf("targets = %v", got)
	}
}

func TestCapacity(t *testing.T) {
	tests := []struct {
		name      string
		maxPoints int
		longest   time.Duration
		interval  time.Duration
		margin    int
		want      int
	}{
		{name: "window dominates", maxPoints: 100, longest: time.Hour, interval: 5 * time.Second, margin: 16, want: 736},
		{name: "floor dominates", maxPoints: 900, longest: time.Minute, interval: time.Second, margin: 16, want: 900},
		{name: "zero interval falls back", maxPoints: 50, longest: time.Hour, interval: 0, margin: 16, want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Capacity(tt.maxPoints, tt.longest, tt.interval, tt.margin); got != tt.want {
				t.Fatalf("Capacity = %d, want %d", got, tt.want)
			}
		})
	}
}
