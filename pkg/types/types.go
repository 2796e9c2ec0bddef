// Package types defines the shared data model for PingFlux.
//
// Everything that crosses a component boundary lives here: raw probe
// samples, per-target runtime state snapshots, aggregated window entries,
// and the severity/threshold vocabulary used by the aggregation engine.
package types

import (
	"fmt"
	"math"
	"time"
)

// =============================================================================
// PROBE METHODS
// =============================================================================

// Method identifies how a target was (or should be) probed.
type Method string

const (
	MethodICMP Method = "icmp"
	MethodTCP  Method = "tcp"
)

// Preference controls probe method selection for a target.
// PreferenceAuto enables the ICMP->TCP fallback state machine; forcing a
// method pins the mode and disables transitions.
type Preference string

const (
	PreferenceAuto Preference = "auto"
	PreferenceICMP Preference = "icmp"
	PreferenceTCP  Preference = "tcp"
)

// Valid reports whether p is a known preference value.
func (p Preference) Valid() bool {
	switch p {
	case PreferenceAuto, PreferenceICMP, PreferenceTCP:
		return true
	}
	return false
}

// =============================================================================
// SAMPLES
// =============================================================================

// Sample is one probe result. Immutable once created: owned by the batched
// persister until flushed, then by the database.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Method    Method    `json:"method"`
	RTTMs     *float64  `json:"rtt_ms,omitempty"` // nil on failure, >0 when present
	Success   bool      `json:"success"`
}

// TargetRuntime is a read-only snapshot of a target's tracker state,
// exposed for the presentation layer.
type TargetRuntime struct {
	Target               string     `json:"target"`
	Mode                 Method     `json:"mode"`
	Preference           Preference `json:"preference"`
	ICMPFailureStreak    int        `json:"icmp_failure_streak"`
	TCPSuccessStreak     int        `json:"tcp_success_streak"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	LastSampleAt         time.Time  `json:"last_sample_at"`
	LastSuccessAt        time.Time  `json:"last_success_at"`
}

// =============================================================================
// RESOLUTIONS
// =============================================================================

// Resolution is a fixed aggregation window size in minutes.
type Resolution int

const (
	Resolution1m  Resolution = 1
	Resolution5m  Resolution = 5
	Resolution15m Resolution = 15
	Resolution60m Resolution = 60
)

// Resolutions returns all window resolutions, smallest first.
func Resolutions() []Resolution {
	return []Resolution{Resolution1m, Resolution5m, Resolution15m, Resolution60m}
}

// Duration returns the window length.
func (r Resolution) Duration() time.Duration {
	return time.Duration(r) * time.Minute
}

// Label returns the short form used in logs and storage ("1m", "60m").
func (r Resolution) Label() string {
	return fmt.Sprintf("%dm", int(r))
}

// MinSamples is the minimum-sample floor for this resolution at the given
// probe interval: ceil(window / interval), clamped to at least 1. Windows
// below the floor are reported as insufficient instead of producing
// misleading statistics.
func (r Resolution) MinSamples(probeInterval time.Duration) int {
	if probeInterval <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(r.Duration()) / float64(probeInterval)))
	if n < 1 {
		n = 1
	}
	return n
}

// =============================================================================
// STATUS SEVERITY
// =============================================================================

// Status is the severity classification of an aggregated window.
type Status string

const (
	StatusInsufficient Status = "insufficient"
	StatusOK           Status = "ok"
	StatusWarn         Status = "warn"
	StatusCritical     Status = "critical"
)

// rank orders severities: insufficient < ok < warn < critical.
func (s Status) rank() int {
	switch s {
	case StatusOK:
		return 1
	case StatusWarn:
		return 2
	case StatusCritical:
		return 3
	default:
		return 0
	}
}

// MaxStatus returns the higher-ranked of two severities.
func MaxStatus(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// ThresholdPair holds warn/critical cutoffs for a metric. Values at or above
// Crit are critical, at or above Warn are warn.
type ThresholdPair struct {
	Warn float64 `json:"warn" yaml:"warn"`
	Crit float64 `json:"crit" yaml:"crit"`
}

// DeriveThresholds builds a pair from a single alert value: the critical
// cutoff is the value itself and warn is 75% of it.
func DeriveThresholds(crit float64) ThresholdPair {
	return ThresholdPair{Warn: crit * 0.75, Crit: crit}
}

// Evaluate classifies a metric value against the pair.
func (t ThresholdPair) Evaluate(value float64) Status {
	switch {
	case t.Crit > 0 && value >= t.Crit:
		return StatusCritical
	case t.Warn > 0 && value >= t.Warn:
		return StatusWarn
	default:
		return StatusOK
	}
}

// =============================================================================
// WINDOW ENTRIES
// =============================================================================

// WindowEntry is one aggregated row per (resolution, minute, target).
// Derived metrics are nil whenever Status is insufficient. Recomputing the
// same key from the same raw samples yields an identical row.
type WindowEntry struct {
	Resolution      Resolution `json:"resolution"`
	BucketTime      time.Time  `json:"bucket_time"` // minute floor of the window's last minute
	Target          string     `json:"target"`
	Sent            int        `json:"sent"`
	Received        int        `json:"received"`
	LossPct         *float64   `json:"loss_pct"`
	AvgMs           *float64   `json:"avg_ms"`
	P50Ms           *float64   `json:"p50_ms"`
	P95Ms           *float64   `json:"p95_ms"`
	StdevMs         *float64   `json:"stdev_ms"`
	AvailabilityPct *float64   `json:"availability_pct"`
	Status          Status     `json:"status"`
}

// Float64Ptr is a convenience for building nullable metrics.
func Float64Ptr(v float64) *float64 { return &v }
