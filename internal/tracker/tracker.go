// Package tracker maintains per-target probe method selection.
//
// Each target carries a small state machine choosing between ICMP and TCP
// probing. Switching requires a streak rather than a single event
// (Schmitt-trigger hysteresis), so isolated packet loss does not cause the
// method to flap:
//
//	ICMP -> TCP  after fallbackAfterFails consecutive ICMP failures
//	TCP -> ICMP  after recoveryAfterOks consecutive TCP successes
//
// Transitions only happen for targets with the auto preference; a forced
// preference pins the mode permanently.
package tracker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rafrcruz/pingflux/pkg/types"
)

// state is the mutable per-target record. Mutated only through Observe.
type state struct {
	mode                 types.Method
	preference           types.Preference
	icmpFailureStreak    int
	tcpSuccessStreak     int
	consecutiveFailures  int
	consecutiveSuccesses int
	lastSampleAt         time.Time
	lastSuccessAt        time.Time
}

// Registry owns all target states. Created by the scheduler at construction;
// targets are registered lazily on first probe.
type Registry struct {
	fallbackAfterFails int
	recoveryAfterOks   int
	logger             *slog.Logger

	mu     sync.RWMutex
	states map[string]*state
}

// NewRegistry creates a registry with the given hysteresis thresholds.
func NewRegistry(fallbackAfterFails, recoveryAfterOks int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		fallbackAfterFails: fallbackAfterFails,
		recoveryAfterOks:   recoveryAfterOks,
		logger:             logger.With("component", "tracker"),
		states:             make(map[string]*state),
	}
}

// Method returns the probe method to use for the next measurement of target,
// creating the target's state on first use. A forced preference always wins.
func (r *Registry) Method(target string, preference types.Preference) types.Method {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.ensure(target, preference)
	return st.mode
}

// ensure returns the state for target, creating it if needed.
// Caller must hold r.mu.
func (r *Registry) ensure(target string, preference types.Preference) *state {
	st, ok := r.states[target]
	if !ok {
		mode := types.MethodICMP
		if preference == types.PreferenceTCP {
			mode = types.MethodTCP
		}
		st = &state{mode: mode, preference: preference}
		r.states[target] = st
	}
	return st
}

// Observe records one probe outcome and applies the streak and transition
// rules. The reset rules are asymmetric on purpose:
//
//   - a success under the current method clears that method's failure streak
//     and extends its success streak;
//   - a failure clears the *other* method's streak, so a stale streak never
//     carries over across a method switch.
func (r *Registry) Observe(target string, method types.Method, success bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[target]
	if !ok {
		return
	}

	st.lastSampleAt = at
	if success {
		st.consecutiveSuccesses++
		st.consecutiveFailures = 0
		st.lastSuccessAt = at
	} else {
		st.consecutiveFailures++
		st.consecutiveSuccesses = 0
	}

	switch method {
	case types.MethodICMP:
		if success {
			st.icmpFailureStreak = 0
		} else {
			st.icmpFailureStreak++
			st.tcpSuccessStreak = 0
		}
	case types.MethodTCP:
		if success {
			st.tcpSuccessStreak++
		} else {
			st.tcpSuccessStreak = 0
			st.icmpFailureStreak = 0
		}
	}

	if st.preference != types.PreferenceAuto {
		return
	}

	switch {
	case st.mode == types.MethodICMP && st.icmpFailureStreak >= r.fallbackAfterFails:
		st.mode = types.MethodTCP
		st.tcpSuccessStreak = 0
		r.logger.Info("probe method fallback",
			"target", target,
			"from", types.MethodICMP,
			"to", types.MethodTCP,
			"icmp_failure_streak", st.icmpFailureStreak)

	case st.mode == types.MethodTCP && st.tcpSuccessStreak >= r.recoveryAfterOks:
		st.mode = types.MethodICMP
		st.icmpFailureStreak = 0
		r.logger.Info("probe method recovery",
			"target", target,
			"from", types.MethodTCP,
			"to", types.MethodICMP,
			"tcp_success_streak", st.tcpSuccessStreak)
	}
}

// Snapshot returns the runtime state of every tracked target.
func (r *Registry) Snapshot() []types.TargetRuntime {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.TargetRuntime, 0, len(r.states))
	for target, st := range r.states {
		out = append(out, types.TargetRuntime{
			Target:               target,
			Mode:                 st.mode,
			Preference:           st.preference,
			ICMPFailureStreak:    st.icmpFailureStreak,
			TCPSuccessStreak:     st.tcpSuccessStreak,
			ConsecutiveFailures:  st.consecutiveFailures,
			ConsecutiveSuccesses: st.consecutiveSuccesses,
			LastSampleAt:         st.lastSampleAt,
			LastSuccessAt:        st.lastSuccessAt,
		})
	}
	return out
}
