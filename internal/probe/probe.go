// Package probe implements the reachability executors.
//
// Each executor performs exactly one measurement per call, bounded by the
// configured timeout, and resolves with success=false on cancellation
// rather than returning an error: a failed measurement is data, not a
// fault.
package probe

import (
	"context"

	"github.com/rafrcruz/pingflux/pkg/types"
)

// Result is the outcome of one probe invocation.
type Result struct {
	Success bool
	RTTMs   *float64 // nil when the probe failed or RTT is unknown
}

// Executor performs one measurement against one target. Implementations are
// stateless per call and must never outlive ctx past a small teardown margin.
type Executor interface {
	Method() types.Method
	Probe(ctx context.Context, target string) Result
}

func failure() Result {
	return Result{Success: false}
}

func success(rttMs float64) Result {
	return Result{Success: true, RTTMs: &rttMs}
}
