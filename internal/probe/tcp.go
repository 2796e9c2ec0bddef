package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/rafrcruz/pingflux/pkg/types"
)

// TCPExecutor measures reachability as TCP connect latency against a fixed
// fallback port. The connection is torn down immediately after measurement.
type TCPExecutor struct {
	Port    int
	Timeout time.Duration

	dialer net.Dialer
}

// NewTCPExecutor creates a TCP executor for the given port and probe timeout.
func NewTCPExecutor(port int, timeout time.Duration) *TCPExecutor {
	return &TCPExecutor{Port: port, Timeout: timeout}
}

// Method returns the probe method identifier.
func (e *TCPExecutor) Method() types.Method {
	return types.MethodTCP
}

// Probe opens a TCP connection and reports the wall-clock connect latency.
func (e *TCPExecutor) Probe(ctx context.Context, target string) Result {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	addr := net.JoinHostPort(target, strconv.Itoa(e.Port))

	start := time.Now()
	conn, err := e.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return failure()
	}
	elapsed := time.Since(start)
	conn.Close()

	return success(float64(elapsed) / float64(time.Millisecond))
}
