// ICMP probing via the platform echo utility.
//
// The executor shells out to ping once per probe instead of opening raw
// sockets, so it works without elevated privileges. Echo-reply output
// varies by platform, so RTT extraction goes through a data-driven dialect
// table rather than GOOS branching at the parse site:
//
//	64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=12.3 ms   (Linux/macOS)
//	Reply from 8.8.8.8: bytes=32 time<1ms TTL=117            (Windows)
//	round-trip min/avg/max = 11.9/12.3/12.8 ms               (BusyBox summary)
package probe

import (
	"context"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/rafrcruz/pingflux/pkg/types"
)

// dialect matches one echo-reply output format. Pattern group 1 must capture
// the RTT in milliseconds.
type dialect struct {
	name    string
	pattern *regexp.Regexp
}

// rttDialects is tried in order; first match wins.
var rttDialects = []dialect{
	{name: "iputils", pattern: regexp.MustCompile(`time[=<]([0-9]+(?:\.[0-9]+)?)\s*ms`)},
	{name: "busybox", pattern: regexp.MustCompile(`round-trip min/avg/max = [0-9.]+/([0-9.]+)/[0-9.]+ ms`)},
}

// parseEchoRTT extracts the round-trip time in milliseconds from echo
// utility output. Returns false when no dialect matches.
func parseEchoRTT(output []byte) (float64, bool) {
	for _, d := range rttDialects {
		m := d.pattern.FindSubmatch(output)
		if len(m) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(string(m[1]), 64)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// ICMPExecutor probes targets with a single echo request.
type ICMPExecutor struct {
	// PingPath is the path to the ping binary. Default: "ping".
	PingPath string

	// Timeout bounds one probe invocation.
	Timeout time.Duration
}

// NewICMPExecutor creates an ICMP executor with the given probe timeout.
func NewICMPExecutor(timeout time.Duration) *ICMPExecutor {
	return &ICMPExecutor{PingPath: "ping", Timeout: timeout}
}

// Method returns the probe method identifier.
func (e *ICMPExecutor) Method() types.Method {
	return types.MethodICMP
}

// Probe sends one echo request and parses the RTT from the utility output.
// Nonzero exit status, parse failure, timeout, and cancellation all resolve
// as success=false.
func (e *ICMPExecutor) Probe(ctx context.Context, target string) Result {
	// Small margin over the ping-level deadline so the utility reports the
	// timeout itself before the process is killed.
	ctx, cancel := context.WithTimeout(ctx, e.Timeout+500*time.Millisecond)
	defer cancel()

	path := e.PingPath
	if path == "" {
		path = "ping"
	}

	cmd := exec.CommandContext(ctx, path, pingArgs(target, e.Timeout)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return failure()
	}

	rtt, ok := parseEchoRTT(output)
	if !ok {
		return failure()
	}
	return success(rtt)
}

// pingArgs builds the single-echo invocation for the current platform.
// Deadline flags are not portable: -W takes milliseconds on darwin and
// seconds elsewhere.
func pingArgs(target string, timeout time.Duration) []string {
	switch runtime.GOOS {
	case "darwin":
		ms := int(timeout.Milliseconds())
		if ms < 100 {
			ms = 100
		}
		return []string{"-n", "-c", "1", "-W", strconv.Itoa(ms), target}
	case "windows":
		ms := int(timeout.Milliseconds())
		if ms < 100 {
			ms = 100
		}
		return []string{"-n", "1", "-w", strconv.Itoa(ms), target}
	default:
		sec := int((timeout + 500*time.Millisecond).Seconds())
		if sec < 1 {
			sec = 1
		}
		return []string{"-n", "-c", "1", "-W", strconv.Itoa(sec), target}
	}
}
