// Package testutil provides testing utilities and fixtures.
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/rafrcruz/pingflux/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FixtureSample creates a successful test sample with sensible defaults.
// Use overrides to customize specific fields.
func FixtureSample(overrides ...func(*types.Sample)) types.Sample {
	s := types.Sample{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Target:    "192.0.2.1",
		Method:    types.MethodICMP,
		RTTMs:     types.Float64Ptr(12.5),
		Success:   true,
	}
	for _, o := range overrides {
		o(&s)
	}
	return s
}

// FixtureFailure creates a failed test sample.
func FixtureFailure(overrides ...func(*types.Sample)) types.Sample {
	return FixtureSample(append([]func(*types.Sample){func(s *types.Sample) {
		s.Success = false
		s.RTTMs = nil
	}}, overrides...)...)
}
