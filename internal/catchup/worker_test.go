package catchup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rafrcruz/pingflux/internal/testutil"
)

type aggregateCall struct {
	from, to time.Time
}

// fakeAggregator records every Aggregate call and fails while err is set.
type fakeAggregator struct {
	calls []aggregateCall
	err   error
}

func (f *fakeAggregator) Aggregate(_ context.Context, from, to time.Time) error {
	f.calls = append(f.calls, aggregateCall{from: from, to: to})
	return f.err
}

func newTestWorker(engine Aggregator, cfg Config, now time.Time) *Worker {
	w := NewWorker(engine, cfg, testutil.NewTestLogger())
	w.now = func() time.Time { return now }
	return w
}

func TestTick_InitialBackfillBoundedByCatchupMinutes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	agg := &fakeAggregator{}
	w := newTestWorker(agg, Config{CatchupMinutes: 10, Interval: time.Minute, MaxBatchMinutes: 5000}, now)

	w.Tick(context.Background())

	if len(agg.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(agg.calls))
	}
	wantFrom := time.Date(2025, 6, 1, 11, 50, 0, 0, time.UTC)
	wantTo := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(-time.Millisecond)
	if !agg.calls[0].from.Equal(wantFrom) {
		t.Errorf("from = %s, want %s", agg.calls[0].from, wantFrom)
	}
	if !agg.calls[0].to.Equal(wantTo) {
		t.Errorf("to = %s, want %s", agg.calls[0].to, wantTo)
	}
	// The in-progress minute stays pending.
	if got := w.Cursor(); !got.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("cursor = %s, want 12:00", got)
	}
}

func TestTick_BatchesBacklogAcrossTicks(t *testing.T) {
	// 10 minutes behind with a 5-minute batch cap: catching up takes
	// exactly two ticks.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agg := &fakeAggregator{}
	w := newTestWorker(agg, Config{CatchupMinutes: 10, Interval: time.Minute, MaxBatchMinutes: 5}, now)

	w.Tick(context.Background())
	w.Tick(context.Background())

	if len(agg.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(agg.calls))
	}
	if want := now.Add(-10 * time.Minute); !agg.calls[0].from.Equal(want) {
		t.Errorf("first from = %s, want %s", agg.calls[0].from, want)
	}
	if want := now.Add(-5 * time.Minute); !agg.calls[1].from.Equal(want) {
		t.Errorf("second from = %s, want %s", agg.calls[1].from, want)
	}
	if !w.Cursor().Equal(now) {
		t.Fatalf("cursor = %s, want %s", w.Cursor(), now)
	}

	// Caught up: a further tick does nothing until the clock moves.
	w.Tick(context.Background())
	if len(agg.calls) != 2 {
		t.Fatalf("caught-up tick invoked the engine, calls = %d", len(agg.calls))
	}
}

func TestTick_FailureDoesNotAdvanceCursor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agg := &fakeAggregator{err: errors.New("db down")}
	w := newTestWorker(agg, Config{CatchupMinutes: 3, Interval: time.Minute, MaxBatchMinutes: 5000}, now)

	w.Tick(context.Background())
	cursorAfterFailure := w.Cursor()
	if want := now.Add(-3 * time.Minute); !cursorAfterFailure.Equal(want) {
		t.Fatalf("cursor = %s, want unchanged %s", cursorAfterFailure, want)
	}

	// Recovery retries the identical range.
	agg.err = nil
	w.Tick(context.Background())

	if len(agg.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(agg.calls))
	}
	if !agg.calls[1].from.Equal(agg.calls[0].from) || !agg.calls[1].to.Equal(agg.calls[0].to) {
		t.Errorf("retry range %s..%s differs from failed range %s..%s",
			agg.calls[1].from, agg.calls[1].to, agg.calls[0].from, agg.calls[0].to)
	}
	if !w.Cursor().Equal(now) {
		t.Fatalf("cursor = %s, want %s after recovery", w.Cursor(), now)
	}
}

func TestTick_NewMinuteBecomesEligible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agg := &fakeAggregator{}
	w := newTestWorker(agg, Config{CatchupMinutes: 1, Interval: time.Minute, MaxBatchMinutes: 5000}, now)

	w.Tick(context.Background())
	if len(agg.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(agg.calls))
	}

	// Clock advances past the next boundary: exactly one more minute is due.
	w.now = func() time.Time { return now.Add(90 * time.Second) }
	w.Tick(context.Background())

	if len(agg.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(agg.calls))
	}
	if !agg.calls[1].from.Equal(now) {
		t.Errorf("from = %s, want %s", agg.calls[1].from, now)
	}
	if want := now.Add(time.Minute).Add(-time.Millisecond); !agg.calls[1].to.Equal(want) {
		t.Errorf("to = %s, want %s", agg.calls[1].to, want)
	}
}

func TestWorker_StopEndsRunLoop(t *testing.T) {
	agg := &fakeAggregator{}
	w := NewWorker(agg, Config{CatchupMinutes: 0, Interval: time.Hour, MaxBatchMinutes: 1}, testutil.NewTestLogger())

	done := make(chan struct{})
	go func() {
		w.run(context.Background())
		close(done)
	}()

	w.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop")
	}
}
