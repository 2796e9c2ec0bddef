package persist

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rafrcruz/pingflux/internal/testutil"
	"github.com/rafrcruz/pingflux/pkg/types"
)

// fakeWriter captures flushed batches and can be forced to fail. onInsert,
// when set, runs at the start of every write to simulate activity while a
// flush is in flight.
type fakeWriter struct {
	onInsert func()

	mu      sync.Mutex
	batches [][]types.Sample
	err     error
}

func (f *fakeWriter) InsertSamples(_ context.Context, samples []types.Sample) error {
	if f.onInsert != nil {
		f.onInsert()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	batch := make([]types.Sample, len(samples))
	copy(batch, samples)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeWriter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeWriter) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeWriter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func newTestPersister(w SampleWriter, threshold, maxPending int) *Persister {
	return New(w, Config{
		Threshold:     threshold,
		FlushInterval: time.Hour, // timer never fires in tests
		MaxPending:    maxPending,
		Logger:        testutil.NewTestLogger(),
	})
}

func TestPersister_FlushWritesAllBuffered(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPersister(w, 10, 100)

	for i := 0; i < 7; i++ {
		p.Add(testutil.FixtureSample())
	}
	p.Flush(context.Background())

	if w.total() != 7 {
		t.Fatalf("flushed %d samples, want 7", w.total())
	}
	if p.Depth() != 0 {
		t.Fatalf("depth after flush = %d, want 0", p.Depth())
	}
}

func TestPersister_FailureKeepsSamplesBuffered(t *testing.T) {
	w := &fakeWriter{}
	w.setErr(errors.New("db down"))
	p := newTestPersister(w, 10, 100)

	for i := 0; i < 5; i++ {
		p.Add(testutil.FixtureSample())
	}
	p.Flush(context.Background())

	if p.Depth() != 5 {
		t.Fatalf("depth after failed flush = %d, want 5", p.Depth())
	}

	// Storage recovers: next flush drains the same samples.
	w.setErr(nil)
	p.Flush(context.Background())
	if w.total() != 5 {
		t.Fatalf("flushed %d samples after recovery, want 5", w.total())
	}
	if p.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", p.Depth())
	}
}

func TestPersister_BackpressureBoundsBuffer(t *testing.T) {
	w := &fakeWriter{}
	w.setErr(errors.New("db down"))
	p := newTestPersister(w, 10, 500)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 1200; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		p.Add(testutil.FixtureSample(func(s *types.Sample) { s.Timestamp = ts }))
		p.Flush(context.Background()) // always fails, samples accumulate
		if p.Depth() > 500 {
			t.Fatalf("buffer exceeded maxPending: %d", p.Depth())
		}
	}

	if p.Depth() != 500 {
		t.Fatalf("depth = %d, want exactly 500", p.Depth())
	}

	// Oldest were shed first: recovery flushes only the newest 500.
	w.setErr(nil)
	p.Flush(context.Background())
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.batches[0]
	wantOldest := base.Add(700 * time.Second)
	if !batch[0].Timestamp.Equal(wantOldest) {
		t.Fatalf("oldest surviving sample at %s, want %s", batch[0].Timestamp, wantOldest)
	}
}

func TestPersister_MidFlightShedKeepsUnflushedSamples(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPersister(w, 10, 10)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		p.Add(testutil.FixtureSample(func(s *types.Sample) { s.Timestamp = ts }))
	}

	// While the full buffer is being written, three more samples arrive and
	// push the buffer past maxPending, shedding three oldest batch members.
	midFlight := base.Add(time.Minute)
	w.onInsert = func() {
		w.onInsert = nil
		for i := 0; i < 3; i++ {
			ts := midFlight.Add(time.Duration(i) * time.Second)
			p.Add(testutil.FixtureSample(func(s *types.Sample) { s.Timestamp = ts }))
		}
	}
	p.Flush(context.Background())

	// The mid-flight samples were never persisted and must stay buffered.
	if p.Depth() != 3 {
		t.Fatalf("depth after successful flush = %d, want 3", p.Depth())
	}

	p.Flush(context.Background())
	if p.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", p.Depth())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(w.batches))
	}
	second := w.batches[1]
	if len(second) != 3 {
		t.Fatalf("second batch = %d samples, want 3", len(second))
	}
	if !second[0].Timestamp.Equal(midFlight) {
		t.Fatalf("second batch starts at %s, want %s", second[0].Timestamp, midFlight)
	}
}

func TestPersister_SummaryCarriesBatchID(t *testing.T) {
	var logBuf bytes.Buffer
	w := &fakeWriter{}
	p := New(w, Config{
		Threshold:     10,
		FlushInterval: time.Hour,
		MaxPending:    100,
		Logger:        slog.New(slog.NewTextHandler(&logBuf, nil)),
	})

	p.Add(testutil.FixtureSample())
	p.Flush(context.Background())

	if !strings.Contains(logBuf.String(), "last_batch_id=") {
		t.Fatalf("summary log missing batch id: %s", logBuf.String())
	}
}

func TestPersister_ThresholdTriggersAsyncFlush(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPersister(w, 10, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		p.Add(testutil.FixtureSample())
	}

	deadline := time.After(2 * time.Second)
	for w.total() < 10 {
		select {
		case <-deadline:
			t.Fatalf("threshold flush never happened: flushed %d", w.total())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestPersister_FinalFlushOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPersister(w, 100, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		p.Add(testutil.FixtureSample())
	}
	cancel()
	<-done

	if w.total() != 3 {
		t.Fatalf("final flush wrote %d samples, want 3", w.total())
	}
}

func TestPersister_FlushIsAtomicBatch(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPersister(w, 10, 100)

	for i := 0; i < 12; i++ {
		p.Add(testutil.FixtureSample())
	}
	p.Flush(context.Background())

	if w.batchCount() != 1 {
		t.Fatalf("batches = %d, want a single atomic write", w.batchCount())
	}
}
