// Package store provides database access for PingFlux.
//
// # Design
//
// The store uses raw SQL with pgx for maximum performance with
// TimescaleDB-style time series tables. Bulk writes go through COPY; rollup
// upserts go through a staging temp table so the whole batch lands in one
// transaction and re-aggregation stays idempotent.
//
// The schema is owned by db/migrate; the store assumes the samples and
// window_rollups tables exist.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafrcruz/pingflux/pkg/types"
)

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store with the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewFromURL creates a store by connecting to the given database URL.
func NewFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for schema migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping tests database connectivity (the liveness probe).
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// PoolStats describes connection pool pressure for the health collector.
type PoolStats struct {
	TotalConnections    int32 `json:"total_connections"`
	IdleConnections     int32 `json:"idle_connections"`
	AcquiredConnections int32 `json:"acquired_connections"`
	MaxConnections      int32 `json:"max_connections"`
}

// GetPoolStats returns current connection pool statistics.
func (s *Store) GetPoolStats() PoolStats {
	st := s.pool.Stat()
	return PoolStats{
		TotalConnections:    st.TotalConns(),
		IdleConnections:     st.IdleConns(),
		AcquiredConnections: st.AcquiredConns(),
		MaxConnections:      st.MaxConns(),
	}
}

// =============================================================================
// SAMPLES
// =============================================================================

// InsertSamples writes all samples in one transaction via COPY.
// All-or-nothing: a failure leaves no partial batch behind.
func (s *Store) InsertSamples(ctx context.Context, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning sample insert: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, len(samples))
	for i, smp := range samples {
		rows[i] = []any{smp.Timestamp, smp.Target, string(smp.Method), smp.RTTMs, smp.Success}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"samples"},
		[]string{"ts", "target", "method", "rtt_ms", "success"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copying samples: %w", err)
	}

	return tx.Commit(ctx)
}

// QueryRawSamples returns samples in [from, to], ordered by timestamp.
// An empty target matches all targets.
func (s *Store) QueryRawSamples(ctx context.Context, target string, from, to time.Time) ([]types.Sample, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: to %s before from %s", to, from)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ts, target, method, rtt_ms, success
		FROM samples
		WHERE ($1 = '' OR target = $1)
		  AND ts >= $2 AND ts <= $3
		ORDER BY ts
	`, target, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var samples []types.Sample
	for rows.Next() {
		var smp types.Sample
		var method string
		if err := rows.Scan(&smp.Timestamp, &smp.Target, &method, &smp.RTTMs, &smp.Success); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		smp.Method = types.Method(method)
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// =============================================================================
// WINDOW ROLLUPS
// =============================================================================

// UpsertWindowEntries writes one resolution's entries in a single atomic
// batch, idempotent on (resolution, bucket_ts, target). COPY into a staging
// temp table, then INSERT ... ON CONFLICT DO UPDATE, so re-aggregating the
// same range simply overwrites identical rows.
func (s *Store) UpsertWindowEntries(ctx context.Context, resolution types.Resolution, entries []types.WindowEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning rollup upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		CREATE TEMP TABLE window_rollups_staging (
			resolution TEXT NOT NULL,
			bucket_ts TIMESTAMPTZ NOT NULL,
			target TEXT NOT NULL,
			sent INTEGER NOT NULL,
			received INTEGER NOT NULL,
			loss_pct DOUBLE PRECISION,
			avg_ms DOUBLE PRECISION,
			p50_ms DOUBLE PRECISION,
			p95_ms DOUBLE PRECISION,
			stdev_ms DOUBLE PRECISION,
			availability_pct DOUBLE PRECISION,
			status TEXT NOT NULL
		) ON COMMIT DROP
	`)
	if err != nil {
		return fmt.Errorf("creating staging table: %w", err)
	}

	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{
			resolution.Label(), e.BucketTime, e.Target, e.Sent, e.Received,
			e.LossPct, e.AvgMs, e.P50Ms, e.P95Ms, e.StdevMs, e.AvailabilityPct,
			string(e.Status),
		}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"window_rollups_staging"},
		[]string{"resolution", "bucket_ts", "target", "sent", "received",
			"loss_pct", "avg_ms", "p50_ms", "p95_ms", "stdev_ms", "availability_pct", "status"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copying rollups: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO window_rollups (resolution, bucket_ts, target, sent, received,
		                            loss_pct, avg_ms, p50_ms, p95_ms, stdev_ms, availability_pct, status)
		SELECT resolution, bucket_ts, target, sent, received,
		       loss_pct, avg_ms, p50_ms, p95_ms, stdev_ms, availability_pct, status
		FROM window_rollups_staging
		ON CONFLICT (resolution, bucket_ts, target) DO UPDATE SET
			sent = EXCLUDED.sent,
			received = EXCLUDED.received,
			loss_pct = EXCLUDED.loss_pct,
			avg_ms = EXCLUDED.avg_ms,
			p50_ms = EXCLUDED.p50_ms,
			p95_ms = EXCLUDED.p95_ms,
			stdev_ms = EXCLUDED.stdev_ms,
			availability_pct = EXCLUDED.availability_pct,
			status = EXCLUDED.status
	`)
	if err != nil {
		return fmt.Errorf("upserting rollups: %w", err)
	}

	return tx.Commit(ctx)
}

// QueryWindowEntries returns one resolution's rollups for a target in
// [from, to], ordered by bucket time. Consumed by the presentation layer.
func (s *Store) QueryWindowEntries(ctx context.Context, resolution types.Resolution, target string, from, to time.Time) ([]types.WindowEntry, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: to %s before from %s", to, from)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT bucket_ts, target, sent, received,
		       loss_pct, avg_ms, p50_ms, p95_ms, stdev_ms, availability_pct, status
		FROM window_rollups
		WHERE resolution = $1
		  AND ($2 = '' OR target = $2)
		  AND bucket_ts >= $3 AND bucket_ts <= $4
		ORDER BY bucket_ts
	`, resolution.Label(), target, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying rollups: %w", err)
	}
	defer rows.Close()

	var entries []types.WindowEntry
	for rows.Next() {
		e := types.WindowEntry{Resolution: resolution}
		var status string
		if err := rows.Scan(&e.BucketTime, &e.Target, &e.Sent, &e.Received,
			&e.LossPct, &e.AvgMs, &e.P50Ms, &e.P95Ms, &e.StdevMs, &e.AvailabilityPct, &status); err != nil {
			return nil, fmt.Errorf("scanning rollup: %w", err)
		}
		e.Status = types.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
