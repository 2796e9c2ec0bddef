package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pingflux:live:"

// Publisher pushes live snapshots into Redis so the presentation layer can
// read them without talking to this process. Optional: a nil *Publisher is
// a no-op.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(redisURL string, ttl time.Duration, logger *slog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Publisher{
		client: client,
		logger: logger.With("component", "live_publisher"),
		ttl:    ttl,
	}, nil
}

// Publish stores one target's snapshot as a TTL'd JSON key.
func (p *Publisher) Publish(ctx context.Context, snap Snapshot) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return p.client.Set(ctx, keyPrefix+snap.Target, data, p.ttl).Err()
}

// PublishAll publishes a snapshot for every target in the cache. Individual
// failures are logged at debug level; publishing is best-effort.
func (p *Publisher) PublishAll(ctx context.Context, cache *Cache, now time.Time) {
	if p == nil {
		return
	}
	for _, target := range cache.Targets() {
		snap, ok := cache.Snapshot(target, now)
		if !ok {
			continue
		}
		if err := p.Publish(ctx, snap); err != nil {
			p.logger.Debug("snapshot publish failed", "target", target, "error", err)
		}
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
