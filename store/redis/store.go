// Package redis implements store.Store on Redis for high-throughput
// ephemeral deployments. Records are JSON blobs; queue, lease, and
// expiry scans run over sorted sets scored by the relevant timestamp;
// compare-and-swap uses WATCH-based optimistic transactions, so a lost
// race surfaces as ErrConflict exactly like the other backends.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/lro/idempotency"
	"github.com/xraph/lro/op"
)

// Compile-time interface checks.
var (
	_ op.Store          = (*Store)(nil)
	_ idempotency.Index = (*Store)(nil)
)

// reserveAttempts bounds the optimistic retry loop in ReserveOrGet.
const reserveAttempts = 3

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

func encodeOp(o *op.Operation) ([]byte, error) {
	data, err := sonic.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("lro/redis: encode operation: %w", err)
	}
	return data, nil
}

func decodeOp(raw []byte) (*op.Operation, error) {
	var o op.Operation
	if err := sonic.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("lro/redis: decode operation: %w", err)
	}
	return &o, nil
}
