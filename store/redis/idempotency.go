package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/lro"
	"github.com/xraph/lro/id"
	"github.com/xraph/lro/idempotency"
	"github.com/xraph/lro/op"
)

// ReserveOrGet atomically resolves an idempotency key: return the live
// operation it maps to, or create a fresh one and bind the key to it.
// A key left pointing at a reaped record is reclaimed. WATCH on the key
// makes the check-then-bind atomic; concurrent duplicate submissions
// retry and converge on whichever record won.
func (s *Store) ReserveOrGet(ctx context.Context, key string, create idempotency.Factory) (*op.Operation, bool, error) {
	kk := idemKey(key)

	var (
		result  *op.Operation
		created bool
	)

	txf := func(tx *goredis.Tx) error {
		result, created = nil, false

		mapped, err := tx.Get(ctx, kk).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("lro/redis: reserve read key: %w", err)
		}
		if err == nil {
			raw, getErr := tx.Get(ctx, opKey(mapped)).Bytes()
			if getErr == nil {
				existing, decErr := decodeOp(raw)
				if decErr != nil {
					return decErr
				}
				result = existing
				return nil
			}
			if !errors.Is(getErr, goredis.Nil) {
				return fmt.Errorf("lro/redis: reserve read operation: %w", getErr)
			}
			// Key points at a reaped record: free for reuse.
		}

		o, err := create()
		if err != nil {
			return err
		}
		data, err := encodeOp(o)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, opKey(o.ID.String()), data, 0)
			s.indexAdd(ctx, pipe, o)
			pipe.Set(ctx, kk, o.ID.String(), 0)
			return nil
		})
		if err != nil {
			return err
		}
		result, created = o, true
		return nil
	}

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, kk)
		if errors.Is(err, goredis.TxFailedErr) {
			// A concurrent submission bound the key first; re-read.
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return result, created, nil
	}
	return nil, false, lro.ErrConflict
}

// ReleaseKey removes the key mapping if it still points at opID.
func (s *Store) ReleaseKey(ctx context.Context, key string, opID id.OpID) error {
	if key == "" {
		return nil
	}
	kk := idemKey(key)

	txf := func(tx *goredis.Tx) error {
		mapped, err := tx.Get(ctx, kk).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lro/redis: release read key: %w", err)
		}
		if mapped != opID.String() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, kk)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, kk)
	if errors.Is(err, goredis.TxFailedErr) {
		// Remapped concurrently; nothing left to release.
		return nil
	}
	return err
}
