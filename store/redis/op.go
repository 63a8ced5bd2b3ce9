package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/lro"
	"github.com/xraph/lro/id"
	"github.com/xraph/lro/op"
)

func msScore(t time.Time) float64 { return float64(t.UnixMilli()) }

// CreateOp persists a new queued operation and indexes it for claiming.
func (s *Store) CreateOp(ctx context.Context, o *op.Operation) error {
	key := opKey(o.ID.String())

	txf := func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("lro/redis: create exists check: %w", err)
		}
		if exists > 0 {
			return lro.ErrOpAlreadyExists
		}

		data, err := encodeOp(o)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.indexAdd(ctx, pipe, o)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return lro.ErrOpAlreadyExists
	}
	return err
}

// GetOp retrieves an operation, answering "gone" for reaped records.
func (s *Store) GetOp(ctx context.Context, opID id.OpID) (*op.Operation, error) {
	raw, err := s.client.Get(ctx, opKey(opID.String())).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, s.missingErr(ctx, opID)
	}
	if err != nil {
		return nil, fmt.Errorf("lro/redis: get operation: %w", err)
	}
	return decodeOp(raw)
}

// missingErr distinguishes a reaped record from one never seen.
func (s *Store) missingErr(ctx context.Context, opID id.OpID) error {
	err := s.client.ZScore(ctx, tombstonesKey, opID.String()).Err()
	switch {
	case err == nil:
		return lro.ErrOpGone
	case errors.Is(err, goredis.Nil):
		return lro.ErrOpNotFound
	default:
		return fmt.Errorf("lro/redis: tombstone check: %w", err)
	}
}

// CompareAndSwapOp applies mutate iff the stored state equals expected.
// WATCH makes the read-check-write atomic: any concurrent write to the
// record between our read and EXEC fails the transaction, which is
// reported as ErrConflict.
func (s *Store) CompareAndSwapOp(ctx context.Context, opID id.OpID, expected op.State, mutate op.Mutator) (*op.Operation, error) {
	key := opKey(opID.String())
	var result *op.Operation

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return s.missingErr(ctx, opID)
		}
		if err != nil {
			return fmt.Errorf("lro/redis: cas read: %w", err)
		}

		stored, err := decodeOp(raw)
		if err != nil {
			return err
		}
		if stored.State != expected {
			return lro.ErrConflict
		}

		updated := *stored
		if err := mutate(&updated); err != nil {
			return err
		}
		updated.Version = stored.Version + 1
		updated.Touch()

		data, err := encodeOp(&updated)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.indexRemove(ctx, pipe, stored)
			s.indexAdd(ctx, pipe, &updated)
			return nil
		})
		if err != nil {
			return err
		}
		result = &updated
		return nil
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return nil, lro.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListQueuedOps returns queued operations whose visibility time has
// elapsed, oldest submission first.
func (s *Store) ListQueuedOps(ctx context.Context, now time.Time, limit int) ([]*op.Operation, error) {
	ids, err := s.client.ZRangeByScore(ctx, queuedKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("lro/redis: list queued: %w", err)
	}

	ops, err := s.loadOps(ctx, ids, op.StateQueued)
	if err != nil {
		return nil, err
	}
	sort.Slice(ops, func(i, k int) bool {
		return ops[i].SubmittedAt.Before(ops[k].SubmittedAt)
	})
	return ops, nil
}

// ListStaleOps returns running operations whose last heartbeat is older
// than cutoff.
func (s *Store) ListStaleOps(ctx context.Context, cutoff time.Time, limit int) ([]*op.Operation, error) {
	ids, err := s.client.ZRangeByScore(ctx, runningKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("lro/redis: list stale: %w", err)
	}
	return s.loadOps(ctx, ids, op.StateRunning)
}

// ListExpiredOps returns terminal operations past their retention window.
func (s *Store) ListExpiredOps(ctx context.Context, now time.Time, limit int) ([]*op.Operation, error) {
	ids, err := s.client.ZRangeByScore(ctx, expiringKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("lro/redis: list expired: %w", err)
	}
	return s.loadOps(ctx, ids, "")
}

// loadOps fetches records by ID, skipping entries deleted since the
// index was read and, when wantState is set, entries whose state moved on.
func (s *Store) loadOps(ctx context.Context, ids []string, wantState op.State) ([]*op.Operation, error) {
	ops := make([]*op.Operation, 0, len(ids))
	for _, opID := range ids {
		raw, err := s.client.Get(ctx, opKey(opID)).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lro/redis: load operation: %w", err)
		}
		o, err := decodeOp(raw)
		if err != nil {
			return nil, err
		}
		if wantState != "" && o.State != wantState {
			continue
		}
		ops = append(ops, o)
	}
	return ops, nil
}

// DeleteOp removes a record and its index entries, leaving a tombstone.
func (s *Store) DeleteOp(ctx context.Context, opID id.OpID) error {
	key := opKey(opID.String())

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return lro.ErrOpNotFound
		}
		if err != nil {
			return fmt.Errorf("lro/redis: delete read: %w", err)
		}
		o, err := decodeOp(raw)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			s.indexRemove(ctx, pipe, o)
			pipe.ZAdd(ctx, tombstonesKey, goredis.Z{
				Score:  msScore(time.Now().UTC()),
				Member: opID.String(),
			})
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return lro.ErrConflict
	}
	return err
}

// PruneTombstones removes tombstones older than before.
func (s *Store) PruneTombstones(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.client.ZRemRangeByScore(ctx, tombstonesKey,
		"-inf", "("+strconv.FormatInt(before.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("lro/redis: prune tombstones: %w", err)
	}
	return n, nil
}

// CountQueuedBefore counts queued operations submitted strictly before t.
func (s *Store) CountQueuedBefore(ctx context.Context, t time.Time) (int64, error) {
	n, err := s.client.ZCount(ctx, queuedAtKey,
		"-inf", "("+strconv.FormatInt(t.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("lro/redis: count queued: %w", err)
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Index maintenance
// ──────────────────────────────────────────────────

// indexAdd places the record in the scan index for its current state.
func (s *Store) indexAdd(ctx context.Context, pipe goredis.Pipeliner, o *op.Operation) {
	opID := o.ID.String()
	switch {
	case o.State == op.StateQueued:
		pipe.ZAdd(ctx, queuedKey, goredis.Z{Score: msScore(o.VisibleAt), Member: opID})
		pipe.ZAdd(ctx, queuedAtKey, goredis.Z{Score: msScore(o.SubmittedAt), Member: opID})
	case o.State == op.StateRunning:
		at := o.StartedAt
		if o.HeartbeatAt != nil {
			at = o.HeartbeatAt
		}
		if at != nil {
			pipe.ZAdd(ctx, runningKey, goredis.Z{Score: msScore(*at), Member: opID})
		}
	case o.Terminal():
		if o.ExpiresAt != nil {
			pipe.ZAdd(ctx, expiringKey, goredis.Z{Score: msScore(*o.ExpiresAt), Member: opID})
		}
	}
}

// indexRemove drops the record from the scan index of its current state.
func (s *Store) indexRemove(ctx context.Context, pipe goredis.Pipeliner, o *op.Operation) {
	opID := o.ID.String()
	switch {
	case o.State == op.StateQueued:
		pipe.ZRem(ctx, queuedKey, opID)
		pipe.ZRem(ctx, queuedAtKey, opID)
	case o.State == op.StateRunning:
		pipe.ZRem(ctx, runningKey, opID)
	case o.Terminal():
		pipe.ZRem(ctx, expiringKey, opID)
	}
}
