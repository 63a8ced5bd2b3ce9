package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/lro"
	"github.com/xraph/lro/id"
	"github.com/xraph/lro/op"
)

// CreateOp persists a new queued operation.
func (s *Store) CreateOp(ctx context.Context, o *op.Operation) error {
	failure, err := failureJSON(o.Failure)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO lro_operations (
			id, type, state, progress, input, output, failure, idempotency_key,
			retry_count, max_retries, owner_token, cancelled_by,
			submitted_at, visible_at, started_at, heartbeat_at, terminal_at, expires_at,
			created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20, $21
		)`,
		o.ID.String(), o.Type, string(o.State), o.Progress, o.Input, o.Output, failure, o.IdempotencyKey,
		o.RetryCount, o.MaxRetries, o.OwnerToken, o.CancelledBy,
		o.SubmittedAt, o.VisibleAt, o.StartedAt, o.HeartbeatAt, o.TerminalAt, o.ExpiresAt,
		o.CreatedAt, o.UpdatedAt, o.Version,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return lro.ErrOpAlreadyExists
		}
		return fmt.Errorf("lro/postgres: create operation: %w", err)
	}
	return nil
}

// GetOp retrieves an operation, answering "gone" for reaped records.
func (s *Store) GetOp(ctx context.Context, opID id.OpID) (*op.Operation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+opColumns+` FROM lro_operations WHERE id = $1`,
		opID.String(),
	)
	o, err := scanOp(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.missingErr(ctx, opID)
		}
		return nil, fmt.Errorf("lro/postgres: get operation: %w", err)
	}
	return o, nil
}

// CompareAndSwapOp applies mutate iff the stored state equals expected.
// The row lock serializes concurrent swaps on the same record; losers
// re-read under the lock, see the changed state, and get ErrConflict.
func (s *Store) CompareAndSwapOp(ctx context.Context, opID id.OpID, expected op.State, mutate op.Mutator) (*op.Operation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("lro/postgres: cas begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		`SELECT `+opColumns+` FROM lro_operations WHERE id = $1 FOR UPDATE`,
		opID.String(),
	)
	stored, err := scanOp(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.missingErr(ctx, opID)
		}
		return nil, fmt.Errorf("lro/postgres: cas read: %w", err)
	}
	if stored.State != expected {
		return nil, lro.ErrConflict
	}

	updated := *stored
	if err := mutate(&updated); err != nil {
		return nil, err
	}
	updated.Version = stored.Version + 1
	updated.Touch()

	failure, err := failureJSON(updated.Failure)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE lro_operations SET
			state = $2, progress = $3, output = $4, failure = $5,
			retry_count = $6, owner_token = $7, cancelled_by = $8,
			visible_at = $9, started_at = $10, heartbeat_at = $11,
			terminal_at = $12, expires_at = $13,
			updated_at = $14, version = $15
		WHERE id = $1 AND version = $16`,
		opID.String(),
		string(updated.State), updated.Progress, updated.Output, failure,
		updated.RetryCount, updated.OwnerToken, updated.CancelledBy,
		updated.VisibleAt, updated.StartedAt, updated.HeartbeatAt,
		updated.TerminalAt, updated.ExpiresAt,
		updated.UpdatedAt, updated.Version, stored.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("lro/postgres: cas write: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, lro.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("lro/postgres: cas commit: %w", err)
	}
	return &updated, nil
}

// ListQueuedOps returns queued operations whose visibility time has
// elapsed, oldest submission first.
func (s *Store) ListQueuedOps(ctx context.Context, now time.Time, limit int) ([]*op.Operation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opColumns+` FROM lro_operations
		WHERE state = 'queued' AND visible_at <= $1
		ORDER BY submitted_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lro/postgres: list queued: %w", err)
	}
	return collectOps(rows)
}

// ListStaleOps returns running operations whose last heartbeat is older
// than cutoff.
func (s *Store) ListStaleOps(ctx context.Context, cutoff time.Time, limit int) ([]*op.Operation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opColumns+` FROM lro_operations
		WHERE state = 'running' AND heartbeat_at < $1
		ORDER BY heartbeat_at ASC
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lro/postgres: list stale: %w", err)
	}
	return collectOps(rows)
}

// ListExpiredOps returns terminal operations past their retention window.
func (s *Store) ListExpiredOps(ctx context.Context, now time.Time, limit int) ([]*op.Operation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opColumns+` FROM lro_operations
		WHERE state IN ('completed', 'failed', 'cancelled') AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lro/postgres: list expired: %w", err)
	}
	return collectOps(rows)
}

// DeleteOp removes a record and leaves a tombstone, atomically.
func (s *Store) DeleteOp(ctx context.Context, opID id.OpID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("lro/postgres: delete begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`DELETE FROM lro_operations WHERE id = $1`, opID.String())
	if err != nil {
		return fmt.Errorf("lro/postgres: delete operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lro.ErrOpNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO lro_tombstones (id, deleted_at) VALUES ($1, NOW())
		ON CONFLICT (id) DO NOTHING`,
		opID.String(),
	)
	if err != nil {
		return fmt.Errorf("lro/postgres: write tombstone: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("lro/postgres: delete commit: %w", err)
	}
	return nil
}

// PruneTombstones removes tombstones older than before.
func (s *Store) PruneTombstones(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM lro_tombstones WHERE deleted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("lro/postgres: prune tombstones: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountQueuedBefore counts queued operations submitted strictly before t.
func (s *Store) CountQueuedBefore(ctx context.Context, t time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM lro_operations
		WHERE state = 'queued' AND submitted_at < $1`,
		t,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("lro/postgres: count queued: %w", err)
	}
	return count, nil
}
