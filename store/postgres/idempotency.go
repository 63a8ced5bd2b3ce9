package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/lro"
	"github.com/xraph/lro/id"
	"github.com/xraph/lro/idempotency"
	"github.com/xraph/lro/op"
)

// reserveAttempts bounds the retry loop for racing first submissions.
const reserveAttempts = 3

// ReserveOrGet atomically resolves an idempotency key: return the live
// operation it maps to, or create a fresh one and bind the key to it.
// An existing key row is locked for the duration, so resubmissions
// serialize. Two racing first submissions both see no row; the loser
// hits the key's unique constraint, retries, and reads the winner's
// operation back. A key left pointing at a reaped record is reclaimed.
func (s *Store) ReserveOrGet(ctx context.Context, key string, create idempotency.Factory) (*op.Operation, bool, error) {
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		o, created, retry, err := s.reserveOnce(ctx, key, create)
		if retry {
			continue
		}
		return o, created, err
	}
	return nil, false, lro.ErrConflict
}

func (s *Store) reserveOnce(ctx context.Context, key string, create idempotency.Factory) (*op.Operation, bool, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, false, fmt.Errorf("lro/postgres: reserve begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var mapped string
	err = tx.QueryRow(ctx,
		`SELECT op_id FROM lro_idempotency_keys WHERE key = $1 FOR UPDATE`,
		key,
	).Scan(&mapped)
	switch {
	case err == nil:
		row := tx.QueryRow(ctx,
			`SELECT `+opColumns+` FROM lro_operations WHERE id = $1`, mapped)
		existing, scanErr := scanOp(row)
		if scanErr == nil {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return nil, false, false, fmt.Errorf("lro/postgres: reserve commit: %w", commitErr)
			}
			return existing, false, false, nil
		}
		if !isNoRows(scanErr) {
			return nil, false, false, fmt.Errorf("lro/postgres: reserve read operation: %w", scanErr)
		}
		// Key points at a reaped record: free for reuse.
		if _, delErr := tx.Exec(ctx,
			`DELETE FROM lro_idempotency_keys WHERE key = $1`, key); delErr != nil {
			return nil, false, false, fmt.Errorf("lro/postgres: reserve reclaim key: %w", delErr)
		}
	case isNoRows(err):
		// No mapping yet.
	default:
		return nil, false, false, fmt.Errorf("lro/postgres: reserve read key: %w", err)
	}

	o, err := create()
	if err != nil {
		return nil, false, false, err
	}
	failure, err := failureJSON(o.Failure)
	if err != nil {
		return nil, false, false, err
	}

	_, err = tx.Exec(ctx, `
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
		return nil, false, false, fmt.Errorf("lro/postgres: reserve create operation: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO lro_idempotency_keys (key, op_id) VALUES ($1, $2)`,
		key, o.ID.String(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			// A concurrent submission bound the key first; re-read.
			return nil, false, true, nil
		}
		return nil, false, false, fmt.Errorf("lro/postgres: reserve bind key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, false, fmt.Errorf("lro/postgres: reserve commit: %w", err)
	}
	return o, true, false, nil
}

// ReleaseKey removes the key mapping if it still points at opID.
func (s *Store) ReleaseKey(ctx context.Context, key string, opID id.OpID) error {
	if key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM lro_idempotency_keys WHERE key = $1 AND op_id = $2`,
		key, opID.String(),
	)
	if err != nil {
		return fmt.Errorf("lro/postgres: release key: %w", err)
	}
	return nil
}
