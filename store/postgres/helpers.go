package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/lro"
	"github.com/xraph/lro/id"
	"github.com/xraph/lro/op"
)

// opColumns is the canonical column list; every SELECT and RETURNING
// uses it so scanOp stays in one place.
const opColumns = `
	id, type, state, progress, input, output, failure, idempotency_key,
	retry_count, max_retries, owner_token, cancelled_by,
	submitted_at, visible_at, started_at, heartbeat_at, terminal_at, expires_at,
	created_at, updated_at, version`

// isNoRows reports whether err indicates an empty result.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks for a PostgreSQL unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// rowScanner abstracts pgx.Row and pgx.Rows for scanOp.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOp(row rowScanner) (*op.Operation, error) {
	var (
		o       op.Operation
		rawID   string
		state   string
		failure []byte
	)
	err := row.Scan(
		&rawID, &o.Type, &state, &o.Progress, &o.Input, &o.Output, &failure, &o.IdempotencyKey,
		&o.RetryCount, &o.MaxRetries, &o.OwnerToken, &o.CancelledBy,
		&o.SubmittedAt, &o.VisibleAt, &o.StartedAt, &o.HeartbeatAt, &o.TerminalAt, &o.ExpiresAt,
		&o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if err != nil {
		return nil, err
	}

	o.ID, err = id.ParseOpID(rawID)
	if err != nil {
		return nil, fmt.Errorf("lro/postgres: parse operation id: %w", err)
	}
	o.State = op.State(state)

	if len(failure) > 0 {
		var f op.Failure
		if err := json.Unmarshal(failure, &f); err != nil {
			return nil, fmt.Errorf("lro/postgres: decode failure: %w", err)
		}
		o.Failure = &f
	}
	return &o, nil
}

func collectOps(rows pgx.Rows) ([]*op.Operation, error) {
	defer rows.Close()

	var ops []*op.Operation
	for rows.Next() {
		o, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("lro/postgres: scan operation: %w", err)
		}
		ops = append(ops, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lro/postgres: iterate operations: %w", err)
	}
	return ops, nil
}

// failureJSON encodes the failure column value, nil when unset.
func failureJSON(f *op.Failure) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("lro/postgres: encode failure: %w", err)
	}
	return data, nil
}

// missingErr distinguishes a reaped record from one never seen.
func (s *Store) missingErr(ctx context.Context, opID id.OpID) error {
	var reaped bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM lro_tombstones WHERE id = $1)`,
		opID.String(),
	).Scan(&reaped)
	if err != nil {
		return fmt.Errorf("lro/postgres: tombstone check: %w", err)
	}
	if reaped {
		return lro.ErrOpGone
	}
	return lro.ErrOpNotFound
}
