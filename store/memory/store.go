// Package memory implements store.Store entirely in process memory.
// Safe for concurrent access. Intended for unit testing and development;
// a single mutex makes every compare-and-swap trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/lro"
	"github.com/xraph/lro/id"
	"github.com/xraph/lro/idempotency"
	"github.com/xraph/lro/op"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle risk is absent, but the
// subsystem checks are what matter), so we verify each interface.
var (
	_ op.Store          = (*Store)(nil)
	_ idempotency.Index = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	ops  map[string]*op.Operation
	keys map[string]string // idempotency key → op ID

	// tombstones records reaped op IDs so lookups can answer "gone"
	// rather than "never existed". Pruned by the sweeper.
	tombstones map[string]time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		ops:        make(map[string]*op.Operation),
		keys:       make(map[string]string),
		tombstones: make(map[string]time.Time),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Operation record store
// ──────────────────────────────────────────────────

// CreateOp persists a new queued operation.
func (m *Store) CreateOp(_ context.Context, o *op.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createLocked(o)
}

func (m *Store) createLocked(o *op.Operation) error {
	key := o.ID.String()
	if _, exists := m.ops[key]; exists {
		return lro.ErrOpAlreadyExists
	}
	cp := *o
	m.ops[key] = &cp
	return nil
}

// GetOp retrieves an operation by ID, distinguishing reaped records
// (gone) from identifiers never seen (not found).
func (m *Store) GetOp(_ context.Context, opID id.OpID) (*op.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.ops[opID.String()]
	if !ok {
		if _, reaped := m.tombstones[opID.String()]; reaped {
			return nil, lro.ErrOpGone
		}
		return nil, lro.ErrOpNotFound
	}
	cp := *o
	return &cp, nil
}

// CompareAndSwapOp atomically applies mutate iff the stored state equals
// expected. The mutator runs on a copy; its error aborts the write.
func (m *Store) CompareAndSwapOp(_ context.Context, opID id.OpID, expected op.State, mutate op.Mutator) (*op.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := opID.String()
	stored, ok := m.ops[key]
	if !ok {
		if _, reaped := m.tombstones[key]; reaped {
			return nil, lro.ErrOpGone
		}
		return nil, lro.ErrOpNotFound
	}
	if stored.State != expected {
		return nil, lro.ErrConflict
	}

	cp := *stored
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.Version = stored.Version + 1
	cp.Touch()
	m.ops[key] = &cp

	out := cp
	return &out, nil
}

// ListQueuedOps returns queued operations whose visibility time has
// elapsed, oldest submission first.
func (m *Store) ListQueuedOps(_ context.Context, now time.Time, limit int) ([]*op.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*op.Operation, 0, len(m.ops))
	for _, o := range m.ops {
		if o.State != op.StateQueued {
			continue
		}
		if o.VisibleAt.After(now) {
			continue
		}
		cp := *o
		candidates = append(candidates, &cp)
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].SubmittedAt.Before(candidates[k].SubmittedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// ListStaleOps returns running operations whose last heartbeat is older
// than cutoff.
func (m *Store) ListStaleOps(_ context.Context, cutoff time.Time, limit int) ([]*op.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*op.Operation
	for _, o := range m.ops {
		if o.State != op.StateRunning {
			continue
		}
		if o.HeartbeatAt != nil && o.HeartbeatAt.Before(cutoff) {
			cp := *o
			stale = append(stale, &cp)
		}
		if limit > 0 && len(stale) >= limit {
			break
		}
	}
	return stale, nil
}

// ListExpiredOps returns terminal operations past their retention window.
func (m *Store) ListExpiredOps(_ context.Context, now time.Time, limit int) ([]*op.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*op.Operation
	for _, o := range m.ops {
		if !o.Terminal() {
			continue
		}
		if o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
			cp := *o
			expired = append(expired, &cp)
		}
		if limit > 0 && len(expired) >= limit {
			break
		}
	}
	return expired, nil
}

// DeleteOp removes a record and leaves a tombstone.
func (m *Store) DeleteOp(_ context.Context, opID id.OpID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := opID.String()
	if _, ok := m.ops[key]; !ok {
		return lro.ErrOpNotFound
	}
	delete(m.ops, key)
	m.tombstones[key] = time.Now().UTC()
	return nil
}

// PruneTombstones removes tombstones older than before.
func (m *Store) PruneTombstones(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, at := range m.tombstones {
		if at.Before(before) {
			delete(m.tombstones, key)
			count++
		}
	}
	return count, nil
}

// CountQueuedBefore counts queued operations submitted strictly before t.
func (m *Store) CountQueuedBefore(_ context.Context, t time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, o := range m.ops {
		if o.State == op.StateQueued && o.SubmittedAt.Before(t) {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Idempotency index
// ──────────────────────────────────────────────────

// ReserveOrGet atomically resolves an idempotency key. The single store
// mutex makes "check key, create record, insert mapping" one atomic step.
func (m *Store) ReserveOrGet(_ context.Context, key string, create idempotency.Factory) (*op.Operation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opID, ok := m.keys[key]; ok {
		if existing, live := m.ops[opID]; live {
			cp := *existing
			return &cp, false, nil
		}
		// Key pointed at a reaped record: free for reuse.
		delete(m.keys, key)
	}

	o, err := create()
	if err != nil {
		return nil, false, err
	}
	if err := m.createLocked(o); err != nil {
		return nil, false, err
	}
	m.keys[key] = o.ID.String()

	cp := *o
	return &cp, true, nil
}

// ReleaseKey removes the key mapping if it still points at opID.
func (m *Store) ReleaseKey(_ context.Context, key string, opID id.OpID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == "" {
		return nil
	}
	if mapped, ok := m.keys[key]; ok && mapped == opID.String() {
		delete(m.keys, key)
	}
	return nil
}
