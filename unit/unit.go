package unit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased work unit: it receives the operation's raw
// input payload and returns the raw output payload. The typed
// Definition[I, O] is converted to a HandlerFunc at registration time by
// closing over JSON codec calls and the typed handler.
type HandlerFunc func(ctx context.Context, input []byte) ([]byte, error)

// Registry maps operation types to type-erased work units.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty work-unit registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterDefinition registers a typed work-unit definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the input into I
// before the call and marshals the O result after it.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[I, O any](r *Registry, def *Definition[I, O]) {
	handler := func(ctx context.Context, input []byte) ([]byte, error) {
		var in I
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("unmarshal input for operation type %q: %w", def.Type, err)
			}
		}
		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal output for operation type %q: %w", def.Type, err)
		}
		return data, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = handler
}

// Register registers a raw HandlerFunc under an operation type.
func (r *Registry) Register(opType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[opType] = h
}

// Get returns the work unit for the given operation type.
// Returns false if none is registered.
func (r *Registry) Get(opType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[opType]
	return h, ok
}

// Types returns all registered operation types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
