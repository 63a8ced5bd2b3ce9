package unit

import "context"

// progressKey is the context key under which the coordinator injects its
// progress sink.
type progressKey struct{}

// ProgressFunc receives progress percentages from a running work unit.
type ProgressFunc func(pct int)

// WithProgress returns a context carrying a progress sink. Installed by
// the coordinator before invoking the handler.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress reports a 0-100 completion percentage from inside a
// work unit. Values are clamped and may only increase; regressions are
// dropped by the engine. Calling it outside an engine-managed execution
// is a no-op.
func ReportProgress(ctx context.Context, pct int) {
	fn, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok {
		return
	}
	fn(pct)
}
