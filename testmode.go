package quota

import "context"

// Test mode forces every admission check to allow. The engine treats the
// flag as an opaque boolean: restricting it to non-production traffic is
// a policy the caller enforces, not this package.

type testModeKey struct{}

// ContextWithTestMode returns a context whose admission checks are
// force-allowed. Request-scoped; composes with the engine-level
// WithTestMode option.
func ContextWithTestMode(ctx context.Context) context.Context {
	return context.WithValue(ctx, testModeKey{}, true)
}

// TestModeFromContext reports whether the request carries the test-mode
// override.
func TestModeFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(testModeKey{}).(bool)
	return v
}
