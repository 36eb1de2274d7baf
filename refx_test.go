package refx_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	. "github.com/comalice/refx"
)

// newTestRuntime creates a runtime with a discarded logger and closes
// it when the test ends.
func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	rt, err := New(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// addInt returns an alter/commute function adding n.
func addInt(n int) func(v any) any {
	return func(v any) any { return v.(int) + n }
}

// runWithTimeout fails the test if fn does not return within timeout.
func runWithTimeout(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("test timeout")
	}
}
