// Package benchmarks provides shared helpers for benchmark tests.
package benchmarks

import (
	"io"
	"log/slog"
	"testing"

	"github.com/comalice/refx"
)

// NewBenchRuntime creates a runtime with logging discarded so log IO
// never skews timings.
func NewBenchRuntime(b *testing.B, cfg refx.Config) *refx.Runtime {
	b.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := refx.New(cfg, refx.WithLogger(logger))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { rt.Close() })
	return rt
}

// GenRefs creates n refs all holding zero.
func GenRefs(rt *refx.Runtime, n int) []*refx.Ref {
	if n < 1 {
		n = 1
	}
	refs := make([]*refx.Ref, n)
	for i := range refs {
		refs[i] = rt.NewRef(0)
	}
	return refs
}

// Inc is the canonical benchmark update function.
func Inc(v any) any { return v.(int) + 1 }
