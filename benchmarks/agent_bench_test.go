// Package benchmarks provides performance benchmarks for agent throughput.
package benchmarks

import (
	"sync"
	"testing"
	"time"

	"github.com/comalice/refx"
)

func drain(b *testing.B, agents ...*refx.Agent) {
	b.Helper()
	if !refx.AwaitFor(60*time.Second, agents...) {
		b.Fatal("agents did not drain within 60s")
	}
}

func BenchmarkAgentSendThroughput(b *testing.B) {
	rt := NewBenchRuntime(b, refx.DefaultConfig())
	a := rt.NewAgent(0)

	inc := func(v any) (any, error) { return v.(int) + 1, nil }

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := a.Send(inc); err != nil {
			b.Fatal(err)
		}
	}
	drain(b, a)
}

func BenchmarkAgentSendOffThroughput(b *testing.B) {
	rt := NewBenchRuntime(b, refx.DefaultConfig())
	a := rt.NewAgent(0)

	inc := func(v any) (any, error) { return v.(int) + 1, nil }

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := a.SendOff(inc); err != nil {
			b.Fatal(err)
		}
	}
	drain(b, a)
}

// BenchmarkAgentFanOut spreads sends across many agents so the bounded
// pool is the limiting factor rather than per-agent serialization.
func BenchmarkAgentFanOut(b *testing.B) {
	rt := NewBenchRuntime(b, refx.DefaultConfig())

	const numAgents = 64
	agents := make([]*refx.Agent, numAgents)
	for i := range agents {
		agents[i] = rt.NewAgent(0)
	}

	inc := func(v any) (any, error) { return v.(int) + 1, nil }

	numWorkers := 8
	sendsPerWorker := b.N / numWorkers
	if sendsPerWorker == 0 {
		sendsPerWorker = 1
	}

	b.ResetTimer()
	b.ReportAllocs()
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < sendsPerWorker; i++ {
				if err := agents[(w+i)%numAgents].Send(inc); err != nil {
					b.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	drain(b, agents...)
}
