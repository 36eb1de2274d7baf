package refx

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// executor runs agent actions. The bounded variant backs Agent.Send,
// the elastic variant backs Agent.SendOff.
type executor interface {
	submit(fn func()) bool
	close()
}

// boundedExecutor runs submissions on a fixed set of worker goroutines.
// Submissions never block the caller: they queue until a worker is
// free. The pool never grows.
type boundedExecutor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	wg     sync.WaitGroup
}

func newBoundedExecutor(workers int) *boundedExecutor {
	e := &boundedExecutor{}
	e.cond = sync.NewCond(&e.mu)
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

func (e *boundedExecutor) worker() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.closed {
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		fn()
	}
}

func (e *boundedExecutor) submit(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
	return true
}

// close stops accepting work, lets queued work finish, and waits for
// the workers to exit.
func (e *boundedExecutor) close() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	e.wg.Wait()
}

// elasticExecutor spawns a goroutine per submission, suitable for
// blocking work. A weighted semaphore caps how many run at once so
// close has a bounded set to drain; the cap is large enough that the
// pool behaves as unbounded under any sane load.
type elasticExecutor struct {
	sem    *semaphore.Weighted
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newElasticExecutor(limit int, logger *slog.Logger) *elasticExecutor {
	return &elasticExecutor{
		sem:    semaphore.NewWeighted(int64(limit)),
		logger: logger,
	}
}

func (e *elasticExecutor) submit(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(context.Background(), 1); err != nil {
			e.logger.Error("elastic pool acquire failed", "error", err)
			return
		}
		defer e.sem.Release(1)
		fn()
	}()
	return true
}

func (e *elasticExecutor) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}
