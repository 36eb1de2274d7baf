package refx

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action computes an agent's next value from its current one. Actions
// run on pool workers, strictly one at a time per agent, in submission
// order. An error return (or panic) puts the agent in the failed state.
type Action func(v any) (any, error)

// queued is one accepted action plus the pool it dispatches on.
type queued struct {
	fn  Action
	off bool
}

// waiter tracks an Await caller: its channel closes once the agent has
// completed target actions.
type waiter struct {
	target uint64
	ch     chan struct{}
}

// Agent is an asynchronous, serialized mutation queue. Send and SendOff
// enqueue actions and return immediately; a failed action halts the
// queue until the error state is cleared.
type Agent struct {
	rt *Runtime
	id uuid.UUID

	mu        sync.Mutex
	value     any
	validator Validator
	queue     []queued
	inFlight  bool
	errs      []error
	enqueued  uint64 // total actions accepted
	completed uint64 // total actions finished (applied, failed, or discarded)
	waiters   []*waiter

	watches watchSet
}

// NewAgent creates an agent holding initial.
func (rt *Runtime) NewAgent(initial any) *Agent {
	return &Agent{rt: rt, id: uuid.New(), value: initial}
}

// ID returns the agent's stable identity, used in logs and diagnostics.
func (a *Agent) ID() uuid.UUID {
	return a.id
}

// Deref returns the agent's current value. It never blocks on queued
// actions; use Await to observe a drained queue.
func (a *Agent) Deref() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// SetValidator installs or clears (nil) the validator, checked against
// every value an action would publish. The current value must pass.
func (a *Agent) SetValidator(fn Validator) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fn != nil && !fn(a.value) {
		return newError(KindValidation, SourceAgent, "current value fails validator")
	}
	a.validator = fn
	return nil
}

// Send enqueues fn for asynchronous application on the bounded pool,
// intended for CPU-bound, non-blocking actions. Inside a live
// transaction the send is buffered and enqueued only if the
// transaction commits, so retries never duplicate it.
func (a *Agent) Send(fn Action) error {
	return a.dispatch(fn, false)
}

// SendOff is Send on the elastic pool, suitable for blocking actions.
func (a *Agent) SendOff(fn Action) error {
	return a.dispatch(fn, true)
}

func (a *Agent) dispatch(fn Action, off bool) error {
	if tx := a.rt.currentTx(); tx != nil {
		tx.sends = append(tx.sends, pendingSend{agent: a, fn: fn, off: off})
		return nil
	}
	return a.enqueue(fn, off)
}

// enqueue accepts an action into the FIFO queue and starts dispatch if
// the agent is idle and healthy.
func (a *Agent) enqueue(fn Action, off bool) error {
	if a.rt.closed.Load() {
		return newError(KindRuntimeClosed, SourceAgent, "send on closed runtime")
	}
	a.mu.Lock()
	a.queue = append(a.queue, queued{fn: fn, off: off})
	a.enqueued++
	a.rt.metrics.addAgentQueueDepth(1)
	a.maybeDispatchLocked()
	a.mu.Unlock()
	return nil
}

// maybeDispatchLocked submits the head action to its pool unless one is
// already in flight, the agent is failed, or the queue is empty.
// Callers hold a.mu.
func (a *Agent) maybeDispatchLocked() {
	if a.inFlight || len(a.errs) > 0 || len(a.queue) == 0 {
		return
	}
	a.inFlight = true
	head := a.queue[0]
	pool := a.rt.sendPool
	if head.off {
		pool = a.rt.offPool
	}
	if !pool.submit(func() { a.run(head) }) {
		// Pool refused (runtime closing); leave the action queued.
		a.inFlight = false
	}
}

// run executes one action on a pool worker. The head stays queued while
// in flight so Send observes true depth. Watches fire between the value
// becoming visible and the next action dispatching, keeping per-agent
// execution strictly serial.
func (a *Agent) run(q queued) {
	newVal, err := a.apply(q.fn)

	a.mu.Lock()
	a.queue = a.queue[1:]
	a.completed++
	a.rt.metrics.addAgentQueueDepth(-1)
	a.rt.metrics.incAgentActions()

	var oldVal any
	if err != nil {
		a.errs = append(a.errs, err)
		a.rt.metrics.incAgentFailures()
	} else {
		oldVal = a.value
		a.value = newVal
	}
	a.notifyWaitersLocked()
	a.mu.Unlock()

	if err != nil {
		a.rt.logger.Warn("agent action failed",
			"agent", a.id,
			"error", err)
	} else {
		a.watches.notify(a.rt.logger, a.rt.metrics, a, oldVal, newVal)
	}

	a.mu.Lock()
	a.inFlight = false
	a.maybeDispatchLocked()
	a.mu.Unlock()
}

// apply runs the action with panic capture and validator enforcement.
func (a *Agent) apply(fn Action) (newVal any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wrapError(KindAgentAction, SourceAgent, "action panicked",
				fmt.Errorf("panic: %v", r))
		}
	}()

	cur := a.Deref()
	v, actionErr := fn(cur)
	if actionErr != nil {
		return nil, wrapError(KindAgentAction, SourceAgent, "action returned error", actionErr)
	}

	a.mu.Lock()
	validator := a.validator
	a.mu.Unlock()
	if validator != nil && !validator(v) {
		return nil, newError(KindValidation, SourceAgent, "action result rejected")
	}
	return v, nil
}

// Errs returns the captured action errors, oldest first. Empty means
// the agent is healthy.
func (a *Agent) Errs() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]error, len(a.errs))
	copy(out, a.errs)
	return out
}

// ClearErrs leaves the failed state. Held actions resume in their
// original order against the pre-failure value.
func (a *Agent) ClearErrs() {
	a.mu.Lock()
	a.errs = nil
	a.maybeDispatchLocked()
	a.mu.Unlock()
}

// RestartWith resets a failed agent to v, clears its error state, and
// optionally discards held actions, then resumes dispatch. It fails on
// a healthy agent: the failed state is what guarantees no in-flight
// action result can overwrite v. Discarded actions count as completed
// for Await purposes.
func (a *Agent) RestartWith(v any, clearQueue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) == 0 {
		return newError(KindAgentAction, SourceAgent, "restart of an agent that is not failed")
	}
	if a.validator != nil && !a.validator(v) {
		return newError(KindValidation, SourceAgent, "restart value rejected")
	}
	a.value = v
	a.errs = nil
	if clearQueue {
		// Failure pops the head before it lands in errs, so every queued
		// entry is a held action and safe to discard.
		discard := len(a.queue)
		a.queue = nil
		a.completed += uint64(discard)
		a.rt.metrics.addAgentQueueDepth(-float64(discard))
		a.notifyWaitersLocked()
	}
	a.maybeDispatchLocked()
	return nil
}

// QueueDepth returns the number of queued actions, including any in
// flight.
func (a *Agent) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// AddWatch registers fn under key; re-registering a key replaces the
// callback. Watches fire once per successfully applied action.
func (a *Agent) AddWatch(key string, fn WatchFn) {
	a.watches.add(key, fn)
}

// RemoveWatch unregisters key.
func (a *Agent) RemoveWatch(key string) {
	a.watches.remove(key)
}

// newWaiter registers a waiter for everything queued as of now. The
// returned channel is already closed when the queue is drained.
func (a *Agent) newWaiter() *waiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := &waiter{target: a.enqueued, ch: make(chan struct{})}
	if a.completed >= w.target {
		close(w.ch)
		return w
	}
	a.waiters = append(a.waiters, w)
	return w
}

// notifyWaitersLocked closes and drops every satisfied waiter. Callers
// hold a.mu.
func (a *Agent) notifyWaitersLocked() {
	kept := a.waiters[:0]
	for _, w := range a.waiters {
		if a.completed >= w.target {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	a.waiters = kept
}

func (a *Agent) removeWaiter(w *waiter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, x := range a.waiters {
		if x == w {
			a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
			return
		}
	}
}

// Await blocks until each agent's queue, as observed at call time, has
// fully drained. It blocks indefinitely; a failed agent holds its queue
// and therefore holds Await. Use AwaitFor when a bound is needed.
func Await(agents ...*Agent) {
	for _, a := range agents {
		<-a.newWaiter().ch
	}
}

// AwaitFor is Await with a deadline. It returns false if the queues did
// not drain within timeout.
func AwaitFor(timeout time.Duration, agents ...*Agent) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, a := range agents {
		w := a.newWaiter()
		select {
		case <-w.ch:
		case <-deadline.C:
			a.removeWaiter(w)
			return false
		}
	}
	return true
}
