package refx

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Atom is a synchronous, independent, compare-and-swap cell. Reads are
// lock-free and never block. All operations are linearizable per atom.
type Atom struct {
	rt        *Runtime
	val       atomic.Pointer[box]
	mu        sync.Mutex // guards validator
	validator Validator
	watches   watchSet
}

// box wraps a value so the atomic pointer can represent any payload,
// including nil.
type box struct {
	v any
}

// NewAtom creates an atom holding initial.
func (rt *Runtime) NewAtom(initial any) *Atom {
	a := &Atom{rt: rt}
	a.val.Store(&box{v: initial})
	return a
}

// Deref returns the current value. Lock-free.
func (a *Atom) Deref() any {
	return a.val.Load().v
}

// SetValidator installs or clears (nil) the validator. The current
// value must pass the new validator.
func (a *Atom) SetValidator(fn Validator) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fn != nil && !fn(a.Deref()) {
		return newError(KindValidation, SourceAtom, "current value fails validator")
	}
	a.validator = fn
	return nil
}

func (a *Atom) validate(v any) error {
	a.mu.Lock()
	fn := a.validator
	a.mu.Unlock()
	if fn != nil && !fn(v) {
		return newError(KindValidation, SourceAtom, "proposed value rejected")
	}
	return nil
}

// Reset unconditionally replaces the value and returns it. On validator
// rejection the value is left unchanged.
func (a *Atom) Reset(v any) (any, error) {
	if err := a.validate(v); err != nil {
		return nil, err
	}
	old := a.val.Swap(&box{v: v})
	a.watches.notify(a.rt.logger, a.rt.metrics, a, old.v, v)
	return v, nil
}

// Swap publishes f(current), retrying f against the fresh value
// whenever the cell changed between read and publish. The loop is
// unbounded; persistent contention past Config.SwapWarnThreshold
// retries logs a diagnostic, which usually indicates an expensive or
// impure f. f must be free of side effects because it may run many
// times.
func (a *Atom) Swap(f func(v any) any) (any, error) {
	retries := 0
	for {
		cur := a.val.Load()
		next := f(cur.v)
		if err := a.validate(next); err != nil {
			return nil, err
		}
		if a.val.CompareAndSwap(cur, &box{v: next}) {
			a.watches.notify(a.rt.logger, a.rt.metrics, a, cur.v, next)
			return next, nil
		}
		retries++
		a.rt.metrics.incAtomRetries()
		if retries%a.rt.cfg.SwapWarnThreshold == 0 {
			a.rt.logger.Warn("atom swap contention",
				"retries", retries)
		}
	}
}

// CompareAndSet publishes new only if the current value is identical to
// old, and reports whether the swap happened. Identity means pointer or
// interface identity, not structural equality. It never retries.
func (a *Atom) CompareAndSet(old, new any) (bool, error) {
	cur := a.val.Load()
	if !identical(cur.v, old) {
		return false, nil
	}
	if err := a.validate(new); err != nil {
		return false, err
	}
	if !a.val.CompareAndSwap(cur, &box{v: new}) {
		return false, nil
	}
	a.watches.notify(a.rt.logger, a.rt.metrics, a, cur.v, new)
	return true, nil
}

// AddWatch registers fn under key; re-registering a key replaces the
// callback.
func (a *Atom) AddWatch(key string, fn WatchFn) {
	a.watches.add(key, fn)
}

// RemoveWatch unregisters key.
func (a *Atom) RemoveWatch(key string) {
	a.watches.remove(key)
}

// identical reports reference identity. Reference kinds compare by
// address; comparable value kinds fall back to ==. Uncomparable value
// kinds (structs containing slices, etc.) are never identical.
func identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Map, reflect.Slice, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	if !va.Comparable() {
		return false
	}
	return a == b
}
