package refx

import (
	"sync"

	"github.com/google/uuid"
)

// generation is one committed value of a ref, tagged with the commit
// point that published it.
type generation struct {
	value any
	point uint64
}

// RefGeneration is the exported view of one committed generation, for
// diagnostics.
type RefGeneration struct {
	Value any
	Point uint64
}

// Ref is a coordinated mutable cell. Outside a transaction Deref
// returns the latest committed value; inside one it returns the
// transaction's pending write or a value consistent with the
// transaction's start point. Refs are only written through Tx.Set,
// Tx.Alter, and Tx.Commute.
type Ref struct {
	rt *Runtime
	id uuid.UUID

	mu sync.RWMutex
	// hist holds committed generations in ascending commit-point order.
	// Never empty; generations older than every live transaction are
	// pruned at publish time.
	hist      []generation
	validator Validator

	watches watchSet
}

// NewRef creates a ref holding initial. The initial generation is
// stamped with the current clock reading.
func (rt *Runtime) NewRef(initial any) *Ref {
	return &Ref{
		rt:   rt,
		id:   uuid.New(),
		hist: []generation{{value: initial, point: rt.clock.Load()}},
	}
}

// ID returns the ref's stable identity, used in logs and diagnostics.
func (r *Ref) ID() uuid.UUID {
	return r.id
}

// Deref returns the transaction-consistent value when the calling
// goroutine has a live transaction, else the latest committed value.
func (r *Ref) Deref() (any, error) {
	if tx := r.rt.currentTx(); tx != nil {
		return tx.Get(r)
	}
	return r.latest().value, nil
}

// SetValidator installs or clears (nil) the validator, checked against
// every value a commit would publish. The latest committed value must
// pass the new validator.
func (r *Ref) SetValidator(fn Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil && !fn(r.hist[len(r.hist)-1].value) {
		return newError(KindValidation, SourceRef, "current value fails validator")
	}
	r.validator = fn
	return nil
}

// History returns a copy of the retained generations, oldest first.
func (r *Ref) History() []RefGeneration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RefGeneration, len(r.hist))
	for i, g := range r.hist {
		out[i] = RefGeneration{Value: g.value, Point: g.point}
	}
	return out
}

// AddWatch registers fn under key; re-registering a key replaces the
// callback. Watches fire once per committed transaction that changed
// this ref.
func (r *Ref) AddWatch(key string, fn WatchFn) {
	r.watches.add(key, fn)
}

// RemoveWatch unregisters key.
func (r *Ref) RemoveWatch(key string) {
	r.watches.remove(key)
}

func (r *Ref) latest() generation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hist[len(r.hist)-1]
}

// at returns the newest generation at or before point. ok is false when
// every retained generation is newer, meaning the history needed by a
// snapshot read has been pruned (or the ref was created after the
// reader's start point); the reader must retry with a fresh start.
func (r *Ref) at(point uint64) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.hist) - 1; i >= 0; i-- {
		if r.hist[i].point <= point {
			return r.hist[i].value, true
		}
	}
	return nil, false
}

func (r *Ref) checkValidator(v any) error {
	r.mu.RLock()
	fn := r.validator
	r.mu.RUnlock()
	if fn != nil && !fn(v) {
		return newError(KindValidation, SourceRef, "proposed value rejected")
	}
	return nil
}

// publish appends a committed generation and prunes generations no live
// transaction can still read. Called only inside the commit critical
// section.
func (r *Ref) publish(v any, point uint64, minActive uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hist = append(r.hist, generation{value: v, point: point})

	// Keep the newest generation at or before minActive and everything
	// after it.
	keep := 0
	for i := len(r.hist) - 1; i >= 0; i-- {
		if r.hist[i].point <= minActive {
			keep = i
			break
		}
	}
	if keep > 0 {
		r.hist = append([]generation(nil), r.hist[keep:]...)
	}
}
