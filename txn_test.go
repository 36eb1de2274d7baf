package refx_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/comalice/refx"
)

// commitConflicting runs a conflicting alter in another goroutine and
// waits for it to commit.
func commitConflicting(t *testing.T, rt *Runtime, ref *Ref) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := rt.RunTransaction(func(tx *Tx) error {
			return tx.Alter(ref, addInt(1))
		})
		if err != nil {
			t.Errorf("conflicting transaction failed: %v", err)
		}
	}()
	<-done
}

func TestRefDerefOutsideTransaction(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(7)

	v, err := ref.Deref()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestTransactionSetAlterCommute(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(0)

	err := rt.RunTransaction(func(tx *Tx) error {
		if err := tx.Set(ref, 10); err != nil {
			return err
		}
		if err := tx.Alter(ref, addInt(5)); err != nil {
			return err
		}
		// Reads inside the body see the pending write.
		v, err := tx.Get(ref)
		if err != nil {
			return err
		}
		assert.Equal(t, 15, v)
		return tx.Commute(ref, addInt(1))
	})
	require.NoError(t, err)

	v, _ := ref.Deref()
	assert.Equal(t, 16, v)
}

// A transaction that writes two refs and then errors leaves both
// unchanged from any other goroutine's perspective.
func TestTransactionAtomicity(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	x := rt.NewRef(1)
	y := rt.NewRef(2)

	boom := errors.New("boom")
	err := rt.RunTransaction(func(tx *Tx) error {
		require.NoError(t, tx.Set(x, 100))
		require.NoError(t, tx.Set(y, 200))
		return boom
	})
	require.ErrorIs(t, err, boom)

	observed := make(chan [2]any, 1)
	go func() {
		vx, _ := x.Deref()
		vy, _ := y.Deref()
		observed <- [2]any{vx, vy}
	}()
	got := <-observed
	assert.Equal(t, [2]any{1, 2}, got)
}

// No reader ever observes a partial commit. The writer sets every ref
// in slice order inside one transaction; the reader reads the
// last-published ref before the first-published one, so any window
// between the refs becoming visible shows up as first > last.
func TestTransactionAtomicVisibility(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())

	const numRefs = 16
	refs := make([]*Ref, numRefs)
	for i := range refs {
		refs[i] = rt.NewRef(0)
	}
	first, last := refs[0], refs[numRefs-1]

	stop := make(chan struct{})
	var torn atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = rt.RunTransaction(func(tx *Tx) error {
				vLast, err := tx.Get(last)
				if err != nil {
					return err
				}
				vFirst, err := tx.Get(first)
				if err != nil {
					return err
				}
				if vFirst.(int) > vLast.(int) {
					torn.Add(1)
				}
				return nil
			})
		}
	}()

	for i := 1; i <= 500; i++ {
		val := i
		err := rt.RunTransaction(func(tx *Tx) error {
			for _, r := range refs {
				if err := tx.Set(r, val); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, torn.Load(), "reader observed a partial commit")
}

// Two concurrent alters of the same ref: exactly one retries, and the
// final value reflects both applied serially.
func TestTransactionIsolationRetry(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(10)

	firstAttemptReady := make(chan struct{})
	otherCommitted := make(chan struct{})
	go func() {
		defer close(otherCommitted)
		<-firstAttemptReady
		err := rt.RunTransaction(func(tx *Tx) error {
			return tx.Alter(ref, addInt(5))
		})
		if err != nil {
			t.Errorf("competing transaction failed: %v", err)
		}
	}()

	var attempts atomic.Int32
	err := rt.RunTransaction(func(tx *Tx) error {
		attempts.Add(1)
		if err := tx.Alter(ref, addInt(5)); err != nil {
			return err
		}
		if tx.Attempt() == 0 {
			close(firstAttemptReady)
			<-otherCommitted
		}
		return nil
	})
	require.NoError(t, err)

	v, _ := ref.Deref()
	assert.Equal(t, 20, v, "both increments must apply serially")
	assert.Equal(t, int32(2), attempts.Load(), "exactly one retry expected")
}

// Concurrent commutes on the same ref commit without retry.
func TestCommuteLeniency(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(10)

	firstAttemptReady := make(chan struct{})
	otherCommitted := make(chan struct{})
	go func() {
		defer close(otherCommitted)
		err := rt.RunTransaction(func(tx *Tx) error {
			<-firstAttemptReady
			return tx.Commute(ref, addInt(5))
		})
		if err != nil {
			t.Errorf("competing transaction failed: %v", err)
		}
	}()

	var attempts atomic.Int32
	err := rt.RunTransaction(func(tx *Tx) error {
		attempts.Add(1)
		if err := tx.Commute(ref, addInt(5)); err != nil {
			return err
		}
		if tx.Attempt() == 0 {
			close(firstAttemptReady)
			<-otherCommitted
		}
		return nil
	})
	require.NoError(t, err)

	v, _ := ref.Deref()
	assert.Equal(t, 20, v, "both deltas must land")
	assert.Equal(t, int32(1), attempts.Load(), "commute must not force a retry")
}

// Reads inside a transaction reflect the start point even after another
// transaction commits.
func TestSnapshotIsolation(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(1)

	err := rt.RunTransaction(func(tx *Tx) error {
		before, err := tx.Get(ref)
		require.NoError(t, err)
		require.Equal(t, 1, before)

		commitConflicting(t, rt, ref) // moves the committed value to 2

		after, err := tx.Get(ref)
		require.NoError(t, err)
		assert.Equal(t, 1, after, "read-only transaction must keep its snapshot")
		return nil
	})
	require.NoError(t, err)

	v, _ := ref.Deref()
	assert.Equal(t, 2, v)
}

func TestTransactionBarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTxRetries = 2
	rt := newTestRuntime(t, cfg)
	ref := rt.NewRef(0)

	var attempts atomic.Int32
	err := rt.RunTransaction(func(tx *Tx) error {
		attempts.Add(1)
		if err := tx.Alter(ref, addInt(10)); err != nil {
			return err
		}
		commitConflicting(t, rt, ref) // every attempt conflicts
		return nil
	})
	require.ErrorIs(t, err, ErrTransactionBarge)
	assert.Equal(t, int32(3), attempts.Load(), "cap of 2 retries allows 3 attempts")

	var refErr *Error
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, KindTransactionBarge, refErr.Kind)
}

// An agent send issued inside a transaction that retries twice before
// committing results in exactly one enqueued action.
func TestTransactionBufferedSends(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(0)
	agent := rt.NewAgent(0)

	inc := func(v any) (any, error) { return v.(int) + 1, nil }

	err := rt.RunTransaction(func(tx *Tx) error {
		if err := tx.Alter(ref, addInt(1)); err != nil {
			return err
		}
		if err := agent.Send(inc); err != nil {
			return err
		}
		if tx.Attempt() < 2 {
			commitConflicting(t, rt, ref)
		}
		return nil
	})
	require.NoError(t, err)

	require.True(t, AwaitFor(5*time.Second, agent))
	assert.Equal(t, 1, agent.Deref(), "retries must not duplicate the send")
}

// Sends buffered on a transaction that fails are never enqueued.
func TestAbortedTransactionDropsSends(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	agent := rt.NewAgent(0)

	boom := errors.New("boom")
	err := rt.RunTransaction(func(tx *Tx) error {
		if err := agent.Send(func(v any) (any, error) { return v.(int) + 1, nil }); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.True(t, AwaitFor(time.Second, agent))
	assert.Equal(t, 0, agent.Deref())
	assert.Zero(t, agent.QueueDepth())
}

// A nested RunTransaction joins the enclosing transaction: the inner
// body sees outer pending writes and nothing commits twice.
func TestNestedTransactionJoins(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(0)

	err := rt.RunTransaction(func(outer *Tx) error {
		if err := outer.Set(ref, 1); err != nil {
			return err
		}
		return rt.RunTransaction(func(inner *Tx) error {
			v, err := inner.Get(ref)
			require.NoError(t, err)
			require.Equal(t, 1, v, "inner transaction must see outer pending write")
			return inner.Alter(ref, addInt(10))
		})
	})
	require.NoError(t, err)

	v, _ := ref.Deref()
	assert.Equal(t, 11, v)
}

func TestStrictNestingRejectsReentrancy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictNesting = true
	rt := newTestRuntime(t, cfg)
	ref := rt.NewRef(0)

	err := rt.RunTransaction(func(tx *Tx) error {
		return rt.RunTransaction(func(inner *Tx) error {
			return inner.Set(ref, 1)
		})
	})
	require.ErrorIs(t, err, ErrReentrantTransaction)

	v, _ := ref.Deref()
	assert.Equal(t, 0, v)
}

// A ref validator rejecting the committed value fails the transaction
// without retry and publishes nothing.
func TestRefValidatorAtCommit(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(10)
	require.NoError(t, ref.SetValidator(func(v any) bool { return v.(int) >= 0 }))

	var attempts atomic.Int32
	err := rt.RunTransaction(func(tx *Tx) error {
		attempts.Add(1)
		return tx.Alter(ref, addInt(-100))
	})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, int32(1), attempts.Load(), "validation failure must not retry")

	v, _ := ref.Deref()
	assert.Equal(t, 10, v)
}

// Commute after an explicit write composes on the written value and the
// ref stays conflict-checked.
func TestCommuteAfterSetComposes(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(0)

	err := rt.RunTransaction(func(tx *Tx) error {
		if err := tx.Set(ref, 100); err != nil {
			return err
		}
		return tx.Commute(ref, addInt(1))
	})
	require.NoError(t, err)

	v, _ := ref.Deref()
	assert.Equal(t, 101, v)
}

func TestRunTransactionOnClosedRuntime(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	require.NoError(t, rt.Close())

	err := rt.RunTransaction(func(tx *Tx) error { return nil })
	require.ErrorIs(t, err, ErrRuntimeClosed)
}

// Generations are retained while a transaction needs them and pruned
// once none does.
func TestRefHistoryPruning(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ref := rt.NewRef(0)

	// With no reader holding a start point, history stays minimal.
	for i := 0; i < 5; i++ {
		require.NoError(t, rt.RunTransaction(func(tx *Tx) error {
			return tx.Alter(ref, addInt(1))
		}))
	}
	assert.LessOrEqual(t, len(ref.History()), 2)

	// A long-running transaction pins its snapshot.
	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.RunTransaction(func(tx *Tx) error {
			if _, err := tx.Get(ref); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	for i := 0; i < 5; i++ {
		require.NoError(t, rt.RunTransaction(func(tx *Tx) error {
			return tx.Alter(ref, addInt(1))
		}))
	}
	assert.Greater(t, len(ref.History()), 2, "pinned snapshot must retain generations")

	close(release)
	<-done

	require.NoError(t, rt.RunTransaction(func(tx *Tx) error {
		return tx.Alter(ref, addInt(1))
	}))
	assert.LessOrEqual(t, len(ref.History()), 2, "history must shrink after the pin ends")
}
