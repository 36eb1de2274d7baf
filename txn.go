package refx

import "errors"

// writeKind classifies how a transaction touched a ref. Ordering
// matters: a later, stronger touch upgrades the recorded kind.
type writeKind int

const (
	writeNone    writeKind = iota
	writeCommute           // commute only: replayed at commit, never conflict-checked
	writeAlter             // alter or ref-set: conflict-checked against the start point
	writeSet
)

// txWrite is the in-transaction record for one touched ref.
type txWrite struct {
	kind  writeKind
	value any               // current in-transaction value
	fns   []func(v any) any // pending commute functions, kept only while kind == writeCommute
}

// pendingSend is an agent dispatch buffered until commit.
type pendingSend struct {
	agent *Agent
	fn    Action
	off   bool
}

// Tx is one transaction attempt, bound to the goroutine that began it.
// It records a start point, the touched refs, and agent sends to flush
// on commit. A Tx must not be shared across goroutines or retained
// after the body returns.
type Tx struct {
	rt      *Runtime
	start   uint64
	attempt int
	writes  map[*Ref]*txWrite
	order   []*Ref // touch order, for deterministic publish and watch firing
	sends   []pendingSend
}

// Attempt returns the zero-based attempt index of this execution of the
// body: 0 on the first run, 1 after one conflict retry, and so on.
func (tx *Tx) Attempt() int {
	return tx.attempt
}

// Start returns the transaction's start point on the global clock.
func (tx *Tx) Start() uint64 {
	return tx.start
}

func (tx *Tx) write(r *Ref) *txWrite {
	w := tx.writes[r]
	if w == nil {
		w = &txWrite{}
		tx.writes[r] = w
		tx.order = append(tx.order, r)
	}
	return w
}

// Get returns the transaction's own pending write for r if present,
// else the committed value as of the transaction's start point. A
// snapshot fault (needed history pruned, or the ref created after the
// start point) returns a conflict error; returning it from the body
// aborts and retries the transaction with a fresh start point.
func (tx *Tx) Get(r *Ref) (any, error) {
	if w, ok := tx.writes[r]; ok && w.kind != writeNone {
		return w.value, nil
	}
	v, ok := r.at(tx.start)
	if !ok {
		return nil, newError(KindTransactionConflict, SourceRef, "snapshot not retained for start point")
	}
	return v, nil
}

// Set records v as r's in-transaction value. Last write wins. Any
// pending commute functions are discarded: the explicit value
// supersedes them and the ref is conflict-checked at commit.
func (tx *Tx) Set(r *Ref, v any) error {
	w := tx.write(r)
	w.kind = writeSet
	w.value = v
	w.fns = nil
	return nil
}

// Alter records f(current in-transaction value) as r's value. The ref
// is conflict-checked at commit.
func (tx *Tx) Alter(r *Ref, f func(v any) any) error {
	cur, err := tx.Get(r)
	if err != nil {
		return err
	}
	w := tx.write(r)
	if w.kind < writeAlter {
		w.kind = writeAlter
	}
	w.value = f(cur)
	w.fns = nil
	return nil
}

// Commute records f(current in-transaction value) and declares f
// commutative with respect to concurrent writers: at commit, f is
// replayed against the latest committed value instead of the start
// point snapshot, and the ref is not conflict-checked, so concurrent
// commutes on the same ref never force a retry. After a Set or Alter
// on the same ref, f composes on the explicit value and the stronger
// kind is kept.
func (tx *Tx) Commute(r *Ref, f func(v any) any) error {
	cur, err := tx.Get(r)
	if err != nil {
		return err
	}
	w := tx.write(r)
	w.value = f(cur)
	if w.kind <= writeCommute {
		w.kind = writeCommute
		w.fns = append(w.fns, f)
	}
	return nil
}

// txState is the tagged outcome of one transaction attempt.
type txState int

const (
	txCommitted txState = iota
	txAborted           // conflict: retry with a fresh start point
	txFailed            // error: propagate, no retry
)

type txOutcome struct {
	state txState
	err   error
}

// RunTransaction runs body inside a transaction and commits on normal
// return. Conflicting commits abort invisibly and re-run body from the
// top with a fresh start point, up to Config.MaxTxRetries retries;
// beyond the cap it fails with a barge error. Any other error from body
// aborts without retry and propagates. Because body may run several
// times it must be free of irrevocable side effects; route those
// through agent sends, which are buffered and flushed once on commit.
//
// Calling RunTransaction while a transaction is already live on the
// goroutine joins the existing transaction (no nested commit) unless
// Config.StrictNesting is set, in which case it fails.
func (rt *Runtime) RunTransaction(body func(tx *Tx) error) error {
	if rt.closed.Load() {
		return newError(KindRuntimeClosed, SourceRuntime, "transaction on closed runtime")
	}

	g := gid()
	if outer := rt.currentTx(); outer != nil {
		if rt.cfg.StrictNesting {
			return newError(KindReentrantTransaction, SourceRuntime, "nested RunTransaction with strict nesting")
		}
		return body(outer)
	}

	for attempt := 0; attempt <= rt.cfg.MaxTxRetries; attempt++ {
		tx := rt.beginTx(g, attempt)
		outcome := rt.attemptTx(tx, body)
		rt.endTx(g, tx)

		switch outcome.state {
		case txCommitted:
			rt.metrics.incTxCommits()
			return nil
		case txFailed:
			return outcome.err
		case txAborted:
			rt.metrics.incTxRetries()
		}
	}

	rt.metrics.incTxBarges()
	rt.logger.Warn("transaction barged",
		"attempts", rt.cfg.MaxTxRetries+1)
	return newError(KindTransactionBarge, SourceRuntime, "no commit within retry cap")
}

// attemptTx executes body once and, on normal return, attempts commit.
func (rt *Runtime) attemptTx(tx *Tx, body func(tx *Tx) error) txOutcome {
	if err := body(tx); err != nil {
		if errors.Is(err, ErrTransactionConflict) {
			return txOutcome{state: txAborted, err: err}
		}
		return txOutcome{state: txFailed, err: err}
	}
	return rt.commit(tx)
}

// commit runs the commit protocol under the global commit section:
// conflict-check every ref touched by Set/Alter against the start
// point, compute and validate final values, then publish every touched
// ref under one freshly allocated commit point. Watches fire and
// buffered sends flush only after the section is released, on the
// committing goroutine.
func (rt *Runtime) commit(tx *Tx) txOutcome {
	type publishRec struct {
		ref    *Ref
		oldVal any
		newVal any
	}

	rt.commitMu.Lock()

	for _, r := range tx.order {
		w := tx.writes[r]
		if w.kind == writeAlter || w.kind == writeSet {
			if r.latest().point > tx.start {
				rt.commitMu.Unlock()
				return txOutcome{state: txAborted}
			}
		}
	}

	pubs := make([]publishRec, 0, len(tx.order))
	for _, r := range tx.order {
		w := tx.writes[r]
		if w.kind == writeNone {
			continue
		}
		old := r.latest().value
		v := w.value
		if w.kind == writeCommute {
			// Replay against the latest committed value; other commits
			// may have moved it past our start point and that is fine.
			v = old
			for _, f := range w.fns {
				v = f(v)
			}
		}
		if err := r.checkValidator(v); err != nil {
			rt.commitMu.Unlock()
			return txOutcome{state: txFailed, err: err}
		}
		pubs = append(pubs, publishRec{ref: r, oldVal: old, newVal: v})
	}

	if len(pubs) > 0 {
		// Publish at clock+1 but advance the clock only after the last
		// ref is visible. A transaction that begins mid-publish takes a
		// start point below every new generation, so its snapshot reads
		// stay on the previous commit.
		point := rt.clock.Load() + 1
		minActive := rt.minActiveStart(point)
		for _, p := range pubs {
			p.ref.publish(p.newVal, point, minActive)
		}
		rt.clock.Store(point)
	}

	rt.commitMu.Unlock()

	for _, p := range pubs {
		p.ref.watches.notify(rt.logger, rt.metrics, p.ref, p.oldVal, p.newVal)
	}
	for _, s := range tx.sends {
		if err := s.agent.enqueue(s.fn, s.off); err != nil {
			rt.logger.Error("buffered agent send dropped",
				"agent", s.agent.ID(),
				"error", err)
		}
	}

	return txOutcome{state: txCommitted}
}
