package refx

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Validator accepts or rejects a proposed value for an atom, ref, or
// agent. Validators must be pure: they may run under internal locks and
// more than once for the same proposal.
type Validator func(v any) bool

// Runtime is the process-scoped service behind every primitive: it owns
// the global transaction clock, the table of live transactions, and the
// agent worker pools. Primitives are created through it and share its
// logger and metrics. There is no implicit global instance; create one
// with New and pass it where it is needed.
type Runtime struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	// clock is the global transaction clock. Commit points are allocated
	// inside the commit critical section and the clock advances only
	// after every generation of the commit is published; transaction
	// start points are plain reads of it.
	clock atomic.Uint64

	// commitMu serializes validate-then-publish so the pair is atomic
	// and commit points are totally ordered.
	commitMu sync.Mutex

	// txMu guards the live-transaction table and the active start-point
	// counts used for generation pruning.
	txMu   sync.Mutex
	txns   map[uint64]*Tx // goroutine id -> live transaction
	starts map[uint64]int // start point -> live transaction count

	sendPool executor
	offPool  executor
	closed   atomic.Bool
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithLogger sets the runtime logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithMetrics attaches a metrics bundle. Nil disables instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(rt *Runtime) {
		rt.metrics = m
	}
}

// New creates a Runtime. Zero-value config fields take their defaults.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rt := &Runtime{
		cfg:    cfg,
		logger: slog.Default(),
		txns:   make(map[uint64]*Tx),
		starts: make(map[uint64]int),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.logger.With("component", "refx")
	rt.sendPool = newBoundedExecutor(cfg.SendWorkers)
	rt.offPool = newElasticExecutor(cfg.SendOffLimit, rt.logger)

	return rt, nil
}

// Config returns the effective configuration.
func (rt *Runtime) Config() Config {
	return rt.cfg
}

// Close drains both agent pools and rejects further dispatch. It is
// idempotent. Queued agent actions that have not reached a pool yet are
// dropped; actions already submitted run to completion.
func (rt *Runtime) Close() error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}
	rt.sendPool.close()
	rt.offPool.close()
	rt.logger.Debug("runtime closed")
	return nil
}

// currentTx returns the live transaction on the calling goroutine, or
// nil.
func (rt *Runtime) currentTx() *Tx {
	rt.txMu.Lock()
	defer rt.txMu.Unlock()
	return rt.txns[gid()]
}

// beginTx registers a fresh transaction for the goroutine and records
// its start point for pruning.
func (rt *Runtime) beginTx(g uint64, attempt int) *Tx {
	tx := &Tx{
		rt:      rt,
		attempt: attempt,
		writes:  make(map[*Ref]*txWrite),
	}
	rt.txMu.Lock()
	tx.start = rt.clock.Load()
	rt.txns[g] = tx
	rt.starts[tx.start]++
	rt.txMu.Unlock()
	return tx
}

// endTx unregisters a transaction whether it committed or not.
func (rt *Runtime) endTx(g uint64, tx *Tx) {
	rt.txMu.Lock()
	delete(rt.txns, g)
	if rt.starts[tx.start]--; rt.starts[tx.start] <= 0 {
		delete(rt.starts, tx.start)
	}
	rt.txMu.Unlock()
}

// minActiveStart returns the oldest start point among live
// transactions. Ref generations at or before it are the floor that
// snapshot reads may still need; fallback is the floor when no
// transaction is live.
func (rt *Runtime) minActiveStart(fallback uint64) uint64 {
	rt.txMu.Lock()
	defer rt.txMu.Unlock()
	min := fallback
	for start := range rt.starts {
		if start < min {
			min = start
		}
	}
	return min
}
