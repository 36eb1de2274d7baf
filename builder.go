package refx

import "log/slog"

// RuntimeBuilder provides a fluent API for constructing a Runtime, as
// an alternative to filling in a Config struct by hand.
type RuntimeBuilder struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

// NewRuntimeBuilder creates a builder preloaded with defaults.
func NewRuntimeBuilder() *RuntimeBuilder {
	return &RuntimeBuilder{cfg: DefaultConfig()}
}

// SendWorkers sets the bounded pool size.
func (b *RuntimeBuilder) SendWorkers(n int) *RuntimeBuilder {
	b.cfg.SendWorkers = n
	return b
}

// SendOffLimit sets the elastic pool's concurrency cap.
func (b *RuntimeBuilder) SendOffLimit(n int) *RuntimeBuilder {
	b.cfg.SendOffLimit = n
	return b
}

// MaxTxRetries sets the transaction retry cap.
func (b *RuntimeBuilder) MaxTxRetries(n int) *RuntimeBuilder {
	b.cfg.MaxTxRetries = n
	return b
}

// SwapWarnThreshold sets the atom contention diagnostic threshold.
func (b *RuntimeBuilder) SwapWarnThreshold(n int) *RuntimeBuilder {
	b.cfg.SwapWarnThreshold = n
	return b
}

// StrictNesting makes nested RunTransaction calls fail instead of
// joining the enclosing transaction.
func (b *RuntimeBuilder) StrictNesting() *RuntimeBuilder {
	b.cfg.StrictNesting = true
	return b
}

// Logger sets the runtime logger.
func (b *RuntimeBuilder) Logger(logger *slog.Logger) *RuntimeBuilder {
	b.logger = logger
	return b
}

// Metrics attaches a metrics bundle.
func (b *RuntimeBuilder) Metrics(m *Metrics) *RuntimeBuilder {
	b.metrics = m
	return b
}

// Build validates the configuration and constructs the Runtime.
func (b *RuntimeBuilder) Build() (*Runtime, error) {
	var opts []Option
	if b.logger != nil {
		opts = append(opts, WithLogger(b.logger))
	}
	if b.metrics != nil {
		opts = append(opts, WithMetrics(b.metrics))
	}
	return New(b.cfg, opts...)
}
