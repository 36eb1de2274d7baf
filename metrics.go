package refx

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional Prometheus instrumentation bundle. Pass it to
// New via WithMetrics and register it with a Registerer to expose it.
// A nil *Metrics disables instrumentation; all internal call sites are
// nil-safe.
type Metrics struct {
	TxCommits       prometheus.Counter
	TxRetries       prometheus.Counter
	TxBarges        prometheus.Counter
	AtomRetries     prometheus.Counter
	AgentActions    prometheus.Counter
	AgentFailures   prometheus.Counter
	AgentQueueDepth prometheus.Gauge
	WatchPanics     prometheus.Counter
}

// NewMetrics creates an unregistered metrics bundle.
func NewMetrics() *Metrics {
	return &Metrics{
		TxCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refx_tx_commits_total",
			Help: "Committed transactions.",
		}),
		TxRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refx_tx_retries_total",
			Help: "Transaction attempts aborted by conflict and retried.",
		}),
		TxBarges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refx_tx_barges_total",
			Help: "Transactions failed after exhausting the retry cap.",
		}),
		AtomRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refx_atom_swap_retries_total",
			Help: "Atom swap attempts that lost the CAS race and re-ran.",
		}),
		AgentActions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refx_agent_actions_total",
			Help: "Agent actions executed, successful or failed.",
		}),
		AgentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refx_agent_failures_total",
			Help: "Agent actions that errored, panicked, or failed validation.",
		}),
		AgentQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "refx_agent_queue_depth",
			Help: "Actions queued across all agents, including in-flight.",
		}),
		WatchPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refx_watch_panics_total",
			Help: "Watch callbacks that panicked and were isolated.",
		}),
	}
}

// Register registers every collector in the bundle.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.TxCommits, m.TxRetries, m.TxBarges,
		m.AtomRetries,
		m.AgentActions, m.AgentFailures, m.AgentQueueDepth,
		m.WatchPanics,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) incTxCommits() {
	if m != nil {
		m.TxCommits.Inc()
	}
}

func (m *Metrics) incTxRetries() {
	if m != nil {
		m.TxRetries.Inc()
	}
}

func (m *Metrics) incTxBarges() {
	if m != nil {
		m.TxBarges.Inc()
	}
}

func (m *Metrics) incAtomRetries() {
	if m != nil {
		m.AtomRetries.Inc()
	}
}

func (m *Metrics) incAgentActions() {
	if m != nil {
		m.AgentActions.Inc()
	}
}

func (m *Metrics) incAgentFailures() {
	if m != nil {
		m.AgentFailures.Inc()
	}
}

func (m *Metrics) addAgentQueueDepth(delta float64) {
	if m != nil {
		m.AgentQueueDepth.Add(delta)
	}
}

func (m *Metrics) incWatchPanics() {
	if m != nil {
		m.WatchPanics.Inc()
	}
}
