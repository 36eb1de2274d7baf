package refx

import (
	"io"

	"gopkg.in/yaml.v3"
)

// Snapshot is a point-in-time debug dump of a runtime and any refs and
// agents the caller passes in. It is diagnostic only: the values are
// read individually and do not form a consistent cut unless taken
// inside a transaction-free quiescent period.
type Snapshot struct {
	Clock      uint64          `yaml:"clock"`
	ActiveTxns int             `yaml:"active_txns"`
	Refs       []RefSnapshot   `yaml:"refs,omitempty"`
	Agents     []AgentSnapshot `yaml:"agents,omitempty"`
}

// RefSnapshot describes one ref.
type RefSnapshot struct {
	ID          string `yaml:"id"`
	Value       any    `yaml:"value"`
	Point       uint64 `yaml:"point"`
	Generations int    `yaml:"generations"`
}

// AgentSnapshot describes one agent.
type AgentSnapshot struct {
	ID         string `yaml:"id"`
	Value      any    `yaml:"value"`
	QueueDepth int    `yaml:"queue_depth"`
	Failed     bool   `yaml:"failed"`
}

// Snapshot captures the runtime's clock and live-transaction count plus
// the state of the given refs and agents.
func (rt *Runtime) Snapshot(refs []*Ref, agents []*Agent) Snapshot {
	rt.txMu.Lock()
	s := Snapshot{
		Clock:      rt.clock.Load(),
		ActiveTxns: len(rt.txns),
	}
	rt.txMu.Unlock()

	for _, r := range refs {
		gen := r.latest()
		r.mu.RLock()
		n := len(r.hist)
		r.mu.RUnlock()
		s.Refs = append(s.Refs, RefSnapshot{
			ID:          r.id.String(),
			Value:       gen.value,
			Point:       gen.point,
			Generations: n,
		})
	}
	for _, a := range agents {
		a.mu.Lock()
		s.Agents = append(s.Agents, AgentSnapshot{
			ID:         a.id.String(),
			Value:      a.value,
			QueueDepth: len(a.queue),
			Failed:     len(a.errs) > 0,
		})
		a.mu.Unlock()
	}
	return s
}

// WriteYAML serializes the snapshot as YAML.
func (s Snapshot) WriteYAML(w io.Writer) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
