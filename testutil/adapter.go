package testutil

import (
	"time"

	"github.com/comalice/refx"
)

// DispatchAdapter provides a common interface over the two agent
// dispatch paths (bounded Send pool and elastic SendOff pool).
// This allows running the same test suite on both paths.
type DispatchAdapter interface {
	Dispatch(a *refx.Agent, fn refx.Action) error
	WaitForQuiet(timeout time.Duration, agents ...*refx.Agent) bool
}

// SendAdapter dispatches through the bounded pool.
type SendAdapter struct{}

// NewSendAdapter creates an adapter for the bounded Send path.
func NewSendAdapter() *SendAdapter {
	return &SendAdapter{}
}

func (a *SendAdapter) Dispatch(agent *refx.Agent, fn refx.Action) error {
	return agent.Send(fn)
}

func (a *SendAdapter) WaitForQuiet(timeout time.Duration, agents ...*refx.Agent) bool {
	return refx.AwaitFor(timeout, agents...)
}

// SendOffAdapter dispatches through the elastic pool.
type SendOffAdapter struct{}

// NewSendOffAdapter creates an adapter for the elastic SendOff path.
func NewSendOffAdapter() *SendOffAdapter {
	return &SendOffAdapter{}
}

func (a *SendOffAdapter) Dispatch(agent *refx.Agent, fn refx.Action) error {
	return agent.SendOff(fn)
}

func (a *SendOffAdapter) WaitForQuiet(timeout time.Duration, agents ...*refx.Agent) bool {
	return refx.AwaitFor(timeout, agents...)
}
