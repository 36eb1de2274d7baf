package refx

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by errors rejected by a validator on an
	// atom, ref, or agent.
	ErrValidation = errors.New("validator rejected value")

	// ErrUnbound is matched by reads of a var with no root and no active
	// binding on the calling goroutine.
	ErrUnbound = errors.New("var is unbound")

	// ErrTransactionConflict is matched by internal conflict errors that
	// trigger an automatic transaction retry. It surfaces to callers only
	// when a transaction body swallows it.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrTransactionBarge is matched when a transaction exhausted its
	// retry cap without committing.
	ErrTransactionBarge = errors.New("transaction retry cap exceeded")

	// ErrAgentAction is matched by errors captured from a failed agent
	// action, as returned by Agent.Errs.
	ErrAgentAction = errors.New("agent action failed")

	// ErrReentrantTransaction is matched when StrictNesting is enabled
	// and RunTransaction is called on a goroutine that already has a
	// live transaction.
	ErrReentrantTransaction = errors.New("transaction already active on this goroutine")

	// ErrRuntimeClosed is matched by operations on a closed runtime.
	ErrRuntimeClosed = errors.New("runtime is closed")
)

// Kind classifies an Error.
type Kind int

const (
	KindValidation Kind = iota
	KindUnbound
	KindTransactionConflict
	KindTransactionBarge
	KindAgentAction
	KindReentrantTransaction
	KindRuntimeClosed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnbound:
		return "unbound"
	case KindTransactionConflict:
		return "transaction-conflict"
	case KindTransactionBarge:
		return "transaction-barge"
	case KindAgentAction:
		return "agent-action"
	case KindReentrantTransaction:
		return "reentrant-transaction"
	case KindRuntimeClosed:
		return "runtime-closed"
	default:
		return "unknown"
	}
}

// Source identifies which primitive produced an Error.
type Source int

const (
	SourceRuntime Source = iota
	SourceAtom
	SourceVar
	SourceRef
	SourceAgent
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceRuntime:
		return "runtime"
	case SourceAtom:
		return "atom"
	case SourceVar:
		return "var"
	case SourceRef:
		return "ref"
	case SourceAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// Error is the single error type shared by all primitives. The Kind and
// Source discriminants replace per-primitive error hierarchies; use
// errors.Is against the package sentinels to match by kind.
type Error struct {
	Kind   Kind
	Source Source
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("refx: %s %s: %s: %v", e.Source, e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("refx: %s %s: %s", e.Source, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is maps kinds onto the package sentinels so that
// errors.Is(err, ErrValidation) and friends work on wrapped errors.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrUnbound:
		return e.Kind == KindUnbound
	case ErrTransactionConflict:
		return e.Kind == KindTransactionConflict
	case ErrTransactionBarge:
		return e.Kind == KindTransactionBarge
	case ErrAgentAction:
		return e.Kind == KindAgentAction
	case ErrReentrantTransaction:
		return e.Kind == KindReentrantTransaction
	case ErrRuntimeClosed:
		return e.Kind == KindRuntimeClosed
	}
	return false
}

func newError(kind Kind, source Source, msg string) *Error {
	return &Error{Kind: kind, Source: source, Msg: msg}
}

func wrapError(kind Kind, source Source, msg string, cause error) *Error {
	return &Error{Kind: kind, Source: source, Msg: msg, Cause: cause}
}
