package refx

import "sync"

// Var holds a process-wide root value plus, per goroutine, an optional
// stack of rebindings. Deref resolves to the top of the calling
// goroutine's stack, falling back to the root. A goroutine never
// observes another goroutine's rebindings; in particular, goroutines
// spawned inside a binding scope read the root, not the pushed value.
// Work that must see a binding has to complete before the scope exits.
type Var struct {
	rt    *Runtime
	mu    sync.RWMutex
	root  any
	bound bool

	// stacks maps goroutine id to that goroutine's binding stack. Each
	// stack is only ever touched by its owning goroutine; the map itself
	// is shared, hence sync.Map.
	stacks sync.Map // uint64 -> []any
}

// Binding pairs a var with the value to push for a WithBindings scope.
type Binding struct {
	Var   *Var
	Value any
}

// NewVar creates a var whose root is initial.
func (rt *Runtime) NewVar(initial any) *Var {
	return &Var{rt: rt, root: initial, bound: true}
}

// NewUnboundVar creates a var with no root. Deref fails until SetRoot
// is called or a binding scope is active on the calling goroutine.
func (rt *Runtime) NewUnboundVar() *Var {
	return &Var{rt: rt}
}

// SetRoot sets or overwrites the process-wide root, visible to all
// goroutines.
func (v *Var) SetRoot(val any) {
	v.mu.Lock()
	v.root = val
	v.bound = true
	v.mu.Unlock()
}

// Deref returns the top of the calling goroutine's binding stack, else
// the root. It fails with an unbound error when neither exists.
func (v *Var) Deref() (any, error) {
	if s, ok := v.stacks.Load(gid()); ok {
		stack := s.([]any)
		if len(stack) > 0 {
			return stack[len(stack)-1], nil
		}
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.bound {
		return nil, newError(KindUnbound, SourceVar, "no root value and no active binding")
	}
	return v.root, nil
}

// WithBinding runs body with val pushed on the calling goroutine's
// stack for this var. The pop is guaranteed on every exit path,
// including panics. Nesting is legal; the innermost push wins.
func (v *Var) WithBinding(val any, body func() error) error {
	return WithBindings([]Binding{{Var: v, Value: val}}, body)
}

// WithBindings pushes every binding, runs body, and pops them in
// reverse order on every exit path. This is the only way bindings are
// exposed; there is no unbalanced push.
func WithBindings(bindings []Binding, body func() error) error {
	g := gid()
	for _, b := range bindings {
		b.Var.push(g, b.Value)
	}
	defer func() {
		for i := len(bindings) - 1; i >= 0; i-- {
			bindings[i].Var.pop(g)
		}
	}()
	return body()
}

func (v *Var) push(g uint64, val any) {
	var stack []any
	if s, ok := v.stacks.Load(g); ok {
		stack = s.([]any)
	}
	v.stacks.Store(g, append(stack, val))
}

func (v *Var) pop(g uint64) {
	s, ok := v.stacks.Load(g)
	if !ok {
		return
	}
	stack := s.([]any)
	if len(stack) <= 1 {
		v.stacks.Delete(g)
		return
	}
	v.stacks.Store(g, stack[:len(stack)-1])
}
