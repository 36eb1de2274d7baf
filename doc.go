// Package refx provides managed references for shared mutable state:
// atoms, vars, refs with software transactional memory, and agents.
//
// Each primitive holds an opaque immutable value and offers a different
// coordination contract:
//
//   - Atom: synchronous, independent, compare-and-swap cell
//   - Var: process-wide root value with goroutine-scoped dynamic rebinding
//   - Ref: coordinated multi-location mutation via optimistic transactions
//   - Agent: asynchronous, serialized mutation queue on pooled workers
//
// Watches attach to atoms, refs, and agents and fire synchronously on the
// mutating goroutine after the new value is visible.
//
// # Example Usage
//
//	rt, _ := refx.New(refx.DefaultConfig())
//	defer rt.Close()
//
//	checking := rt.NewRef(100)
//	savings := rt.NewRef(0)
//
//	err := rt.RunTransaction(func(tx *refx.Tx) error {
//		if err := tx.Alter(checking, func(v any) any { return v.(int) - 25 }); err != nil {
//			return err
//		}
//		return tx.Alter(savings, func(v any) any { return v.(int) + 25 })
//	})
//
// # Choosing a Primitive
//
// Use an Atom when one location changes independently and callers can
// tolerate retried update functions. Use Refs and RunTransaction when
// several locations must change together. Use an Agent when the change
// should happen off the calling goroutine, one action at a time. Use a
// Var for configuration-like values that a goroutine needs to rebind
// for the duration of a scope.
//
// # Purity Requirements
//
// Atom swap functions, transaction bodies, and ref alter/commute
// functions may run more than once. They must not perform irrevocable
// side effects. Route side effects through Agent.Send or Agent.SendOff:
// sends issued inside a transaction are buffered and enqueued exactly
// once, when the transaction commits.
//
// # Ordering Guarantees
//
// Atom operations are linearizable per atom. All ref writes in one
// committed transaction become visible atomically under a single commit
// point; commit points are totally ordered. Actions sent to one agent
// run in submission order, never concurrently with each other; across
// agents there is no ordering guarantee.
//
// # Concurrency Model
//
// There is no event loop. Callers block only in Await/AwaitFor. Swap and
// commit perform bounded internal retry; transaction retry is capped by
// Config.MaxTxRetries and fails with a barge error beyond the cap.
package refx
