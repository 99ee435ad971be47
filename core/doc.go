// Package core defines the shared data model of the geomesh control plane:
// execution contexts, turn history, content parts, transition signals and
// step budgets.
//
// The central type is ExecutionContext, the mutable record threaded through a
// single top-level request. A context owns an append-only history of turns
// (user input, handler output, capability results), exactly one active role
// identifier, and a set of auxiliary slots with declared accumulate/replace
// write semantics. Contexts are never shared by reference across concurrent
// executions; Fork derives isolated children for dispatch branches and
// sub-tasks while keeping cancellation transitive.
package core
