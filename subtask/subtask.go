// Package subtask runs a handler role to completion inside an isolated child
// execution context. The child starts with an empty history and empty slots,
// shares only cancellation with its parent and returns nothing but its final
// answer text; intermediate reasoning, capability calls and transitions never
// leak upward. A role can also be wrapped as an opaque capability so a parent
// handler delegates to it like any other operation.
package subtask

import (
	"errors"
	"fmt"

	"github.com/hupe1980/geomesh/capability"
	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/engine"
	"github.com/hupe1980/geomesh/flow"
	"github.com/hupe1980/geomesh/handler"
)

// InvokerOptions configures sub-task execution.
type InvokerOptions struct {
	// StepBudget bounds each child's reasoning steps; 0 = unlimited.
	StepBudget int
	// MaxParallelCalls bounds concurrent capability execution within one
	// child step.
	MaxParallelCalls int
	// MaxHistoryTurns bounds the conversation window of each child.
	MaxHistoryTurns int
}

// Invoker launches isolated sub-task executions. It is safe for concurrent
// use; each Run derives a fresh child context and a fresh run loop.
type Invoker struct {
	registry *handler.Registry
	engine   engine.Engine
	caps     *capability.Set
	opts     InvokerOptions
}

// NewInvoker constructs a sub-task invoker over a registry, engine and
// capability set.
func NewInvoker(registry *handler.Registry, eng engine.Engine, caps *capability.Set, optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Invoker{
		registry: registry,
		engine:   eng,
		caps:     caps,
		opts:     opts,
	}
}

// Run executes role against query in a child forked from parent and returns
// only the final answer text. The parent's history and slots are untouched.
// A child that exhausts its step budget fails with an error wrapping
// core.ErrStepBudgetExceeded.
func (inv *Invoker) Run(parent *core.ExecutionContext, role, query string) (string, error) {
	if !inv.registry.Has(role) {
		return "", fmt.Errorf("%w: %q", handler.ErrUnknownRole, role)
	}

	child := parent.Fork(role, role, inv.opts.StepBudget)

	child.LogInfo("subtask.start", "role", role, "branch", child.Branch, "request", child.RequestID)

	final, err := inv.runChild(child, query)
	if err != nil {
		child.LogWarn("subtask.failed", "role", role, "branch", child.Branch, "error", err.Error())
		return "", err
	}

	child.LogInfo("subtask.complete", "role", role, "branch", child.Branch, "steps", child.Limiter().Count())

	return final.Text(), nil
}

func (inv *Invoker) runChild(child *core.ExecutionContext, query string) (*core.Turn, error) {
	loop := flow.NewLoop(inv.registry, inv.engine, inv.caps, func(o *flow.LoopOptions) {
		o.MaxParallelCalls = inv.opts.MaxParallelCalls
		o.MaxHistoryTurns = inv.opts.MaxHistoryTurns
	})

	final, err := loop.Run(child, query)
	if err != nil {
		if errors.Is(err, core.ErrStepBudgetExceeded) {
			return nil, fmt.Errorf("sub-task %q: %w", child.Branch, err)
		}
		return nil, err
	}

	return final, nil
}

// roleCapability exposes a registered role as an opaque capability. The
// engine sees an ordinary operation taking a query and returning text; the
// delegation machinery stays invisible.
type roleCapability struct {
	inv         *Invoker
	role        string
	name        string
	description string
}

// NewCapability wraps role as a capability named name. An empty description
// falls back to the unit's registered description.
func NewCapability(inv *Invoker, role, name, description string) (capability.Capability, error) {
	unit, err := inv.registry.Resolve(role)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = "ask_" + role
	}
	if description == "" {
		description = unit.Description
	}

	return &roleCapability{
		inv:         inv,
		role:        role,
		name:        name,
		description: description,
	}, nil
}

func (r *roleCapability) Name() string { return r.name }

func (r *roleCapability) Description() string { return r.description }

func (r *roleCapability) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The task or question to delegate",
			},
		},
		"required": []string{"query"},
	}
}

func (r *roleCapability) Call(callCtx *capability.CallContext, args map[string]interface{}) (interface{}, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, capability.NewError(r.name, "missing required field 'query'", "VALIDATION_ERROR")
	}

	child := callCtx.Fork(r.role, r.role, r.inv.opts.StepBudget)

	final, err := r.inv.runChild(child, query)
	if err != nil {
		return nil, capability.NewError(r.name, err.Error(), "EXECUTION_ERROR")
	}

	return final.Text(), nil
}
