// Package geomesh provides a high-level façade over the control-plane
// packages (handler registry, run loop, sub-tasks, dispatch, memory &
// logging) enabling rapid construction of role-switching assistants. Most
// applications interact with this package by:
//  1. Creating a Mesh via New() with a handler registry, reasoning engine
//     and capability set
//  2. Running top-level requests (Run), isolated sub-tasks (RunSubtask) or
//     fan-out rounds (Dispatch)
//
// All defaults are safe for local development and testing; production
// deployments typically supply a persistent memory store and a structured
// logger.
package geomesh

import (
	"context"

	"github.com/hupe1980/geomesh/capability"
	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/dispatch"
	"github.com/hupe1980/geomesh/engine"
	"github.com/hupe1980/geomesh/flow"
	"github.com/hupe1980/geomesh/handler"
	"github.com/hupe1980/geomesh/logging"
	"github.com/hupe1980/geomesh/memory"
	"github.com/hupe1980/geomesh/subtask"
)

// Options configures a Mesh instance.
type Options struct {
	// StepBudget bounds reasoning steps per top-level request; 0 = unlimited.
	StepBudget int
	// SubtaskStepBudget bounds reasoning steps per sub-task; 0 = unlimited.
	SubtaskStepBudget int
	// MaxParallelCalls bounds concurrent capability execution within a step.
	MaxParallelCalls int
	// MaxHistoryTurns bounds the conversation window; 0 keeps everything.
	MaxHistoryTurns int
	// DispatchConcurrency bounds concurrent dispatch branches; 0 = unbounded.
	DispatchConcurrency int

	// MemoryStore holds cross-request state (defaults to in-memory).
	MemoryStore memory.Store
	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the registry, engine and
// capability set behind simple request entry points.
type Mesh struct {
	registry *handler.Registry
	engine   engine.Engine
	caps     *capability.Set
	invoker  *subtask.Invoker
	opts     Options
}

// New creates a new Mesh. The registry, engine and capability set are
// mandatory; everything else has working defaults.
func New(registry *handler.Registry, eng engine.Engine, caps *capability.Set, optFns ...func(o *Options)) *Mesh {
	opts := Options{
		MemoryStore: memory.NewInMemoryStore(),
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	invoker := subtask.NewInvoker(registry, eng, caps, func(o *subtask.InvokerOptions) {
		o.StepBudget = opts.SubtaskStepBudget
		o.MaxParallelCalls = opts.MaxParallelCalls
		o.MaxHistoryTurns = opts.MaxHistoryTurns
	})

	return &Mesh{
		registry: registry,
		engine:   eng,
		caps:     caps,
		invoker:  invoker,
		opts:     opts,
	}
}

// Registry returns the handler registry.
func (m *Mesh) Registry() *handler.Registry { return m.registry }

// Capabilities returns the full capability set.
func (m *Mesh) Capabilities() *capability.Set { return m.caps }

// Memory returns the cross-request memory store.
func (m *Mesh) Memory() memory.Store { return m.opts.MemoryStore }

// Invoker returns the sub-task invoker, e.g. for wrapping roles as
// capabilities via subtask.NewCapability.
func (m *Mesh) Invoker() *subtask.Invoker { return m.invoker }

// NewContext creates a fresh top-level execution context starting in the
// registry's default role.
func (m *Mesh) NewContext(ctx context.Context) *core.ExecutionContext {
	return core.NewExecutionContext(ctx, m.registry.DefaultRole(), func(o *core.ContextOptions) {
		o.StepBudget = m.opts.StepBudget
		o.Logger = m.opts.Logger
	})
}

// Run drives one top-level request to completion and returns the final
// answer text. The context carries the conversation state; reuse it across
// Run calls for multi-turn conversations.
func (m *Mesh) Run(ec *core.ExecutionContext, query string) (string, error) {
	loop := flow.NewLoop(m.registry, m.engine, m.caps, func(o *flow.LoopOptions) {
		o.MaxParallelCalls = m.opts.MaxParallelCalls
		o.MaxHistoryTurns = m.opts.MaxHistoryTurns
	})

	final, err := loop.Run(ec, query)
	if err != nil {
		return "", err
	}

	return final.Text(), nil
}

// RunSubtask executes role against query in an isolated child of parent and
// returns only the final answer text.
func (m *Mesh) RunSubtask(parent *core.ExecutionContext, role, query string) (string, error) {
	return m.invoker.Run(parent, role, query)
}

// Dispatch runs a full fan-out / fan-in round using engine-backed
// classification and synthesis over the registered roles. Branches execute
// as isolated sub-tasks; when classification yields no sub-requests the
// query is answered directly by the default role.
func (m *Mesh) Dispatch(ec *core.ExecutionContext, query string) (string, error) {
	d := dispatch.NewDispatcher(
		m.registry,
		dispatch.NewEngineClassifier(m.registry, m.engine),
		m.invoker,
		dispatch.NewEngineSynthesizer(m.engine),
		func(o *dispatch.Options) {
			o.MaxConcurrency = m.opts.DispatchConcurrency
			o.Fallback = func(ec *core.ExecutionContext, query string) (string, error) {
				return m.invoker.Run(ec, m.registry.DefaultRole(), query)
			}
		},
	)

	return d.Dispatch(ec, query)
}
