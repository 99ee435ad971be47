package flow

import (
	"errors"
	"fmt"

	"github.com/hupe1980/geomesh/capability"
	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/engine"
	"github.com/hupe1980/geomesh/handler"
)

// ErrNoFinalTurn is returned when the engine stream ends without producing a
// usable response for a step.
var ErrNoFinalTurn = errors.New("engine produced no final response")

// LoopOptions configures a run loop.
type LoopOptions struct {
	// MaxParallelCalls bounds concurrent capability execution within one
	// step. 0 means one worker per call.
	MaxParallelCalls int
	// MaxHistoryTurns bounds the conversation window presented to the
	// engine. 0 keeps the full history.
	MaxHistoryTurns int
	// Stream requests streamed engine responses where the engine supports it.
	Stream bool
	// Executor overrides the default parallel call executor.
	Executor CallExecutor
}

// Loop is the role-transition run loop. Each iteration resolves the active
// role against the registry at that moment, presents exactly that unit's
// instructions and capabilities to the engine, executes requested capability
// calls and commits at most one staged transition before the next iteration.
type Loop struct {
	registry   *handler.Registry
	engine     engine.Engine
	caps       *capability.Set
	processors []RequestProcessor
	executor   CallExecutor
	opts       LoopOptions
}

// NewLoop constructs a run loop over a handler registry, a reasoning engine
// and the full capability set. Default processors resolve instructions and
// attach history; additional processors can be appended.
func NewLoop(registry *handler.Registry, eng engine.Engine, caps *capability.Set, optFns ...func(o *LoopOptions)) *Loop {
	opts := LoopOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	executor := opts.Executor
	if executor == nil {
		executor = NewParallelCallExecutor(ExecutorConfig{MaxParallel: opts.MaxParallelCalls})
	}

	return &Loop{
		registry: registry,
		engine:   eng,
		caps:     caps,
		processors: []RequestProcessor{
			NewInstructionsProcessor(),
			NewContentsProcessor(opts.MaxHistoryTurns),
		},
		executor: executor,
		opts:     opts,
	}
}

// AddProcessor appends a request processor; order of registration defines
// execution order after the defaults.
func (l *Loop) AddProcessor(p RequestProcessor) {
	l.processors = append(l.processors, p)
}

// Run drives the context until the active role produces a final answer, the
// step budget is exhausted or the context is cancelled. A non-empty query is
// appended as a user turn first. The returned turn is the final answer.
func (l *Loop) Run(ec *core.ExecutionContext, query string) (*core.Turn, error) {
	if query != "" {
		ec.Append(core.NewUserTurn(ec.RequestID, query))
	}

	for {
		if err := ec.Err(); err != nil {
			return nil, err
		}

		final, done, err := l.runStep(ec)
		if err != nil {
			return nil, err
		}
		if done {
			return final, nil
		}
	}
}

// runStep performs one reasoning step: engine call plus any capability batch.
// It returns (finalTurn, true, nil) when the step produced the final answer.
func (l *Loop) runStep(ec *core.ExecutionContext) (*core.Turn, bool, error) {
	// Resolve the role at step start; a transition committed by the previous
	// step must be visible here, so the value is never carried over.
	role := ec.Role()

	unit, err := l.registry.Resolve(role)
	if err != nil {
		return nil, false, err
	}

	if err := ec.Limiter().Increment(); err != nil {
		ec.LogWarn("flow.step.budget", "role", role, "error", err.Error())
		return nil, false, err
	}

	req := &engine.Request{Stream: l.opts.Stream}
	for _, p := range l.processors {
		if err := p.Process(ec, unit, req); err != nil {
			return nil, false, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}

	caps, err := l.stepCapabilities(unit)
	if err != nil {
		return nil, false, err
	}
	req.Capabilities = buildDefinitions(caps)

	ec.LogDebug("flow.step.start", "role", role, "capabilities", len(caps), "step", ec.Limiter().Count())

	resp, err := l.generate(ec, *req)
	if err != nil {
		return nil, false, err
	}

	turn := core.NewHandlerTurn(ec.RequestID, role, resp.Content)
	ec.Append(turn)

	calls := turn.GetCapabilityCalls()
	if len(calls) == 0 {
		ec.LogInfo("flow.step.final", "role", role, "steps", ec.Limiter().Count())
		return &turn, true, nil
	}

	outcomes := l.executor.Execute(ec, role, caps, calls)
	l.commitOutcomes(ec, unit, calls, outcomes)

	return nil, false, nil
}

// stepCapabilities derives the active capability view for a step: the unit's
// declared subset, plus the generic transition capability whenever the unit
// may hand off at all.
func (l *Loop) stepCapabilities(unit handler.Unit) (map[string]capability.Capability, error) {
	caps, err := l.caps.Subset(unit.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("unit %q: %w", unit.Name, err)
	}

	if len(unit.TransitionTargets) > 0 {
		tc := capability.NewTransition()
		if _, exists := caps[tc.Name()]; !exists {
			caps[tc.Name()] = tc
		}
	}

	return caps, nil
}

// generate performs the engine exchange for one step and returns the last
// non-partial response.
func (l *Loop) generate(ec *core.ExecutionContext, req engine.Request) (*engine.Response, error) {
	respCh, errCh := l.engine.Generate(ec.Context, req)

	var final *engine.Response

loop:
	for {
		select {
		case <-ec.Done():
			return nil, ec.Err()
		case resp, ok := <-respCh:
			if !ok {
				break loop
			}
			if !resp.Partial {
				r := resp
				final = &r
			}
		case err, ok := <-errCh:
			if ok && err != nil {
				return nil, fmt.Errorf("engine error: %w", err)
			}
		}
	}

	if final == nil {
		return nil, ErrNoFinalTurn
	}
	return final, nil
}

// commitOutcomes appends result turns in call order and applies at most one
// staged transition. An outcome staging an illegal target is rewritten as a
// failed call; the role stays unchanged for it. When several calls stage
// valid transitions the first wins and the rest are dropped with a warning.
func (l *Loop) commitOutcomes(ec *core.ExecutionContext, unit handler.Unit, calls []core.CapabilityCall, outcomes []CallOutcome) {
	var winner *core.TransitionSignal

	for i, outcome := range outcomes {
		if outcome.Staged != nil {
			target := outcome.Staged.NextRole
			switch {
			case !l.registry.Has(target):
				err := fmt.Errorf("%w: %q", handler.ErrUnknownRole, target)
				outcome.Turn = core.NewCapabilityResultTurn(ec.RequestID, unit.Name, calls[i].ID, calls[i].Name, nil, err)
			case !unit.CanTransitionTo(target):
				err := fmt.Errorf("role %q may not transition to %q", unit.Name, target)
				outcome.Turn = core.NewCapabilityResultTurn(ec.RequestID, unit.Name, calls[i].ID, calls[i].Name, nil, err)
			case winner != nil:
				ec.LogWarn("flow.transition.conflict", "role", unit.Name, "dropped_target", target, "kept_target", winner.NextRole)
			default:
				winner = outcome.Staged
			}
		}

		ec.Append(outcome.Turn)
	}

	if winner != nil {
		ec.ApplyTransition(*winner, unit.Name)
	}
}

// buildDefinitions converts a capability view into engine definitions.
func buildDefinitions(caps map[string]capability.Capability) []engine.Definition {
	if len(caps) == 0 {
		return nil
	}
	defs := make([]engine.Definition, 0, len(caps))
	for _, c := range caps {
		defs = append(defs, engine.Definition{
			Type: "function",
			Function: engine.FunctionDefinition{
				Name:        c.Name(),
				Description: c.Description(),
				Parameters:  c.Parameters(),
			},
		})
	}
	return defs
}
