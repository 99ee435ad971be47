package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/geomesh/logging"
)

// SlotSemantics declares the write rule for an auxiliary slot.
type SlotSemantics int

const (
	// SlotReplace slots are always overwritten by the newest write.
	SlotReplace SlotSemantics = iota
	// SlotAccumulate slots are append-only lists; a write never displaces
	// earlier values within the same top-level request.
	SlotAccumulate
)

// TransitionSignal is the result of a transition capability invocation.
// Applying it to an ExecutionContext is the only legal way the active role
// changes.
type TransitionSignal struct {
	NextRole string // Target role identifier
	Announce string // Optional synthetic history entry announcing the handoff
}

// ExecutionContext is the mutable record threaded through a single top-level
// request (or one isolated sub-task, or one dispatched branch). It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (RequestID, Branch)
//   - The current role, mutated only via ApplyTransition
//   - The append-only turn history
//   - Auxiliary slots with declared accumulate/replace write semantics
//   - The per-context step budget
//
// An ExecutionContext is owned by exactly one execution. It is never shared
// by reference across concurrent dispatch branches; use Fork to derive a
// fresh child for a branch or an isolated sub-task. The run loop drives one
// context strictly sequentially, but capability implementations executed in
// parallel within one step may touch auxiliary slots, so slot and history
// access is guarded internally.
type ExecutionContext struct {
	Context   context.Context
	RequestID string
	Branch    string

	mu      sync.RWMutex
	role    string
	history []Turn
	slots   map[string]*auxSlot

	limiter *StepLimiter

	*loggerAdapter
}

type auxSlot struct {
	semantics SlotSemantics
	value     any   // replace slots
	values    []any // accumulate slots
}

// ContextOptions configures a new ExecutionContext.
type ContextOptions struct {
	// RequestID identifies the top-level request; generated if empty.
	RequestID string
	// Branch labels this context within a hierarchical execution (dispatch
	// branches, subtask children). Empty for top-level contexts.
	Branch string
	// StepBudget bounds the number of reasoning-engine steps; 0 = unlimited.
	StepBudget int
	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
}

// NewExecutionContext constructs a context starting at initialRole with an
// empty history and no declared slots.
func NewExecutionContext(ctx context.Context, initialRole string, optFns ...func(o *ContextOptions)) *ExecutionContext {
	opts := ContextOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RequestID == "" {
		opts.RequestID = NewID()
	}

	return &ExecutionContext{
		Context:       ctx,
		RequestID:     opts.RequestID,
		Branch:        opts.Branch,
		role:          initialRole,
		history:       []Turn{},
		slots:         map[string]*auxSlot{},
		limiter:       NewStepLimiter(opts.StepBudget),
		loggerAdapter: newLoggerAdapter(opts.Logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (ec *ExecutionContext) Done() <-chan struct{} { return ec.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (ec *ExecutionContext) Err() error { return ec.Context.Err() }

// Role returns the currently active role identifier. Callers must not cache
// the value across reasoning steps; resolve it immediately before use.
func (ec *ExecutionContext) Role() string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.role
}

// ApplyTransition commits a TransitionSignal: the role changes exactly once
// and an optional announce turn is appended. A self-transition (target equals
// the current role) is a legal no-op leaving history and slots untouched.
// Target existence is validated by the run loop against its registry before
// this is called.
func (ec *ExecutionContext) ApplyTransition(sig TransitionSignal, author string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if sig.NextRole == ec.role {
		return
	}

	prev := ec.role
	ec.role = sig.NextRole

	if sig.Announce != "" {
		ec.history = append(ec.history, NewAnnounceTurn(ec.RequestID, author, sig.Announce))
	}

	ec.LogInfo("context.transition", "request", ec.RequestID, "from_role", prev, "to_role", sig.NextRole)
}

// Append adds a turn to the history. History is monotonically append-only;
// no turn is ever deleted or mutated after being appended.
func (ec *ExecutionContext) Append(t Turn) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.history = append(ec.history, t)
}

// History returns a defensive copy of the full turn history.
func (ec *ExecutionContext) History() []Turn {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]Turn, len(ec.history))
	copy(out, ec.history)
	return out
}

// HistoryLen returns the current number of turns.
func (ec *ExecutionContext) HistoryLen() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return len(ec.history)
}

// LastTurn returns the most recent turn and true, or a zero turn and false
// for an empty history.
func (ec *ExecutionContext) LastTurn() (Turn, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if len(ec.history) == 0 {
		return Turn{}, false
	}
	return ec.history[len(ec.history)-1], true
}

// DeclareSlot registers an auxiliary slot with explicit write semantics.
// Redeclaring a slot with different semantics is an error; redeclaring with
// identical semantics is a no-op.
func (ec *ExecutionContext) DeclareSlot(name string, semantics SlotSemantics) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if existing, ok := ec.slots[name]; ok {
		if existing.semantics != semantics {
			return fmt.Errorf("slot %q already declared with different semantics", name)
		}
		return nil
	}

	ec.slots[name] = &auxSlot{semantics: semantics}
	return nil
}

// WriteSlot writes a value honoring the slot's declared semantics: replace
// slots are overwritten, accumulate slots append. Writing an undeclared slot
// implicitly declares it with replace semantics.
func (ec *ExecutionContext) WriteSlot(name string, v any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	slot, ok := ec.slots[name]
	if !ok {
		slot = &auxSlot{semantics: SlotReplace}
		ec.slots[name] = slot
	}

	switch slot.semantics {
	case SlotAccumulate:
		slot.values = append(slot.values, v)
	default:
		slot.value = v
	}
}

// ReadSlot returns the slot value and an existence flag. For accumulate slots
// the value is a defensive copy of the accumulated list.
func (ec *ExecutionContext) ReadSlot(name string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	slot, ok := ec.slots[name]
	if !ok {
		return nil, false
	}

	if slot.semantics == SlotAccumulate {
		out := make([]any, len(slot.values))
		copy(out, slot.values)
		return out, true
	}

	return slot.value, true
}

// Aux returns a snapshot of all slots as a plain map, suitable for rendering
// instruction templates. Accumulate slots appear as copied lists.
func (ec *ExecutionContext) Aux() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	out := make(map[string]any, len(ec.slots))
	for name, slot := range ec.slots {
		if slot.semantics == SlotAccumulate {
			values := make([]any, len(slot.values))
			copy(values, slot.values)
			out[name] = values
			continue
		}
		out[name] = slot.value
	}
	return out
}

// Limiter returns the per-context step limiter.
func (ec *ExecutionContext) Limiter() *StepLimiter { return ec.limiter }

// Fork derives a fresh child context for an isolated sub-task or a dispatch
// branch: empty history, empty slots, its own step budget, the given initial
// role and branch label. The child shares only the parent's cancellation
// context and logger, so cancelling the parent cancels all descendants while
// no state is shared by reference.
func (ec *ExecutionContext) Fork(branch, initialRole string, stepBudget int) *ExecutionContext {
	return &ExecutionContext{
		Context:       ec.Context,
		RequestID:     NewID(),
		Branch:        buildBranchPath(ec.Branch, branch),
		role:          initialRole,
		history:       []Turn{},
		slots:         map[string]*auxSlot{},
		limiter:       NewStepLimiter(stepBudget),
		loggerAdapter: ec.loggerAdapter,
	}
}

// buildBranchPath joins hierarchical branch labels with a dot separator.
func buildBranchPath(parent, child string) string {
	if parent == "" {
		return child
	}
	if child == "" {
		return parent
	}
	return parent + "." + child
}
