package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/logging"
)

// CallContext provides a constrained, auditable surface for capability
// implementations invoked by a handler. It exposes the owning execution
// context's auxiliary slots and stages at most one transition signal without
// directly mutating the context; the run loop applies staged signals after
// the capability batch completes. A CallContext is scoped to exactly one
// capability invocation and must never reach into any other execution
// context.
type CallContext struct {
	execCtx *core.ExecutionContext
	callID  string

	mu         sync.Mutex
	transition *core.TransitionSignal

	logger logging.Logger
}

// NewCallContext constructs a call context bound to an owning
// ExecutionContext and unique capability call id.
func NewCallContext(execCtx *core.ExecutionContext, callID string) *CallContext {
	return &CallContext{
		execCtx: execCtx,
		callID:  callID,
		logger:  execCtx.Logger(),
	}
}

// Context returns the cancellation context of the owning execution.
func (cc *CallContext) Context() context.Context { return cc.execCtx.Context }

// RequestID returns the owning request identifier.
func (cc *CallContext) RequestID() string { return cc.execCtx.RequestID }

// Branch returns the owning context's branch label.
func (cc *CallContext) Branch() string { return cc.execCtx.Branch }

// CallID returns the capability call id this context is scoped to.
func (cc *CallContext) CallID() string { return cc.callID }

// Role returns the role that was active when the call was issued.
func (cc *CallContext) Role() string { return cc.execCtx.Role() }

// Logger returns the logger associated with the invocation.
func (cc *CallContext) Logger() logging.Logger { return cc.logger }

// ReadSlot reads an auxiliary slot from the owning context.
func (cc *CallContext) ReadSlot(name string) (any, bool) {
	return cc.execCtx.ReadSlot(name)
}

// WriteSlot writes an auxiliary slot on the owning context honoring its
// declared accumulate/replace semantics.
func (cc *CallContext) WriteSlot(name string, v any) {
	cc.execCtx.WriteSlot(name, v)
}

// DeclareSlot declares an auxiliary slot on the owning context.
func (cc *CallContext) DeclareSlot(name string, semantics core.SlotSemantics) error {
	return cc.execCtx.DeclareSlot(name, semantics)
}

// RequestTransition stages a role handoff for the owning context. A second
// transition request within the same call is rejected: the role changes at
// most once per capability invocation.
func (cc *CallContext) RequestTransition(nextRole, announce string) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.transition != nil {
		return fmt.Errorf("transition already staged for call %s", cc.callID)
	}

	cc.transition = &core.TransitionSignal{NextRole: nextRole, Announce: announce}
	cc.logger.Info("capability.transition.staged", "call_id", cc.callID, "from_role", cc.Role(), "to_role", nextRole)
	return nil
}

// Fork derives an isolated child execution context from the owning context,
// for sub-tasks launched from within this call. The child shares only
// cancellation and logging with the parent; its history and slots start empty.
func (cc *CallContext) Fork(branch, initialRole string, stepBudget int) *core.ExecutionContext {
	return cc.execCtx.Fork(branch, initialRole, stepBudget)
}

// StagedTransition returns the staged transition signal, if any.
func (cc *CallContext) StagedTransition() (core.TransitionSignal, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.transition == nil {
		return core.TransitionSignal{}, false
	}
	return *cc.transition, true
}
