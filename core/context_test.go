package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionContext_ApplyTransition(t *testing.T) {
	ec := NewExecutionContext(context.Background(), "geocode")

	ec.ApplyTransition(TransitionSignal{NextRole: "route", Announce: "moving on"}, "geocode")

	assert.Equal(t, "route", ec.Role())
	require.Equal(t, 1, ec.HistoryLen())

	last, ok := ec.LastTurn()
	require.True(t, ok)
	assert.Equal(t, "moving on", last.Text())
	assert.Equal(t, TurnHandler, last.Kind)
}

func TestExecutionContext_SelfTransitionIsNoOp(t *testing.T) {
	ec := NewExecutionContext(context.Background(), "geocode")
	ec.WriteSlot("origin", "116.4,39.9")

	ec.ApplyTransition(TransitionSignal{NextRole: "geocode", Announce: "ignored"}, "geocode")

	assert.Equal(t, "geocode", ec.Role())
	assert.Equal(t, 0, ec.HistoryLen(), "self-transition must not append an announce turn")

	v, ok := ec.ReadSlot("origin")
	require.True(t, ok)
	assert.Equal(t, "116.4,39.9", v)
}

func TestExecutionContext_HistoryAppendOnly(t *testing.T) {
	ec := NewExecutionContext(context.Background(), "geocode")

	ec.Append(NewUserTurn(ec.RequestID, "hello"))
	ec.Append(NewUserTurn(ec.RequestID, "world"))

	h := ec.History()
	require.Len(t, h, 2)

	// Mutating the copy must not affect the context.
	h[0] = Turn{}
	fresh := ec.History()
	assert.Equal(t, "hello", fresh[0].Text())
}

func TestExecutionContext_SlotSemantics(t *testing.T) {
	ec := NewExecutionContext(context.Background(), "geocode")

	require.NoError(t, ec.DeclareSlot("results", SlotAccumulate))
	ec.WriteSlot("results", "a")
	ec.WriteSlot("results", "b")

	v, ok := ec.ReadSlot("results")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v)

	// Replace slots keep only the newest write.
	ec.WriteSlot("origin", "first")
	ec.WriteSlot("origin", "second")
	o, _ := ec.ReadSlot("origin")
	assert.Equal(t, "second", o)

	// Redeclaring with the same semantics is fine, conflicting is not.
	assert.NoError(t, ec.DeclareSlot("results", SlotAccumulate))
	assert.Error(t, ec.DeclareSlot("results", SlotReplace))
}

func TestExecutionContext_AccumulateReadIsCopy(t *testing.T) {
	ec := NewExecutionContext(context.Background(), "geocode")
	require.NoError(t, ec.DeclareSlot("results", SlotAccumulate))
	ec.WriteSlot("results", "a")

	v, _ := ec.ReadSlot("results")
	v.([]any)[0] = "mutated"

	again, _ := ec.ReadSlot("results")
	assert.Equal(t, []any{"a"}, again)
}

func TestExecutionContext_Fork(t *testing.T) {
	ec := NewExecutionContext(context.Background(), "guide", func(o *ContextOptions) {
		o.Branch = "root"
	})
	ec.Append(NewUserTurn(ec.RequestID, "parent turn"))
	ec.WriteSlot("origin", "parent value")

	child := ec.Fork("around_expert", "around_expert", 5)

	assert.Equal(t, "around_expert", child.Role())
	assert.Equal(t, "root.around_expert", child.Branch)
	assert.NotEqual(t, ec.RequestID, child.RequestID)
	assert.Equal(t, 0, child.HistoryLen())

	_, ok := child.ReadSlot("origin")
	assert.False(t, ok, "child must not see parent slots")

	// Child mutations stay in the child.
	child.Append(NewUserTurn(child.RequestID, "child turn"))
	child.WriteSlot("child_only", true)
	assert.Equal(t, 1, ec.HistoryLen())
	_, ok = ec.ReadSlot("child_only")
	assert.False(t, ok)
}

func TestExecutionContext_ForkSharesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ec := NewExecutionContext(ctx, "guide")
	child := ec.Fork("branch", "guide", 0)

	cancel()

	assert.Error(t, child.Err())
}

func TestStepLimiter(t *testing.T) {
	l := NewStepLimiter(2)

	require.NoError(t, l.Increment())
	require.NoError(t, l.Increment())

	err := l.Increment()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepBudgetExceeded))
	assert.Equal(t, 2, l.Count())
}

func TestStepLimiter_Unlimited(t *testing.T) {
	l := NewStepLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Increment())
	}
	assert.Equal(t, -1, l.Remaining())
}

func TestTurn_IsFinal(t *testing.T) {
	final := NewHandlerTurn("req", "geocode", Content{Role: "assistant", Parts: []Part{TextPart{Text: "done"}}})
	assert.True(t, final.IsFinal())

	withCall := NewHandlerTurn("req", "geocode", Content{Role: "assistant", Parts: []Part{
		CapabilityCallPart{CapabilityCall: CapabilityCall{ID: "1", Name: "geocode"}},
	}})
	assert.False(t, withCall.IsFinal())

	result := NewCapabilityResultTurn("req", "geocode", "1", "geocode", "ok", nil)
	assert.False(t, result.IsFinal())
}

func TestNewCapabilityResultTurn_Error(t *testing.T) {
	turn := NewCapabilityResultTurn("req", "route", "c1", "driving_route", nil, errors.New("boom"))

	require.NotNil(t, turn.ErrorMessage)
	assert.Equal(t, "boom", *turn.ErrorMessage)

	results := turn.GetCapabilityResults()
	require.Len(t, results, 1)
	assert.Equal(t, "boom", results[0].Error)
}
