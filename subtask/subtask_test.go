package subtask

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geomesh/capability"
	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/engine"
	"github.com/hupe1980/geomesh/handler"
)

func testSetup(t *testing.T) (*handler.Registry, *capability.Set) {
	t.Helper()

	registry, err := handler.NewRegistry(
		handler.NewUnit("guide", handler.NewInstructionFromText("You coordinate specialists.")),
		handler.NewUnit("around_expert", handler.NewInstructionFromText("You find nearby places."), func(o *handler.UnitOptions) {
			o.Description = "Finds points of interest near a location"
		}),
	)
	require.NoError(t, err)

	caps, err := capability.NewSet()
	require.NoError(t, err)

	return registry, caps
}

func TestInvoker_Run(t *testing.T) {
	registry, caps := testSetup(t)

	mock := engine.NewMock("test")
	mock.EnqueueText("Three tea houses near West Lake")

	inv := NewInvoker(registry, mock, caps)
	parent := core.NewExecutionContext(context.Background(), "guide")
	parent.Append(core.NewUserTurn(parent.RequestID, "original request"))

	answer, err := inv.Run(parent, "around_expert", "tea houses near West Lake")
	require.NoError(t, err)
	assert.Equal(t, "Three tea houses near West Lake", answer)
}

func TestInvoker_ParentStateUntouched(t *testing.T) {
	registry, caps := testSetup(t)

	mock := engine.NewMock("test")
	mock.EnqueueText("done")

	inv := NewInvoker(registry, mock, caps)
	parent := core.NewExecutionContext(context.Background(), "guide")
	parent.Append(core.NewUserTurn(parent.RequestID, "original request"))
	require.NoError(t, parent.DeclareSlot("notes", core.SlotReplace))
	parent.WriteSlot("notes", "keep me")

	_, err := inv.Run(parent, "around_expert", "anything")
	require.NoError(t, err)

	// The child's turns and any slot writes never reach the parent.
	assert.Equal(t, 1, parent.HistoryLen())
	assert.Equal(t, "guide", parent.Role())

	v, ok := parent.ReadSlot("notes")
	require.True(t, ok)
	assert.Equal(t, "keep me", v)
}

func TestInvoker_UnknownRole(t *testing.T) {
	registry, caps := testSetup(t)

	inv := NewInvoker(registry, engine.NewMock("test"), caps)
	parent := core.NewExecutionContext(context.Background(), "guide")

	_, err := inv.Run(parent, "ghost", "anything")
	assert.ErrorIs(t, err, handler.ErrUnknownRole)
}

func TestInvoker_StepBudgetExhausted(t *testing.T) {
	registry, err := handler.NewRegistry(
		handler.NewUnit("guide", handler.NewInstructionFromText("coordinate")),
		handler.NewUnit("busy", handler.NewInstructionFromText("work hard"), func(o *handler.UnitOptions) {
			o.Capabilities = []string{"noop"}
		}),
	)
	require.NoError(t, err)

	noop := capability.NewFunc("noop", "Does nothing",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *capability.CallContext, _ map[string]any) (any, error) { return "ok", nil })
	caps, err := capability.NewSet(noop)
	require.NoError(t, err)

	mock := engine.NewMock("test")
	mock.EnqueueCall("noop", `{}`)
	mock.EnqueueCall("noop", `{}`)
	mock.EnqueueText("never reached")

	inv := NewInvoker(registry, mock, caps, func(o *InvokerOptions) {
		o.StepBudget = 2
	})
	parent := core.NewExecutionContext(context.Background(), "guide")

	_, err = inv.Run(parent, "busy", "grind")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStepBudgetExceeded))

	// The exhausted child must not poison the parent's own budget.
	assert.Equal(t, 0, parent.Limiter().Count())
}

func TestNewCapability(t *testing.T) {
	registry, caps := testSetup(t)
	inv := NewInvoker(registry, engine.NewMock("test"), caps)

	c, err := NewCapability(inv, "around_expert", "", "")
	require.NoError(t, err)
	assert.Equal(t, "ask_around_expert", c.Name())
	assert.Equal(t, "Finds points of interest near a location", c.Description())

	_, err = NewCapability(inv, "ghost", "", "")
	assert.ErrorIs(t, err, handler.ErrUnknownRole)
}

func TestRoleCapability_Call(t *testing.T) {
	registry, caps := testSetup(t)

	mock := engine.NewMock("test")
	mock.EnqueueText("delegated answer")

	inv := NewInvoker(registry, mock, caps)
	c, err := NewCapability(inv, "around_expert", "find_places", "Find places")
	require.NoError(t, err)

	parent := core.NewExecutionContext(context.Background(), "guide")
	cc := capability.NewCallContext(parent, core.NewID())

	result, err := c.Call(cc, map[string]any{"query": "parks in Chengdu"})
	require.NoError(t, err)
	assert.Equal(t, "delegated answer", result)

	assert.Equal(t, 0, parent.HistoryLen())
}

func TestRoleCapability_MissingQuery(t *testing.T) {
	registry, caps := testSetup(t)
	inv := NewInvoker(registry, engine.NewMock("test"), caps)

	c, err := NewCapability(inv, "around_expert", "", "")
	require.NoError(t, err)

	parent := core.NewExecutionContext(context.Background(), "guide")
	cc := capability.NewCallContext(parent, core.NewID())

	_, err = c.Call(cc, map[string]any{})
	require.Error(t, err)

	var capErr *capability.Error
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, "VALIDATION_ERROR", capErr.Code)
}
