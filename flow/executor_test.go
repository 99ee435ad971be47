package flow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geomesh/capability"
	"github.com/hupe1980/geomesh/core"
)

func echoCapability(name string) capability.Capability {
	return capability.NewFunc(name, "Echo back the input",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"v": map[string]any{"type": "string"}},
		},
		func(_ *capability.CallContext, args map[string]any) (any, error) {
			return args["v"], nil
		})
}

func TestParallelCallExecutor_OrderPreserved(t *testing.T) {
	caps := map[string]capability.Capability{"echo": echoCapability("echo")}

	var calls []core.CapabilityCall
	for i := 0; i < 8; i++ {
		calls = append(calls, core.CapabilityCall{
			ID:        core.NewID(),
			Name:      "echo",
			Arguments: fmt.Sprintf(`{"v":"%d"}`, i),
		})
	}

	ec := core.NewExecutionContext(context.Background(), "geocode")
	executor := NewParallelCallExecutor(ExecutorConfig{MaxParallel: 3})

	outcomes := executor.Execute(ec, "geocode", caps, calls)
	require.Len(t, outcomes, 8)

	for i, outcome := range outcomes {
		results := outcome.Turn.GetCapabilityResults()
		require.Len(t, results, 1)
		assert.Equal(t, calls[i].ID, results[0].ID)
		assert.Equal(t, fmt.Sprintf("%d", i), results[0].Response)
	}
}

func TestParallelCallExecutor_SingleCall(t *testing.T) {
	caps := map[string]capability.Capability{"echo": echoCapability("echo")}
	ec := core.NewExecutionContext(context.Background(), "geocode")

	outcomes := NewParallelCallExecutor(ExecutorConfig{}).Execute(ec, "geocode", caps, []core.CapabilityCall{
		{ID: "c1", Name: "echo", Arguments: `{"v":"hi"}`},
	})
	require.Len(t, outcomes, 1)

	results := outcomes[0].Turn.GetCapabilityResults()
	require.Len(t, results, 1)
	assert.Equal(t, "hi", results[0].Response)
	assert.Nil(t, outcomes[0].Staged)
}

func TestParallelCallExecutor_PanicRecovered(t *testing.T) {
	panicking := capability.NewFunc("boom", "Panics",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *capability.CallContext, _ map[string]any) (any, error) {
			panic("unexpected state")
		})
	caps := map[string]capability.Capability{"boom": panicking}

	ec := core.NewExecutionContext(context.Background(), "geocode")
	outcomes := NewParallelCallExecutor(ExecutorConfig{}).Execute(ec, "geocode", caps, []core.CapabilityCall{
		{ID: "c1", Name: "boom", Arguments: `{}`},
	})
	require.Len(t, outcomes, 1)

	require.NotNil(t, outcomes[0].Turn.ErrorMessage)
	assert.Contains(t, *outcomes[0].Turn.ErrorMessage, "panic recovered")
}

func TestParallelCallExecutor_StagedDroppedOnError(t *testing.T) {
	// A capability that stages a transition and then fails must not surface
	// the staged signal.
	staging := capability.NewFunc("flaky", "Stages then fails",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(cc *capability.CallContext, _ map[string]any) (any, error) {
			if err := cc.RequestTransition("route", ""); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("downstream failure")
		})
	caps := map[string]capability.Capability{"flaky": staging}

	ec := core.NewExecutionContext(context.Background(), "geocode")
	outcomes := NewParallelCallExecutor(ExecutorConfig{}).Execute(ec, "geocode", caps, []core.CapabilityCall{
		{ID: "c1", Name: "flaky", Arguments: `{}`},
	})
	require.Len(t, outcomes, 1)
	assert.Nil(t, outcomes[0].Staged)
	assert.NotNil(t, outcomes[0].Turn.ErrorMessage)
}

func TestParallelCallExecutor_MalformedArguments(t *testing.T) {
	caps := map[string]capability.Capability{"echo": echoCapability("echo")}
	ec := core.NewExecutionContext(context.Background(), "geocode")

	outcomes := NewParallelCallExecutor(ExecutorConfig{}).Execute(ec, "geocode", caps, []core.CapabilityCall{
		{ID: "c1", Name: "echo", Arguments: `{not json`},
	})
	require.Len(t, outcomes, 1)
	require.NotNil(t, outcomes[0].Turn.ErrorMessage)
	assert.Contains(t, *outcomes[0].Turn.ErrorMessage, "unmarshal")
}

func TestParallelCallExecutor_EmptyBatch(t *testing.T) {
	ec := core.NewExecutionContext(context.Background(), "geocode")
	outcomes := NewParallelCallExecutor(ExecutorConfig{}).Execute(ec, "geocode", nil, nil)
	assert.Nil(t, outcomes)
}
