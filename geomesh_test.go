package geomesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geomesh/capability"
	"github.com/hupe1980/geomesh/dispatch"
	"github.com/hupe1980/geomesh/engine"
	"github.com/hupe1980/geomesh/handler"
)

func newTestMesh(t *testing.T, mock *engine.Mock) *Mesh {
	t.Helper()

	registry, err := handler.NewRegistry(
		handler.NewUnit("guide", handler.NewInstructionFromText("You coordinate maps assistance."), func(o *handler.UnitOptions) {
			o.Description = "General maps assistant"
			o.TransitionTargets = []string{"weather"}
		}),
		handler.NewUnit("weather", handler.NewInstructionFromText("You answer weather questions."), func(o *handler.UnitOptions) {
			o.Description = "Weather conditions and forecasts"
		}),
	)
	require.NoError(t, err)

	caps, err := capability.NewSet()
	require.NoError(t, err)

	return New(registry, mock, caps, func(o *Options) {
		o.StepBudget = 10
		o.SubtaskStepBudget = 5
	})
}

func TestMesh_Run(t *testing.T) {
	mock := engine.NewMock("test")
	mock.EnqueueText("It is sunny in Chengdu")

	mesh := newTestMesh(t, mock)
	ec := mesh.NewContext(context.Background())
	assert.Equal(t, "guide", ec.Role())

	answer, err := mesh.Run(ec, "How is the weather?")
	require.NoError(t, err)
	assert.Equal(t, "It is sunny in Chengdu", answer)
}

func TestMesh_RunWithTransition(t *testing.T) {
	mock := engine.NewMock("test")
	mock.EnqueueCall("transition_to_role", `{"role":"weather"}`)
	mock.EnqueueText("22 degrees and clear")

	mesh := newTestMesh(t, mock)
	ec := mesh.NewContext(context.Background())

	answer, err := mesh.Run(ec, "Weather in Chengdu?")
	require.NoError(t, err)
	assert.Equal(t, "22 degrees and clear", answer)
	assert.Equal(t, "weather", ec.Role())
}

func TestMesh_RunSubtask(t *testing.T) {
	mock := engine.NewMock("test")
	mock.EnqueueText("sub-task answer")

	mesh := newTestMesh(t, mock)
	ec := mesh.NewContext(context.Background())

	answer, err := mesh.RunSubtask(ec, "weather", "forecast for tomorrow")
	require.NoError(t, err)
	assert.Equal(t, "sub-task answer", answer)
	assert.Equal(t, 0, ec.HistoryLen())
}

func TestMesh_Dispatch(t *testing.T) {
	mock := engine.NewMock("test")
	// Classifier answer, then one branch, then the synthesizer answer.
	mock.EnqueueText(`[{"label":"w","target_role":"weather","payload":"weather in Chengdu"}]`)
	mock.EnqueueText("sunny, 22 degrees")
	mock.EnqueueText("It is sunny and 22 degrees in Chengdu.")

	mesh := newTestMesh(t, mock)
	ec := mesh.NewContext(context.Background())

	answer, err := mesh.Dispatch(ec, "How is the weather in Chengdu?")
	require.NoError(t, err)
	assert.Equal(t, "It is sunny and 22 degrees in Chengdu.", answer)

	results, ok := ec.ReadSlot(dispatch.ResultsSlot)
	require.True(t, ok)
	require.Len(t, results.([]any), 1)

	res := results.([]any)[0].(dispatch.SubResult)
	assert.Equal(t, "w", res.Label)
	assert.Equal(t, "weather", res.Role)
	assert.False(t, res.Failed)
}

func TestMesh_DispatchFallback(t *testing.T) {
	mock := engine.NewMock("test")
	mock.EnqueueText(`[]`)
	mock.EnqueueText("direct answer from the default role")

	mesh := newTestMesh(t, mock)
	ec := mesh.NewContext(context.Background())

	answer, err := mesh.Dispatch(ec, "simple question")
	require.NoError(t, err)
	assert.Equal(t, "direct answer from the default role", answer)
}

func TestMesh_Memory(t *testing.T) {
	mesh := newTestMesh(t, engine.NewMock("test"))

	require.NoError(t, mesh.Memory().Put("conv-1", map[string]any{"home": "104.07,30.66"}))

	kv, err := mesh.Memory().Get("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "104.07,30.66", kv["home"])
}
