package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/engine"
	"github.com/hupe1980/geomesh/handler"
)

type runnerFunc func(parent *core.ExecutionContext, role, query string) (string, error)

func (f runnerFunc) Run(parent *core.ExecutionContext, role, query string) (string, error) {
	return f(parent, role, query)
}

func dispatchRegistry(t *testing.T) *handler.Registry {
	t.Helper()

	registry, err := handler.NewRegistry(
		handler.NewUnit("weather", handler.NewInstructionFromText("You report weather."), func(o *handler.UnitOptions) {
			o.Description = "Weather conditions and forecasts"
		}),
		handler.NewUnit("places", handler.NewInstructionFromText("You find places."), func(o *handler.UnitOptions) {
			o.Description = "Points of interest"
		}),
	)
	require.NoError(t, err)

	return registry
}

func staticClassifier(subs ...SubRequest) Classifier {
	return ClassifierFunc(func(_ *core.ExecutionContext, _ string) ([]SubRequest, error) {
		return subs, nil
	})
}

func joinSynthesizer() Synthesizer {
	return SynthesizerFunc(func(_ *core.ExecutionContext, _ string, results []SubResult) (string, error) {
		parts := make([]string, 0, len(results))
		for _, r := range results {
			if r.Failed {
				parts = append(parts, fmt.Sprintf("%s=FAILED", r.Label))
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", r.Label, r.Content))
		}
		return strings.Join(parts, "; "), nil
	})
}

func TestDispatcher_FanOutFanIn(t *testing.T) {
	registry := dispatchRegistry(t)

	runner := runnerFunc(func(_ *core.ExecutionContext, role, query string) (string, error) {
		return fmt.Sprintf("%s answer to %q", role, query), nil
	})

	d := NewDispatcher(registry,
		staticClassifier(
			SubRequest{Label: "w", TargetRole: "weather", Payload: "weather in Chengdu"},
			SubRequest{Label: "p", TargetRole: "places", Payload: "hotpot nearby"},
		),
		runner, joinSynthesizer())

	ec := core.NewExecutionContext(context.Background(), "weather")
	answer, err := d.Dispatch(ec, "weather and food in Chengdu")
	require.NoError(t, err)
	assert.Equal(t, `w=weather answer to "weather in Chengdu"; p=places answer to "hotpot nearby"`, answer)

	// user turn + dispatcher answer turn
	assert.Equal(t, 2, ec.HistoryLen())

	v, ok := ec.ReadSlot(ResultsSlot)
	require.True(t, ok)
	assert.Len(t, v.([]any), 2)
}

func TestDispatcher_FailedBranchRecorded(t *testing.T) {
	registry := dispatchRegistry(t)

	runner := runnerFunc(func(_ *core.ExecutionContext, role, _ string) (string, error) {
		if role == "places" {
			return "", fmt.Errorf("places service down")
		}
		return "sunny", nil
	})

	var synthesized []SubResult
	synth := SynthesizerFunc(func(_ *core.ExecutionContext, _ string, results []SubResult) (string, error) {
		synthesized = results
		return "partial answer", nil
	})

	d := NewDispatcher(registry,
		staticClassifier(
			SubRequest{Label: "w", TargetRole: "weather", Payload: "weather"},
			SubRequest{Label: "p", TargetRole: "places", Payload: "food"},
		),
		runner, synth)

	ec := core.NewExecutionContext(context.Background(), "weather")
	answer, err := d.Dispatch(ec, "compound query")
	require.NoError(t, err)
	assert.Equal(t, "partial answer", answer)

	// One result per launched branch, the failure marked but kept.
	require.Len(t, synthesized, 2)
	assert.False(t, synthesized[0].Failed)
	assert.Equal(t, "sunny", synthesized[0].Content)
	assert.True(t, synthesized[1].Failed)
	assert.Contains(t, synthesized[1].Error, "places service down")
}

func TestDispatcher_DuplicateLabel(t *testing.T) {
	registry := dispatchRegistry(t)

	var ran atomic.Int32
	runner := runnerFunc(func(_ *core.ExecutionContext, _, _ string) (string, error) {
		ran.Add(1)
		return "", nil
	})

	d := NewDispatcher(registry,
		staticClassifier(
			SubRequest{Label: "dup", TargetRole: "weather", Payload: "a"},
			SubRequest{Label: "dup", TargetRole: "places", Payload: "b"},
		),
		runner, joinSynthesizer())

	ec := core.NewExecutionContext(context.Background(), "weather")
	_, err := d.Dispatch(ec, "query")
	require.ErrorIs(t, err, ErrDuplicateLabel)

	// Validation fails before any branch starts.
	assert.Equal(t, int32(0), ran.Load())
}

func TestDispatcher_UnknownTargetRole(t *testing.T) {
	registry := dispatchRegistry(t)

	d := NewDispatcher(registry,
		staticClassifier(SubRequest{Label: "x", TargetRole: "ghost", Payload: "a"}),
		runnerFunc(func(_ *core.ExecutionContext, _, _ string) (string, error) { return "", nil }),
		joinSynthesizer())

	ec := core.NewExecutionContext(context.Background(), "weather")
	_, err := d.Dispatch(ec, "query")
	assert.ErrorIs(t, err, handler.ErrUnknownRole)
}

func TestDispatcher_EmptyLabel(t *testing.T) {
	registry := dispatchRegistry(t)

	d := NewDispatcher(registry,
		staticClassifier(SubRequest{Label: "", TargetRole: "weather", Payload: "a"}),
		runnerFunc(func(_ *core.ExecutionContext, _, _ string) (string, error) { return "", nil }),
		joinSynthesizer())

	ec := core.NewExecutionContext(context.Background(), "weather")
	_, err := d.Dispatch(ec, "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty label")
}

func TestDispatcher_Fallback(t *testing.T) {
	registry := dispatchRegistry(t)

	d := NewDispatcher(registry,
		staticClassifier(), // no decomposition
		runnerFunc(func(_ *core.ExecutionContext, _, _ string) (string, error) { return "", nil }),
		joinSynthesizer(),
		func(o *Options) {
			o.Fallback = func(_ *core.ExecutionContext, query string) (string, error) {
				return "direct: " + query, nil
			}
		})

	ec := core.NewExecutionContext(context.Background(), "weather")
	answer, err := d.Dispatch(ec, "simple query")
	require.NoError(t, err)
	assert.Equal(t, "direct: simple query", answer)
}

func TestDispatcher_NoFallbackConfigured(t *testing.T) {
	registry := dispatchRegistry(t)

	d := NewDispatcher(registry,
		staticClassifier(),
		runnerFunc(func(_ *core.ExecutionContext, _, _ string) (string, error) { return "", nil }),
		joinSynthesizer())

	ec := core.NewExecutionContext(context.Background(), "weather")
	_, err := d.Dispatch(ec, "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fallback")
}

func TestDispatcher_ConcurrencyLimit(t *testing.T) {
	registry := dispatchRegistry(t)

	var inFlight, peak atomic.Int32
	runner := runnerFunc(func(_ *core.ExecutionContext, _, _ string) (string, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		return "ok", nil
	})

	subs := make([]SubRequest, 6)
	for i := range subs {
		subs[i] = SubRequest{Label: fmt.Sprintf("b%d", i), TargetRole: "weather", Payload: "x"}
	}

	d := NewDispatcher(registry, staticClassifier(subs...), runner, joinSynthesizer(), func(o *Options) {
		o.MaxConcurrency = 2
	})

	ec := core.NewExecutionContext(context.Background(), "weather")
	_, err := d.Dispatch(ec, "query")
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEngineClassifier(t *testing.T) {
	registry := dispatchRegistry(t)

	mock := engine.NewMock("test")
	mock.EnqueueText("Here is the plan:\n```json\n" +
		`[{"label":"w","target_role":"weather","payload":"weather in Chengdu"}]` +
		"\n```")

	c := NewEngineClassifier(registry, mock)
	ec := core.NewExecutionContext(context.Background(), "weather")

	subs, err := c.Classify(ec, "weather?")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "w", subs[0].Label)
	assert.Equal(t, "weather", subs[0].TargetRole)
}

func TestParseSubRequests(t *testing.T) {
	subs, err := parseSubRequests(`[]`)
	require.NoError(t, err)
	assert.Empty(t, subs)

	subs, err = parseSubRequests(`prose before [{"label":"a","target_role":"r","payload":"p"}] prose after`)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "a", subs[0].Label)

	_, err = parseSubRequests("no array here")
	assert.Error(t, err)

	_, err = parseSubRequests(`[{"label":`)
	assert.Error(t, err)
}

func TestEngineSynthesizer(t *testing.T) {
	mock := engine.NewMock("test")
	mock.EnqueueText("combined answer")

	s := NewEngineSynthesizer(mock)
	ec := core.NewExecutionContext(context.Background(), "weather")

	answer, err := s.Synthesize(ec, "query", []SubResult{
		{Label: "w", Role: "weather", Content: "sunny"},
		{Label: "p", Role: "places", Failed: true, Error: "down"},
	})
	require.NoError(t, err)
	assert.Equal(t, "combined answer", answer)
}
