package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geomesh/capability"
	"github.com/hupe1980/geomesh/core"
)

func TestCapabilities_RegisterAsSet(t *testing.T) {
	client := NewClient("test-key")

	caps, err := capability.NewSet(Capabilities(client)...)
	require.NoError(t, err)

	names := caps.Names()
	for _, want := range []string{
		"district_search", "around_search", "polygon_search", "id_search",
		"geocode", "regeocode", "weather_query",
		"driving_route", "walking_route", "transit_route", "calculate_distance",
	} {
		assert.True(t, names[want], "missing capability %s", want)
	}
}

func TestWeatherCapability_Call(t *testing.T) {
	client, last := newTestClient(t, `{"status":"1","info":"OK","infocode":"10000","lives":[{"weather":"Sunny"}]}`)

	ec := core.NewExecutionContext(context.Background(), "weather")
	cc := capability.NewCallContext(ec, core.NewID())

	result, err := NewWeatherCapability(client).Call(cc, map[string]any{"city": "510100", "forecast": true})
	require.NoError(t, err)
	assert.Equal(t, "all", last.Query().Get("extensions"))

	m := result.(map[string]any)
	assert.Equal(t, "1", m["status"])
}

func TestWeatherCapability_MissingCity(t *testing.T) {
	client := NewClient("test-key")

	ec := core.NewExecutionContext(context.Background(), "weather")
	cc := capability.NewCallContext(ec, core.NewID())

	_, err := NewWeatherCapability(client).Call(cc, map[string]any{})
	require.Error(t, err)

	var capErr *capability.Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "VALIDATION_ERROR", capErr.Code)
}

func TestDistanceCapability_Call(t *testing.T) {
	client, _ := newTestClient(t,
		`{"status":"1","info":"OK","infocode":"10000","results":[{"distance":"1200","duration":"300"}]}`)

	ec := core.NewExecutionContext(context.Background(), "routes")
	cc := capability.NewCallContext(ec, core.NewID())

	result, err := NewDistanceCapability(client).Call(cc, map[string]any{
		"origins":     []any{"104.07,30.66"},
		"destination": "104.10,30.70",
	})
	require.NoError(t, err)

	results := result.([]any)
	require.Len(t, results, 1)
	assert.NotContains(t, results[0].(map[string]any), "duration")
}

func TestDistanceCapability_BadOrigins(t *testing.T) {
	client, _ := newTestClient(t, `{"status":"1","info":"OK","infocode":"10000","results":[]}`)

	ec := core.NewExecutionContext(context.Background(), "routes")
	cc := capability.NewCallContext(ec, core.NewID())

	_, err := NewDistanceCapability(client).Call(cc, map[string]any{
		"origins":     []any{42.0},
		"destination": "104.10,30.70",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lon,lat")
}
