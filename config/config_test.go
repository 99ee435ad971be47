package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geomesh/capability"
)

const validConfig = `
default_role: places
step_budget: 12
subtask_step_budget: 8
max_parallel_calls: 4

roles:
  weather:
    description: Weather conditions and forecasts
    instructions: You answer weather questions.
    capabilities: [weather_query]
  places:
    description: Points of interest
    instructions: You find places.
    capabilities: [around_search]
    transition_targets: [weather]
  routes:
    instructions: You plan routes.
    required_slots: [origin]

engine:
  provider: openai
  model: gpt-4o-mini
  temperature: 0.7

geo:
  api_key_env: TEST_AMAP_KEY
  requests_per_second: 3

dispatch:
  max_concurrency: 4
`

func testCapabilitySet(t *testing.T) *capability.Set {
	t.Helper()

	noopSchema := map[string]any{"type": "object", "properties": map[string]any{}}
	noop := func(_ *capability.CallContext, _ map[string]any) (any, error) { return nil, nil }

	caps, err := capability.NewSet(
		capability.NewFunc("weather_query", "", noopSchema, noop),
		capability.NewFunc("around_search", "", noopSchema, noop),
	)
	require.NoError(t, err)

	return caps
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, "places", cfg.DefaultRole)
	assert.Equal(t, 12, cfg.StepBudget)
	assert.Equal(t, 8, cfg.SubtaskStepBudget)
	assert.Len(t, cfg.Roles, 3)
	assert.Equal(t, "openai", cfg.Engine.Provider)
	assert.Equal(t, 4, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, []string{"origin"}, cfg.Roles["routes"].RequiredSlots)
}

func TestParse_UnknownDefaultRole(t *testing.T) {
	_, err := Parse([]byte(`
default_role: ghost
roles:
  weather:
    instructions: something
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_role")
}

func TestParse_EmptyInstructions(t *testing.T) {
	_, err := Parse([]byte(`
roles:
  weather:
    description: no instructions here
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instructions")
}

func TestParse_UnknownTransitionTarget(t *testing.T) {
	_, err := Parse([]byte(`
roles:
  weather:
    instructions: something
    transition_targets: [ghost]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transition target")
}

func TestParse_NoRoles(t *testing.T) {
	_, err := Parse([]byte(`step_budget: 5`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no roles")
}

func TestParse_NegativeBudget(t *testing.T) {
	_, err := Parse([]byte(`
step_budget: -1
roles:
  weather:
    instructions: something
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}

func TestBuildRegistry(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	registry, err := cfg.BuildRegistry(testCapabilitySet(t))
	require.NoError(t, err)

	assert.Equal(t, "places", registry.DefaultRole())
	assert.Equal(t, []string{"places", "routes", "weather"}, registry.Roles())

	unit, err := registry.Resolve("weather")
	require.NoError(t, err)
	assert.Equal(t, "Weather conditions and forecasts", unit.Description)
	assert.Equal(t, []string{"weather_query"}, unit.Capabilities)

	// A role without a description keeps the generated fallback.
	unit, err = registry.Resolve("routes")
	require.NoError(t, err)
	assert.Equal(t, "Handler routes", unit.Description)
}

func TestBuildRegistry_DeclarationOrderDefault(t *testing.T) {
	cfg, err := Parse([]byte(`
roles:
  zulu:
    instructions: last alphabetically, first declared
  alpha:
    instructions: first alphabetically
`))
	require.NoError(t, err)

	registry, err := cfg.BuildRegistry(nil)
	require.NoError(t, err)
	assert.Equal(t, "zulu", registry.DefaultRole())
}

func TestBuildRegistry_UnknownCapability(t *testing.T) {
	cfg, err := Parse([]byte(`
roles:
  weather:
    instructions: something
    capabilities: [nonexistent]
`))
	require.NoError(t, err)

	_, err = cfg.BuildRegistry(testCapabilitySet(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "places", cfg.DefaultRole)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGeoAPIKey(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	t.Setenv("TEST_AMAP_KEY", "secret")
	assert.Equal(t, "secret", cfg.GeoAPIKey())

	cfg.Geo.APIKeyEnv = ""
	t.Setenv("GAODE_MAP_KEY", "fallback")
	assert.Equal(t, "fallback", cfg.GeoAPIKey())
}
