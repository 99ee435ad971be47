// Package config loads deployment configuration: handler roles with their
// instructions, capability declarations and transition targets, plus engine,
// dispatch and geo client settings. Validation is fail-fast at load time;
// a config referencing an unknown role or capability never boots.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/geomesh/capability"
	"github.com/hupe1980/geomesh/handler"
)

// RoleConfig declares one handler unit.
type RoleConfig struct {
	Description       string   `yaml:"description"`
	Instructions      string   `yaml:"instructions"`
	Capabilities      []string `yaml:"capabilities"`
	TransitionTargets []string `yaml:"transition_targets"`
	RequiredSlots     []string `yaml:"required_slots"`
}

// EngineConfig selects and tunes the reasoning engine.
type EngineConfig struct {
	Provider    string  `yaml:"provider"` // "anthropic", "openai", "mock"
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// GeoConfig tunes the Amap client.
type GeoConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv         string  `yaml:"api_key_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DispatchConfig tunes fan-out coordination.
type DispatchConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Config is the root deployment configuration.
type Config struct {
	// DefaultRole names the role new requests start in. Defaults to the
	// first declared role.
	DefaultRole string `yaml:"default_role"`
	// StepBudget bounds reasoning steps per request; 0 = unlimited.
	StepBudget int `yaml:"step_budget"`
	// SubtaskStepBudget bounds reasoning steps per sub-task; 0 = unlimited.
	SubtaskStepBudget int `yaml:"subtask_step_budget"`
	// MaxParallelCalls bounds concurrent capability calls per step.
	MaxParallelCalls int `yaml:"max_parallel_calls"`
	// MaxHistoryTurns bounds the conversation window; 0 keeps everything.
	MaxHistoryTurns int `yaml:"max_history_turns"`

	Roles    map[string]RoleConfig `yaml:"roles"`
	Engine   EngineConfig          `yaml:"engine"`
	Geo      GeoConfig             `yaml:"geo"`
	Dispatch DispatchConfig        `yaml:"dispatch"`

	// roleOrder preserves declaration order for default-role selection.
	roleOrder []string
}

// Load reads and validates a YAML deployment file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.roleOrder = declaredRoleOrder(data)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// declaredRoleOrder re-parses the roles mapping as a yaml.Node to recover
// declaration order, which map decoding discards.
func declaredRoleOrder(data []byte) []string {
	var doc struct {
		Roles yaml.Node `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil || doc.Roles.Kind != yaml.MappingNode {
		return nil
	}

	var order []string
	for i := 0; i+1 < len(doc.Roles.Content); i += 2 {
		order = append(order, doc.Roles.Content[i].Value)
	}
	return order
}

func (c *Config) validate() error {
	if len(c.Roles) == 0 {
		return fmt.Errorf("config declares no roles")
	}

	if c.DefaultRole != "" {
		if _, ok := c.Roles[c.DefaultRole]; !ok {
			return fmt.Errorf("default_role %q is not a declared role", c.DefaultRole)
		}
	}

	for name, role := range c.Roles {
		if role.Instructions == "" {
			return fmt.Errorf("role %q: instructions must not be empty", name)
		}
		for _, target := range role.TransitionTargets {
			if _, ok := c.Roles[target]; !ok {
				return fmt.Errorf("role %q: transition target %q is not a declared role", name, target)
			}
		}
	}

	if c.StepBudget < 0 || c.SubtaskStepBudget < 0 {
		return fmt.Errorf("step budgets must not be negative")
	}

	return nil
}

// GeoAPIKey resolves the Amap API key from the configured environment
// variable, defaulting to GAODE_MAP_KEY.
func (c *Config) GeoAPIKey() string {
	env := c.Geo.APIKeyEnv
	if env == "" {
		env = "GAODE_MAP_KEY"
	}
	return os.Getenv(env)
}

// BuildRegistry assembles the handler registry from the declared roles and
// verifies every declared capability exists in the given set.
func (c *Config) BuildRegistry(caps *capability.Set) (*handler.Registry, error) {
	order := c.roleOrder
	if len(order) == 0 {
		for name := range c.Roles {
			order = append(order, name)
		}
	}

	units := make([]handler.Unit, 0, len(order))
	for _, name := range order {
		role := c.Roles[name]
		units = append(units, handler.NewUnit(
			name,
			handler.NewInstructionFromText(role.Instructions),
			func(o *handler.UnitOptions) {
				if role.Description != "" {
					o.Description = role.Description
				}
				o.Capabilities = role.Capabilities
				o.TransitionTargets = role.TransitionTargets
				o.RequiredSlots = role.RequiredSlots
			},
		))
	}

	registry, err := handler.NewRegistry(units...)
	if err != nil {
		return nil, err
	}

	if c.DefaultRole != "" {
		if err := registry.SetDefaultRole(c.DefaultRole); err != nil {
			return nil, err
		}
	}

	if caps != nil {
		if err := registry.ValidateCapabilities(caps.Names()); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
