// Package handler defines handler units (one named instructions + capability
// set configuration a reasoning engine runs under) and the immutable registry
// mapping role identifiers to units.
package handler

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownRole is returned when a role identifier does not resolve against
// the registry. Per the control-plane error taxonomy this is a configuration
// error: fail fast, never silently fall back to a default role.
var ErrUnknownRole = errors.New("unknown role")

// Unit is one (instructions, capability set) configuration. A Unit is
// immutable once registered; the active capability view for a step is always
// derived from the current role at the moment of use, never cached.
type Unit struct {
	// Name is the role identifier this unit is registered under.
	Name string
	// Description is a short summary used by classifiers and sub-task
	// capability definitions.
	Description string
	// Instruction resolves to the system prompt presented to the engine.
	Instruction Instruction
	// Capabilities lists the capability names this unit may invoke. The run
	// loop presents exactly this set to the engine; everything else is
	// inaccessible from the unit's steps.
	Capabilities []string
	// TransitionTargets lists the roles this unit is permitted to hand
	// control to. Empty means the unit never transitions.
	TransitionTargets []string
	// RequiredSlots names auxiliary slots that must be populated before this
	// unit runs a step. Violation is surfaced as a request error.
	RequiredSlots []string
}

// UnitOptions configures construction of a Unit.
type UnitOptions struct {
	Description       string
	Capabilities      []string
	TransitionTargets []string
	RequiredSlots     []string
}

// NewUnit constructs an immutable handler unit.
func NewUnit(name string, instruction Instruction, optFns ...func(o *UnitOptions)) Unit {
	opts := UnitOptions{
		Description: fmt.Sprintf("Handler %s", name),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return Unit{
		Name:              name,
		Description:       opts.Description,
		Instruction:       instruction,
		Capabilities:      append([]string(nil), opts.Capabilities...),
		TransitionTargets: append([]string(nil), opts.TransitionTargets...),
		RequiredSlots:     append([]string(nil), opts.RequiredSlots...),
	}
}

// CanTransitionTo reports whether the unit declares target as a legal
// handoff destination. Self-transitions are always legal no-ops.
func (u Unit) CanTransitionTo(target string) bool {
	if target == u.Name {
		return true
	}
	for _, t := range u.TransitionTargets {
		if t == target {
			return true
		}
	}
	return false
}

// Registry maps role identifiers to handler units. It is assembled once at
// process start and read-only afterwards, so lookups need no locking.
type Registry struct {
	units       map[string]Unit
	defaultRole string
}

// NewRegistry builds a registry from the given units. The first unit becomes
// the default role unless overridden with WithDefaultRole.
func NewRegistry(units ...Unit) (*Registry, error) {
	r := &Registry{units: make(map[string]Unit, len(units))}

	for _, u := range units {
		if u.Name == "" {
			return nil, fmt.Errorf("handler unit with empty name")
		}
		if _, exists := r.units[u.Name]; exists {
			return nil, fmt.Errorf("duplicate role %q", u.Name)
		}
		r.units[u.Name] = u
		if r.defaultRole == "" {
			r.defaultRole = u.Name
		}
	}

	if err := r.validateTransitions(); err != nil {
		return nil, err
	}

	return r, nil
}

// SetDefaultRole overrides the initial role new contexts start in.
func (r *Registry) SetDefaultRole(role string) error {
	if _, ok := r.units[role]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	r.defaultRole = role
	return nil
}

// DefaultRole returns the configured initial role.
func (r *Registry) DefaultRole() string { return r.defaultRole }

// Resolve returns the unit registered under role. Unknown roles are a
// configuration error, never silently defaulted.
func (r *Registry) Resolve(role string) (Unit, error) {
	u, ok := r.units[role]
	if !ok {
		return Unit{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return u, nil
}

// Has reports whether role is registered.
func (r *Registry) Has(role string) bool {
	_, ok := r.units[role]
	return ok
}

// Roles returns all registered role identifiers in sorted order.
func (r *Registry) Roles() []string {
	roles := make([]string, 0, len(r.units))
	for name := range r.units {
		roles = append(roles, name)
	}
	sort.Strings(roles)
	return roles
}

// Descriptions returns role → description for all units, used by
// classification collaborators to pick dispatch targets.
func (r *Registry) Descriptions() map[string]string {
	out := make(map[string]string, len(r.units))
	for name, u := range r.units {
		out[name] = u.Description
	}
	return out
}

// validateTransitions rejects, at configuration time, any unit declaring a
// transition target that is not a registered role.
func (r *Registry) validateTransitions() error {
	for name, u := range r.units {
		for _, target := range u.TransitionTargets {
			if _, ok := r.units[target]; !ok {
				return fmt.Errorf("unit %q: transition target %q: %w", name, target, ErrUnknownRole)
			}
		}
	}
	return nil
}

// ValidateCapabilities rejects any unit declaring a capability name absent
// from the given set of known capability names. Called at configuration load.
func (r *Registry) ValidateCapabilities(known map[string]bool) error {
	for name, u := range r.units {
		for _, cap := range u.Capabilities {
			if !known[cap] {
				return fmt.Errorf("unit %q: unknown capability %q", name, cap)
			}
		}
	}
	return nil
}
