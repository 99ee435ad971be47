// Package capability implements the capability boundary that lets handler
// units invoke structured external operations (geocoding, proximity search,
// route planning, ...) with schema validated arguments, consistent error
// handling and rich metadata for engine guidance. It also provides the
// transition capability, the only mechanism through which a handler changes
// the active role of its execution context.
package capability

import (
	"fmt"

	"github.com/hupe1980/geomesh/internal/util"
)

// Capability defines the interface for operations a handler unit may invoke.
//
// All capabilities receive a CallContext giving scoped access to auxiliary
// state, transition staging and logging. Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for arguments
//   - Handle errors gracefully
//   - Be thread-safe; several calls from one step may run concurrently
type Capability interface {
	// Name returns the unique identifier for this capability.
	// Names should follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this
	// capability does. It is provided to the reasoning engine to help it
	// decide when and how to invoke the capability.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]interface{}

	// Call executes the capability with structured arguments and CallContext.
	// Arguments are parsed from JSON and validated against the schema.
	Call(callCtx *CallContext, args map[string]interface{}) (interface{}, error)
}

// ValidationError represents argument validation errors with detailed information.
type ValidationError = util.ValidationError

// Error represents errors that occur during capability execution.
type Error struct {
	Capability string      `json:"capability"`        // Name of the capability that failed
	Message    string      `json:"message"`           // Error message
	Code       string      `json:"code"`              // Error code for categorization
	Details    interface{} `json:"details,omitempty"` // Additional error details
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("capability error [%s] in %s: %s", e.Code, e.Capability, e.Message)
	}
	return fmt.Sprintf("capability error in %s: %s", e.Capability, e.Message)
}

// NewError creates a new Error with the specified details.
func NewError(capability, message, code string) *Error {
	return &Error{
		Capability: capability,
		Message:    message,
		Code:       code,
	}
}

// Set is a named registry of capabilities. The full set is assembled at
// process start; per-step views are derived with Subset so a handler unit can
// only ever see its declared capabilities.
type Set struct {
	caps map[string]Capability
}

// NewSet builds a capability set from the given capabilities.
func NewSet(caps ...Capability) (*Set, error) {
	s := &Set{caps: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		if err := s.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds a capability; duplicate names are rejected.
func (s *Set) Register(c Capability) error {
	if c.Name() == "" {
		return fmt.Errorf("capability with empty name")
	}
	if _, exists := s.caps[c.Name()]; exists {
		return fmt.Errorf("duplicate capability %q", c.Name())
	}
	s.caps[c.Name()] = c
	return nil
}

// Get returns the named capability and an existence flag.
func (s *Set) Get(name string) (Capability, bool) {
	c, ok := s.caps[name]
	return c, ok
}

// Names returns a membership map of all registered capability names.
func (s *Set) Names() map[string]bool {
	out := make(map[string]bool, len(s.caps))
	for name := range s.caps {
		out[name] = true
	}
	return out
}

// Subset derives the active capability view for one step from a list of
// declared names. Unknown names are a configuration error.
func (s *Set) Subset(names []string) (map[string]Capability, error) {
	out := make(map[string]Capability, len(names))
	for _, name := range names {
		c, ok := s.caps[name]
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", name)
		}
		out[name] = c
	}
	return out, nil
}
