package capability

import (
	"fmt"
)

// transition requests a role handoff within the owning execution context.
// Its sole effect is to stage a TransitionSignal; the run loop validates the
// target against its registry and applies the signal atomically before the
// next reasoning step.
type transition struct{}

// NewTransition constructs the generic transition capability. The engine
// names the target role as an argument; legality of the target is enforced
// by the run loop, not here.
func NewTransition() Capability { return &transition{} }

func (t *transition) Name() string { return "transition_to_role" }

func (t *transition) Description() string {
	return "Hand control of the current task to another role by name. Use when another role is better suited for the next step."
}

func (t *transition) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"role":     map[string]any{"type": "string", "description": "Target role identifier"},
			"announce": map[string]any{"type": "string", "description": "Optional message recorded in the history announcing the handoff"},
		},
		"required": []string{"role"},
	}
}

func (t *transition) Call(cc *CallContext, args map[string]any) (any, error) {
	raw, ok := args["role"]
	if !ok {
		return nil, fmt.Errorf("missing required field 'role'")
	}
	role, ok := raw.(string)
	if !ok || role == "" {
		return nil, fmt.Errorf("field 'role' must be non-empty string")
	}

	announce, _ := args["announce"].(string)

	if err := cc.RequestTransition(role, announce); err != nil {
		return nil, err
	}

	return map[string]any{"transferred": true, "role": role}, nil
}

// handoff is a fixed-target transition capability: a zero-argument operation
// bound to one destination role at registration time. Mirrors "back to X"
// style capabilities where the instructions, not the engine, pick the target.
type handoff struct {
	name        string
	description string
	target      string
	announce    string
}

// NewHandoff constructs a fixed-target transition capability. The announce
// text, if non-empty, is appended to the history when the handoff commits.
func NewHandoff(name, description, target, announce string) Capability {
	return &handoff{name: name, description: description, target: target, announce: announce}
}

func (h *handoff) Name() string { return h.name }

func (h *handoff) Description() string { return h.description }

func (h *handoff) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (h *handoff) Call(cc *CallContext, _ map[string]any) (any, error) {
	if err := cc.RequestTransition(h.target, h.announce); err != nil {
		return nil, err
	}
	return map[string]any{"transferred": true, "role": h.target}, nil
}
