package core

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         // Plain UTF-8 text
	Metadata map[string]any // Optional producer-provided metadata
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., a decoded capability payload).
type DataPart struct {
	Data     map[string]any // Structured key/value payload
	Metadata map[string]any
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// CapabilityCall describes a capability invocation request produced by the
// reasoning engine on behalf of the active handler.
type CapabilityCall struct {
	ID        string `json:"id,omitempty"`        // Optional stable id (can be supplied later)
	Name      string `json:"name"`                // Capability name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (e.g. JSON)
}

// CapabilityCallPart wraps a CapabilityCall as a content part.
type CapabilityCallPart struct {
	CapabilityCall CapabilityCall
	Metadata       map[string]any
}

// isPart implements the Part interface for CapabilityCallPart.
func (CapabilityCallPart) isPart() {}

// CapabilityResult describes the outcome of a capability call.
type CapabilityResult struct {
	ID       string      `json:"id,omitempty"`       // Matches originating CapabilityCall ID
	Name     string      `json:"name"`               // Capability name
	Response interface{} `json:"response,omitempty"` // Successful result (any shape, opaque to the control plane)
	Error    string      `json:"error,omitempty"`    // Populated on failure
}

// CapabilityResultPart wraps a CapabilityResult as a content part.
type CapabilityResultPart struct {
	CapabilityResult CapabilityResult
	Metadata         map[string]any
}

// isPart implements the Part interface for CapabilityResultPart.
func (CapabilityResultPart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"` // Conversation role (user, assistant, capability, system,...)
	Parts []Part `json:"parts"`          // Ordered heterogeneous parts
}

// Text concatenates all text parts of the content in order.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
