package core

import (
	"time"

	"github.com/google/uuid"
)

// TurnKind tags a history entry with its producer.
type TurnKind string

const (
	// TurnUser marks input supplied by the end user (or a dispatching parent).
	TurnUser TurnKind = "user"
	// TurnHandler marks output produced by the active handler via the reasoning engine.
	TurnHandler TurnKind = "handler"
	// TurnCapability marks the result of a capability invocation.
	TurnCapability TurnKind = "capability"
)

// Turn is one entry of an ExecutionContext's history. After being appended it
// is treated as immutable. It captures:
//   - Correlation (RequestID, ID, Author)
//   - The producer kind (user / handler / capability-result)
//   - Conversational content (role-based Parts)
//   - Error metadata for failed capability calls
//   - High precision UTC timestamp
type Turn struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Kind         TurnKind  `json:"kind"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	Content      *Content  `json:"content,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}

// NewTurn creates a bare turn authored by 'author' bound to a request.
// Prefer the kind-specific constructors for common cases.
func NewTurn(requestID, author string, kind TurnKind) Turn {
	return Turn{
		ID:        NewID(),
		RequestID: requestID,
		Kind:      kind,
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserTurn creates a user-authored text turn.
func NewUserTurn(requestID, text string) Turn {
	t := NewTurn(requestID, "user", TurnUser)
	t.Content = &Content{Role: "user", Parts: []Part{TextPart{Text: text}}}
	return t
}

// NewHandlerTurn creates a handler-authored turn carrying engine output.
func NewHandlerTurn(requestID, author string, content Content) Turn {
	t := NewTurn(requestID, author, TurnHandler)
	t.Content = &content
	return t
}

// NewAnnounceTurn creates a synthetic handler turn announcing a role handoff.
func NewAnnounceTurn(requestID, author, message string) Turn {
	t := NewTurn(requestID, author, TurnHandler)
	t.Content = &Content{Role: "assistant", Parts: []Part{TextPart{Text: message}}}
	return t
}

// NewCapabilityResultTurn records the completion result (or error) of a
// capability invocation. If err is non-nil its message is copied into the
// result's Error field and onto the turn itself.
func NewCapabilityResultTurn(requestID, author, callID, name string, result interface{}, err error) Turn {
	t := NewTurn(requestID, author, TurnCapability)
	cr := CapabilityResult{ID: callID, Name: name, Response: result}
	if err != nil {
		cr.Error = err.Error()
		msg := err.Error()
		t.ErrorMessage = &msg
	}
	t.Content = &Content{Role: "capability", Parts: []Part{CapabilityResultPart{CapabilityResult: cr}}}
	return t
}

// NewID generates a new unique identifier for turns and capability calls.
func NewID() string { return uuid.NewString() }

// GetCapabilityCalls returns any CapabilityCall parts contained within the
// turn content preserving their original order.
func (t Turn) GetCapabilityCalls() []CapabilityCall {
	if t.Content == nil {
		return nil
	}
	var calls []CapabilityCall
	for _, p := range t.Content.Parts {
		if cc, ok := p.(CapabilityCallPart); ok {
			calls = append(calls, cc.CapabilityCall)
		}
	}
	return calls
}

// GetCapabilityResults returns any CapabilityResult parts contained within
// the turn content preserving their original order.
func (t Turn) GetCapabilityResults() []CapabilityResult {
	if t.Content == nil {
		return nil
	}
	var results []CapabilityResult
	for _, p := range t.Content.Parts {
		if cr, ok := p.(CapabilityResultPart); ok {
			results = append(results, cr.CapabilityResult)
		}
	}
	return results
}

// IsFinal reports whether this turn terminates a run loop: a handler turn
// with no pending capability calls or results is the final answer.
func (t Turn) IsFinal() bool {
	return t.Kind == TurnHandler &&
		len(t.GetCapabilityCalls()) == 0 &&
		len(t.GetCapabilityResults()) == 0
}

// Text returns the concatenated text content of the turn.
func (t Turn) Text() string {
	if t.Content == nil {
		return ""
	}
	return t.Content.Text()
}
