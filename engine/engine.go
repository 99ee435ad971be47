// Package engine defines the reasoning-engine abstraction used by the run
// loop, plus a deterministic Mock implementation for tests and examples.
// Concrete adapters for hosted APIs live in the subpackages.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/geomesh/core"
)

// Definition declaratively exposes a callable capability to the engine.
type Definition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual capability exposed to the engine.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Request captures the normalized engine input produced by the run loop for
// one reasoning step: the active unit's resolved instructions, the converted
// history, and exactly that unit's capability definitions.
type Request struct {
	Instructions string         `json:"instructions"`
	Contents     []core.Content `json:"contents"`
	Capabilities []Definition   `json:"capabilities,omitempty"`
	Stream       bool           `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by an engine. The control
// plane interprets only the capability call parts; everything else is opaque.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about an engine implementation.
type Info struct {
	Name                 string `json:"name"`
	Provider             string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsCapabilities bool   `json:"supports_capabilities"`
}

// Engine is the reasoning-engine boundary consumed by the run loop. Given
// (instructions, capability set, history) it produces exactly one of: a
// capability-invocation request, a transition request (expressed as a call to
// a transition capability), or a final answer. The control plane never
// inspects how the decision is made.
type Engine interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the engine implementation.
	Info() Info
}

// Mock is a lightweight in-memory Engine useful for tests & examples. It can
// answer with canned text keyed by the latest input, or play back a script of
// prepared contents (capability calls included) in order.
type Mock struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	script    []core.Content
	pos       int
}

// NewMock constructs a Mock with capability support enabled.
func NewMock(name string) *Mock {
	return &Mock{
		info: Info{
			Name:                 name,
			Provider:             "mock",
			SupportsCapabilities: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input text.
func (m *Mock) AddResponse(input, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[input] = response
}

// Enqueue appends contents to the playback script. Scripted contents take
// precedence over canned responses and are consumed in order across calls.
func (m *Mock) Enqueue(contents ...core.Content) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, contents...)
}

// EnqueueText is shorthand for enqueuing a plain assistant text answer.
func (m *Mock) EnqueueText(text string) {
	m.Enqueue(core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: text}}})
}

// EnqueueCall is shorthand for enqueuing a single capability call.
func (m *Mock) EnqueueCall(name, arguments string) {
	m.Enqueue(core.Content{Role: "assistant", Parts: []core.Part{
		core.CapabilityCallPart{CapabilityCall: core.CapabilityCall{ID: core.NewID(), Name: name, Arguments: arguments}},
	}})
}

// next pops the next scripted content, or derives a canned/text fallback.
func (m *Mock) next(req Request) (core.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos < len(m.script) {
		c := m.script[m.pos]
		m.pos++
		return c, nil
	}

	if len(req.Contents) == 0 {
		return core.Content{}, fmt.Errorf("no contents provided")
	}

	last := req.Contents[len(req.Contents)-1]
	inputText := last.Text()

	full := m.responses[inputText]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", inputText)
	}

	return core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: full}}}, nil
}

// Generate implements Engine; emits a single final response per call.
func (m *Mock) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		content, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Partial: false, Content: content, FinishReason: "stop"}:
		}
	}()

	return respCh, errCh
}

// Info implements Engine.
func (m *Mock) Info() Info { return m.info }
