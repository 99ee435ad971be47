package handler

import (
	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from auxiliary state, environment, etc.
type Provider interface {
	Instruction(*core.ExecutionContext) (string, error)
}

// ProviderFunc is a functional adapter to allow ordinary functions to be used as Providers.
type ProviderFunc func(*core.ExecutionContext) (string, error)

// Instruction implements Provider.
func (f ProviderFunc) Instruction(ec *core.ExecutionContext) (string, error) { return f(ec) }

// Instruction represents either a static instruction string or a dynamic provider.
// This mirrors a union of string | provider in a Go-idiomatic way. Static text
// may contain template markers rendered against the context's auxiliary state.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.ExecutionContext) (string, error)) Instruction {
	return Instruction{provider: ProviderFunc(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed and
// rendering template markers against the context's auxiliary slots.
func (i Instruction) Resolve(ec *core.ExecutionContext) (string, error) {
	text := i.text
	if i.provider != nil {
		var err error
		text, err = i.provider.Instruction(ec)
		if err != nil {
			return "", err
		}
	}

	if ec == nil {
		return text, nil
	}

	return util.RenderTemplate(text, ec.Aux())
}
