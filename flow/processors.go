package flow

import (
	"fmt"
	"strings"

	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/engine"
	"github.com/hupe1980/geomesh/handler"
)

// InstructionsProcessor resolves the active unit's instruction text for the
// upcoming reasoning step. Resolution happens per step, never cached, so a
// transition committed in the previous step is reflected immediately.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// Process resolves and renders the unit instruction into the request.
func (p *InstructionsProcessor) Process(ec *core.ExecutionContext, unit handler.Unit, req *engine.Request) error {
	instructions, err := unit.Instruction.Resolve(ec)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction for role %q: %w", unit.Name, err)
	}

	ec.LogDebug("flow.instruction.resolved", "role", unit.Name, "length", len(instructions))

	if missing := missingSlots(ec, unit); len(missing) > 0 {
		instructions += fmt.Sprintf(
			"\n\nBefore performing this task you must first collect from the user: %s.",
			strings.Join(missing, ", "),
		)
	}

	req.Instructions = instructions
	return nil
}

// missingSlots returns the unit's required auxiliary slots not yet populated.
func missingSlots(ec *core.ExecutionContext, unit handler.Unit) []string {
	var missing []string
	for _, name := range unit.RequiredSlots {
		if v, ok := ec.ReadSlot(name); !ok || v == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// ContentsProcessor converts the context's turn history into engine contents.
type ContentsProcessor struct {
	maxHistoryTurns int
}

// NewContentsProcessor creates a new contents processor. maxHistoryTurns
// bounds the conversation window; 0 keeps everything.
func NewContentsProcessor(maxHistoryTurns int) *ContentsProcessor {
	return &ContentsProcessor{maxHistoryTurns: maxHistoryTurns}
}

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// Process attaches the (optionally windowed) turn history to the request.
func (p *ContentsProcessor) Process(ec *core.ExecutionContext, unit handler.Unit, req *engine.Request) error {
	turns := ec.History()
	if p.maxHistoryTurns > 0 && len(turns) > p.maxHistoryTurns {
		turns = turns[len(turns)-p.maxHistoryTurns:]
	}

	var contents []core.Content
	for _, t := range turns {
		if t.Content != nil && len(t.Content.Parts) > 0 {
			contents = append(contents, *t.Content)
		}
	}

	req.Contents = contents
	return nil
}
