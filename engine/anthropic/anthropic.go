// Package anthropic provides a reasoning-engine adapter for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/engine"
)

// Options configures the Anthropic engine adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Engine wraps the Anthropic Messages API behind the generic engine.Engine interface.
type Engine struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic engine using the official client.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Engine{
		client: &client,
		opts:   opts,
	}
}

// NewFromClient creates a new Anthropic engine from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{
		client: client,
		opts:   opts,
	}
}

// Generate implements engine.Engine. It adapts the Anthropic Messages API
// (with tool calling) into engine.Response values: capability invocation
// requests surface as CapabilityCall parts, everything else as text.
func (e *Engine) Generate(ctx context.Context, req engine.Request) (<-chan engine.Response, <-chan error) {
	out := make(chan engine.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       e.opts.Model,
			Messages:    e.buildMessages(req.Contents),
			MaxTokens:   e.opts.MaxTokens,
			Temperature: anthropic.Float(e.opts.Temperature),
		}

		if req.Instructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
		}

		if len(req.Capabilities) > 0 {
			params.Tools = e.buildTools(req.Capabilities)
		}

		resp, err := e.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var parts []core.Part

		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				textBlock := block.AsText()
				if textBlock.Text != "" {
					parts = append(parts, core.TextPart{Text: textBlock.Text})
				}
			case "tool_use":
				toolBlock := block.AsToolUse()
				args := ""
				if toolBlock.Input != nil {
					if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
						args = string(argsBytes)
					}
				}
				parts = append(parts, core.CapabilityCallPart{
					CapabilityCall: core.CapabilityCall{
						ID:        toolBlock.ID,
						Name:      toolBlock.Name,
						Arguments: args,
					},
				})
			}
		}

		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}

		result := engine.Response{
			Partial:      false,
			Content:      core.Content{Role: "assistant", Parts: parts},
			FinishReason: finishReason,
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- result:
		}
	}()

	return out, errCh
}

// buildMessages converts geomesh contents to Anthropic message format.
func (e *Engine) buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	// Track capability results for proper ordering after their originating calls
	capResults := make(map[string]string)
	for _, c := range contents {
		if c.Role != "capability" {
			continue
		}
		for _, p := range c.Parts {
			if cr, ok := p.(core.CapabilityResultPart); ok && cr.CapabilityResult.ID != "" {
				capResults[cr.CapabilityResult.ID] = stringifyResult(cr.CapabilityResult)
			}
		}
	}

	for _, c := range contents {
		if c.Role == "system" || c.Role == "capability" {
			continue // System handled separately, capability results embedded
		}

		switch c.Role {
		case "assistant":
			content := e.buildAssistantContent(c.Parts, capResults)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		default:
			// user and unknown roles
			content := buildUserContent(c.Parts)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewUserMessage(content...))
			}
		}
	}

	return messages
}

func stringifyResult(cr core.CapabilityResult) string {
	if cr.Error != "" {
		return fmt.Sprintf("error: %s", cr.Error)
	}
	if s, ok := cr.Response.(string); ok {
		return s
	}
	if b, err := json.Marshal(cr.Response); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", cr.Response)
}

// buildUserContent builds content blocks for user messages.
func buildUserContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	for _, p := range parts {
		if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
			content = append(content, anthropic.NewTextBlock(tp.Text))
		}
	}

	return content
}

// buildAssistantContent builds content blocks for assistant messages,
// embedding capability results immediately after their originating calls.
func (e *Engine) buildAssistantContent(
	parts []core.Part,
	capResults map[string]string,
) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	var callIDs []string

	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.CapabilityCallPart:
			var input interface{}
			if part.CapabilityCall.Arguments != "" {
				if err := json.Unmarshal([]byte(part.CapabilityCall.Arguments), &input); err != nil {
					input = part.CapabilityCall.Arguments // fallback to string
				}
			}

			content = append(content, anthropic.NewToolUseBlock(
				part.CapabilityCall.ID,
				input,
				part.CapabilityCall.Name,
			))
			callIDs = append(callIDs, part.CapabilityCall.ID)
		}
	}

	for _, id := range callIDs {
		if resp, ok := capResults[id]; ok {
			content = append(content, anthropic.NewToolResultBlock(id, resp, false))
			delete(capResults, id)
		}
	}

	return content
}

// buildTools converts capability definitions to Anthropic tool format.
func (e *Engine) buildTools(defs []engine.Definition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))

	for i, def := range defs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if def.Function.Parameters != nil {
			params := def.Function.Parameters
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := params["required"]; exists {
				if reqSlice, ok := required.([]string); ok {
					inputSchema.Required = reqSlice
				} else if reqInterface, ok := required.([]interface{}); ok {
					var reqStrings []string
					for _, r := range reqInterface {
						if s, ok := r.(string); ok {
							reqStrings = append(reqStrings, s)
						}
					}
					inputSchema.Required = reqStrings
				}
			}
		}

		tools[i] = anthropic.ToolUnionParamOfTool(inputSchema, def.Function.Name)
	}

	return tools
}

// Info returns metadata describing this Anthropic engine implementation.
func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:                 string(e.opts.Model),
		Provider:             "anthropic",
		SupportsCapabilities: true,
	}
}
