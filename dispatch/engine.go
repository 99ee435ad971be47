package dispatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/engine"
	"github.com/hupe1980/geomesh/handler"
)

// EngineClassifier uses a reasoning engine to decompose a request into
// sub-requests. The engine is prompted with the registered role descriptions
// and must answer with a JSON array of sub-requests; an empty array means
// the request needs no decomposition.
type EngineClassifier struct {
	registry *handler.Registry
	engine   engine.Engine
}

// NewEngineClassifier constructs a classifier over the given engine and
// role registry.
func NewEngineClassifier(registry *handler.Registry, eng engine.Engine) *EngineClassifier {
	return &EngineClassifier{registry: registry, engine: eng}
}

// Classify implements Classifier.
func (c *EngineClassifier) Classify(ec *core.ExecutionContext, query string) ([]SubRequest, error) {
	resp, err := generateText(ec, c.engine, engine.Request{
		Instructions: c.instructions(),
		Contents: []core.Content{{
			Role:  "user",
			Parts: []core.Part{core.TextPart{Text: query}},
		}},
	})
	if err != nil {
		return nil, err
	}

	subs, err := parseSubRequests(resp)
	if err != nil {
		return nil, fmt.Errorf("classifier output: %w", err)
	}

	return subs, nil
}

func (c *EngineClassifier) instructions() string {
	descriptions := c.registry.Descriptions()

	roles := make([]string, 0, len(descriptions))
	for role := range descriptions {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var b strings.Builder
	b.WriteString("Decompose the user request into independent sub-tasks. Available roles:\n")
	for _, role := range roles {
		fmt.Fprintf(&b, "- %s: %s\n", role, descriptions[role])
	}
	b.WriteString(`Respond with a JSON array only. Each element: {"label": "<unique id>", "target_role": "<role>", "payload": "<sub-task text>"}. Respond with [] if the request does not decompose.`)
	return b.String()
}

// parseSubRequests extracts the JSON array from the engine answer, tolerating
// surrounding prose or code fences.
func parseSubRequests(text string) ([]SubRequest, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found")
	}

	var subs []SubRequest
	if err := json.Unmarshal([]byte(text[start:end+1]), &subs); err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}
	return subs, nil
}

// EngineSynthesizer uses a reasoning engine to fold branch results into a
// single coherent answer.
type EngineSynthesizer struct {
	engine engine.Engine
}

// NewEngineSynthesizer constructs a synthesizer over the given engine.
func NewEngineSynthesizer(eng engine.Engine) *EngineSynthesizer {
	return &EngineSynthesizer{engine: eng}
}

// Synthesize implements Synthesizer. Failed branches are presented to the
// engine as such so the answer can acknowledge partial coverage.
func (s *EngineSynthesizer) Synthesize(ec *core.ExecutionContext, query string, results []SubResult) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request: %s\n\nSub-task results:\n", query)
	for _, res := range results {
		if res.Failed {
			fmt.Fprintf(&b, "- [%s] (%s) FAILED: %s\n", res.Label, res.Role, res.Error)
			continue
		}
		fmt.Fprintf(&b, "- [%s] (%s): %s\n", res.Label, res.Role, res.Content)
	}

	return generateText(ec, s.engine, engine.Request{
		Instructions: "Combine the sub-task results into one coherent answer to the original request. Mention sub-tasks that failed instead of inventing their results.",
		Contents: []core.Content{{
			Role:  "user",
			Parts: []core.Part{core.TextPart{Text: b.String()}},
		}},
	})
}

// generateText performs a single non-streaming engine exchange and returns
// the final text.
func generateText(ec *core.ExecutionContext, eng engine.Engine, req engine.Request) (string, error) {
	respCh, errCh := eng.Generate(ec.Context, req)

	var final *engine.Response

loop:
	for {
		select {
		case <-ec.Done():
			return "", ec.Err()
		case resp, ok := <-respCh:
			if !ok {
				break loop
			}
			if !resp.Partial {
				r := resp
				final = &r
			}
		case err, ok := <-errCh:
			if ok && err != nil {
				return "", fmt.Errorf("engine error: %w", err)
			}
		}
	}

	if final == nil {
		return "", fmt.Errorf("engine produced no response")
	}
	return final.Content.Text(), nil
}
