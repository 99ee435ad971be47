// Package dispatch implements fan-out / fan-in coordination: a classifier
// decomposes one incoming request into labelled sub-requests, each runs to
// completion in its own isolated branch context concurrently, and a
// synthesizer folds the accumulated branch results into one answer. Branch
// failures are recorded as failed results, never silently dropped, so the
// synthesis step always sees one result per launched branch.
package dispatch

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/handler"
)

// ErrDuplicateLabel is returned when a classifier emits two sub-requests
// carrying the same label. Detected before any branch starts.
var ErrDuplicateLabel = errors.New("duplicate sub-request label")

// ResultsSlot is the auxiliary slot on the parent context into which branch
// results are accumulated, in branch completion order.
const ResultsSlot = "results"

// SubRequest is one unit of fan-out work produced by a classifier.
type SubRequest struct {
	// Label uniquely identifies the branch within one dispatch.
	Label string `json:"label"`
	// TargetRole names the handler role the branch runs under.
	TargetRole string `json:"target_role"`
	// Payload is the branch's user query.
	Payload string `json:"payload"`
}

// SubResult is the outcome of one branch. Failed branches carry Failed=true
// and the error message; they occupy a slot in the result set like any
// successful branch.
type SubResult struct {
	Label   string `json:"label"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Failed  bool   `json:"failed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Classifier decomposes an incoming request into sub-requests. Returning an
// empty slice signals that no decomposition applies; the dispatcher then
// falls back to answering directly.
type Classifier interface {
	Classify(ec *core.ExecutionContext, query string) ([]SubRequest, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ec *core.ExecutionContext, query string) ([]SubRequest, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ec *core.ExecutionContext, query string) ([]SubRequest, error) {
	return f(ec, query)
}

// Synthesizer folds the complete result set into the final answer.
type Synthesizer interface {
	Synthesize(ec *core.ExecutionContext, query string, results []SubResult) (string, error)
}

// SynthesizerFunc adapts a function to the Synthesizer interface.
type SynthesizerFunc func(ec *core.ExecutionContext, query string, results []SubResult) (string, error)

// Synthesize implements Synthesizer.
func (f SynthesizerFunc) Synthesize(ec *core.ExecutionContext, query string, results []SubResult) (string, error) {
	return f(ec, query, results)
}

// Runner executes one branch: the target role against the payload inside the
// given child context, returning the branch's final answer text. The subtask
// invoker satisfies this.
type Runner interface {
	Run(parent *core.ExecutionContext, role, query string) (string, error)
}

// Options configures a Dispatcher.
type Options struct {
	// MaxConcurrency bounds the number of branches in flight; 0 = unbounded.
	MaxConcurrency int
	// Fallback answers the query directly when classification yields no
	// sub-requests. Required; a dispatch with neither branches nor fallback
	// cannot produce an answer.
	Fallback func(ec *core.ExecutionContext, query string) (string, error)
}

// Dispatcher coordinates one fan-out / fan-in round.
type Dispatcher struct {
	registry    *handler.Registry
	classifier  Classifier
	runner      Runner
	synthesizer Synthesizer
	opts        Options
}

// NewDispatcher wires a classifier, branch runner and synthesizer over a
// handler registry.
func NewDispatcher(registry *handler.Registry, classifier Classifier, runner Runner, synthesizer Synthesizer, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Dispatcher{
		registry:    registry,
		classifier:  classifier,
		runner:      runner,
		synthesizer: synthesizer,
		opts:        opts,
	}
}

// Dispatch runs the full round: classify, validate, fan out, fan in,
// synthesize. The returned string is the synthesized answer. Results are
// also accumulated into the parent's ResultsSlot in completion order.
func (d *Dispatcher) Dispatch(ec *core.ExecutionContext, query string) (string, error) {
	ec.Append(core.NewUserTurn(ec.RequestID, query))

	subs, err := d.classifier.Classify(ec, query)
	if err != nil {
		return "", fmt.Errorf("classification failed: %w", err)
	}

	if len(subs) == 0 {
		return d.fallback(ec, query)
	}

	if err := d.validate(subs); err != nil {
		return "", err
	}

	results, err := d.fanOut(ec, subs)
	if err != nil {
		return "", err
	}

	answer, err := d.synthesizer.Synthesize(ec, query, results)
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}

	ec.Append(core.NewHandlerTurn(ec.RequestID, "dispatcher", core.Content{
		Role:  "assistant",
		Parts: []core.Part{core.TextPart{Text: answer}},
	}))

	return answer, nil
}

// validate rejects bad sub-request batches before any branch starts: dup
// labels, empty labels and unknown target roles are all configuration-grade
// failures of the classifier.
func (d *Dispatcher) validate(subs []SubRequest) error {
	seen := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if sub.Label == "" {
			return fmt.Errorf("sub-request with empty label")
		}
		if seen[sub.Label] {
			return fmt.Errorf("%w: %q", ErrDuplicateLabel, sub.Label)
		}
		seen[sub.Label] = true

		if !d.registry.Has(sub.TargetRole) {
			return fmt.Errorf("sub-request %q: %w: %q", sub.Label, handler.ErrUnknownRole, sub.TargetRole)
		}
	}
	return nil
}

// fanOut launches one isolated branch per sub-request and collects exactly
// one result each. A branch failure is recorded, not propagated; only
// context cancellation aborts the whole round.
func (d *Dispatcher) fanOut(ec *core.ExecutionContext, subs []SubRequest) ([]SubResult, error) {
	if err := ec.DeclareSlot(ResultsSlot, core.SlotAccumulate); err != nil {
		return nil, err
	}

	g, _ := errgroup.WithContext(ec.Context)
	if d.opts.MaxConcurrency > 0 {
		g.SetLimit(d.opts.MaxConcurrency)
	}

	results := make([]SubResult, len(subs))

	ec.LogInfo("dispatch.fanout", "request", ec.RequestID, "branches", len(subs))

	for i, sub := range subs {
		g.Go(func() error {
			if err := ec.Err(); err != nil {
				return err
			}

			content, err := d.runner.Run(ec, sub.TargetRole, sub.Payload)

			res := SubResult{Label: sub.Label, Role: sub.TargetRole, Content: content}
			if err != nil {
				res.Failed = true
				res.Error = err.Error()
				ec.LogWarn("dispatch.branch.failed", "label", sub.Label, "role", sub.TargetRole, "error", err.Error())
			}

			results[i] = res
			ec.WriteSlot(ResultsSlot, res)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (d *Dispatcher) fallback(ec *core.ExecutionContext, query string) (string, error) {
	if d.opts.Fallback == nil {
		return "", fmt.Errorf("classifier produced no sub-requests and no fallback is configured")
	}

	ec.LogInfo("dispatch.fallback", "request", ec.RequestID)

	answer, err := d.opts.Fallback(ec, query)
	if err != nil {
		return "", fmt.Errorf("fallback failed: %w", err)
	}

	ec.Append(core.NewHandlerTurn(ec.RequestID, "dispatcher", core.Content{
		Role:  "assistant",
		Parts: []core.Part{core.TextPart{Text: answer}},
	}))

	return answer, nil
}
