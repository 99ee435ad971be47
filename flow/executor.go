package flow

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/geomesh/capability"
	"github.com/hupe1980/geomesh/core"
)

// CallOutcome is the result of one capability invocation within a step: the
// result turn to append plus any transition signal the call staged. Outcomes
// are returned in the original call order.
type CallOutcome struct {
	Turn   core.Turn
	Staged *core.TransitionSignal
}

// CallExecutor executes a batch of capability calls, possibly in parallel.
// Implementations must:
//   - Respect the execution context's cancellation
//   - Never panic (recover internally and convert to call errors)
//   - Produce exactly one outcome per incoming call, in call order
type CallExecutor interface {
	Execute(ec *core.ExecutionContext, author string, caps map[string]capability.Capability, calls []core.CapabilityCall) []CallOutcome
}

// ExecutorConfig configures the default parallel executor.
type ExecutorConfig struct {
	MaxParallel    int  // 0 or <1 => no explicit limit (len(calls))
	LogStartEvents bool // log a start line per call
}

// parallelCallExecutor is the default implementation.
type parallelCallExecutor struct {
	cfg ExecutorConfig
}

// NewParallelCallExecutor constructs a new executor with the given config.
func NewParallelCallExecutor(cfg ExecutorConfig) CallExecutor {
	return &parallelCallExecutor{cfg: cfg}
}

func (e *parallelCallExecutor) Execute(
	ec *core.ExecutionContext,
	author string,
	caps map[string]capability.Capability,
	calls []core.CapabilityCall,
) []CallOutcome {
	n := len(calls)
	if n == 0 {
		return nil
	}

	// Fast path: single call, execute inline.
	if n == 1 {
		return []CallOutcome{e.executeSingle(ec, author, caps, calls[0])}
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	outcomes := make([]CallOutcome, n)
	sem := semaphore.NewWeighted(int64(maxPar))

	var wg sync.WaitGroup

	batchStart := time.Now()
	for i := range calls {
		if err := sem.Acquire(ec.Context, 1); err != nil {
			// Cancellation: mark the remaining calls as failed.
			for j := i; j < n; j++ {
				outcomes[j] = CallOutcome{Turn: core.NewCapabilityResultTurn(
					ec.RequestID, author, calls[j].ID, calls[j].Name, nil, err,
				)}
			}
			break
		}
		wg.Add(1)
		go func(idx int, call core.CapabilityCall) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[idx] = e.executeSingle(ec, author, caps, call)
		}(i, calls[i])
	}

	wg.Wait()

	ec.LogDebug(
		"flow.calls.batch.complete",
		"author", author,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return outcomes
}

func (e *parallelCallExecutor) executeSingle(
	ec *core.ExecutionContext,
	author string,
	caps map[string]capability.Capability,
	call core.CapabilityCall,
) CallOutcome {
	callCtx := capability.NewCallContext(ec, call.ID)

	if e.cfg.LogStartEvents {
		ec.LogInfo("flow.call.start", "author", author, "capability", call.Name, "call_id", call.ID)
	}

	start := time.Now()
	var (
		result any
		err    error
	)
	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				ec.LogError("flow.call.panic", "author", author, "capability", call.Name, "recover", r)
			}
		}()
		result, err = executeCapability(caps, callCtx, call.Name, call.Arguments)
	}()
	dur := time.Since(start)

	ec.LogInfo(
		"flow.call.executed",
		"author", author,
		"capability", call.Name,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	outcome := CallOutcome{
		Turn: core.NewCapabilityResultTurn(ec.RequestID, author, call.ID, call.Name, result, err),
	}
	if sig, ok := callCtx.StagedTransition(); ok && err == nil {
		outcome.Staged = &sig
	}
	return outcome
}

// panicError converts a recovered panic value to an error without pulling external dependencies.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }

// executeCapability centralizes capability lookup & execution against the
// step's active capability view.
func executeCapability(caps map[string]capability.Capability, callCtx *capability.CallContext, name, args string) (any, error) {
	impl, ok := caps[name]
	if !ok {
		return nil, fmt.Errorf("capability %s not available to the active role", name)
	}

	var argMap map[string]any
	if args == "" {
		argMap = map[string]any{}
	} else if err := json.Unmarshal([]byte(args), &argMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}

	return impl.Call(callCtx, argMap)
}
