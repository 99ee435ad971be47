package capability

import (
	"fmt"
	"time"

	"github.com/hupe1980/geomesh/internal/util"
)

// Func is a generic adapter that exposes a plain Go function as a capability.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like argument specification
//   - Validates engine supplied arguments against that schema before execution
//   - Invokes the wrapped function with a *CallContext giving access to
//     auxiliary state, transition staging and logging
//   - Normalizes error handling so callers receive *Error with consistent codes:
//     VALIDATION_ERROR  -> schema / argument mismatch
//     EXECUTION_ERROR   -> underlying function returned an error (non-Error)
//     (custom codes preserved if the function returns *Error directly)
//
// A Func has no internal mutable state after construction and is safe for
// concurrent use by multiple goroutines.
type Func struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(callCtx *CallContext, args map[string]any) (any, error)
}

// NewFunc constructs a Func from explicit schema and function.
//
// Example:
//
//	distance := NewFunc(
//	  "distance",
//	  "Compute the distance between two coordinates",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "origins":     map[string]any{"type": "string"},
//	      "destination": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"origins", "destination"},
//	  },
//	  func(cc *CallContext, args map[string]any) (any, error) {
//	    ...
//	  },
//	)
func NewFunc(
	name, description string,
	parameters map[string]any,
	fn func(callCtx *CallContext, args map[string]any) (any, error),
) *Func {
	return &Func{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFuncFromStruct derives the argument schema from a struct using reflection.
// It is a convenience for simple argument containers and produces a schema
// equivalent to util.CreateSchema(structType).
func NewFuncFromStruct(
	name, description string,
	structType any,
	fn func(callCtx *CallContext, args map[string]any) (any, error),
) *Func {
	return NewFunc(name, description, util.CreateSchema(structType), fn)
}

// Name returns the unique capability name used in call declarations and routing.
func (f *Func) Name() string { return f.name }

// Description returns the short natural language description exposed to engines.
func (f *Func) Description() string { return f.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (f *Func) Parameters() map[string]any { return f.parameters }

// Call validates the provided args against the declared schema then invokes
// the underlying function. Validation or execution failures are wrapped (or
// passed through) as *Error for uniform downstream handling.
func (f *Func) Call(callCtx *CallContext, args map[string]any) (any, error) {
	logger := callCtx.Logger()
	start := time.Now()

	logger.Debug("capability.call.start", "capability", f.name, "call_id", callCtx.CallID())

	if err := util.ValidateArguments(args, f.parameters); err != nil {
		logger.Warn("capability.call.validation_failed", "capability", f.name, "error", err.Error())

		return nil, &Error{
			Capability: f.name,
			Message:    fmt.Sprintf("argument validation failed: %v", err),
			Code:       "VALIDATION_ERROR",
			Details:    err,
		}
	}

	result, err := f.fn(callCtx, args)
	if err != nil {
		if capErr, ok := err.(*Error); ok { // Already an Error -> just log and forward
			logger.Error("capability.call.error", "capability", f.name, "error", capErr.Message)

			return nil, capErr
		}

		logger.Error("capability.call.error", "capability", f.name, "error", err.Error())

		return nil, &Error{
			Capability: f.name,
			Message:    err.Error(),
			Code:       "EXECUTION_ERROR",
		}
	}

	logger.Info("capability.call.success", "capability", f.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
