// Package flow drives the role-transition run loop: resolve the active
// handler unit, assemble the engine request, execute any requested capability
// calls (possibly in parallel) and commit at most one role transition per
// step. The loop owns exactly one ExecutionContext and drives it strictly
// sequentially; only capability calls within a single step run concurrently.
package flow

import (
	"github.com/hupe1980/geomesh/core"
	"github.com/hupe1980/geomesh/engine"
	"github.com/hupe1980/geomesh/handler"
)

// RequestProcessor mutates the engine request before a reasoning step.
// Processors run in registration order.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// Process modifies the engine request before the reasoning step.
	Process(ec *core.ExecutionContext, unit handler.Unit, req *engine.Request) error
}
