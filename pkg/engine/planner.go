package engine

import (
	"context"

	"github.com/oktant/oktant/pkg/plan"
	"github.com/oktant/oktant/pkg/step"
)

// Planner turns a user query into an execution plan. Implementations may
// report LLM token usage through the emitter, attributed to the
// generating_steps bookend.
type Planner interface {
	Plan(ctx context.Context, query string, emit step.Emitter) (plan.Plan, error)
}

// ScriptPlanner is implemented by planners that can synthesize a script for
// queries the fixed step vocabulary cannot answer. Discover drives the
// exploratory tool loop and returns the final script text.
type ScriptPlanner interface {
	Planner
	Discover(ctx context.Context, query string, samples []plan.Record, emit step.Emitter) (string, error)
}

// StubPlanner returns a fixed plan regardless of the query. Used for wiring
// and tests until a model-backed planner is plugged in.
type StubPlanner struct {
	// Steps are the data steps to wrap with bookends and a formatter.
	Steps []plan.Step

	// Script, when non-empty, is returned by Discover for script plans.
	Script string
}

func (s *StubPlanner) Plan(ctx context.Context, query string, emit step.Emitter) (plan.Plan, error) {
	return plan.New(s.Steps), nil
}

func (s *StubPlanner) Discover(ctx context.Context, query string, samples []plan.Record, emit step.Emitter) (string, error) {
	return s.Script, nil
}
