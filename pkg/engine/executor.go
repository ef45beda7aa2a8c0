package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oktant/oktant/pkg/events"
	"github.com/oktant/oktant/pkg/plan"
	"github.com/oktant/oktant/pkg/process"
	"github.com/oktant/oktant/pkg/step"
)

// execute drives one process from planning to its done sentinel. Runs on its
// own goroutine, launched by the first Subscribe.
func (e *Engine) execute(p *process.Process) {
	ctx := p.Context()
	bus := p.Bus()
	logger := slog.With("process_id", p.ID)

	p.SetStatus(process.StatusPlanning)
	bus.Emit(events.TypePlanningPhase, events.PlanningPhasePayload{
		ProcessID:     p.ID,
		Phase:         events.PhasePlanningStart,
		FormattedTime: events.FormatTime(time.Now()),
	})

	// Planner token usage is attributed to the generating_steps bookend.
	pl, err := e.deps.Planner.Plan(ctx, p.Query, step.NewEmitter(bus, p.ID, 1))
	if err != nil {
		e.finishWithError(p, classifyPlanErr(ctx, err))
		return
	}
	if err := pl.Validate(); err != nil {
		logger.Error("Planner produced an invalid plan", "error", err)
		e.finishWithError(p, &plan.StepError{
			Kind:             plan.ErrInternal,
			Message:          "generated plan is invalid",
			TechnicalDetails: err.Error(),
		})
		return
	}

	bus.Emit(events.TypePlanningPhase, events.PlanningPhasePayload{
		ProcessID:     p.ID,
		Phase:         events.PhasePlanningComplete,
		FormattedTime: events.FormatTime(time.Now()),
	})
	p.SetPlan(pl)
	bus.Emit(events.TypePlanGenerated, events.PlanGeneratedPayload{
		ProcessID:     p.ID,
		Plan:          pl,
		StepCount:     pl.StepCount(),
		FormattedTime: events.FormatTime(time.Now()),
	})
	logger.Info("Plan generated", "steps", pl.StepCount())

	p.SetStatus(process.StatusExecuting)
	registry := e.deps.Steps
	if planHasKind(pl, plan.KindScriptExecution) {
		registry = e.scriptRegistry(registry)
	}
	runner := step.NewRunner(registry)

	var (
		results  = make([]*plan.StepResult, 0, len(pl.Steps))
		samples  []plan.Record
		artifact *plan.Artifact
		failure  *plan.StepError
	)
	for _, st := range pl.Steps {
		if ctx.Err() != nil {
			failure = classifyContextFailure(ctx)
			break
		}
		res := runner.Run(ctx, bus, step.Input{
			ProcessID: p.ID,
			Query:     p.Query,
			Step:      st,
			Samples:   samples,
			Prior:     results,
		})
		results = append(results, res)

		if res.Err != nil {
			if st.Critical {
				failure = res.Err
				break
			}
			// Non-critical failure: the plan continues without this step.
			continue
		}
		if len(res.Sample) > 0 {
			samples = res.Sample
		}
		if res.Artifact != nil {
			artifact = res.Artifact
		}
	}

	if failure != nil {
		e.finishWithError(p, failure)
		return
	}

	e.streamArtifact(bus, p, artifact)
	p.SetStatus(process.StatusCompleted)
	e.saveHistory(p, artifact)
	bus.Emit(events.TypeDone, events.DonePayload{
		ProcessID:     p.ID,
		FormattedTime: events.FormatTime(time.Now()),
	})
	// Notification happens after the done sentinel so a slow Slack API
	// cannot delay the stream.
	e.notify(p, "")
	logger.Info("Process completed", "steps", len(results))
}

// finishWithError records the terminal status and emits the error event
// followed by the done sentinel.
func (e *Engine) finishWithError(p *process.Process, stepErr *plan.StepError) {
	status := process.StatusError
	if stepErr.Kind == plan.ErrCancelled {
		status = process.StatusCancelled
	}
	p.SetStatus(status)

	bus := p.Bus()
	bus.Emit(events.TypeError, events.ErrorPayload{
		ProcessID:     p.ID,
		Error:         string(stepErr.Kind),
		Message:       stepErr.Message,
		FormattedTime: events.FormatTime(time.Now()),
	})
	e.saveHistory(p, nil)
	bus.Emit(events.TypeDone, events.DonePayload{
		ProcessID:     p.ID,
		FormattedTime: events.FormatTime(time.Now()),
	})
	e.notify(p, stepErr.Message)
	slog.Info("Process finished with error",
		"process_id", p.ID, "status", status, "error_kind", stepErr.Kind)
}

func (e *Engine) saveHistory(p *process.Process, artifact *plan.Artifact) {
	if e.deps.History == nil {
		return
	}
	// History persistence must not be cancellable by the process context:
	// the terminal record matters most for cancelled and failed runs.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.deps.History.SaveResult(ctx, p.Snapshot(), artifact); err != nil {
		slog.Warn("Failed to persist process result", "process_id", p.ID, "error", err)
	}
}

func (e *Engine) notify(p *process.Process, errMessage string) {
	if e.deps.Notifier == nil {
		return
	}
	e.deps.Notifier.NotifyTerminal(p.Snapshot(), errMessage)
}

func classifyPlanErr(ctx context.Context, err error) *plan.StepError {
	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		return &plan.StepError{Kind: plan.ErrCancelled, Message: "cancelled"}
	case errors.Is(err, context.DeadlineExceeded):
		return &plan.StepError{Kind: plan.ErrTimeout, Message: "planning timed out"}
	default:
		return &plan.StepError{
			Kind:             plan.ErrInternal,
			Message:          "planning failed",
			TechnicalDetails: err.Error(),
		}
	}
}

func classifyContextFailure(ctx context.Context) *plan.StepError {
	if ctx.Err() == context.DeadlineExceeded {
		return &plan.StepError{Kind: plan.ErrTimeout, Message: "execution deadline exceeded"}
	}
	return &plan.StepError{Kind: plan.ErrCancelled, Message: "cancelled"}
}

func planHasKind(pl plan.Plan, kind plan.StepKind) bool {
	for _, st := range pl.Steps {
		if st.Kind == kind {
			return true
		}
	}
	return false
}
