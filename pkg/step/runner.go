package step

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oktant/oktant/pkg/events"
	"github.com/oktant/oktant/pkg/plan"
)

// Runner drives one step through its full event lifecycle: step_start,
// handler execution under the kind's deadline, then step_end (preceded by
// step_error on failure).
type Runner struct {
	registry *Registry
}

// NewRunner creates a runner over the given registry.
func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

// Run executes one step and returns its normalized result. The result is
// never nil; failures carry a classified StepError.
func (r *Runner) Run(ctx context.Context, bus *events.Bus, in Input) *plan.StepResult {
	start := time.Now()
	bus.Emit(events.TypeStepStart, events.StepStartPayload{
		ProcessID:     in.ProcessID,
		StepNumber:    in.Step.Index,
		StepType:      string(in.Step.Kind),
		StepName:      in.Step.Name(),
		QueryContext:  in.Step.Reasoning,
		Critical:      in.Step.Critical,
		FormattedTime: events.FormatTime(start),
	})

	res, stepErr := r.invoke(ctx, bus, in)
	duration := time.Since(start)

	if stepErr != nil {
		if stepErr.Kind == "" {
			stepErr.Kind = plan.ErrInternal
		}
		slog.Warn("Step failed",
			"process_id", in.ProcessID,
			"step", in.Step.Index,
			"kind", in.Step.Kind,
			"error_kind", stepErr.Kind,
			"error", stepErr.Message)

		bus.Emit(events.TypeStepError, events.StepErrorPayload{
			ProcessID:        in.ProcessID,
			StepNumber:       in.Step.Index,
			ErrorType:        string(stepErr.Kind),
			ErrorMessage:     stepErr.Message,
			RetryPossible:    stepErr.Retryable,
			TechnicalDetails: stepErr.TechnicalDetails,
			FormattedTime:    events.FormatTime(time.Now()),
		})
		bus.Emit(events.TypeStepEnd, events.StepEndPayload{
			ProcessID:       in.ProcessID,
			StepNumber:      in.Step.Index,
			StepType:        string(in.Step.Kind),
			Success:         false,
			DurationSeconds: duration.Seconds(),
			ErrorMessage:    stepErr.Message,
			FormattedTime:   events.FormatTime(time.Now()),
		})
		return &plan.StepResult{
			Index:     in.Step.Index,
			StartedAt: start,
			Duration:  duration,
			Err:       stepErr,
		}
	}

	if res == nil {
		res = &plan.StepResult{}
	}
	res.Index = in.Step.Index
	res.Success = true
	res.StartedAt = start
	res.Duration = duration
	if res.RecordCount == 0 {
		res.RecordCount = len(res.Records)
	}
	if res.Sample == nil && len(res.Records) > 0 {
		res.Sample = plan.BuildSample(res.Records)
	}

	bus.Emit(events.TypeStepEnd, events.StepEndPayload{
		ProcessID:       in.ProcessID,
		StepNumber:      in.Step.Index,
		StepType:        string(in.Step.Kind),
		Success:         true,
		DurationSeconds: duration.Seconds(),
		RecordCount:     res.RecordCount,
		FormattedTime:   events.FormatTime(time.Now()),
	})
	return res
}

func (r *Runner) invoke(ctx context.Context, bus *events.Bus, in Input) (*plan.StepResult, *plan.StepError) {
	h, spec, ok := r.registry.Lookup(in.Step.Kind)
	if !ok {
		return nil, &plan.StepError{
			Kind:    plan.ErrInternal,
			Message: fmt.Sprintf("no handler registered for step kind %q", in.Step.Kind),
		}
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}
	if in.Emit == nil {
		in.Emit = NewEmitter(bus, in.ProcessID, in.Step.Index)
	}
	if !spec.EmitsProgress {
		in.Emit = silentEmitter{in.Emit}
	}

	res, stepErr := h.Execute(ctx, in)
	if stepErr != nil && spec.Timeout > 0 && ctx.Err() == context.DeadlineExceeded {
		stepErr = &plan.StepError{
			Kind:             plan.ErrTimeout,
			Message:          fmt.Sprintf("step timed out after %ds", int(spec.Timeout.Seconds())),
			TechnicalDetails: stepErr.Message,
		}
	}
	return res, stepErr
}

// classifyContextErr maps a context failure to the step error taxonomy.
func classifyContextErr(ctx context.Context) *plan.StepError {
	if ctx.Err() == context.DeadlineExceeded {
		return &plan.StepError{Kind: plan.ErrTimeout, Message: "step deadline exceeded"}
	}
	return &plan.StepError{Kind: plan.ErrCancelled, Message: "cancelled"}
}
