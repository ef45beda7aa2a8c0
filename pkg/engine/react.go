package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/oktant/oktant/pkg/codecheck"
	"github.com/oktant/oktant/pkg/plan"
	"github.com/oktant/oktant/pkg/script"
	"github.com/oktant/oktant/pkg/step"
)

// scriptRun carries the state that flows between the three script-mode
// steps: discovery produces the code, validation binds an approval to it,
// execution consumes the approval.
type scriptRun struct {
	engine   *Engine
	code     string
	approval *codecheck.Approval
}

// scriptRegistry layers the script-mode handlers over the shared registry.
// The overlay is per-execution: the handlers close over this run's state.
func (e *Engine) scriptRegistry(base *step.Registry) *step.Registry {
	run := &scriptRun{engine: e}
	reg := base.Clone()
	reg.Register(plan.KindReactDiscovery, step.HandlerFunc(run.discover), step.Spec{
		Timeout:       e.cfg.APIStepTimeout,
		EmitsProgress: true,
	})
	reg.Register(plan.KindSecurityValidation, step.HandlerFunc(run.validate), step.Spec{
		Timeout: e.cfg.FormatterTimeout,
	})
	reg.Register(plan.KindScriptExecution, step.HandlerFunc(run.execute), step.Spec{
		Timeout:       e.cfg.ScriptTimeout,
		Critical:      true,
		EmitsProgress: true,
	})
	return reg
}

// discover asks the planner's tool loop for the script answering the query.
// The code stays out of the step result so it never leaks into the final
// artifact.
func (r *scriptRun) discover(ctx context.Context, in step.Input) (*plan.StepResult, *plan.StepError) {
	sp, ok := r.engine.deps.Planner.(ScriptPlanner)
	if !ok {
		return nil, &plan.StepError{
			Kind:    plan.ErrInternal,
			Message: "planner cannot synthesize scripts",
		}
	}

	code, err := sp.Discover(ctx, in.Query, in.Samples, in.Emit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classifyContextFailure(ctx)
		}
		return nil, &plan.StepError{
			Kind:             plan.ErrInternal,
			Message:          "script discovery failed",
			TechnicalDetails: err.Error(),
		}
	}
	if strings.TrimSpace(code) == "" {
		return nil, &plan.StepError{Kind: plan.ErrInternal, Message: "script discovery produced no code"}
	}
	r.code = code
	return &plan.StepResult{}, nil
}

// validate runs the generated code through the policy validator. The
// approval is held for the execution step; violations fail the process.
func (r *scriptRun) validate(ctx context.Context, in step.Input) (*plan.StepResult, *plan.StepError) {
	v := r.engine.deps.Validator
	if v == nil {
		return nil, &plan.StepError{Kind: plan.ErrInternal, Message: "no code validator configured"}
	}

	res, approval := v.Validate(r.code)
	if !res.OK {
		return nil, &plan.StepError{
			Kind:             plan.ErrSecurityViolation,
			Message:          fmt.Sprintf("script rejected: %s", res.Violations[0].Rule),
			TechnicalDetails: describeViolations(res.Violations),
		}
	}
	r.approval = approval
	return &plan.StepResult{}, nil
}

// execute hands the approved script to the supervisor, forwarding subprocess
// progress onto the event stream.
func (r *scriptRun) execute(ctx context.Context, in step.Input) (*plan.StepResult, *plan.StepError) {
	sup := r.engine.deps.Supervisor
	if sup == nil {
		return nil, &plan.StepError{Kind: plan.ErrInternal, Message: "no script supervisor configured"}
	}

	res, stepErr := sup.Run(ctx, r.code, r.approval, func(evt script.ProgressEvent) {
		forwardScriptProgress(in.Emit, evt)
	})
	if stepErr != nil {
		return nil, stepErr
	}
	return &plan.StepResult{
		Content:     res.Stdout,
		RecordCount: res.RecordCount,
	}, nil
}

// forwardScriptProgress maps a parsed subprocess progress line to the step
// emitter vocabulary.
func forwardScriptProgress(emit step.Emitter, evt script.ProgressEvent) {
	switch evt.Type {
	case script.ProgressRateLimitWait:
		emit.RateLimit(evt.Message, evt.WaitSeconds)
	case script.ProgressEntityStart, script.ProgressEntityProgress, script.ProgressEntityComplete:
		emit.Progress(evt.Message, evt.Current, evt.Total)
	default:
		emit.Progress(evt.Message, 0, 0)
	}
}

func describeViolations(violations []codecheck.Violation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("line %d: %s", v.LineNo, v.Rule))
	}
	return strings.Join(parts, "; ")
}
