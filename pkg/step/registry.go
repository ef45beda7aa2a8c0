package step

import (
	"context"
	"time"

	"github.com/oktant/oktant/pkg/config"
	"github.com/oktant/oktant/pkg/mirror"
	"github.com/oktant/oktant/pkg/okta"
	"github.com/oktant/oktant/pkg/plan"
)

// Input is everything a handler needs to execute one step.
type Input struct {
	ProcessID string
	Query     string
	Step      plan.Step

	// Samples is the bounded context carried over from prior data steps.
	Samples []plan.Record

	// Prior holds the completed results so far, in step order. The
	// results_formatter reads full records from here.
	Prior []*plan.StepResult

	// Emit publishes mid-step events. The runner fills it in when nil.
	Emit Emitter
}

// Handler executes one kind of step. A nil StepError means success; the
// runner finalizes index, timing and sample on the returned result.
type Handler interface {
	Execute(ctx context.Context, in Input) (*plan.StepResult, *plan.StepError)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in Input) (*plan.StepResult, *plan.StepError)

func (f HandlerFunc) Execute(ctx context.Context, in Input) (*plan.StepResult, *plan.StepError) {
	return f(ctx, in)
}

// Spec is the per-kind execution policy.
type Spec struct {
	// Timeout is the step deadline. Zero means inherit the caller's context.
	Timeout time.Duration

	// Critical is the default criticality a planner assigns to this kind.
	Critical bool

	// EmitsProgress marks kinds that publish step_progress events. The
	// runner silences the progress side of the emitter for all others.
	EmitsProgress bool
}

type registration struct {
	handler Handler
	spec    Spec
}

// Registry maps step kinds to handlers. Built once at startup, read-only
// afterwards.
type Registry struct {
	kinds map[plan.StepKind]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[plan.StepKind]registration)}
}

// Register binds a handler and its policy to a kind, replacing any previous
// registration.
func (r *Registry) Register(kind plan.StepKind, h Handler, spec Spec) {
	r.kinds[kind] = registration{handler: h, spec: spec}
}

// Clone returns an independent copy. Callers layer per-execution handlers
// on top of a shared base registry without mutating it.
func (r *Registry) Clone() *Registry {
	out := NewRegistry()
	for kind, reg := range r.kinds {
		out.kinds[kind] = reg
	}
	return out
}

// Lookup returns the handler and policy for a kind.
func (r *Registry) Lookup(kind plan.StepKind) (Handler, Spec, bool) {
	reg, ok := r.kinds[kind]
	return reg.handler, reg.spec, ok
}

// noopHandler backs the bookend kinds: the runner still emits the start/end
// pair, the handler itself does nothing.
type noopHandler struct{}

func (noopHandler) Execute(ctx context.Context, in Input) (*plan.StepResult, *plan.StepError) {
	return &plan.StepResult{}, nil
}

// NewDefaultRegistry wires the standard handlers with timeouts from cfg and
// the retry budget from oktaCfg.
func NewDefaultRegistry(cfg *config.EngineConfig, oktaCfg *config.OktaConfig, mirrorClient *mirror.Client, oktaClient *okta.Client) *Registry {
	r := NewRegistry()
	r.Register(plan.KindSQL, NewSQLHandler(mirrorClient), Spec{
		Timeout:  cfg.SQLStepTimeout,
		Critical: true,
	})
	api := NewAPIHandler(oktaClient, oktaCfg.MaxRetries)
	r.Register(plan.KindAPI, api, Spec{
		Timeout:       cfg.APIStepTimeout,
		Critical:      true,
		EmitsProgress: true,
	})
	r.Register(plan.KindSystemLog, api, Spec{
		Timeout:       cfg.APIStepTimeout,
		Critical:      true,
		EmitsProgress: true,
	})
	r.Register(plan.KindResultsFormatter, &FormatterHandler{}, Spec{
		Timeout:  cfg.FormatterTimeout,
		Critical: true,
	})
	for _, kind := range []plan.StepKind{plan.KindThinking, plan.KindGeneratingSteps, plan.KindFinalizingResults} {
		r.Register(kind, noopHandler{}, Spec{})
	}
	return r
}
