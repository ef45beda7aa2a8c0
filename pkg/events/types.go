// Package events defines the execution event model and the per-process
// event bus that carries events from the executor to one stream consumer.
//
// ════════════════════════════════════════════════════════════════
// Event lifecycle
// ════════════════════════════════════════════════════════════════
//
// Every process emits, in order:
//
//	planning_phase {phase: "planning_start"}
//	planning_phase {phase: "planning_complete"}
//	plan_generated {plan, step_count}
//	step_start / step_progress* / step_tokens* / step_count* / step_end   (per step)
//	                                                                      ...
//	metadata + batch*            (only for chunked tabular output)
//	complete | error             (exactly one terminal)
//	done                         (sentinel; the stream closes after it)
//
// On failure the failing step additionally emits step_error before its
// step_end, and the process terminal is error instead of complete.
//
// Ordering is strict FIFO per process; sequence numbers are assigned on
// emission and are strictly increasing. There is no cross-process ordering.
package events

// Event type strings, carried in the envelope "type" field.
const (
	TypePlanGenerated = "plan_generated"
	TypePlanningPhase = "planning_phase"
	TypeStepStart     = "step_start"
	TypeStepEnd       = "step_end"
	TypeStepProgress  = "step_progress"
	TypeStepTokens    = "step_tokens"
	TypeStepCount     = "step_count"
	TypeStepError     = "step_error"
	TypeMetadata      = "metadata"
	TypeBatch         = "batch"
	TypeComplete      = "complete"
	TypeError         = "error"
	TypeDone          = "done"
)

// Planning phase values (PlanningPhasePayload.Phase).
const (
	PhasePlanningStart    = "planning_start"
	PhasePlanningComplete = "planning_complete"
)

// Progress type values (StepProgressPayload.ProgressType).
const (
	ProgressGeneric       = "generic"
	ProgressRateLimit     = "rate_limit"
	ProgressRateLimitWait = "rate_limit_wait"
)
