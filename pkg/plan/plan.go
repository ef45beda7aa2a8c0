// Package plan defines the execution plan model: steps, results, and the
// error taxonomy shared by step handlers and the executor.
package plan

import "fmt"

// StepKind identifies which handler executes a step.
type StepKind string

// Step kinds. Bookends (thinking, generating_steps, finalizing_results)
// structure the timeline shown to the client and never carry data.
const (
	KindSQL                StepKind = "sql"
	KindAPI                StepKind = "api"
	KindSystemLog          StepKind = "system_log"
	KindResultsFormatter   StepKind = "results_formatter"
	KindThinking           StepKind = "thinking"
	KindGeneratingSteps    StepKind = "generating_steps"
	KindFinalizingResults  StepKind = "finalizing_results"
	KindReactDiscovery     StepKind = "react_discovery"
	KindSecurityValidation StepKind = "security_validation"
	KindScriptExecution    StepKind = "script_execution"
)

// IsBookend reports whether the kind is a synthetic timeline step.
func (k StepKind) IsBookend() bool {
	switch k {
	case KindThinking, KindGeneratingSteps, KindFinalizingResults:
		return true
	}
	return false
}

// IsData reports whether the kind produces data and therefore must be critical.
func (k StepKind) IsData() bool {
	switch k {
	case KindSQL, KindAPI, KindSystemLog, KindScriptExecution:
		return true
	}
	return false
}

// Step is a single executable unit within a plan.
type Step struct {
	Index     int      `json:"index"`
	Kind      StepKind `json:"kind"`
	Entity    string   `json:"entity,omitempty"`    // domain entity, e.g. users, groups
	Operation string   `json:"operation,omitempty"` // free-form descriptor (SQL text, API intent, script)
	Reasoning string   `json:"reasoning,omitempty"`
	Critical  bool     `json:"critical"`
}

// Name returns a short human-readable label for client display.
func (s Step) Name() string {
	if s.Entity != "" {
		return fmt.Sprintf("%s:%s", s.Kind, s.Entity)
	}
	return string(s.Kind)
}

// Plan is an immutable ordered sequence of steps. Positions 0 and 1 are the
// thinking and generating_steps bookends; the last step is
// finalizing_results preceded by results_formatter for planned executions.
type Plan struct {
	Steps []Step `json:"steps"`
}

// StepCount returns the total number of steps including bookends.
func (p Plan) StepCount() int { return len(p.Steps) }

// Validate checks structural invariants: contiguous unique indices, bookend
// positions, and the criticality rule (data steps critical, bookends not).
func (p Plan) Validate() error {
	if len(p.Steps) < 3 {
		return fmt.Errorf("plan needs at least the two leading bookends and a trailing finalizing_results, got %d steps", len(p.Steps))
	}
	for i, s := range p.Steps {
		if s.Index != i {
			return fmt.Errorf("step indices must be contiguous: step at position %d has index %d", i, s.Index)
		}
		if s.Kind.IsData() && !s.Critical {
			return fmt.Errorf("step %d (%s) is a data step and must be critical", i, s.Kind)
		}
		if s.Kind.IsBookend() && s.Critical {
			return fmt.Errorf("step %d (%s) is a bookend and must not be critical", i, s.Kind)
		}
	}
	if p.Steps[0].Kind != KindThinking {
		return fmt.Errorf("step 0 must be thinking, got %s", p.Steps[0].Kind)
	}
	if p.Steps[1].Kind != KindGeneratingSteps {
		return fmt.Errorf("step 1 must be generating_steps, got %s", p.Steps[1].Kind)
	}
	if last := p.Steps[len(p.Steps)-1].Kind; last != KindFinalizingResults {
		return fmt.Errorf("last step must be finalizing_results, got %s", last)
	}
	return nil
}

// New builds a plan by wrapping the given data steps with the fixed bookends
// and a results_formatter step, assigning contiguous indices.
func New(dataSteps []Step) Plan {
	steps := make([]Step, 0, len(dataSteps)+4)
	steps = append(steps,
		Step{Kind: KindThinking},
		Step{Kind: KindGeneratingSteps},
	)
	steps = append(steps, dataSteps...)
	steps = append(steps,
		Step{Kind: KindResultsFormatter, Critical: true},
		Step{Kind: KindFinalizingResults},
	)
	for i := range steps {
		steps[i].Index = i
		if steps[i].Kind.IsData() {
			steps[i].Critical = true
		}
		if steps[i].Kind.IsBookend() {
			steps[i].Critical = false
		}
	}
	return Plan{Steps: steps}
}
