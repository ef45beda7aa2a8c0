// Package step contains the step handler registry, the runner that drives a
// single step through its lifecycle events, and the built-in handlers.
package step

import (
	"time"

	"github.com/oktant/oktant/pkg/events"
)

// Emitter lets a handler publish mid-step events bound to its step number.
type Emitter interface {
	// Progress reports generic forward motion. total may be zero when the
	// final size is unknown.
	Progress(message string, current, total int)

	// RateLimit reports an upstream rate-limit pause.
	RateLimit(message string, waitSeconds float64)

	// Tokens reports LLM token usage attributed to this step.
	Tokens(inputTokens, outputTokens int, agentName string)

	// Count reports the step's record count ahead of step_end.
	Count(recordCount int, operationType string)
}

// silentEmitter drops step_progress traffic for kinds whose registry spec
// declares none. Tokens and counts are lifecycle data and still pass through.
type silentEmitter struct{ Emitter }

func (silentEmitter) Progress(message string, current, total int)   {}
func (silentEmitter) RateLimit(message string, waitSeconds float64) {}

type busEmitter struct {
	bus        *events.Bus
	processID  string
	stepNumber int
}

// NewEmitter binds an emitter to one step of one process.
func NewEmitter(bus *events.Bus, processID string, stepNumber int) Emitter {
	return &busEmitter{bus: bus, processID: processID, stepNumber: stepNumber}
}

func (e *busEmitter) Progress(message string, current, total int) {
	p := events.StepProgressPayload{
		ProcessID:     e.processID,
		StepNumber:    e.stepNumber,
		ProgressType:  events.ProgressGeneric,
		Current:       current,
		Total:         total,
		Message:       message,
		FormattedTime: events.FormatTime(time.Now()),
	}
	if total > 0 {
		p.Percentage = float64(current) / float64(total) * 100
	}
	e.bus.EmitProgress(p)
}

func (e *busEmitter) RateLimit(message string, waitSeconds float64) {
	e.bus.EmitProgress(events.StepProgressPayload{
		ProcessID:     e.processID,
		StepNumber:    e.stepNumber,
		ProgressType:  events.ProgressRateLimit,
		Message:       message,
		WaitSeconds:   waitSeconds,
		FormattedTime: events.FormatTime(time.Now()),
	})
}

func (e *busEmitter) Tokens(inputTokens, outputTokens int, agentName string) {
	e.bus.Emit(events.TypeStepTokens, events.StepTokensPayload{
		ProcessID:     e.processID,
		StepNumber:    e.stepNumber,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		AgentName:     agentName,
		FormattedTime: events.FormatTime(time.Now()),
	})
}

func (e *busEmitter) Count(recordCount int, operationType string) {
	e.bus.Emit(events.TypeStepCount, events.StepCountPayload{
		ProcessID:     e.processID,
		StepNumber:    e.stepNumber,
		RecordCount:   recordCount,
		OperationType: operationType,
		FormattedTime: events.FormatTime(time.Now()),
	})
}
