package events

import (
	"time"

	"github.com/oktant/oktant/pkg/plan"
)

// FormatTime renders a timestamp the way every event payload carries it.
func FormatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

// Envelope is the wire form of one event: {type, seq, content}.
// Seq is assigned by the bus on emission and is strictly increasing
// per process.
type Envelope struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq"`
	Content any    `json:"content"`
}

// PlanGeneratedPayload is the payload for plan_generated events.
// Emitted once per process, after planning and before any step event.
type PlanGeneratedPayload struct {
	ProcessID     string    `json:"process_id"`
	Plan          plan.Plan `json:"plan"`
	StepCount     int       `json:"step_count"`
	FormattedTime string    `json:"formatted_time"`
}

// PlanningPhasePayload is the payload for planning_phase events.
type PlanningPhasePayload struct {
	ProcessID     string `json:"process_id"`
	Phase         string `json:"phase"` // planning_start, planning_complete
	FormattedTime string `json:"formatted_time"`
}

// StepStartPayload is the payload for step_start events.
type StepStartPayload struct {
	ProcessID     string `json:"process_id"`
	StepNumber    int    `json:"step_number"`
	StepType      string `json:"step_type"`
	StepName      string `json:"step_name"`
	QueryContext  string `json:"query_context,omitempty"`
	Critical      bool   `json:"critical"`
	FormattedTime string `json:"formatted_time"`
}

// StepEndPayload is the payload for step_end events.
type StepEndPayload struct {
	ProcessID       string  `json:"process_id"`
	StepNumber      int     `json:"step_number"`
	StepType        string  `json:"step_type"`
	Success         bool    `json:"success"`
	DurationSeconds float64 `json:"duration_seconds"`
	RecordCount     int     `json:"record_count"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	FormattedTime   string  `json:"formatted_time"`
}

// StepProgressPayload is the payload for step_progress events.
// Under a slow consumer the bus may coalesce these to the latest value
// per step; all other event types are never dropped.
type StepProgressPayload struct {
	ProcessID     string  `json:"process_id"`
	StepNumber    int     `json:"step_number"`
	ProgressType  string  `json:"progress_type"` // generic, rate_limit, rate_limit_wait
	Current       int     `json:"current,omitempty"`
	Total         int     `json:"total,omitempty"`
	Percentage    float64 `json:"percentage,omitempty"`
	Message       string  `json:"message"`
	WaitSeconds   float64 `json:"wait_seconds,omitempty"`
	FormattedTime string  `json:"formatted_time"`
}

// StepTokensPayload is the payload for step_tokens events, reporting LLM
// token usage attributed to a step.
type StepTokensPayload struct {
	ProcessID     string `json:"process_id"`
	StepNumber    int    `json:"step_number"`
	InputTokens   int    `json:"input_tokens"`
	OutputTokens  int    `json:"output_tokens"`
	AgentName     string `json:"agent_name"`
	FormattedTime string `json:"formatted_time"`
}

// StepCountPayload is the payload for step_count events.
type StepCountPayload struct {
	ProcessID     string `json:"process_id"`
	StepNumber    int    `json:"step_number"`
	RecordCount   int    `json:"record_count"`
	OperationType string `json:"operation_type"`
	FormattedTime string `json:"formatted_time"`
}

// StepErrorPayload is the payload for step_error events, emitted before the
// failing step's step_end.
type StepErrorPayload struct {
	ProcessID        string `json:"process_id"`
	StepNumber       int    `json:"step_number"`
	ErrorType        string `json:"error_type"`
	ErrorMessage     string `json:"error_message"`
	RetryPossible    bool   `json:"retry_possible"`
	TechnicalDetails string `json:"technical_details,omitempty"`
	FormattedTime    string `json:"formatted_time"`
}

// MetadataPayload is the payload for metadata events, the envelope that
// precedes a chunked batch sequence.
type MetadataPayload struct {
	ProcessID     string    `json:"process_id"`
	DisplayType   string    `json:"display_type"`
	TotalRecords  int       `json:"total_records"`
	TotalBatches  int       `json:"total_batches"`
	Headers       []string  `json:"headers,omitempty"`
	ExecutionPlan *plan.Plan `json:"execution_plan,omitempty"`
	FormattedTime string    `json:"formatted_time"`
}

// BatchPayload is the payload for batch events.
type BatchPayload struct {
	ProcessID     string        `json:"process_id"`
	BatchNumber   int           `json:"batch_number"`
	TotalBatches  int           `json:"total_batches"`
	Results       []plan.Record `json:"results"`
	IsFinal       bool          `json:"is_final"`
	FormattedTime string        `json:"formatted_time"`
}

// CompletePayload is the payload for complete events. For chunked output the
// content is empty and Metadata carries {"chunked": true}.
type CompletePayload struct {
	ProcessID     string         `json:"process_id"`
	DisplayType   string         `json:"display_type"`
	Content       string         `json:"content"`
	Results       []plan.Record  `json:"results,omitempty"`
	Headers       []string       `json:"headers,omitempty"`
	Count         int            `json:"count,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	FormattedTime string         `json:"formatted_time"`
}

// ErrorPayload is the payload for the terminal error event.
type ErrorPayload struct {
	ProcessID     string `json:"process_id"`
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	FormattedTime string `json:"formatted_time"`
}

// DonePayload is the payload for the done sentinel, released after the
// terminal event (and any history persistence) so clients know the stream
// is finished.
type DonePayload struct {
	ProcessID     string `json:"process_id"`
	FormattedTime string `json:"formatted_time"`
}
