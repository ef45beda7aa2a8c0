package plan

import (
	"encoding/json"
	"time"
)

// ErrorKind classifies step failures. The executor and the API layer key
// retry hints and HTTP mapping off these values.
type ErrorKind string

// Error taxonomy.
const (
	ErrTimeout             ErrorKind = "timeout"
	ErrCancelled           ErrorKind = "cancelled"
	ErrUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrInvalidInput        ErrorKind = "invalid_input"
	ErrRateLimited         ErrorKind = "rate_limited"
	ErrAuth                ErrorKind = "auth"
	ErrSecurityViolation   ErrorKind = "security_violation"
	ErrInternal            ErrorKind = "internal"
)

// StepError carries a classified failure out of a handler.
type StepError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Retryable is a handler-declared hint surfaced to the client as
	// retry_possible. Rate-limit and transient upstream errors set it.
	Retryable bool `json:"retryable"`
	// TechnicalDetails is a compact diagnostic string (last HTTP status,
	// trailing stderr lines, etc.), bounded by the producer.
	TechnicalDetails string `json:"technical_details,omitempty"`
}

func (e *StepError) Error() string { return e.Message }

// DisplayType classifies formatter output for the client.
type DisplayType string

// Display types.
const (
	DisplayTable    DisplayType = "table"
	DisplayMarkdown DisplayType = "markdown"
	DisplayText     DisplayType = "text"
	DisplayJSON     DisplayType = "json"
)

// Record is one uniform row of step output.
type Record = map[string]any

// Artifact is the formatter's final output handed to the streamer.
type Artifact struct {
	DisplayType DisplayType `json:"display_type"`
	Content     string      `json:"content,omitempty"` // inline content for non-tabular output
	Records     []Record    `json:"records,omitempty"` // tabular rows
	Headers     []string    `json:"headers,omitempty"` // column order for tables
}

// StepResult is the normalized outcome of running one step.
type StepResult struct {
	Index       int
	Success     bool
	StartedAt   time.Time
	Duration    time.Duration
	RecordCount int

	// Records holds the full output of a data step, retained by the
	// executor for the final formatter.
	Records []Record

	// Content holds non-tabular output (script stdout, formatter text).
	Content string

	// Sample is the bounded projection forwarded to the next step as
	// context. Never aliased with Records.
	Sample []Record

	// Err is set on failure.
	Err *StepError

	// Artifact is set only by the results_formatter step.
	Artifact *Artifact
}

// Sample bounds, applied when building the cross-step context snapshot.
const (
	SampleMaxRows  = 20
	SampleMaxBytes = 8 * 1024
)

// BuildSample returns a deep-copied, size-bounded projection of rows.
// The copy prevents cross-step aliasing of mutable maps.
func BuildSample(rows []Record) []Record {
	n := len(rows)
	if n > SampleMaxRows {
		n = SampleMaxRows
	}
	sample := make([]Record, 0, n)
	total := 0
	for _, row := range rows[:n] {
		cp := make(Record, len(row))
		for k, v := range row {
			cp[k] = v
		}
		if b, err := json.Marshal(cp); err == nil {
			total += len(b)
			if total > SampleMaxBytes && len(sample) > 0 {
				break
			}
		}
		sample = append(sample, cp)
	}
	return sample
}
