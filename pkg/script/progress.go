// Package script supervises generated-script subprocesses: launch, stdio
// capture, structured progress parsing, timeout, and cleanup.
package script

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// ProgressPrefix marks a structured progress line on the child's stderr.
// The remainder of the line is a single JSON object.
const ProgressPrefix = "__PROGRESS__"

// Recognized progress types emitted by generated scripts.
const (
	ProgressEntityStart    = "entity_start"
	ProgressEntityProgress = "entity_progress"
	ProgressEntityComplete = "entity_complete"
	ProgressRateLimitWait  = "rate_limit_wait"
	ProgressAPICallLimit   = "api_call_limit"
)

// ProgressEvent is one parsed progress line.
type ProgressEvent struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Entity      string  `json:"entity,omitempty"`
	Current     int     `json:"current,omitempty"`
	Total       int     `json:"total,omitempty"`
	Percent     float64 `json:"percent,omitempty"`
	WaitSeconds float64 `json:"wait_seconds,omitempty"`
	Status      string  `json:"status,omitempty"`

	// Known reports whether Type is one of the recognized constants.
	// Unknown types are forwarded with the raw payload as the message.
	Known bool `json:"-"`
}

// ParseProgressLine parses a stderr line. Returns (event, true) for progress
// lines; (zero, false) for ordinary stderr output.
func ParseProgressLine(line string) (ProgressEvent, bool) {
	if !strings.HasPrefix(line, ProgressPrefix) {
		return ProgressEvent{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, ProgressPrefix))

	var evt ProgressEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		slog.Warn("Malformed progress line from script", "payload", payload, "error", err)
		return ProgressEvent{Type: "", Message: payload}, true
	}

	switch evt.Type {
	case ProgressEntityStart, ProgressEntityProgress, ProgressEntityComplete,
		ProgressRateLimitWait, ProgressAPICallLimit:
		evt.Known = true
	default:
		slog.Info("Unknown progress type from script", "type", evt.Type, "payload", payload)
		evt.Message = payload
	}
	return evt, true
}
