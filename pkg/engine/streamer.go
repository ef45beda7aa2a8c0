package engine

import (
	"time"

	"github.com/oktant/oktant/pkg/events"
	"github.com/oktant/oktant/pkg/plan"
	"github.com/oktant/oktant/pkg/process"
)

// streamArtifact delivers the final artifact. Tabular results at or above
// the batch threshold go out as metadata + batch sequence + empty complete;
// everything else is a single inline complete.
func (e *Engine) streamArtifact(bus *events.Bus, p *process.Process, artifact *plan.Artifact) {
	if artifact == nil {
		artifact = &plan.Artifact{DisplayType: plan.DisplayText}
	}

	chunked := artifact.DisplayType == plan.DisplayTable &&
		len(artifact.Records) >= e.cfg.BatchThreshold &&
		e.cfg.BatchSize > 0

	if !chunked {
		bus.Emit(events.TypeComplete, events.CompletePayload{
			ProcessID:     p.ID,
			DisplayType:   string(artifact.DisplayType),
			Content:       artifact.Content,
			Results:       artifact.Records,
			Headers:       artifact.Headers,
			Count:         len(artifact.Records),
			FormattedTime: events.FormatTime(time.Now()),
		})
		return
	}

	total := len(artifact.Records)
	batches := (total + e.cfg.BatchSize - 1) / e.cfg.BatchSize

	bus.Emit(events.TypeMetadata, events.MetadataPayload{
		ProcessID:     p.ID,
		DisplayType:   string(artifact.DisplayType),
		TotalRecords:  total,
		TotalBatches:  batches,
		Headers:       artifact.Headers,
		ExecutionPlan: p.Plan(),
		FormattedTime: events.FormatTime(time.Now()),
	})

	for i := 0; i < batches; i++ {
		start := i * e.cfg.BatchSize
		end := start + e.cfg.BatchSize
		if end > total {
			end = total
		}
		bus.Emit(events.TypeBatch, events.BatchPayload{
			ProcessID:     p.ID,
			BatchNumber:   i + 1,
			TotalBatches:  batches,
			Results:       artifact.Records[start:end],
			IsFinal:       i == batches-1,
			FormattedTime: events.FormatTime(time.Now()),
		})
	}

	bus.Emit(events.TypeComplete, events.CompletePayload{
		ProcessID:     p.ID,
		DisplayType:   string(artifact.DisplayType),
		Metadata:      map[string]any{"chunked": true},
		FormattedTime: events.FormatTime(time.Now()),
	})
}
