package step

import (
	"context"
	"errors"
	"strings"

	"github.com/oktant/oktant/pkg/mirror"
	"github.com/oktant/oktant/pkg/plan"
)

// sqlPageSize is how many rows the mirror client materializes per page.
const sqlPageSize = 200

// SQLHandler runs read-only statements against the local Okta mirror.
type SQLHandler struct {
	mirror *mirror.Client
}

// NewSQLHandler creates the handler for sql steps.
func NewSQLHandler(m *mirror.Client) *SQLHandler {
	return &SQLHandler{mirror: m}
}

func (h *SQLHandler) Execute(ctx context.Context, in Input) (*plan.StepResult, *plan.StepError) {
	query := strings.TrimSpace(in.Step.Operation)
	if query == "" {
		return nil, &plan.StepError{Kind: plan.ErrInvalidInput, Message: "sql step carries no statement"}
	}
	if !mirror.IsReadOnly(query) {
		return nil, &plan.StepError{
			Kind:    plan.ErrInvalidInput,
			Message: "mirror statements must be read-only (SELECT or WITH)",
		}
	}

	var records []plan.Record
	total, err := h.mirror.QueryPages(ctx, query, nil, sqlPageSize, func(page []plan.Record) error {
		records = append(records, page...)
		return nil
	})
	if err != nil {
		return nil, classifySQLErr(err)
	}

	in.Emit.Count(total, string(plan.KindSQL))
	return &plan.StepResult{Records: records, RecordCount: total}, nil
}

func classifySQLErr(err error) *plan.StepError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &plan.StepError{Kind: plan.ErrTimeout, Message: "mirror query timed out"}
	case errors.Is(err, context.Canceled):
		return &plan.StepError{Kind: plan.ErrCancelled, Message: "cancelled"}
	case errors.Is(err, mirror.ErrNotReadOnly):
		return &plan.StepError{Kind: plan.ErrInvalidInput, Message: err.Error()}
	default:
		return &plan.StepError{
			Kind:             plan.ErrInternal,
			Message:          "mirror query failed",
			TechnicalDetails: err.Error(),
		}
	}
}
