package step

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oktant/oktant/pkg/plan"
)

func TestFormatterBuildsTable(t *testing.T) {
	prior := []*plan.StepResult{
		{Success: true}, // bookend
		{Success: true, Records: []plan.Record{
			{"id": "00u1", "status": "ACTIVE", "email": "a@example.com"},
			{"id": "00u2", "status": "SUSPENDED", "email": "b@example.com"},
		}},
	}

	res, stepErr := (&FormatterHandler{}).Execute(context.Background(), Input{Prior: prior})
	require.Nil(t, stepErr)
	require.NotNil(t, res.Artifact)

	assert.Equal(t, plan.DisplayTable, res.Artifact.DisplayType)
	assert.Equal(t, 2, res.RecordCount)
	assert.Equal(t, []string{"id", "email", "status"}, res.Artifact.Headers)
}

func TestFormatterLaterStepSupersedes(t *testing.T) {
	prior := []*plan.StepResult{
		{Success: true, Records: []plan.Record{{"id": "old"}}},
		{Success: true, Records: []plan.Record{{"id": "new1"}, {"id": "new2"}}},
	}

	res, stepErr := (&FormatterHandler{}).Execute(context.Background(), Input{Prior: prior})
	require.Nil(t, stepErr)
	assert.Equal(t, 2, res.RecordCount)
	assert.Equal(t, "new1", res.Artifact.Records[0]["id"])
}

func TestFormatterSkipsFailedSteps(t *testing.T) {
	prior := []*plan.StepResult{
		{Success: true, Records: []plan.Record{{"id": "kept"}}},
		{Success: false, Err: &plan.StepError{Kind: plan.ErrTimeout}, Records: []plan.Record{{"id": "partial"}}},
	}

	res, stepErr := (&FormatterHandler{}).Execute(context.Background(), Input{Prior: prior})
	require.Nil(t, stepErr)
	assert.Equal(t, "kept", res.Artifact.Records[0]["id"])
}

func TestFormatterTextContent(t *testing.T) {
	prior := []*plan.StepResult{
		{Success: true, Content: "3 users deactivated in the last 30 days."},
	}

	res, stepErr := (&FormatterHandler{}).Execute(context.Background(), Input{Prior: prior})
	require.Nil(t, stepErr)
	assert.Equal(t, plan.DisplayText, res.Artifact.DisplayType)
	assert.Equal(t, "3 users deactivated in the last 30 days.", res.Artifact.Content)
}

func TestFormatterEmptyResults(t *testing.T) {
	res, stepErr := (&FormatterHandler{}).Execute(context.Background(), Input{})
	require.Nil(t, stepErr)
	assert.Equal(t, plan.DisplayText, res.Artifact.DisplayType)
	assert.Equal(t, "No records found.", res.Artifact.Content)
}

func TestTableHeadersUnionAndIDFirst(t *testing.T) {
	headers := tableHeaders([]plan.Record{
		{"status": "ACTIVE", "id": "00u1"},
		{"id": "00u2", "login": "x"},
	})
	assert.Equal(t, []string{"id", "login", "status"}, headers)
}
