package step

import (
	"context"
	"sort"

	"github.com/oktant/oktant/pkg/plan"
)

// headerScanRows is how many leading records contribute keys to the table
// header union.
const headerScanRows = 20

// FormatterHandler assembles the accumulated step results into the final
// display artifact: a table when tabular records exist, otherwise the text
// content produced upstream.
type FormatterHandler struct{}

func (h *FormatterHandler) Execute(ctx context.Context, in Input) (*plan.StepResult, *plan.StepError) {
	var (
		records []plan.Record
		content string
	)
	// Later data steps supersede earlier ones as the primary output.
	for _, res := range in.Prior {
		if res == nil || !res.Success {
			continue
		}
		if len(res.Records) > 0 {
			records = res.Records
		}
		if res.Content != "" {
			content = res.Content
		}
	}

	switch {
	case len(records) > 0:
		return &plan.StepResult{
			Records:     records,
			RecordCount: len(records),
			Artifact: &plan.Artifact{
				DisplayType: plan.DisplayTable,
				Records:     records,
				Headers:     tableHeaders(records),
			},
		}, nil
	case content != "":
		// Upstream textual output (script stdout, API summaries) passes
		// through verbatim as plain text.
		return &plan.StepResult{
			Content: content,
			Artifact: &plan.Artifact{
				DisplayType: plan.DisplayText,
				Content:     content,
			},
		}, nil
	default:
		return &plan.StepResult{
			Artifact: &plan.Artifact{
				DisplayType: plan.DisplayText,
				Content:     "No records found.",
			},
		}, nil
	}
}

// tableHeaders builds a stable column order: the union of keys from the
// leading records, sorted, with "id" pinned first when present.
func tableHeaders(records []plan.Record) []string {
	n := len(records)
	if n > headerScanRows {
		n = headerScanRows
	}
	seen := make(map[string]bool)
	var headers []string
	for _, rec := range records[:n] {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
	}
	sort.Strings(headers)
	for i, hname := range headers {
		if hname == "id" && i != 0 {
			copy(headers[1:i+1], headers[:i])
			headers[0] = "id"
			break
		}
	}
	return headers
}
