package step

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oktant/oktant/pkg/okta"
	"github.com/oktant/oktant/pkg/plan"
)

const (
	// apiPageLimit is the page size requested from Okta collection endpoints.
	apiPageLimit = "200"

	// maxRateLimitWait caps a single Retry-After pause.
	maxRateLimitWait = 60 * time.Second

	// defaultMaxRetries applies when the handler is built without an
	// explicit retry budget.
	defaultMaxRetries = 3
)

// APIHandler walks Okta collection endpoints page by page. It serves both
// api and system_log steps (the latter defaults to /api/v1/logs).
type APIHandler struct {
	client *okta.Client

	// maxRetries bounds, independently, the 429 waits per step and the
	// backoff retries per page for network-level failures.
	maxRetries int
}

// NewAPIHandler creates the handler for live Okta reads. maxRetries comes
// from the okta config's max_retries key; values below 1 fall back to the
// default.
func NewAPIHandler(c *okta.Client, maxRetries int) *APIHandler {
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	return &APIHandler{client: c, maxRetries: maxRetries}
}

func (h *APIHandler) Execute(ctx context.Context, in Input) (*plan.StepResult, *plan.StepError) {
	endpoint := strings.TrimSpace(in.Step.Operation)
	if endpoint == "" && in.Step.Kind == plan.KindSystemLog {
		endpoint = "/api/v1/logs"
	}
	if endpoint == "" {
		return nil, &plan.StepError{Kind: plan.ErrInvalidInput, Message: "api step carries no endpoint"}
	}
	if !strings.HasPrefix(endpoint, "/api/v1/") {
		return nil, &plan.StepError{
			Kind:    plan.ErrInvalidInput,
			Message: fmt.Sprintf("endpoint %q is outside /api/v1/", endpoint),
		}
	}

	entity := in.Step.Entity
	if entity == "" {
		entity = "records"
	}

	var records []plan.Record
	next := endpoint
	params := url.Values{"limit": {apiPageLimit}}
	rateRetries := 0

	for next != "" {
		resp, stepErr := h.fetchPage(ctx, next, params, in.Emit, &rateRetries)
		if stepErr != nil {
			return nil, stepErr
		}
		records = append(records, resp.Items...)
		in.Emit.Progress(fmt.Sprintf("Fetched %d %s", len(records), entity), len(records), 0)

		next = resp.NextPage
		// The cursor URL already encodes the query parameters.
		params = nil
	}

	in.Emit.Count(len(records), string(in.Step.Kind))
	return &plan.StepResult{Records: records, RecordCount: len(records)}, nil
}

// fetchPage retrieves one page, retrying network-level failures with
// exponential backoff and waiting out 429s with a rate_limit progress event.
func (h *APIHandler) fetchPage(ctx context.Context, target string, params url.Values, emit Emitter, rateRetries *int) (*okta.Response, *plan.StepError) {
	for {
		var resp *okta.Response
		op := func() error {
			r, err := h.client.Get(ctx, target, params)
			if err != nil {
				var apiErr *okta.APIError
				// HTTP-level and context failures are classified below, not
				// retried blindly.
				if errors.As(err, &apiErr) || ctx.Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}
			resp = r
			return nil
		}

		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = time.Second
		err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(h.maxRetries)), ctx))
		if err == nil {
			return resp, nil
		}

		var apiErr *okta.APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.IsRateLimited():
				*rateRetries++
				if *rateRetries > h.maxRetries {
					return nil, &plan.StepError{
						Kind:             plan.ErrRateLimited,
						Message:          "okta rate limit did not clear",
						Retryable:        true,
						TechnicalDetails: apiErr.Error(),
					}
				}
				wait := apiErr.RetryAfter
				if wait > maxRateLimitWait {
					wait = maxRateLimitWait
				}
				emit.RateLimit(fmt.Sprintf("Okta rate limited, waiting %s", wait.Round(time.Second)), wait.Seconds())
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return nil, classifyContextErr(ctx)
				}
			case apiErr.IsAuth():
				return nil, &plan.StepError{
					Kind:             plan.ErrAuth,
					Message:          "okta rejected the API credentials",
					TechnicalDetails: apiErr.Error(),
				}
			case apiErr.StatusCode >= 500:
				return nil, &plan.StepError{
					Kind:             plan.ErrUpstreamUnavailable,
					Message:          "okta is returning server errors",
					Retryable:        true,
					TechnicalDetails: apiErr.Error(),
				}
			default:
				return nil, &plan.StepError{
					Kind:             plan.ErrInvalidInput,
					Message:          apiErr.Summary,
					TechnicalDetails: apiErr.Error(),
				}
			}
		}

		if ctx.Err() != nil {
			return nil, classifyContextErr(ctx)
		}
		return nil, &plan.StepError{
			Kind:             plan.ErrUpstreamUnavailable,
			Message:          "okta is unreachable",
			Retryable:        true,
			TechnicalDetails: err.Error(),
		}
	}
}
