// Package okta is the HTTP client for live Okta org API reads.
package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oktant/oktant/pkg/config"
	"github.com/oktant/oktant/pkg/plan"
	"github.com/oktant/oktant/pkg/version"
)

// APIError is a non-2xx response from Okta.
type APIError struct {
	StatusCode int
	Summary    string
	// RetryAfter is the server-indicated wait for 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okta API error %d: %s", e.StatusCode, e.Summary)
}

// IsRateLimited reports whether the error is a 429.
func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsAuth reports whether the error is a credential failure.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// RateLimit carries the rate-limit headers of a response.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Response is one page of an Okta collection endpoint.
type Response struct {
	// Items holds the decoded records. Single-object responses are wrapped
	// in a one-element slice.
	Items []plan.Record

	// NextPage is the absolute URL of the next page (cursor pagination via
	// the Link header), empty on the last page.
	NextPage string

	RateLimit RateLimit
}

// Client issues GET requests against an Okta org. A process-wide semaphore
// bounds concurrent in-flight calls across all executions.
type Client struct {
	orgURL     string
	httpClient *http.Client
	sem        chan struct{}
}

// NewClient builds a client from config. concurrentLimit is the global
// ceiling on in-flight calls.
func NewClient(cfg *config.OktaConfig, concurrentLimit int) (*Client, error) {
	if cfg.OrgURL == "" {
		return nil, fmt.Errorf("okta org URL is required")
	}
	if concurrentLimit <= 0 {
		concurrentLimit = 1
	}
	return &Client{
		orgURL: strings.TrimRight(cfg.OrgURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &sswsTransport{
				base:  http.DefaultTransport,
				token: cfg.APIToken,
			},
		},
		sem: make(chan struct{}, concurrentLimit),
	}, nil
}

// Get fetches one page. endpoint is either a path under the org
// (e.g. /api/v1/users) or an absolute next-page URL from a prior response.
// params are ignored for absolute URLs (the cursor already encodes them).
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	target := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		target = c.orgURL + endpoint
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building okta request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("okta request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rl := parseRateLimit(resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Summary:    errorSummary(body),
		}
		if apiErr.IsRateLimited() {
			apiErr.RetryAfter = retryAfter(resp.Header, rl)
		}
		return nil, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading okta response: %w", err)
	}

	items, err := decodeItems(body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Items:     items,
		NextPage:  nextLink(resp.Header),
		RateLimit: rl,
	}, nil
}

// decodeItems accepts either a JSON array or a single object.
func decodeItems(body []byte) ([]plan.Record, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var items []plan.Record
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decoding okta collection: %w", err)
		}
		return items, nil
	}
	var item plan.Record
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("decoding okta object: %w", err)
	}
	return []plan.Record{item}, nil
}

// errorSummary extracts errorSummary from an Okta error body, falling back
// to the raw text.
func errorSummary(body []byte) string {
	var e struct {
		ErrorSummary string `json:"errorSummary"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.ErrorSummary != "" {
		return e.ErrorSummary
	}
	s := strings.TrimSpace(string(body))
	if s == "" {
		s = "no error detail"
	}
	return s
}

// nextLink extracts the rel="next" URL from Link headers.
func nextLink(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			part = strings.TrimSpace(part)
			if !strings.Contains(part, `rel="next"`) {
				continue
			}
			start := strings.Index(part, "<")
			end := strings.Index(part, ">")
			if start >= 0 && end > start {
				return part[start+1 : end]
			}
		}
	}
	return ""
}

// parseRateLimit reads Okta's X-Rate-Limit-* headers.
func parseRateLimit(h http.Header) RateLimit {
	rl := RateLimit{}
	if v, err := strconv.Atoi(h.Get("X-Rate-Limit-Limit")); err == nil {
		rl.Limit = v
	}
	if v, err := strconv.Atoi(h.Get("X-Rate-Limit-Remaining")); err == nil {
		rl.Remaining = v
	}
	if v, err := strconv.ParseInt(h.Get("X-Rate-Limit-Reset"), 10, 64); err == nil {
		rl.Reset = time.Unix(v, 0)
	}
	return rl
}

// retryAfter resolves the wait for a 429: Retry-After header first, then
// the rate-limit reset epoch, then a one-second floor.
func retryAfter(h http.Header, rl RateLimit) time.Duration {
	if v, err := strconv.Atoi(h.Get("Retry-After")); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	if !rl.Reset.IsZero() {
		if d := time.Until(rl.Reset); d > 0 {
			return d
		}
	}
	return time.Second
}

// sswsTransport adds the Okta SSWS authorization header to every request.
type sswsTransport struct {
	base  http.RoundTripper
	token string
}

func (t *sswsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "SSWS "+t.token)
	req.Header.Set("User-Agent", version.Full())
	return t.base.RoundTrip(req)
}
