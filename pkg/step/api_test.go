package step

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oktant/oktant/pkg/config"
	"github.com/oktant/oktant/pkg/okta"
	"github.com/oktant/oktant/pkg/plan"
)

// captureEmitter records emitter calls for assertions.
type captureEmitter struct {
	progress  []string
	rateWaits []float64
	counts    []int
}

func (c *captureEmitter) Progress(message string, current, total int) {
	c.progress = append(c.progress, message)
}
func (c *captureEmitter) RateLimit(message string, waitSeconds float64) {
	c.rateWaits = append(c.rateWaits, waitSeconds)
}
func (c *captureEmitter) Tokens(in, out int, agent string)      {}
func (c *captureEmitter) Count(n int, operationType string)     { c.counts = append(c.counts, n) }

func newAPIHandlerForTest(t *testing.T, handler http.Handler) (*APIHandler, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := okta.NewClient(&config.OktaConfig{
		OrgURL:         srv.URL,
		APIToken:       "test-token",
		RequestTimeout: 5 * time.Second,
	}, 5)
	require.NoError(t, err)
	return NewAPIHandler(client, 3), srv
}

func apiStep(endpoint string) plan.Step {
	return plan.Step{Index: 2, Kind: plan.KindAPI, Entity: "users", Operation: endpoint, Critical: true}
}

func TestAPIHandlerWalksPagination(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/users?after=00u2&limit=200>; rel="next"`, srv.URL))
			fmt.Fprint(w, `[{"id":"00u1"},{"id":"00u2"}]`)
			return
		}
		fmt.Fprint(w, `[{"id":"00u3"}]`)
	})
	h, s := newAPIHandlerForTest(t, mux)
	srv = s

	emit := &captureEmitter{}
	res, stepErr := h.Execute(context.Background(), Input{Step: apiStep("/api/v1/users"), Emit: emit})
	require.Nil(t, stepErr)

	assert.Equal(t, 3, res.RecordCount)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "00u3", res.Records[2]["id"])

	// One progress line per page, then the final count.
	require.Len(t, emit.progress, 2)
	assert.Equal(t, "Fetched 2 users", emit.progress[0])
	assert.Equal(t, "Fetched 3 users", emit.progress[1])
	assert.Equal(t, []int{3}, emit.counts)
}

func TestAPIHandlerWaitsOutRateLimit(t *testing.T) {
	var calls atomic.Int32
	h, _ := newAPIHandlerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"errorSummary":"API call exceeded rate limit"}`)
			return
		}
		fmt.Fprint(w, `[{"id":"00u1"}]`)
	}))

	emit := &captureEmitter{}
	res, stepErr := h.Execute(context.Background(), Input{Step: apiStep("/api/v1/users"), Emit: emit})
	require.Nil(t, stepErr)

	assert.Equal(t, 1, res.RecordCount)
	require.Len(t, emit.rateWaits, 1)
	assert.Equal(t, 1.0, emit.rateWaits[0])
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIHandlerRateLimitBudgetConfigurable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"errorSummary":"API call exceeded rate limit"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := okta.NewClient(&config.OktaConfig{
		OrgURL:         srv.URL,
		APIToken:       "test-token",
		RequestTimeout: 5 * time.Second,
	}, 5)
	require.NoError(t, err)
	h := NewAPIHandler(client, 1)

	emit := &captureEmitter{}
	_, stepErr := h.Execute(context.Background(), Input{Step: apiStep("/api/v1/users"), Emit: emit})
	require.NotNil(t, stepErr)
	assert.Equal(t, plan.ErrRateLimited, stepErr.Kind)
	assert.True(t, stepErr.Retryable)

	// A budget of one allows exactly one wait before giving up.
	assert.Len(t, emit.rateWaits, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIHandlerAuthError(t *testing.T) {
	h, _ := newAPIHandlerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errorSummary":"Invalid token provided"}`)
	}))

	_, stepErr := h.Execute(context.Background(), Input{Step: apiStep("/api/v1/users"), Emit: &captureEmitter{}})
	require.NotNil(t, stepErr)
	assert.Equal(t, plan.ErrAuth, stepErr.Kind)
	assert.False(t, stepErr.Retryable)
}

func TestAPIHandlerServerErrorIsRetryableUpstream(t *testing.T) {
	h, _ := newAPIHandlerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, stepErr := h.Execute(context.Background(), Input{Step: apiStep("/api/v1/users"), Emit: &captureEmitter{}})
	require.NotNil(t, stepErr)
	assert.Equal(t, plan.ErrUpstreamUnavailable, stepErr.Kind)
	assert.True(t, stepErr.Retryable)
}

func TestAPIHandlerRejectsEndpointOutsideBasePath(t *testing.T) {
	h, _ := newAPIHandlerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be issued")
	}))

	_, stepErr := h.Execute(context.Background(), Input{Step: apiStep("/oauth2/v1/token"), Emit: &captureEmitter{}})
	require.NotNil(t, stepErr)
	assert.Equal(t, plan.ErrInvalidInput, stepErr.Kind)
}

func TestAPIHandlerSystemLogDefaultEndpoint(t *testing.T) {
	var gotPath string
	h, _ := newAPIHandlerForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `[]`)
	}))

	stp := plan.Step{Index: 2, Kind: plan.KindSystemLog, Entity: "events", Critical: true}
	res, stepErr := h.Execute(context.Background(), Input{Step: stp, Emit: &captureEmitter{}})
	require.Nil(t, stepErr)
	assert.Equal(t, "/api/v1/logs", gotPath)
	assert.Zero(t, res.RecordCount)
}
