package okta

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oktant/oktant/pkg/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&config.OktaConfig{
		OrgURL:         srv.URL,
		APIToken:       "test-token",
		RequestTimeout: 5 * time.Second,
	}, 15)
	require.NoError(t, err)
	return c, srv
}

func TestGetDecodesCollectionAndAuthHeader(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("X-Rate-Limit-Limit", "600")
		w.Header().Set("X-Rate-Limit-Remaining", "599")
		fmt.Fprint(w, `[{"id":"00u1","status":"ACTIVE"},{"id":"00u2","status":"SUSPENDED"}]`)
	}))

	resp, err := c.Get(context.Background(), "/api/v1/users", nil)
	require.NoError(t, err)

	assert.Equal(t, "SSWS test-token", gotAuth)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "00u1", resp.Items[0]["id"])
	assert.Equal(t, 600, resp.RateLimit.Limit)
	assert.Equal(t, 599, resp.RateLimit.Remaining)
	assert.Empty(t, resp.NextPage)
}

func TestGetWrapsSingleObject(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"00u1"}`)
	}))

	resp, err := c.Get(context.Background(), "/api/v1/users/00u1", nil)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "00u1", resp.Items[0]["id"])
}

func TestGetFollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/users?after=00u1&limit=1>; rel="next"`, srv.URL))
			w.Header().Add("Link", fmt.Sprintf(`<%s/api/v1/users?limit=1>; rel="self"`, srv.URL))
			fmt.Fprint(w, `[{"id":"00u1"}]`)
			return
		}
		fmt.Fprint(w, `[{"id":"00u2"}]`)
	})
	c, s := newTestClient(t, mux)
	srv = s

	params := url.Values{"limit": {"1"}}
	first, err := c.Get(context.Background(), "/api/v1/users", params)
	require.NoError(t, err)
	require.NotEmpty(t, first.NextPage)

	second, err := c.Get(context.Background(), first.NextPage, nil)
	require.NoError(t, err)
	assert.Empty(t, second.NextPage)
	assert.Equal(t, "00u2", second.Items[0]["id"])
}

func TestGetRateLimitError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"errorSummary":"API call exceeded rate limit"}`)
	}))

	_, err := c.Get(context.Background(), "/api/v1/logs", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimited())
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)
	assert.Contains(t, apiErr.Summary, "rate limit")
}

func TestGetAuthError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errorSummary":"Invalid token provided"}`)
	}))

	_, err := c.Get(context.Background(), "/api/v1/users", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsAuth())
	assert.False(t, apiErr.IsRateLimited())
}

func TestGetHonorsContextWhileQueued(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `[]`)
	}))
	defer close(release)

	// Shrink the semaphore to one slot and occupy it.
	c.sem = make(chan struct{}, 1)
	c.sem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, "/api/v1/users", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrencyCeiling(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			prev := maxSeen.Load()
			if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		fmt.Fprint(w, `[]`)
	}))
	c.sem = make(chan struct{}, 3)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			_, _ = c.Get(context.Background(), "/api/v1/users", nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.LessOrEqual(t, maxSeen.Load(), int32(3))
}

func TestNextLinkParsing(t *testing.T) {
	h := http.Header{}
	h.Add("Link", `<https://org.okta.com/api/v1/users?after=abc>; rel="next", <https://org.okta.com/api/v1/users>; rel="self"`)
	assert.Equal(t, "https://org.okta.com/api/v1/users?after=abc", nextLink(h))

	h = http.Header{}
	h.Add("Link", `<https://org.okta.com/api/v1/users>; rel="self"`)
	assert.Empty(t, nextLink(h))
}
