package notify

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oktant/oktant/pkg/process"
)

func TestNewServiceRequiresTokenAndChannel(t *testing.T) {
	assert.Nil(t, NewService(ServiceConfig{Token: "", Channel: "C123"}))
	assert.Nil(t, NewService(ServiceConfig{Token: "xoxb-1", Channel: ""}))
	assert.NotNil(t, NewService(ServiceConfig{Token: "xoxb-1", Channel: "C123"}))
}

func TestNilServiceIsNoOp(t *testing.T) {
	var s *Service
	// Must not panic.
	s.NotifyTerminal(process.Snapshot{ID: "p1"}, "")
}

func TestNotifyTerminalPostsMessage(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		fmt.Fprint(w, `{"ok":true,"channel":"C123","ts":"1234.5678"}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	s := NewServiceWithClient(client, "https://oktant.example.com")

	s.NotifyTerminal(process.Snapshot{
		ID:     "proc-1",
		Query:  "list users",
		Status: process.StatusCompleted,
	}, "")

	require.Equal(t, int32(1), posts.Load())
}

func TestNotifyTerminalFailOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClientWithAPIURL("xoxb-test", "nope", srv.URL+"/")
	s := NewServiceWithClient(client, "https://oktant.example.com")

	// Must not panic or block.
	s.NotifyTerminal(process.Snapshot{ID: "proc-1", Status: process.StatusError}, "boom")
}
