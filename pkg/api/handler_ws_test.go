package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oktant/oktant/pkg/config"
	"github.com/oktant/oktant/pkg/events"
	"github.com/oktant/oktant/pkg/plan"
)

func wsURL(srv *httptest.Server, processID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?process_id=" + processID
}

func dialWS(t *testing.T, srv *httptest.Server, processID, owner string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, processID), &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Forwarded-User": {owner}},
	})
	require.NoError(t, err)
	return conn
}

func TestWebsocketStreamsEventsThroughDone(t *testing.T) {
	_, e := newTestServer(t, []plan.Record{{"id": "00u1"}})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	id := createQuery(t, e, "alice")
	conn := dialWS(t, srv, id, "alice")
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var types []string
	var lastSeq float64
	for {
		var env struct {
			Type    string         `json:"type"`
			Seq     float64        `json:"seq"`
			Content map[string]any `json:"content"`
		}
		require.NoError(t, wsjson.Read(ctx, conn, &env))
		types = append(types, env.Type)
		assert.Greater(t, env.Seq, lastSeq, "sequence numbers must increase")
		lastSeq = env.Seq
		assert.Equal(t, id, env.Content["process_id"])
		if env.Type == events.TypeDone {
			break
		}
	}

	assert.Equal(t, events.TypePlanningPhase, types[0])
	assert.Contains(t, types, events.TypePlanGenerated)
	assert.Contains(t, types, events.TypeComplete)

	// The server closes the stream after the done sentinel.
	var ignored map[string]any
	err := wsjson.Read(ctx, conn, &ignored)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestWebsocketRequiresProcessID(t *testing.T) {
	_, e := newTestServer(t, nil)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebsocketUnknownProcess(t *testing.T) {
	_, e := newTestServer(t, nil)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(srv, "missing"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketWriteTimeoutConfigured(t *testing.T) {
	s := NewServer(nil, nil, nil)
	assert.Equal(t, 10*time.Second, s.wsWriteTimeout)

	s = NewServer(nil, nil, &config.ServerConfig{WSWriteTimeoutSeconds: 3})
	assert.Equal(t, 3*time.Second, s.wsWriteTimeout)
}

func TestWebsocketTakeoverClosesFirstConnection(t *testing.T) {
	_, e := newTestServer(t, []plan.Record{{"id": "00u1"}})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	id := createQuery(t, e, "alice")

	first := dialWS(t, srv, id, "alice")
	defer first.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Read one event on the first connection, then take the stream over.
	var env map[string]any
	require.NoError(t, wsjson.Read(ctx, first, &env))

	second := dialWS(t, srv, id, "alice")
	defer second.Close(websocket.StatusNormalClosure, "")

	// The second consumer drains through done without replaying what the
	// first already received.
	sawDone := false
	for !sawDone {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, wsjson.Read(ctx, second, &env))
		sawDone = env.Type == events.TypeDone
	}

	// The first connection is closed by the takeover.
	err := wsjson.Read(ctx, first, &env)
	require.Error(t, err)
}
