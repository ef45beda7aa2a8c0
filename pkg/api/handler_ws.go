package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	echo "github.com/labstack/echo/v5"

	"github.com/oktant/oktant/pkg/events"
)

// wsHandler handles GET /ws?process_id=... — the event stream of one
// process. The subscriber becomes the sole consumer; a second connection for
// the same process takes the stream over. The connection closes after the
// done sentinel.
func (s *Server) wsHandler(c *echo.Context) error {
	processID := c.QueryParam("process_id")
	if processID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "process_id is required")
	}

	// Subscribe before the upgrade so auth failures surface as HTTP errors.
	ch, detach, err := s.engine.Subscribe(processID, extractOwner(c))
	if err != nil {
		return mapEngineError(err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		detach()
		return err
	}
	defer detach()
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// CloseRead watches for client-initiated close; its context fires when
	// the peer goes away.
	ctx := conn.CloseRead(c.Request().Context())

	for {
		select {
		case env, ok := <-ch:
			if !ok {
				// Detached by a newer subscriber or the bus closed.
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			if err := s.writeEvent(ctx, conn, env); err != nil {
				slog.Debug("Websocket write failed",
					"process_id", processID, "seq", env.Seq, "error", err)
				return nil
			}
			if env.Type == events.TypeDone {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// writeEvent writes one envelope under the configured per-write deadline, so
// a stalled client cannot hold the stream open indefinitely.
func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, env events.Envelope) error {
	if s.wsWriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.wsWriteTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, conn, env)
}
