package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// CreateQueryRequest is the body of POST /api/queries.
type CreateQueryRequest struct {
	Query string `json:"query"`
}

// CreateQueryResponse is the reply to a successful creation.
type CreateQueryResponse struct {
	ProcessID string `json:"process_id"`
}

// createQueryHandler handles POST /api/queries. Execution starts when the
// first websocket consumer subscribes.
func (s *Server) createQueryHandler(c *echo.Context) error {
	var req CreateQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	snap, err := s.engine.StartProcess(req.Query, extractOwner(c))
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusCreated, CreateQueryResponse{ProcessID: snap.ID})
}

// getQueryHandler handles GET /api/queries/:id.
func (s *Server) getQueryHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "process id is required")
	}

	snap, err := s.engine.Get(id, extractOwner(c))
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// cancelQueryHandler handles POST /api/queries/:id/cancel. Cancellation is
// cooperative; 202 means the request was accepted, the stream reports the
// terminal state.
func (s *Server) cancelQueryHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "process id is required")
	}

	if err := s.engine.Cancel(id, extractOwner(c)); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}
