package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/oktant/oktant/pkg/mirror"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string               `json:"status"`
	Processes int                  `json:"processes"`
	Mirror    *mirror.HealthStatus `json:"mirror,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// healthHandler handles GET /api/health. Only the engine's own dependencies
// are checked; the live Okta API is deliberately excluded so an Okta outage
// does not get the service restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    healthStatusHealthy,
		Processes: s.engine.Len(),
	}

	if s.mirror != nil {
		status, err := s.mirror.Health(reqCtx)
		resp.Mirror = status
		if err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Error = err.Error()
		}
	}

	httpStatus := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}
