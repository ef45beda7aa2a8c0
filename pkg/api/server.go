// Package api exposes the query engine over HTTP: process creation, status,
// cancellation, the websocket event stream, and health.
package api

import (
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/oktant/oktant/pkg/config"
	"github.com/oktant/oktant/pkg/engine"
	"github.com/oktant/oktant/pkg/mirror"
)

// Server holds the handlers' collaborators.
type Server struct {
	engine *engine.Engine
	mirror *mirror.Client

	// wsWriteTimeout bounds a single event write to a slow websocket client.
	wsWriteTimeout time.Duration
}

// NewServer creates the API server facade.
func NewServer(eng *engine.Engine, mirrorClient *mirror.Client, cfg *config.ServerConfig) *Server {
	if cfg == nil {
		cfg = config.DefaultServerConfig()
	}
	return &Server{
		engine:         eng,
		mirror:         mirrorClient,
		wsWriteTimeout: time.Duration(cfg.WSWriteTimeoutSeconds) * time.Second,
	}
}

// Register mounts all routes on the echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.Use(securityHeaders())

	e.GET("/api/health", s.healthHandler)
	e.POST("/api/queries", s.createQueryHandler)
	e.GET("/api/queries/:id", s.getQueryHandler)
	e.POST("/api/queries/:id/cancel", s.cancelQueryHandler)
	e.GET("/ws", s.wsHandler)
}

// securityHeaders sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}
