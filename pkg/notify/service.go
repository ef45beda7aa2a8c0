package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/oktant/oktant/pkg/process"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service posts terminal process notifications to a Slack channel.
// Nil-safe: all methods are no-ops when the service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyTerminal sends a terminal status notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyTerminal(snap process.Snapshot, errMessage string) {
	if s == nil {
		return
	}

	blocks := BuildTerminalMessage(snap, errMessage, s.dashboardURL)
	if err := s.client.PostMessage(context.Background(), blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"process_id", snap.ID,
			"status", snap.Status,
			"error", err)
	}
}
