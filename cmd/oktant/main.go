// Oktant query server — accepts natural-language Okta admin queries over
// HTTP, executes generated plans against the mirror database and the live
// Okta API, and streams execution events over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/joho/godotenv"

	"github.com/oktant/oktant/pkg/api"
	"github.com/oktant/oktant/pkg/codecheck"
	"github.com/oktant/oktant/pkg/config"
	"github.com/oktant/oktant/pkg/engine"
	"github.com/oktant/oktant/pkg/mirror"
	"github.com/oktant/oktant/pkg/notify"
	"github.com/oktant/oktant/pkg/okta"
	"github.com/oktant/oktant/pkg/plan"
	"github.com/oktant/oktant/pkg/script"
	"github.com/oktant/oktant/pkg/step"
	"github.com/oktant/oktant/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting oktant",
		"version", version.Full(),
		"port", cfg.Server.Port,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Mirror database (read-only Okta replica) — required for sql steps.
	mirrorCfg, err := mirror.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load mirror database config", "error", err)
		os.Exit(1)
	}
	mirrorClient, err := mirror.NewClient(ctx, mirrorCfg)
	if err != nil {
		slog.Error("Failed to connect to mirror database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mirrorClient.Close(); err != nil {
			slog.Error("Error closing mirror database client", "error", err)
		}
	}()
	slog.Info("Mirror database connected", "host", mirrorCfg.Host, "database", mirrorCfg.Database)

	// 2. Live Okta API client — required for api and system_log steps.
	oktaClient, err := okta.NewClient(cfg.Okta, cfg.Engine.OktaConcurrentLimit)
	if err != nil {
		slog.Error("Failed to create Okta client", "error", err)
		os.Exit(1)
	}

	// 3. Script execution infrastructure.
	scratchDir := cfg.Engine.ScratchDir
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	validator := codecheck.New(scratchDir)
	supervisor := script.NewSupervisor(getEnv("OKTANT_SCRIPT_INTERPRETER", "python3"), scratchDir)

	// 4. Step handlers.
	registry := step.NewDefaultRegistry(cfg.Engine, cfg.Okta, mirrorClient, oktaClient)

	// 5. Optional Slack notifications for terminal process states.
	notifier := notify.NewService(notify.ServiceConfig{
		Token:        cfg.Slack.BotToken,
		Channel:      cfg.Slack.ChannelID,
		DashboardURL: getEnv("OKTANT_DASHBOARD_URL", ""),
	})
	if notifier != nil {
		slog.Info("Slack notifications enabled", "channel", cfg.Slack.ChannelID)
	}

	// 6. Execution engine. Plan generation is an external collaborator; until
	// a planning service is configured every query runs the fallback plan.
	// TODO: replace the stub with the planning-service client once its API
	// stabilizes.
	eng := engine.New(cfg.Engine, engine.Deps{
		Planner:    fallbackPlanner(),
		Steps:      registry,
		Validator:  validator,
		Supervisor: supervisor,
		Notifier:   notifier,
	})
	defer eng.Shutdown()

	// 7. HTTP server.
	e := echo.New()
	api.NewServer(eng, mirrorClient, cfg.Server).Register(e)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Oktant started successfully")

	// 8. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting connections first, then cancel
	// live processes so their terminal events still reach attached streams.
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	eng.Shutdown()

	slog.Info("Oktant shut down")
}

// fallbackPlanner returns the plan used while no planning service is wired:
// a single mirror query over recent users, formatted for display.
func fallbackPlanner() engine.Planner {
	return &engine.StubPlanner{
		Steps: []plan.Step{{
			Kind:      plan.KindSQL,
			Entity:    "users",
			Reasoning: "List recently updated users from the mirror",
			Operation: "SELECT id, status, email, last_updated FROM users ORDER BY last_updated DESC LIMIT 100",
		}},
	}
}
