package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/oktant/oktant/pkg/engine"
)

// mapEngineError maps engine errors to HTTP error responses.
func mapEngineError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, engine.ErrInvalidQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "process not found")
	case errors.Is(err, engine.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "process belongs to another owner")
	case errors.Is(err, engine.ErrTooManyProcesses):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many active queries, try again later")
	}

	slog.Error("Unexpected engine error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
