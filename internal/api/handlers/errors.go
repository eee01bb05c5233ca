package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a domain error kind onto an HTTP status. Forbidden is a
// 400 here: callers only ever see it for self-bids and owner checks.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrForbidden):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": msg}. 5xx responses never carry the
// internal cause.
func respondError(c echo.Context, log logger.Logger, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"error", err)
		return c.JSON(status, errorBody{Error: "internal error, please retry"})
	}
	return c.JSON(status, errorBody{Error: domain.PublicMessage(err)})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: msg})
}
