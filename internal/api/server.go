package api

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"timebid/internal/api/handlers"
	"timebid/internal/api/middleware"
	"timebid/pkg/logger"
)

// Registrar attaches a handler's routes under /api/v1.
type Registrar interface {
	Register(g *echo.Group)
}

// NewServer builds the echo instance with the standard middleware chain.
func NewServer(log logger.Logger, allowedOrigins []string, health *handlers.HealthHandler, registrars ...Registrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())
	e.Use(middleware.CORS(allowedOrigins))
	e.Use(middleware.Identity())

	if health != nil {
		e.GET("/health", health.Health)
	}

	v1 := e.Group("/api/v1")
	for _, r := range registrars {
		r.Register(v1)
	}
	return e
}
