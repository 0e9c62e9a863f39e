package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"jwmirror/internal/api/controllers"
	"jwmirror/internal/logger"
	"jwmirror/internal/store"
)

func RegisterRoutes(e *echo.Echo, s store.Store, log *logger.Logger) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	statusCtrl := &controllers.StatusController{Store: s}

	// Read-only view over the state store
	e.GET("/api/summary", statusCtrl.Summary)
	e.GET("/api/records", statusCtrl.Records)
	e.GET("/api/runs", statusCtrl.Runs)
}
