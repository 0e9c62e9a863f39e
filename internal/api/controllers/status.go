package controllers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"jwmirror/internal/domain"
	"jwmirror/internal/store"
)

type StatusController struct {
	Store store.Store
}

// Summary returns per-status record counts.
func (ctrl *StatusController) Summary(c *echo.Context) error {
	counts, err := ctrl.Store.Summary(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read summary")
	}
	return c.JSON(http.StatusOK, counts)
}

// Records lists download records, optionally filtered by ?status=.
func (ctrl *StatusController) Records(c *echo.Context) error {
	status := domain.Status(c.QueryParam("status"))

	switch status {
	case "", domain.StatusPending, domain.StatusSuccess, domain.StatusFailed,
		domain.StatusSkipped, domain.StatusUnavailable:
		// Recognized filter
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown status filter")
	}

	records, err := ctrl.Store.Records(c.Request().Context(), status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read records")
	}

	if records == nil {
		records = []*domain.DownloadRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

// Runs lists pipeline run history, newest first.
func (ctrl *StatusController) Runs(c *echo.Context) error {
	runs, err := ctrl.Store.Runs(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read runs")
	}

	if runs == nil {
		runs = []*domain.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}
