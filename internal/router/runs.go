// Package router binds the run-monitor routes.
package router

import (
	"context"
	"net/http"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/DjordjeVuckovic/retail-ingest/internal/service"
	"github.com/DjordjeVuckovic/retail-ingest/pkg/pagination"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Monitor interface {
	Active() []ingest.Snapshot
	Status(ctx context.Context, id uuid.UUID) (service.Status, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

type RunsRouter struct {
	e       *echo.Echo
	monitor Monitor
	metrics http.Handler
}

// NewRunsRouter serves metrics at /metrics when metrics is non-nil.
func NewRunsRouter(e *echo.Echo, monitor Monitor, metrics http.Handler) *RunsRouter {
	return &RunsRouter{
		e:       e,
		monitor: monitor,
		metrics: metrics,
	}
}

func (r *RunsRouter) Bind() {
	r.e.GET("/runs", r.listHandler)
	r.e.GET("/runs/:id", r.statusHandler)
	r.e.POST("/runs/:id/cancel", r.cancelHandler)
	if r.metrics != nil {
		r.e.GET("/metrics", echo.WrapHandler(r.metrics))
	}
}

// listHandler pages through the active runs: GET /runs?page=1&size=50.
func (r *RunsRouter) listHandler(c echo.Context) error {
	var req pagination.OffsetRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &req); err != nil {
		return apperr.NewValidation("page and size must be integers")
	}
	return c.JSON(http.StatusOK, pagination.Paginate(r.monitor.Active(), req))
}

func (r *RunsRouter) statusHandler(c echo.Context) error {
	id, err := runID(c)
	if err != nil {
		return err
	}
	st, err := r.monitor.Status(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (r *RunsRouter) cancelHandler(c echo.Context) error {
	id, err := runID(c)
	if err != nil {
		return err
	}
	cancelled, err := r.monitor.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !cancelled {
		return c.JSON(http.StatusConflict, map[string]any{"id": id, "cancelled": false, "error": "run is not active"})
	}
	return c.JSON(http.StatusAccepted, map[string]any{"id": id, "cancelled": true})
}

func runID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.NewValidation("run id must be a UUID")
	}
	return id, nil
}
