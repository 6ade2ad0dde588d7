// Package handler exposes the admin and read-side HTTP API: triggering runs,
// inspecting recent runs and change events, and health.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/repository"
)

// TriggerRunner starts a run for one source. The orchestrator implements it.
type TriggerRunner interface {
	TriggerRun(ctx context.Context, source domain.Source, runID string) (*domain.ScraperRun, error)
}

// ChangesCache is the optional short-TTL cache in front of recent-changes
// queries. A nil cache means every request hits storage.
type ChangesCache interface {
	GetRecentChanges(ctx context.Context, key string) []byte
	SetRecentChanges(ctx context.Context, key string, payload []byte)
}

// HealthChecker aggregates storage health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler carries the API dependencies.
type Handler struct {
	trigger TriggerRunner
	runs    repository.ScraperRunRepository
	events  repository.ChangeEventRepository
	health  HealthChecker
	cache   ChangesCache // optional
	logger  *zap.Logger
}

// New builds the handler. cache may be nil.
func New(trigger TriggerRunner, runs repository.ScraperRunRepository, events repository.ChangeEventRepository, health HealthChecker, cache ChangesCache, logger *zap.Logger) *Handler {
	return &Handler{
		trigger: trigger,
		runs:    runs,
		events:  events,
		health:  health,
		cache:   cache,
		logger:  logger,
	}
}

// Register mounts the routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.healthz)

	v1 := e.Group("/v1")
	v1.POST("/runs/:source", h.triggerRun)
	v1.GET("/runs/recent", h.recentRuns)
	v1.GET("/runs/:id", h.runByID)
	v1.GET("/changes/recent", h.recentChanges)
	v1.GET("/changes/stats", h.changeStats)
}

type errorResponse struct {
	Error string `json:"error"`
}

// triggerRun starts a run for one source. 202 with the RUNNING record, 409
// when a run is already in flight, 400 for unknown sources.
func (h *Handler) triggerRun(c echo.Context) error {
	source, err := domain.ParseSource(c.Param("source"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	runID := c.QueryParam("run_id")
	run, err := h.trigger.TriggerRun(c.Request().Context(), source, runID)
	if errors.Is(err, domain.ErrSourceBusy) {
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	if errors.Is(err, domain.ErrValidation) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if err != nil {
		h.logger.Error("trigger run", zap.String("source", string(source)), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "could not start run"})
	}
	return c.JSON(http.StatusAccepted, run)
}

// recentRuns lists runs from the last N hours (default 24), optionally
// filtered by source.
func (h *Handler) recentRuns(c echo.Context) error {
	hours := queryInt(c, "hours", 24)
	if hours < 1 || hours > 24*30 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "hours must be within 1..720"})
	}

	var source *domain.Source
	if raw := c.QueryParam("source"); raw != "" {
		src, err := domain.ParseSource(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		source = &src
	}

	runs, err := h.runs.FindRecent(c.Request().Context(), hours, source)
	if err != nil {
		h.logger.Error("find recent runs", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "query failed"})
	}
	if runs == nil {
		runs = []domain.ScraperRun{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs, "hours": hours})
}

// runByID returns one run record, primarily for CLI polling.
func (h *Handler) runByID(c echo.Context) error {
	id := c.Param("id")
	run, err := h.runs.GetByID(c.Request().Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
	}
	if err != nil {
		h.logger.Error("find run", zap.String("run_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "query failed"})
	}
	return c.JSON(http.StatusOK, run)
}

// recentChanges lists change events from the last N days (default 7) with
// optional source and risk filters, behind a short-TTL cache.
func (h *Handler) recentChanges(c echo.Context) error {
	days := queryInt(c, "days", 7)
	if days < 1 || days > 365 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "days must be within 1..365"})
	}

	var filter repository.ChangeEventFilter
	if raw := c.QueryParam("source"); raw != "" {
		src, err := domain.ParseSource(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		filter.Source = &src
	}
	if raw := c.QueryParam("risk_level"); raw != "" {
		level := domain.RiskLevel(raw)
		switch level {
		case domain.RiskCritical, domain.RiskHigh, domain.RiskMedium, domain.RiskLow:
			filter.RiskLevel = &level
		default:
			return c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown risk level %q", raw)})
		}
	}

	ctx := c.Request().Context()
	cacheKey := fmt.Sprintf("%d:%s:%s", days, c.QueryParam("source"), c.QueryParam("risk_level"))
	if h.cache != nil {
		if cached := h.cache.GetRecentChanges(ctx, cacheKey); cached != nil {
			return c.JSONBlob(http.StatusOK, cached)
		}
	}

	events, err := h.events.FindRecent(ctx, days, filter)
	if err != nil {
		h.logger.Error("find recent changes", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "query failed"})
	}
	if events == nil {
		events = []domain.ChangeEvent{}
	}

	if h.cache != nil {
		// Render once so the cached payload is byte-identical to the reply.
		payload, err := json.Marshal(map[string]any{"changes": events, "days": days})
		if err == nil {
			h.cache.SetRecentChanges(ctx, cacheKey, payload)
			return c.JSONBlob(http.StatusOK, payload)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"changes": events, "days": days})
}

// changeStats aggregates counts by risk level and change type.
func (h *Handler) changeStats(c echo.Context) error {
	hours := queryInt(c, "since_hours", 24)
	if hours < 1 || hours > 24*365 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "since_hours out of range"})
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	var source *domain.Source
	if raw := c.QueryParam("source"); raw != "" {
		src, err := domain.ParseSource(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		source = &src
	}

	ctx := c.Request().Context()
	byRisk, err := h.events.CountByRiskLevel(ctx, since, source)
	if err != nil {
		h.logger.Error("count by risk", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "query failed"})
	}
	byType, err := h.events.CountByChangeType(ctx, since, source)
	if err != nil {
		h.logger.Error("count by type", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "query failed"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"since_hours":    hours,
		"by_risk_level":  byRisk,
		"by_change_type": byType,
	})
}

func (h *Handler) healthz(c echo.Context) error {
	if err := h.health.Health(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
