package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"careplanner/internal/model"
	"careplanner/internal/reconcile"
	"careplanner/internal/repository"
	"careplanner/internal/service"
)

type syncRunner interface {
	SyncAll(ctx context.Context, from, to string) (reconcile.Report, error)
}

// defaultSyncWindow is how many days back POST /api/sync pulls when no range is given.
const defaultSyncWindow = 7

type APIHandler struct {
	templates *service.TemplateService
	records   *repository.RecordRepository
	engine    *service.MaterializationEngine
	tracker   *service.CompletionTracker
	syncer    syncRunner
}

func NewAPIHandler(
	templates *service.TemplateService,
	records *repository.RecordRepository,
	engine *service.MaterializationEngine,
	tracker *service.CompletionTracker,
	syncer syncRunner,
) *APIHandler {
	return &APIHandler{
		templates: templates,
		records:   records,
		engine:    engine,
		tracker:   tracker,
		syncer:    syncer,
	}
}

// RegisterRoutes mounts the API under /api.
func (h *APIHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api")
	{
		api.GET("/templates", h.ListTemplates)
		api.POST("/templates", h.CreateTemplate)
		api.PUT("/templates/:id", h.UpdateTemplate)
		api.POST("/templates/:id/deactivate", h.DeactivateTemplate)
		api.POST("/templates/:id/activate", h.ActivateTemplate)
		api.DELETE("/templates/:id", h.DeleteTemplate)
		api.GET("/templates/:id/history", h.TemplateHistory)

		api.GET("/days/:date", h.GetDay)
		api.GET("/days/:date/stream", h.StreamDay)
		api.POST("/days/:date/records/:templateId/complete", h.SetCompletion)
		api.POST("/days/:date/reset", h.ResetDay)
		api.GET("/days/:date/progress", h.GetProgress)

		api.POST("/sync", h.Sync)
	}
}

func (h *APIHandler) ListTemplates(c *gin.Context) {
	includeInactive := c.Query("all") == "true"
	tpls, err := h.templates.List(c.Request.Context(), includeInactive)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": tpls})
}

func (h *APIHandler) CreateTemplate(c *gin.Context) {
	var req service.TemplateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	tpl, err := h.templates.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

func (h *APIHandler) UpdateTemplate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.TemplateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	tpl, err := h.templates.Update(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *APIHandler) DeactivateTemplate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *APIHandler) ActivateTemplate(c *gin.Context) {
	h.setActive(c, true)
}

func (h *APIHandler) setActive(c *gin.Context, active bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	tpl, err := h.templates.SetActive(c.Request.Context(), id, active)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *APIHandler) DeleteTemplate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.templates.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *APIHandler) TemplateHistory(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	to := c.DefaultQuery("to", h.engine.Today())
	from := c.DefaultQuery("from", "0000-01-01")
	for _, date := range []string{from, to} {
		if _, err := model.ParseDate(date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	recs, err := h.records.HistoryForTemplate(c.Request.Context(), id, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templateId": id, "records": recs})
}

// GetDay materializes the day, then returns its records.
func (h *APIHandler) GetDay(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.engine.EnsureRecordsForDate(ctx, date); err != nil {
		writeError(c, err)
		return
	}
	recs, err := h.records.ListByDate(ctx, date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "records": recs})
}

// StreamDay pushes the day's records as server-sent events on every change.
func (h *APIHandler) StreamDay(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}
	updates := h.records.Subscribe(c.Request.Context(), date)
	c.Stream(func(w io.Writer) bool {
		recs, open := <-updates
		if !open {
			return false
		}
		c.SSEvent("records", recs)
		return true
	})
}

func (h *APIHandler) SetCompletion(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}
	templateID, ok := idParam(c, "templateId")
	if !ok {
		return
	}
	var req struct {
		Completed *bool `json:"completed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Completed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.templates.Get(ctx, templateID); err != nil {
		writeError(c, err)
		return
	}
	if err := h.tracker.SetCompletion(ctx, templateID, date, *req.Completed); err != nil {
		writeError(c, err)
		return
	}
	rec, err := h.records.Get(ctx, templateID, date)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"templateId": templateID, "date": date, "isCompleted": false})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *APIHandler) ResetDay(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}
	if err := h.tracker.ResetForDate(c.Request.Context(), date); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "status": "reset"})
}

func (h *APIHandler) GetProgress(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}
	p, err := h.tracker.Progress(c.Request.Context(), date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":      p.Date,
		"completed": p.Completed,
		"total":     p.Total,
		"percent":   p.Percent(),
	})
}

func (h *APIHandler) Sync(c *gin.Context) {
	if h.syncer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync is not configured"})
		return
	}
	to := c.DefaultQuery("to", h.engine.Today())
	toDate, err := model.ParseDate(to)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from := c.DefaultQuery("from", model.FormatDate(toDate.AddDate(0, 0, -defaultSyncWindow)))

	report, err := h.syncer.SyncAll(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "report": report})
}

func idParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(value), true
}

// dateParam accepts YYYY-MM-DD or "today" in the configured zone.
func (h *APIHandler) dateParam(c *gin.Context) (string, bool) {
	date := c.Param("date")
	if date == "today" {
		return h.engine.Today(), true
	}
	if _, err := model.ParseDate(date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return date, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTemplate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
