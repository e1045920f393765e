// Package api exposes the HTTP surface: analysis reads, investigation
// triggers, playbook inspection, and the Alertmanager webhook.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fleetvisor/fleetvisor/internal/models"
	"github.com/fleetvisor/fleetvisor/internal/utils"
)

// AnalysisProvider serves fleet analysis results.
type AnalysisProvider interface {
	Latest(ctx context.Context) *models.AnalysisResult
	RunCycle(ctx context.Context) *models.AnalysisResult
}

// InvestigationService runs and looks up investigations.
type InvestigationService interface {
	Investigate(ctx context.Context, alert models.Event) *models.Investigation
	Get(id string) (*models.Investigation, error)
	List(limit int) []*models.Investigation
}

// PlaybookService dispatches events and exposes the playbook registry.
type PlaybookService interface {
	Dispatch(ctx context.Context, event models.Event) []*models.PlaybookRun
	List() []*models.Playbook
	GetRun(id string) (*models.PlaybookRun, error)
	ListRuns(limit int) []*models.PlaybookRun
	ListEvents(limit int) []models.Event
}

// Handlers binds the services to gin routes.
type Handlers struct {
	analysis       AnalysisProvider
	investigations InvestigationService
	playbooks      PlaybookService
	logger         *slog.Logger
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(analysis AnalysisProvider, investigations InvestigationService, pbs PlaybookService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		analysis:       analysis,
		investigations: investigations,
		playbooks:      pbs,
		logger:         logger,
	}
}

// RegisterRoutes attaches all endpoints to the router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api")
	{
		api.GET("/ai/analyze", h.analyze)
		api.GET("/analyze", h.analyze)
		api.GET("/anomalies", h.listAnomalies)
		api.GET("/insights", h.listInsights)
		api.POST("/investigate", h.investigate)
		api.POST("/investigations", h.investigate)
		api.GET("/investigations", h.listInvestigations)
		api.GET("/investigations/:id", h.getInvestigation)
		api.POST("/events", h.postEvent)
		api.GET("/events", h.listEvents)
		api.GET("/playbooks", h.listPlaybooks)
		api.GET("/playbooks/runs", h.listRuns)
		api.GET("/playbooks/runs/:id", h.getRun)
		api.GET("/runs", h.listRuns)
	}

	router.POST("/webhook/alertmanager", h.alertmanagerWebhook)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) analyze(c *gin.Context) {
	if c.Query("refresh") == "true" {
		c.JSON(http.StatusOK, h.analysis.RunCycle(c.Request.Context()))
		return
	}
	c.JSON(http.StatusOK, h.analysis.Latest(c.Request.Context()))
}

// listAnomalies and listInsights project the latest analysis so dashboards
// can poll a single slice without the full result envelope.
func (h *Handlers) listAnomalies(c *gin.Context) {
	result := h.analysis.Latest(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"anomalies": result.Anomalies, "engine": result.Engine, "timestamp": result.AnalysisTimestamp})
}

func (h *Handlers) listInsights(c *gin.Context) {
	result := h.analysis.Latest(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"insights": result.Insights, "health_score": result.OverallHealthScore, "timestamp": result.AnalysisTimestamp})
}

func (h *Handlers) investigate(c *gin.Context) {
	var event models.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload: " + err.Error()})
		return
	}

	inv := h.investigations.Investigate(c.Request.Context(), event)
	c.JSON(http.StatusOK, inv)
}

func (h *Handlers) listInvestigations(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	c.JSON(http.StatusOK, gin.H{"investigations": h.investigations.List(limit)})
}

func (h *Handlers) getInvestigation(c *gin.Context) {
	inv, err := h.investigations.Get(c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handlers) postEvent(c *gin.Context) {
	var event models.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload: " + err.Error()})
		return
	}

	runs := h.playbooks.Dispatch(c.Request.Context(), event)
	c.JSON(http.StatusOK, gin.H{"matched": len(runs), "runs": runs})
}

func (h *Handlers) listEvents(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	c.JSON(http.StatusOK, gin.H{"events": h.playbooks.ListEvents(limit)})
}

func (h *Handlers) listPlaybooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"playbooks": h.playbooks.List()})
}

func (h *Handlers) listRuns(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	c.JSON(http.StatusOK, gin.H{"runs": h.playbooks.ListRuns(limit)})
}

func (h *Handlers) getRun(c *gin.Context) {
	run, err := h.playbooks.GetRun(c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// alertmanagerAlert mirrors one entry of the Alertmanager webhook payload.
type alertmanagerAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    string            `json:"startsAt"`
}

type alertmanagerWebhookPayload struct {
	Status string              `json:"status"`
	Alerts []alertmanagerAlert `json:"alerts"`
}

func (h *Handlers) alertmanagerWebhook(c *gin.Context) {
	var payload alertmanagerWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alertmanager payload: " + err.Error()})
		return
	}

	dispatched := 0
	totalRuns := 0
	for _, alert := range payload.Alerts {
		if alert.Status != "" && alert.Status != "firing" {
			continue
		}
		event := eventFromAlert(alert)
		runs := h.playbooks.Dispatch(c.Request.Context(), event)
		dispatched++
		totalRuns += len(runs)
		h.logger.Info("alertmanager alert dispatched",
			"alertname", event.AlertName, "service", event.Service, "runs", len(runs))
	}

	c.JSON(http.StatusOK, gin.H{"received": len(payload.Alerts), "dispatched": dispatched, "runs": totalRuns})
}

// eventFromAlert flattens Alertmanager labels and annotations into an Event.
func eventFromAlert(alert alertmanagerAlert) models.Event {
	event := models.Event{
		AlertName: alert.Labels["alertname"],
		Source:    "alertmanager",
		Service:   alert.Labels["job"],
		Cluster:   alert.Labels["cluster"],
		Severity:  models.Severity(strings.ToLower(alert.Labels["severity"])),
	}
	if event.Service == "" {
		event.Service = alert.Labels["service"]
	}
	if event.Description = alert.Annotations["description"]; event.Description == "" {
		event.Description = alert.Annotations["summary"]
	}
	if ts, err := utils.ParseRFC3339(alert.StartsAt); err == nil {
		event.ReceivedAt = ts
	}
	return event
}

func (h *Handlers) renderError(c *gin.Context, err error) {
	if errors.Is(err, utils.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
