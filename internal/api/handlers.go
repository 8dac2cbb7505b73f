package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wellness-service/internal/alerts"
	"wellness-service/internal/config"
	"wellness-service/internal/db"
	"wellness-service/internal/ivr"
	"wellness-service/internal/logging"
	"wellness-service/internal/models"
	"wellness-service/internal/services"
)

type Alerts interface {
	Get(ctx context.Context, id uuid.UUID) (models.Alert, error)
	Acknowledge(ctx context.Context, id uuid.UUID, supporterID string) (models.Alert, alerts.Outcome, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution models.Resolution, notes, resolverID string) (models.Alert, alerts.Outcome, error)
}

type Store interface {
	ListActiveAlerts(ctx context.Context, checkerID string) ([]models.Alert, error)
	ListDeliveries(ctx context.Context, alertID uuid.UUID) ([]models.DeliveryLogEntry, error)
	IsSupporterOf(ctx context.Context, checkerID, supporterID string) (bool, error)
}

type Workflow interface {
	Evaluate(ctx context.Context, checkerID string) (services.Evaluation, error)
	TriggerAndDispatch(ctx context.Context, checkerID string, level models.Level) (services.Evaluation, error)
	CheckIn(ctx context.Context, checkerID string, at time.Time) ([]models.Alert, error)
}

type Voice interface {
	Greeting(ctx context.Context, alertID string) ivr.Response
	Gather(ctx context.Context, call ivr.Call) ivr.Response
	RecordStatus(ctx context.Context, cb ivr.StatusCallback) error
}

type LiveFeed interface {
	AddConnection(supporterID string, conn *websocket.Conn) bool
	RemoveConnection(supporterID string, conn *websocket.Conn)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Alerts   Alerts
	Store    Store
	Workflow Workflow
	Voice    Voice
	Feed     LiveFeed
}

type Handler struct {
	Deps
	logger   *logging.Logger
	config   config.Config
	upgrader websocket.Upgrader
}

func NewHandler(deps Deps, logger *logging.Logger, cfg config.Config) *Handler {
	return &Handler{
		Deps:   deps,
		logger: logger,
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// respondError maps domain errors onto status codes. Lost races never reach
// here; they are outcomes.
func (h *Handler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, alerts.ErrResolutionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, alerts.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Errorf("%s failed: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) alertID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return uuid.Nil, false
	}
	return id, true
}

// authorize admits service callers and supporters linked to the checker.
func (h *Handler) authorize(c *gin.Context, checkerID string) bool {
	if isService(c) {
		return true
	}
	ok, err := h.Store.IsSupporterOf(c.Request.Context(), checkerID, supporterID(c))
	if err != nil {
		h.respondError(c, "Supporter lookup", err)
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a supporter of this checker"})
		return false
	}
	return true
}

// loadAlert fetches the alert and checks access to it.
func (h *Handler) loadAlert(c *gin.Context) (models.Alert, bool) {
	id, ok := h.alertID(c)
	if !ok {
		return models.Alert{}, false
	}
	alert, err := h.Alerts.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Get alert", err)
		return models.Alert{}, false
	}
	if !h.authorize(c, alert.CheckerID) {
		return models.Alert{}, false
	}
	return alert, true
}

type outcomeResponse struct {
	Alert   models.Alert   `json:"alert"`
	Outcome alerts.Outcome `json:"outcome"`
}

func (h *Handler) TriggerAlert(c *gin.Context) {
	var req struct {
		CheckerID string `json:"checker_id" binding:"required"`
		Level     string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	level, err := models.ParseLevel(req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := h.Workflow.TriggerAndDispatch(c.Request.Context(), req.CheckerID, level)
	if err != nil && ev.Alert == nil {
		h.respondError(c, "Trigger alert", err)
		return
	}
	if err != nil {
		h.logger.Errorf("Dispatch after trigger for checker %s failed: %v", req.CheckerID, err)
	}
	status := http.StatusOK
	if ev.Outcome == alerts.OutcomeCreated {
		status = http.StatusCreated
	}
	c.JSON(status, outcomeResponse{Alert: *ev.Alert, Outcome: ev.Outcome})
}

func (h *Handler) EvaluateChecker(c *gin.Context) {
	checkerID := c.Param("checker_id")
	ev, err := h.Workflow.Evaluate(c.Request.Context(), checkerID)
	if err != nil && ev.Alert == nil {
		h.respondError(c, "Evaluate checker "+checkerID, err)
		return
	}
	if err != nil {
		h.logger.Errorf("Dispatch after evaluation of checker %s failed: %v", checkerID, err)
	}
	body := gin.H{"checker_id": checkerID, "level": ev.Level}
	if ev.Alert != nil {
		body["alert"] = ev.Alert
		body["outcome"] = ev.Outcome
	}
	if ev.Report != nil {
		body["attempts"] = len(ev.Report.Attempts)
		body["failed"] = ev.Report.Failed()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) RecordCheckIn(c *gin.Context) {
	checkerID := c.Param("checker_id")
	var req struct {
		OccurredAt time.Time `json:"occurred_at"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	resolved, err := h.Workflow.CheckIn(c.Request.Context(), checkerID, req.OccurredAt)
	if err != nil {
		h.respondError(c, "Check-in of "+checkerID, err)
		return
	}
	if resolved == nil {
		resolved = []models.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"checker_id": checkerID, "resolved": resolved})
}

func (h *Handler) GetAlert(c *gin.Context) {
	alert, ok := h.loadAlert(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) ListActiveAlerts(c *gin.Context) {
	checkerID := c.Param("checker_id")
	if !h.authorize(c, checkerID) {
		return
	}
	active, err := h.Store.ListActiveAlerts(c.Request.Context(), checkerID)
	if err != nil {
		h.respondError(c, "List active alerts", err)
		return
	}
	if active == nil {
		active = []models.Alert{}
	}
	c.JSON(http.StatusOK, active)
}

func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	alert, ok := h.loadAlert(c)
	if !ok {
		return
	}
	actor := supporterID(c)
	if isService(c) {
		var req struct {
			SupporterID string `json:"supporter_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor = req.SupporterID
	}
	updated, outcome, err := h.Alerts.Acknowledge(c.Request.Context(), alert.ID, actor)
	if err != nil {
		h.respondError(c, "Acknowledge alert", err)
		return
	}
	c.JSON(http.StatusOK, outcomeResponse{Alert: updated, Outcome: outcome})
}

func (h *Handler) ResolveAlert(c *gin.Context) {
	alert, ok := h.loadAlert(c)
	if !ok {
		return
	}
	var req struct {
		Resolution string `json:"resolution" binding:"required"`
		Notes      string `json:"notes"`
		ResolvedBy string `json:"resolved_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resolution, err := models.ParseResolution(req.Resolution)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := supporterID(c)
	if isService(c) {
		actor = req.ResolvedBy
	}
	updated, outcome, err := h.Alerts.Resolve(c.Request.Context(), alert.ID, resolution, req.Notes, actor)
	if err != nil {
		h.respondError(c, "Resolve alert", err)
		return
	}
	c.JSON(http.StatusOK, outcomeResponse{Alert: updated, Outcome: outcome})
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	alert, ok := h.loadAlert(c)
	if !ok {
		return
	}
	entries, err := h.Store.ListDeliveries(c.Request.Context(), alert.ID)
	if err != nil {
		h.respondError(c, "List deliveries", err)
		return
	}
	if entries == nil {
		entries = []models.DeliveryLogEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// AlertFeed upgrades to a websocket that receives the supporter's alert
// events. Service callers have no feed.
func (h *Handler) AlertFeed(c *gin.Context) {
	supporter := supporterID(c)
	if supporter == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "supporter token required"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade for supporter %s failed: %v", supporter, err)
		return
	}
	if !h.Feed.AddConnection(supporter, conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"))
		_ = conn.Close()
		return
	}
	defer func() {
		h.Feed.RemoveConnection(supporter, conn)
		_ = conn.Close()
	}()
	// The feed is write-only; reading detects the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

var _ Store = (*db.DB)(nil)
