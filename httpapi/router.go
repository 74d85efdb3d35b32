// Package httpapi exposes the webhook subscription management surface:
// CRUD over subscriptions, delivery logs, and manual test deliveries.
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evahq/webhooks"
	"github.com/evahq/webhooks/storage"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 100
)

// WebhookCreate is the request body for creating a subscription.
type WebhookCreate struct {
	URL         string   `json:"url" binding:"required"`
	Events      []string `json:"events" binding:"required"`
	Description string   `json:"description"`
	Secret      string   `json:"secret"`
	Active      *bool    `json:"active"`
}

// WebhookUpdate is the request body for a partial update.
type WebhookUpdate struct {
	URL         *string   `json:"url"`
	Events      *[]string `json:"events"`
	Description *string   `json:"description"`
	Secret      *string   `json:"secret"`
	Active      *bool     `json:"active"`
}

// WebhookResponse is the API representation of a subscription. The signing
// secret is write-only and never echoed back.
type WebhookResponse struct {
	ID             string                    `json:"id"`
	URL            string                    `json:"url"`
	Events         []string                  `json:"events"`
	Description    string                    `json:"description,omitempty"`
	Active         bool                      `json:"active"`
	TenantID       string                    `json:"tenant_id"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
	LastDeliveryAt *time.Time                `json:"last_delivery_at,omitempty"`
	Stats          storage.SubscriptionStats `json:"stats"`
}

// WebhookLogResponse is one delivery attempt in the logs listing.
type WebhookLogResponse struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"webhook_id"`
	EventType      string    `json:"event_type"`
	EventID        string    `json:"event_id"`
	Attempt        int       `json:"attempt"`
	DeliveredAt    time.Time `json:"delivered_at"`
	StatusCode     *int      `json:"status_code,omitempty"`
	Success        bool      `json:"success"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// TestEventRequest carries an optional event type override for test deliveries.
type TestEventRequest struct {
	EventType string `json:"event_type"`
}

// Handler wires webhook management endpoints against a store and the
// delivery service.
type Handler struct {
	store   storage.Store
	service *webhooks.Service
	logger  *zap.Logger
}

// NewHandler creates the management handler.
func NewHandler(store storage.Store, service *webhooks.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, service: service, logger: logger}
}

// NewRouter builds the gin engine: /health is public, /webhooks requires a
// tenant API key.
func NewRouter(h *Handler, apiKeys map[string]string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group := r.Group("/webhooks")
	group.Use(APIKeyMiddleware(apiKeys))
	h.Register(group)

	return r
}

// Register attaches the webhook routes to an authenticated group.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("", h.create)
	r.GET("", h.list)
	r.GET("/:id", h.get)
	r.PUT("/:id", h.update)
	r.DELETE("/:id", h.delete)
	r.GET("/:id/logs", h.logs)
	r.POST("/:id/test", h.test)
}

func (h *Handler) create(c *gin.Context) {
	tenantID := TenantID(c)

	var req WebhookCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	if err := validateSubscription(req.URL, req.Events, active); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	sub := &storage.Subscription{
		ID:          "webhook_" + uuid.New().String()[:16],
		TenantID:    tenantID,
		URL:         req.URL,
		EventTypes:  req.Events,
		Description: req.Description,
		Secret:      req.Secret,
		Active:      active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateWebhook(c.Request.Context(), sub); err != nil {
		h.logger.Error("Failed to create webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create webhook"})
		return
	}

	h.logger.Info("Webhook created",
		zap.String("webhook_id", sub.ID),
		zap.String("tenant_id", tenantID))
	c.JSON(http.StatusCreated, toResponse(sub))
}

func (h *Handler) list(c *gin.Context) {
	tenantID := TenantID(c)
	activeOnly := c.Query("active_only") == "true"

	subs, err := h.store.ListWebhooks(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to list webhooks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhooks"})
		return
	}

	out := make([]WebhookResponse, 0, len(subs))
	for i := range subs {
		if activeOnly && !subs[i].Active {
			continue
		}
		out = append(out, toResponse(&subs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "total": len(out)})
}

func (h *Handler) get(c *gin.Context) {
	sub, ok := h.fetch(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResponse(sub))
}

func (h *Handler) update(c *gin.Context) {
	sub, ok := h.fetch(c)
	if !ok {
		return
	}

	var req WebhookUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	if req.URL != nil {
		sub.URL = *req.URL
	}
	if req.Events != nil {
		sub.EventTypes = *req.Events
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.Secret != nil {
		sub.Secret = *req.Secret
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if err := validateSubscription(sub.URL, sub.EventTypes, sub.Active); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateWebhook(c.Request.Context(), sub); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return
		}
		h.logger.Error("Failed to update webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update webhook"})
		return
	}

	h.logger.Info("Webhook updated", zap.String("webhook_id", sub.ID))
	c.JSON(http.StatusOK, toResponse(sub))
}

func (h *Handler) delete(c *gin.Context) {
	tenantID := TenantID(c)
	id := c.Param("id")

	err := h.store.DeleteWebhook(c.Request.Context(), id, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete webhook"})
		return
	}

	h.logger.Info("Webhook deleted", zap.String("webhook_id", id))
	c.Status(http.StatusNoContent)
}

func (h *Handler) logs(c *gin.Context) {
	sub, ok := h.fetch(c)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLogLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxLogLimit)})
			return
		}
		limit = n
	}

	entries, err := h.store.ListDeliveryLogs(c.Request.Context(), sub.ID, limit)
	if err != nil {
		h.logger.Error("Failed to list delivery logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list delivery logs"})
		return
	}

	out := make([]WebhookLogResponse, 0, len(entries))
	for _, entry := range entries {
		item := WebhookLogResponse{
			ID:             entry.ID,
			SubscriptionID: entry.SubscriptionID,
			EventType:      entry.EventType,
			EventID:        entry.EventID,
			Attempt:        entry.Attempt,
			DeliveredAt:    entry.Timestamp,
			Success:        entry.Success,
			ResponseTimeMs: entry.ResponseTimeMs,
			ErrorMessage:   entry.ErrorMessage,
		}
		if entry.StatusCode != 0 {
			code := entry.StatusCode
			item.StatusCode = &code
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) test(c *gin.Context) {
	sub, ok := h.fetch(c)
	if !ok {
		return
	}

	var req TestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	event := h.service.DeliverTest(sub.ID, req.EventType, sub.TenantID)

	h.logger.Info("Test event queued",
		zap.String("webhook_id", sub.ID),
		zap.String("event_id", event.EventID))
	c.JSON(http.StatusAccepted, gin.H{
		"message":  "Test event queued for delivery",
		"event_id": event.EventID,
	})
}

// fetch resolves the subscription in the path under the caller's tenant.
// A subscription owned by another tenant is indistinguishable from a
// missing one.
func (h *Handler) fetch(c *gin.Context) (*storage.Subscription, bool) {
	tenantID := TenantID(c)
	id := c.Param("id")

	sub, err := h.store.GetWebhook(c.Request.Context(), id, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to fetch webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch webhook"})
		return nil, false
	}
	return sub, true
}

func validateSubscription(rawURL string, events []string, active bool) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if active && len(events) == 0 {
		return fmt.Errorf("events must be non-empty for an active webhook")
	}
	for _, e := range events {
		if e == "" {
			return fmt.Errorf("event types must be non-empty strings")
		}
	}
	return nil
}

func toResponse(sub *storage.Subscription) WebhookResponse {
	return WebhookResponse{
		ID:             sub.ID,
		URL:            sub.URL,
		Events:         sub.EventTypes,
		Description:    sub.Description,
		Active:         sub.Active,
		TenantID:       sub.TenantID,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
		LastDeliveryAt: sub.LastDeliveryAt,
		Stats:          sub.Stats,
	}
}
