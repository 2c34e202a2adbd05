package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"fulfillment-service/internal/auth"
	"fulfillment-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService       *service.OrderService
	fulfillmentService *service.FulfillmentService
	authenticator      *auth.HeaderAuthenticator
	db                 Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	fulfillmentService *service.FulfillmentService,
	authenticator *auth.HeaderAuthenticator,
	db Pinger,
) *Handler {
	return &Handler{
		orderService:       orderService,
		fulfillmentService: fulfillmentService,
		authenticator:      authenticator,
		db:                 db,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(h.principalMiddleware())
	{
		v1.POST("/checkout", h.checkout)
		v1.GET("/orders/:id", h.getOrder)

		v1.GET("/fulfillments/:id", h.getFulfillmentUnit)
		v1.PATCH("/fulfillments/:id/status", h.updateFulfillmentStatus)
		v1.GET("/vendor/fulfillments", h.listVendorFulfillments)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// checkout handles order placement
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	if len(req.IdempotencyKey) > service.MaxIdempotencyKeyLen {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid idempotency key",
			"details": fmt.Sprintf("idempotency key exceeds %d characters", service.MaxIdempotencyKeyLen),
		})
		return
	}

	resp, err := h.orderService.Checkout(c.Request.Context(), principalFrom(c), &req)
	if err != nil {
		respondError(c, "Checkout failed", err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := parseID(c, "Invalid order ID")
	if !ok {
		return
	}

	detail, err := h.orderService.GetOrder(c.Request.Context(), principalFrom(c), orderID)
	if err != nil {
		respondError(c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// getFulfillmentUnit handles get fulfillment unit by ID
func (h *Handler) getFulfillmentUnit(c *gin.Context) {
	unitID, ok := parseID(c, "Invalid fulfillment unit ID")
	if !ok {
		return
	}

	detail, err := h.fulfillmentService.GetFulfillmentUnit(c.Request.Context(), principalFrom(c), unitID)
	if err != nil {
		respondError(c, "Failed to get fulfillment unit", err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// updateFulfillmentStatus handles a vendor status change
func (h *Handler) updateFulfillmentStatus(c *gin.Context) {
	unitID, ok := parseID(c, "Invalid fulfillment unit ID")
	if !ok {
		return
	}

	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.fulfillmentService.UpdateStatus(c.Request.Context(), principalFrom(c), unitID, req.Status)
	if err != nil {
		respondError(c, "Failed to update fulfillment status", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// listVendorFulfillments lists the calling vendor's fulfillment units
func (h *Handler) listVendorFulfillments(c *gin.Context) {
	units, err := h.fulfillmentService.ListVendorUnits(c.Request.Context(), principalFrom(c))
	if err != nil {
		respondError(c, "Failed to list fulfillment units", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"fulfillment_units": units,
	})
}

func parseID(c *gin.Context, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": message,
		})
		return uuid.Nil, false
	}
	return id, true
}
