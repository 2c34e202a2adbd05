package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/auth"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const principalKey = "principal"

// principalMiddleware authenticates the caller and stores the principal on
// the gin context for the handler to pass on explicitly
func (h *Handler) principalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := h.authenticator.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthenticated",
				"details": err.Error(),
			})
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

func principalFrom(c *gin.Context) auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(auth.Principal); ok {
			return p
		}
	}
	return auth.Principal{}
}

// respondError maps domain errors to HTTP status codes. A rolled back
// transaction is reported as such whatever its cause.
func respondError(c *gin.Context, message string, err error) {
	var (
		vErr  *service.ValidationError
		txErr *service.TransactionError
		aErr  *service.AuthorizationError
	)

	switch {
	case errors.As(err, &vErr):
		body := gin.H{
			"error":   message,
			"code":    vErr.Code,
			"details": vErr.Error(),
		}
		if vErr.ProductID != uuid.Nil {
			body["product_id"] = vErr.ProductID
		}
		if vErr.Code == service.CodeOutOfStock {
			body["requested"] = vErr.Requested
			body["available"] = vErr.Available
		}
		c.JSON(http.StatusUnprocessableEntity, body)

	case errors.As(err, &aErr):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   message,
			"code":    "FORBIDDEN",
			"details": aErr.Error(),
		})

	case errors.As(err, &txErr):
		status := http.StatusInternalServerError
		body := gin.H{
			"error":   message,
			"code":    "TRANSACTION_FAILED",
			"details": txErr.Error(),
		}
		if txErr.StockRaceLost() {
			status = http.StatusConflict
			body["code"] = service.CodeOutOfStock
			body["product_id"] = txErr.ProductID
		}
		c.JSON(status, body)

	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   message,
			"code":    "NOT_FOUND",
			"details": err.Error(),
		})

	default:
		util.GetLogger().Error("Unhandled request error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   message,
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
