package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the operations the HTTP surface exposes
type Services struct {
	Cart       *service.CartService
	Checkout   *service.CheckoutService
	Settlement *service.SettlementService
	Orders     *service.OrderService
	Inventory  *service.InventoryService
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	auth   *Authenticator
	ready  Pinger
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, auth *Authenticator, ready Pinger) *Handler {
	return &Handler{
		svc:    svc,
		auth:   auth,
		ready:  ready,
		logger: util.GetLogger(),
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

	v1 := router.Group("/api/v1", h.auth.Require())
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart", h.addCartItem)
		v1.PUT("/cart/:item", h.updateCartItem)
		v1.DELETE("/cart/:item", h.removeCartItem)

		v1.POST("/orders", h.checkout)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/payments", h.createPayment)

		v1.POST("/payments/:id/confirm", h.confirmPayment)

		admin := v1.Group("/admin", RequireOperator())
		{
			admin.POST("/variants/:id/stock", h.adjustStock)
			admin.GET("/variants/:id/movements", h.listMovements)
			admin.GET("/variants/:id/reconcile", h.reconcileStock)
			admin.PUT("/orders/:id/status", h.updateOrderStatus)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.ready.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// idParam parses a positive integer path parameter, answering 400 otherwise
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid " + name,
			"error":   "validation_error",
		})
		return 0, false
	}
	return id, true
}

// bindJSON decodes the request body, answering 400 on failure
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
		return false
	}
	return true
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
