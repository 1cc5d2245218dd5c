package api

import (
	"net/http"
	"strconv"

	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type createPaymentRequest struct {
	Method string `json:"method" binding:"required"`
}

type confirmPaymentRequest struct {
	GatewayContext map[string]string `json:"gateway_context"`
}

// checkout consumes the caller's cart. Repeating a request with the same
// Idempotency-Key returns the order the first one created.
func (h *Handler) checkout(c *gin.Context) {
	view, err := h.svc.Checkout.Checkout(c.Request.Context(), actorFrom(c), c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.respondError(c, "Failed to create order", err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) listOrders(c *gin.Context) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid page", "error": "validation_error"})
			return
		}
		page = p
	}

	result, err := h.svc.Orders.List(c.Request.Context(), actorFrom(c), models.OrderStatus(c.Query("estado")), page)
	if err != nil {
		h.respondError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	view, err := h.svc.Orders.Get(c.Request.Context(), actorFrom(c), orderID)
	if err != nil {
		h.respondError(c, "Order not found", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req cancelOrderRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	actor := actorFrom(c)
	if req.Reason == "" {
		req.Reason = service.ReasonCustomerRequest
		if actor.IsOperator() {
			req.Reason = service.ReasonOperatorRequest
		}
	}

	view, err := h.svc.Orders.Cancel(c.Request.Context(), actor, orderID, req.Reason)
	if err != nil {
		h.respondError(c, "Failed to cancel order", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) createPayment(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req createPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	payment, err := h.svc.Settlement.CreatePayment(c.Request.Context(), actorFrom(c), orderID, req.Method)
	if err != nil {
		h.respondError(c, "Failed to create payment", err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// confirmPayment verifies a payment with its gateway and settles the order
func (h *Handler) confirmPayment(c *gin.Context) {
	paymentID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req confirmPaymentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	view, err := h.svc.Settlement.Confirm(c.Request.Context(), actorFrom(c), paymentID, req.GatewayContext)
	if err != nil {
		h.respondError(c, "Failed to confirm payment", err)
		return
	}
	c.JSON(http.StatusOK, view)
}
