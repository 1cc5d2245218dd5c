package api

import (
	"net/http"

	"storefront/internal/models"

	"github.com/gin-gonic/gin"
)

type adjustStockRequest struct {
	Type     models.MovementType `json:"type" binding:"required"`
	Quantity int                 `json:"quantity" binding:"required"`
	Reason   string              `json:"reason" binding:"required"`
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *Handler) adjustStock(c *gin.Context) {
	variantID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req adjustStockRequest
	if !bindJSON(c, &req) {
		return
	}

	variant, err := h.svc.Inventory.Adjust(c.Request.Context(), actorFrom(c), variantID, req.Type, req.Quantity, req.Reason)
	if err != nil {
		h.respondError(c, "Failed to adjust stock", err)
		return
	}
	c.JSON(http.StatusOK, variant)
}

func (h *Handler) listMovements(c *gin.Context) {
	variantID, ok := idParam(c, "id")
	if !ok {
		return
	}

	movements, err := h.svc.Inventory.Movements(c.Request.Context(), actorFrom(c), variantID)
	if err != nil {
		h.respondError(c, "Failed to list stock movements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": movements})
}

func (h *Handler) reconcileStock(c *gin.Context) {
	variantID, ok := idParam(c, "id")
	if !ok {
		return
	}

	rec, err := h.svc.Inventory.Reconcile(c.Request.Context(), variantID)
	if err != nil {
		h.respondError(c, "Failed to reconcile stock", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.svc.Orders.UpdateStatus(c.Request.Context(), actorFrom(c), orderID, req.Status)
	if err != nil {
		h.respondError(c, "Failed to update order status", err)
		return
	}
	c.JSON(http.StatusOK, view)
}
