package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type addCartItemRequest struct {
	VariantID int64 `json:"variant_id" binding:"required"`
	Quantity  int   `json:"cantidad" binding:"required"`
}

type updateCartItemRequest struct {
	Quantity int `json:"cantidad" binding:"required"`
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.svc.Cart.GetCart(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.respondError(c, "Failed to load cart", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.svc.Cart.AddItem(c.Request.Context(), actorFrom(c), req.VariantID, req.Quantity)
	if err != nil {
		h.respondError(c, "Failed to add item to cart", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	itemID, ok := idParam(c, "item")
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.svc.Cart.UpdateQuantity(c.Request.Context(), actorFrom(c), itemID, req.Quantity)
	if err != nil {
		h.respondError(c, "Failed to update cart item", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	itemID, ok := idParam(c, "item")
	if !ok {
		return
	}

	view, err := h.svc.Cart.RemoveItem(c.Request.Context(), actorFrom(c), itemID)
	if err != nil {
		h.respondError(c, "Failed to remove cart item", err)
		return
	}
	c.JSON(http.StatusOK, view)
}
