package api

import (
	"errors"
	"net/http"

	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps an error kind to its HTTP status. AlreadyProcessed stays a
// plain 400 so payment webhooks treat a replay as a client error.
func statusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindValidation, service.KindGateway:
		return http.StatusBadRequest
	case service.KindStateConflict:
		if errors.Is(err, service.ErrAlreadyProcessed) || errors.Is(err, service.ErrOrderNotPending) {
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	kind := service.KindOf(err)

	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			zap.String("path", c.FullPath()),
			zap.String("kind", kind.String()),
			zap.Error(err))
	}

	c.JSON(status, gin.H{
		"message": message,
		"error":   err.Error(),
		"kind":    kind.String(),
	})
}
