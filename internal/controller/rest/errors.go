package rest

import (
	"errors"
	"net/http"

	"github.com/Freeeeeet/consult_booking/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// fail переводит ошибку сервиса в HTTP ответ
func (h *Handler) fail(c *gin.Context, op string, err error) {
	var (
		validation *service.ValidationError
		frequency  *service.FrequencyLimitError
		conflict   *service.SlotConflictError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"field":   validation.Field,
			"message": validation.Error(),
		})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": err.Error()})
	case errors.As(err, &frequency):
		body := gin.H{
			"error":          "frequency_limit",
			"message":        frequency.Error(),
			"limit":          frequency.Limit,
			"window_minutes": int(frequency.Window.Minutes()),
		}
		if frequency.Duration > 0 {
			body["duration"] = frequency.Duration
		}
		c.JSON(http.StatusTooManyRequests, body)
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":       "slot_conflict",
			"message":     conflict.Error(),
			"source":      conflict.Source,
			"conflicting": conflict.Conflicting,
		})
	case errors.Is(err, service.ErrBookingClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "booking_closed", "message": err.Error()})
	case errors.Is(err, service.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrQueueClosed):
		h.logger.Warn("Sync queue rejected request", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync_unavailable", "message": "sync queue is busy, try again later"})
	default:
		h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func badRequest(c *gin.Context, field string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"field":   field,
		"message": err.Error(),
	})
}
