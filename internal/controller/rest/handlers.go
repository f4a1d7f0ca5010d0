package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultManualSyncLimit = 100
	maxManualSyncLimit     = 500
)

type Handler struct {
	bookings     BookingAPI
	availability AvailabilityAPI
	logger       *zap.Logger
}

func NewHandler(bookings BookingAPI, availability AvailabilityAPI, logger *zap.Logger) *Handler {
	return &Handler{
		bookings:     bookings,
		availability: availability,
		logger:       logger,
	}
}

type availabilityQuery struct {
	Start    time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00" binding:"required"`
	End      time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00" binding:"required"`
	Duration int       `form:"duration" binding:"required"`
}

type bookingRequest struct {
	Name      string    `json:"name"`
	Company   string    `json:"company"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone"`
	Inquiry   string    `json:"inquiry"`
	StartTime time.Time `json:"start_time" binding:"required"`
	Duration  int       `json:"duration" binding:"required"`
}

type updateBookingRequest struct {
	Name      *string              `json:"name"`
	Company   *string              `json:"company"`
	Email     *string              `json:"email"`
	Phone     *string              `json:"phone"`
	Inquiry   *string              `json:"inquiry"`
	StartTime *time.Time           `json:"start_time"`
	Duration  *int                 `json:"duration"`
	Status    *model.BookingStatus `json:"status"`
	// Перенос без проверки лимита частоты
	BypassLimits bool `json:"bypass_limits"`
}

// GetAvailability handles GET /api/availability
func (h *Handler) GetAvailability(c *gin.Context) {
	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "query", err)
		return
	}

	availability, err := h.availability.GetAvailableSlots(c.Request.Context(), q.Start, q.End, q.Duration)
	if err != nil {
		h.fail(c, "get availability", err)
		return
	}
	c.JSON(http.StatusOK, availability)
}

// CreateBooking handles POST /api/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	h.createBooking(c, false)
}

// AdminCreateBooking handles POST /api/admin/bookings, лимиты частоты не проверяются
func (h *Handler) AdminCreateBooking(c *gin.Context) {
	h.createBooking(c, true)
}

func (h *Handler) createBooking(c *gin.Context, bypass bool) {
	var body bookingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "body", err)
		return
	}

	slot, err := model.NewTimeSlot(body.StartTime, body.Duration)
	if err != nil {
		badRequest(c, "slot", err)
		return
	}

	booking, err := h.bookings.CreateBooking(c.Request.Context(), service.CreateBookingRequest{
		Details: model.ContactDetails{
			Name:    body.Name,
			Company: body.Company,
			Email:   body.Email,
			Phone:   body.Phone,
			Inquiry: body.Inquiry,
		},
		Slot:         slot,
		BypassLimits: bypass,
	})
	if err != nil {
		h.fail(c, "create booking", err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// GetBooking handles GET /api/bookings/:id
func (h *Handler) GetBooking(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get booking", err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// UpdateBooking handles PATCH /api/admin/bookings/:id
func (h *Handler) UpdateBooking(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}

	var body updateBookingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "body", err)
		return
	}

	req := service.UpdateBookingRequest{
		Name:         body.Name,
		Company:      body.Company,
		Email:        body.Email,
		Phone:        body.Phone,
		Inquiry:      body.Inquiry,
		Status:       body.Status,
		BypassLimits: body.BypassLimits,
	}

	switch {
	case body.StartTime != nil && body.Duration != nil:
		slot, err := model.NewTimeSlot(*body.StartTime, *body.Duration)
		if err != nil {
			badRequest(c, "slot", err)
			return
		}
		req.Slot = &slot
	case body.StartTime != nil || body.Duration != nil:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"field":   "slot",
			"message": "start_time and duration must be changed together",
		})
		return
	}

	booking, err := h.bookings.UpdateBooking(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, "update booking", err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// CancelBooking handles POST /api/admin/bookings/:id/cancel
func (h *Handler) CancelBooking(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.CancelBooking(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "cancel booking", err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ListManualSync handles GET /api/admin/bookings/manual-sync
func (h *Handler) ListManualSync(c *gin.Context) {
	limit := defaultManualSyncLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"field":   "limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxManualSyncLimit)
	}

	bookings, err := h.bookings.ListManualSync(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "list manual sync", err)
		return
	}
	if bookings == nil {
		bookings = []*model.Booking{}
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// RetrySync handles POST /api/admin/bookings/:id/retry-sync
func (h *Handler) RetrySync(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.RetrySync(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "retry sync", err)
		return
	}
	c.JSON(http.StatusAccepted, booking)
}

func bookingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "id", err)
		return uuid.Nil, false
	}
	return id, true
}
