package http

import (
	"context"
	"errors"
	"net/http"

	"tutor-booking/internal/application/coordinator"
	"tutor-booking/internal/domain/booking"
	"tutor-booking/internal/infrastructure/bookingstore"
	"tutor-booking/internal/reliability"

	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	coordinator *coordinator.Coordinator
}

func NewBookingHandler(c *coordinator.Coordinator) *BookingHandler {
	return &BookingHandler{
		coordinator: c,
	}
}

type versionedRequest struct {
	ExpectedVersion int `json:"expected_version"`
}

type endSessionRequest struct {
	ExpectedVersion int    `json:"expected_version"`
	Outcome         string `json:"outcome"`
}

type refundRequest struct {
	ExpectedVersion int     `json:"expected_version"`
	Amount          float64 `json:"amount"`
}

type openDisputeRequest struct {
	ExpectedVersion int    `json:"expected_version"`
	Reason          string `json:"reason"`
	ActorID         string `json:"actor_id"`
}

type resolveDisputeRequest struct {
	ExpectedVersion int    `json:"expected_version"`
	Resolution      string `json:"resolution"`
	ActorID         string `json:"actor_id"`
	Notes           string `json:"notes"`
}

func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req coordinator.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.TutorID == "" || req.StudentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tutor_id and student_id are required"})
		return
	}

	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be greater than 0"})
		return
	}

	view, err := h.coordinator.CreateBooking(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	bookingID := c.Param("id")
	if bookingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "booking_id is required"})
		return
	}

	view, err := h.coordinator.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *BookingHandler) GetHistory(c *gin.Context) {
	bookingID := c.Param("id")
	if bookingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "booking_id is required"})
		return
	}

	records, err := h.coordinator.GetHistory(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id": bookingID,
		"events":     records,
	})
}

func (h *BookingHandler) ScheduleSession(c *gin.Context) {
	h.transition(c, h.coordinator.ScheduleSession)
}

func (h *BookingHandler) StartSession(c *gin.Context) {
	h.transition(c, h.coordinator.StartSession)
}

func (h *BookingHandler) CancelBooking(c *gin.Context) {
	h.transition(c, h.coordinator.CancelBooking)
}

func (h *BookingHandler) ExpireBooking(c *gin.Context) {
	h.transition(c, h.coordinator.ExpireBooking)
}

func (h *BookingHandler) EndSession(c *gin.Context) {
	bookingID := c.Param("id")

	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome := booking.SessionOutcome(req.Outcome)
	if !outcome.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown outcome: " + req.Outcome})
		return
	}

	view, err := h.coordinator.EndSession(c.Request.Context(), bookingID, req.ExpectedVersion, outcome)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *BookingHandler) AuthorizePayment(c *gin.Context) {
	h.transition(c, h.coordinator.AuthorizePayment)
}

func (h *BookingHandler) CapturePayment(c *gin.Context) {
	h.transition(c, h.coordinator.CapturePayment)
}

func (h *BookingHandler) VoidPayment(c *gin.Context) {
	h.transition(c, h.coordinator.VoidPayment)
}

func (h *BookingHandler) RefundPayment(c *gin.Context) {
	bookingID := c.Param("id")

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be greater than 0"})
		return
	}

	view, err := h.coordinator.RefundPayment(c.Request.Context(), bookingID, req.ExpectedVersion, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *BookingHandler) OpenDispute(c *gin.Context) {
	bookingID := c.Param("id")

	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}

	view, err := h.coordinator.OpenDispute(c.Request.Context(), bookingID, req.ExpectedVersion, req.Reason, req.ActorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *BookingHandler) ResolveDispute(c *gin.Context) {
	bookingID := c.Param("id")

	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolution := booking.DisputeState(req.Resolution)
	if !resolution.IsResolution() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resolution: " + req.Resolution})
		return
	}

	view, err := h.coordinator.ResolveDispute(c.Request.Context(), bookingID, req.ExpectedVersion, resolution, req.ActorID, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// transition handles the common shape shared by the version-checked
// single-argument operations
func (h *BookingHandler) transition(c *gin.Context, op func(ctx context.Context, bookingID string, expectedVersion int) (*coordinator.BookingView, error)) {
	bookingID := c.Param("id")

	var req versionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := op(c.Request.Context(), bookingID, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// respondError maps domain and infrastructure errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bookingstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, bookingstore.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error": "booking was modified concurrently, please refresh and retry",
		})
	case errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrInvalidOutcome),
		errors.Is(err, booking.ErrDisputeWindowExpired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, reliability.ErrCircuitOpen),
		errors.Is(err, reliability.ErrPaymentServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "payment provider is temporarily unavailable, please retry later",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
