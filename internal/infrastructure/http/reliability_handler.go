package http

import (
	"net/http"
	"strconv"

	"tutor-booking/internal/application/coordinator"
	"tutor-booking/internal/common/health"

	"github.com/gin-gonic/gin"
)

type ReliabilityHandler struct {
	coordinator *coordinator.Coordinator
	checker     health.HealthChecker
}

func NewReliabilityHandler(c *coordinator.Coordinator, checker health.HealthChecker) *ReliabilityHandler {
	return &ReliabilityHandler{
		coordinator: c,
		checker:     checker,
	}
}

type webhookRequest struct {
	EventID   string                     `json:"event_id"`
	EventType string                     `json:"event_type"`
	Payload   coordinator.WebhookPayload `json:"payload"`
}

// IngestWebhook receives provider push notifications. It always answers with
// the processing result so the provider can decide whether to redeliver.
func (h *ReliabilityHandler) IngestWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.EventID == "" || req.EventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_id and event_type are required"})
		return
	}

	if req.Payload.BookingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload.booking_id is required"})
		return
	}

	result, err := h.coordinator.IngestWebhook(c.Request.Context(), req.EventID, req.EventType, req.Payload)
	if err != nil {
		// A non-2xx answer tells the provider to redeliver later
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ReliabilityHandler) GetReliabilityStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.GetReliabilityStatus())
}

func (h *ReliabilityHandler) GetProblematicWebhooks(c *gin.Context) {
	minAttempts := 3
	if raw := c.Query("min_attempts"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_attempts must be a positive integer"})
			return
		}
		minAttempts = parsed
	}

	events := h.coordinator.GetProblematicWebhooks(minAttempts)
	c.JSON(http.StatusOK, gin.H{
		"min_attempts": minAttempts,
		"count":        len(events),
		"events":       events,
	})
}

func (h *ReliabilityHandler) CheckPaymentStatus(c *gin.Context) {
	bookingID := c.Param("id")
	if bookingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "booking_id is required"})
		return
	}

	info, err := h.coordinator.CheckPaymentStatus(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (h *ReliabilityHandler) Health(c *gin.Context) {
	status := h.checker.Check(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
