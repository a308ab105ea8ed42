package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/closeflow/closeflow/pkg/api/errors"
	"github.com/closeflow/closeflow/pkg/booking"
	"github.com/closeflow/closeflow/pkg/metrics"
	"github.com/closeflow/closeflow/pkg/models"
)

// BookingHandler handles the inbound scheduler webhook
type BookingHandler struct {
	bookingService *booking.Service
	metrics        *metrics.Metrics
}

// NewBookingHandler creates a new booking webhook handler
func NewBookingHandler(bookingService *booking.Service, m *metrics.Metrics) *BookingHandler {
	return &BookingHandler{bookingService: bookingService, metrics: m}
}

// HandleWebhook processes a booking event from the external scheduler
// @Summary Handle booking webhook
// @Description Verify a booked appointment against leads, assignments and fraud rules
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param payload body models.BookingEvent true "Booking event"
// @Success 200 {object} models.BookingResult "Verification outcome, verified or rejected"
// @Failure 400 {object} models.ErrorResponse "Malformed payload"
// @Router /webhooks/booking [post]
func (h *BookingHandler) HandleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_body",
			Message: "Failed to read request body",
		})
	}

	var event models.BookingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		// Malformed JSON is a transport problem, not a rejected booking.
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_payload",
			Message: "Request body is not a valid booking event",
		})
	}

	result, err := h.bookingService.Process(c.Request().Context(), event)
	if err != nil {
		h.metrics.RecordBookingEvent("error")
		return errors.InternalError(c, err)
	}

	// Rejections ride back on 200: the scheduler treats any non-2xx as
	// "retry later", and a rejected booking will never become valid.
	if result.Verified {
		h.metrics.RecordBookingEvent("verified")
	} else {
		h.metrics.RecordBookingEvent("rejected")
	}
	return c.JSON(http.StatusOK, result)
}
