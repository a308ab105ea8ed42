package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	apierrors "github.com/closeflow/closeflow/pkg/api/errors"
	"github.com/closeflow/closeflow/pkg/metrics"
	"github.com/closeflow/closeflow/pkg/models"
	"github.com/closeflow/closeflow/pkg/settlement"
)

// StripeHandler handles payment provider callbacks
type StripeHandler struct {
	dispatcher *settlement.WebhookDispatcher
	metrics    *metrics.Metrics
}

// NewStripeHandler creates a new Stripe webhook handler
func NewStripeHandler(dispatcher *settlement.WebhookDispatcher, m *metrics.Metrics) *StripeHandler {
	return &StripeHandler{dispatcher: dispatcher, metrics: m}
}

// HandleWebhook processes Stripe webhook events
// @Summary Handle Stripe webhook
// @Description Process payment intent and account events from Stripe
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Stripe webhook signature"
// @Success 200 {object} models.SuccessResponse "Event processed"
// @Failure 400 {object} models.ErrorResponse "Missing or invalid signature"
// @Router /webhooks/stripe [post]
func (h *StripeHandler) HandleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_body",
			Message: "Failed to read request body",
		})
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if signature == "" {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "missing_signature",
		})
	}

	eventType, err := h.dispatcher.Dispatch(c.Request().Context(), body, signature)
	if err != nil {
		if errors.Is(err, settlement.ErrBadSignature) {
			h.metrics.RecordProcessorEvent("unknown", "bad_signature")
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: "invalid_signature",
			})
		}
		if errors.Is(err, settlement.ErrPaymentNotFound) {
			// A payment this system never created; acknowledge so the
			// provider stops retrying.
			h.metrics.RecordProcessorEvent(eventType, "ignored")
			return c.JSON(http.StatusOK, models.SuccessResponse{Success: true})
		}
		h.metrics.RecordProcessorEvent(eventType, "error")
		return apierrors.InternalError(c, err)
	}

	h.metrics.RecordProcessorEvent(eventType, "ok")
	return c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Webhook processed successfully",
	})
}
