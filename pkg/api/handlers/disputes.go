package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apierrors "github.com/closeflow/closeflow/pkg/api/errors"
	"github.com/closeflow/closeflow/pkg/disputes"
	"github.com/closeflow/closeflow/pkg/metrics"
	"github.com/closeflow/closeflow/pkg/middleware"
	"github.com/closeflow/closeflow/pkg/models"
)

// DisputeHandler handles dispute endpoints
type DisputeHandler struct {
	disputeService *disputes.Service
	validator      *validator.Validate
	metrics        *metrics.Metrics
}

// NewDisputeHandler creates a new dispute handler
func NewDisputeHandler(disputeService *disputes.Service, m *metrics.Metrics) *DisputeHandler {
	return &DisputeHandler{
		disputeService: disputeService,
		validator:      validator.New(),
		metrics:        m,
	}
}

// Create opens a dispute against an appointment
// @Summary Open a dispute
// @Description File a dispute against a verified or completed appointment
// @Tags Disputes
// @Accept json
// @Produce json
// @Param payload body models.DisputeRequest true "Dispute details"
// @Success 201 {object} models.Dispute "Dispute created"
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 409 {object} models.ErrorResponse "Appointment already disputed"
// @Router /disputes [post]
func (h *DisputeHandler) Create(c echo.Context) error {
	var req models.DisputeRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	businessID := middleware.BusinessID(c)
	if businessID == "" {
		return apierrors.ForbiddenError(c, "business profile required")
	}

	dispute, err := h.disputeService.Open(c.Request().Context(), businessID, req)
	if err != nil {
		switch {
		case errors.Is(err, disputes.ErrAppointmentNotFound):
			return apierrors.NotFoundError(c, "appointment")
		case errors.Is(err, disputes.ErrNotOwner):
			return apierrors.ForbiddenError(c, "appointment belongs to another business")
		case errors.Is(err, disputes.ErrAlreadyDisputed):
			return apierrors.ConflictError(c, "Appointment is already disputed")
		case errors.Is(err, disputes.ErrNotDisputable):
			return apierrors.UnprocessableError(c, "Appointment cannot be disputed in its current state")
		default:
			return apierrors.InternalError(c, err)
		}
	}

	h.metrics.RecordDisputeOpened()
	return c.JSON(http.StatusCreated, dispute)
}
