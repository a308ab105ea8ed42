package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apierrors "github.com/closeflow/closeflow/pkg/api/errors"
	"github.com/closeflow/closeflow/pkg/appointments"
	"github.com/closeflow/closeflow/pkg/middleware"
	"github.com/closeflow/closeflow/pkg/models"
)

// AppointmentHandler handles appointment listing
type AppointmentHandler struct {
	appointmentService *appointments.Service
}

// NewAppointmentHandler creates a new appointment handler
func NewAppointmentHandler(appointmentService *appointments.Service) *AppointmentHandler {
	return &AppointmentHandler{appointmentService: appointmentService}
}

// List returns appointments for the authenticated profile
// @Summary List appointments
// @Description List appointments scoped to the caller's or business's own profile
// @Tags Appointments
// @Produce json
// @Param status query string false "Filter by appointment status"
// @Param page query int false "Page number"
// @Param limit query int false "Page size, max 50"
// @Success 200 {object} map[string]interface{} "Appointments and total count"
// @Router /appointments [get]
func (h *AppointmentHandler) List(c echo.Context) error {
	params := appointments.ListParams{
		BusinessID: middleware.BusinessID(c),
		CallerID:   middleware.CallerID(c),
		Status:     models.AppointmentStatus(c.QueryParam("status")),
	}
	if params.BusinessID == "" && params.CallerID == "" {
		return apierrors.ForbiddenError(c, "profile required")
	}
	params.Page, _ = strconv.Atoi(c.QueryParam("page"))
	params.Limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 || params.Limit > 50 {
		params.Limit = 20
	}

	appts, total, err := h.appointmentService.List(c.Request().Context(), params)
	if err != nil {
		return apierrors.InternalError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"appointments": appts,
		"total":        total,
		"page":         params.Page,
		"limit":        params.Limit,
	})
}
