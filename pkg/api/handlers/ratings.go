package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apierrors "github.com/closeflow/closeflow/pkg/api/errors"
	"github.com/closeflow/closeflow/pkg/middleware"
	"github.com/closeflow/closeflow/pkg/models"
	"github.com/closeflow/closeflow/pkg/ratings"
)

// RatingHandler handles rating endpoints
type RatingHandler struct {
	ratingService *ratings.Service
	validator     *validator.Validate
}

// NewRatingHandler creates a new rating handler
func NewRatingHandler(ratingService *ratings.Service) *RatingHandler {
	return &RatingHandler{
		ratingService: ratingService,
		validator:     validator.New(),
	}
}

// Create rates an appointment
// @Summary Rate an appointment
// @Description Score a verified appointment 1-5, once per appointment
// @Tags Ratings
// @Accept json
// @Produce json
// @Param payload body models.RatingRequest true "Rating"
// @Success 201 {object} models.Rating "Rating created"
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 409 {object} models.ErrorResponse "Appointment already rated"
// @Router /ratings [post]
func (h *RatingHandler) Create(c echo.Context) error {
	var req models.RatingRequest
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

	rating, err := h.ratingService.Rate(c.Request().Context(), businessID, req)
	if err != nil {
		switch {
		case errors.Is(err, ratings.ErrAppointmentNotFound):
			return apierrors.NotFoundError(c, "appointment")
		case errors.Is(err, ratings.ErrNotOwner):
			return apierrors.ForbiddenError(c, "appointment belongs to another business")
		case errors.Is(err, ratings.ErrAlreadyRated):
			return apierrors.ConflictError(c, "Appointment is already rated")
		case errors.Is(err, ratings.ErrNotRatable):
			return apierrors.UnprocessableError(c, "Appointment cannot be rated in its current state")
		default:
			return apierrors.InternalError(c, err)
		}
	}

	return c.JSON(http.StatusCreated, rating)
}
