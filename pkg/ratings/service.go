package ratings

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/closeflow/closeflow/pkg/models"
	"github.com/closeflow/closeflow/pkg/tier"
)

var (
	ErrAppointmentNotFound = errors.New("ratings: appointment not found")
	ErrNotOwner            = errors.New("ratings: appointment belongs to another business")
	ErrAlreadyRated        = errors.New("ratings: appointment already rated")
	ErrNotRatable          = errors.New("ratings: appointment cannot be rated in its current state")
)

// ratableStatuses are the appointment states a business may score. A
// disputed appointment is scored through dispute resolution instead.
var ratableStatuses = map[models.AppointmentStatus]bool{
	models.AppointmentVerified:  true,
	models.AppointmentCompleted: true,
	models.AppointmentNoShow:    true,
}

// Service records business ratings for appointments, one per
// appointment, and folds them into the caller's average.
type Service struct {
	db    *gorm.DB
	tiers *tier.Service
}

// NewService creates a rating service.
func NewService(db *gorm.DB, tiers *tier.Service) *Service {
	return &Service{db: db, tiers: tiers}
}

// Rate scores an appointment on behalf of a business and recomputes the
// caller's stats.
func (s *Service) Rate(ctx context.Context, businessID string, req models.RatingRequest) (*models.Rating, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).First(&appt, "id = ?", req.AppointmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appointment: %w", err)
	}
	if appt.BusinessID != businessID {
		return nil, ErrNotOwner
	}
	if !ratableStatuses[appt.Status] {
		return nil, ErrNotRatable
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Rating{}).
		Where("appointment_id = ?", appt.ID).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing rating: %w", err)
	}
	if existing > 0 {
		return nil, ErrAlreadyRated
	}

	rating := &models.Rating{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		CallerID:      appt.CallerID,
		Score:         req.Score,
		Review:        req.Review,
	}
	// Unique index on appointment_id backstops concurrent duplicates.
	if err := s.db.WithContext(ctx).Create(rating).Error; err != nil {
		return nil, fmt.Errorf("failed to create rating: %w", err)
	}

	if err := s.tiers.Recalculate(ctx, appt.CallerID); err != nil {
		return nil, err
	}
	return rating, nil
}
