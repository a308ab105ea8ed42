package disputes

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/closeflow/closeflow/pkg/appointments"
	"github.com/closeflow/closeflow/pkg/fraud"
	"github.com/closeflow/closeflow/pkg/models"
	"github.com/closeflow/closeflow/pkg/tier"
)

var (
	ErrAppointmentNotFound = errors.New("disputes: appointment not found")
	ErrNotOwner            = errors.New("disputes: appointment belongs to another business")
	ErrAlreadyDisputed     = errors.New("disputes: appointment already disputed")
	ErrNotDisputable       = errors.New("disputes: appointment cannot be disputed in its current state")
	ErrDisputeNotFound     = errors.New("disputes: dispute not found")
	ErrAlreadyResolved     = errors.New("disputes: dispute already resolved")
)

// Service handles business challenges to verified appointments. One
// dispute per appointment; opening one moves the appointment to DISPUTED
// and feeds the business-side fraud telemetry.
type Service struct {
	db     *gorm.DB
	appts  *appointments.Service
	frauds *fraud.Service
	tiers  *tier.Service
}

// NewService creates a dispute service.
func NewService(db *gorm.DB, appts *appointments.Service, frauds *fraud.Service, tiers *tier.Service) *Service {
	return &Service{db: db, appts: appts, frauds: frauds, tiers: tiers}
}

// Open files a dispute on behalf of a business.
func (s *Service) Open(ctx context.Context, businessID string, req models.DisputeRequest) (*models.Dispute, error) {
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
	if !appointments.CanTransition(appt.Status, models.AppointmentDisputed) {
		if appt.Status == models.AppointmentDisputed {
			return nil, ErrAlreadyDisputed
		}
		return nil, ErrNotDisputable
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("appointment_id = ?", appt.ID).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing dispute: %w", err)
	}
	if existing > 0 {
		return nil, ErrAlreadyDisputed
	}

	dispute := &models.Dispute{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		CallerID:      appt.CallerID,
		Reason:        req.Reason,
		Description:   req.Description,
		Evidence:      req.Evidence,
		Status:        models.DisputePending,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The unique index on appointment_id is the backstop for a
		// concurrent duplicate the count above missed.
		if err := tx.Create(dispute).Error; err != nil {
			return fmt.Errorf("failed to create dispute: %w", err)
		}
		if err := tx.Model(&models.Business{}).
			Where("id = ?", appt.BusinessID).
			Update("dispute_count", gorm.Expr("dispute_count + 1")).Error; err != nil {
			return fmt.Errorf("failed to update business dispute count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.appts.Transition(ctx, appt.ID, models.AppointmentDisputed); err != nil {
		return nil, err
	}
	if err := s.frauds.CheckBusinessDisputeRate(ctx, appt.BusinessID); err != nil {
		return nil, err
	}
	return dispute, nil
}

// Resolve settles a pending dispute. A valid dispute counts against the
// caller's dispute rate; an invalid one counts against the business as a
// false dispute.
func (s *Service) Resolve(ctx context.Context, disputeID string, valid bool) (*models.Dispute, error) {
	var dispute models.Dispute
	err := s.db.WithContext(ctx).First(&dispute, "id = ?", disputeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dispute: %w", err)
	}

	status := models.DisputeInvalid
	if valid {
		status = models.DisputeValid
	}

	res := s.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("id = ? AND status = ?", disputeID, models.DisputePending).
		Update("status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to resolve dispute: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyResolved
	}
	dispute.Status = status

	if valid {
		if err := s.tiers.Recalculate(ctx, dispute.CallerID); err != nil {
			return nil, err
		}
	} else {
		if err := s.db.WithContext(ctx).Model(&models.Business{}).
			Where("id = ?", dispute.BusinessID).
			Update("false_dispute_count", gorm.Expr("false_dispute_count + 1")).Error; err != nil {
			return nil, fmt.Errorf("failed to update false dispute count: %w", err)
		}
		if err := s.frauds.CheckBusinessDisputeRate(ctx, dispute.BusinessID); err != nil {
			return nil, err
		}
	}
	return &dispute, nil
}
