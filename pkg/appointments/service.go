package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/closeflow/closeflow/pkg/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when an appointment does not exist.
var ErrNotFound = errors.New("appointment not found")

// Service owns appointment lifecycle transitions and their invariants.
type Service struct {
	db *gorm.DB
}

// NewService creates a new appointment service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CreateParams describes a fraud-cleared booking ready to become an
// appointment. Pricing is frozen from the caller's tier at creation.
type CreateParams struct {
	LeadID         string
	BusinessID     string
	CallerID       string
	CallerTier     models.Tier
	BookingID      string
	ScheduledAt    time.Time
	WebhookPayload string
}

// Create inserts a PENDING_VERIFICATION appointment. The unique index on
// (lead, business, scheduled_at) makes the insert the authoritative
// duplicate check: a concurrent identical booking loses here, not at the
// earlier read.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Appointment, error) {
	pricing := models.PricingForTier(p.CallerTier)

	appt := &models.Appointment{
		LeadID:         p.LeadID,
		BusinessID:     p.BusinessID,
		CallerID:       p.CallerID,
		BookingID:      p.BookingID,
		ScheduledAt:    p.ScheduledAt,
		Status:         models.AppointmentPendingVerification,
		CallerTier:     p.CallerTier,
		PayoutAmount:   pricing.CallerPayout,
		PlatformFee:    pricing.PlatformFee,
		TotalCharge:    pricing.BusinessCharge,
		WebhookPayload: p.WebhookPayload,
	}

	if err := s.db.WithContext(ctx).Create(appt).Error; err != nil {
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}

	return appt, nil
}

// Get loads an appointment by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Appointment, error) {
	var appt models.Appointment
	if err := s.db.WithContext(ctx).First(&appt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch appointment: %w", err)
	}
	return &appt, nil
}

// VerifyWithPayment flips the appointment to VERIFIED and creates its
// PENDING payment in one transaction: either both exist afterwards or
// neither does. No appointment may sit in VERIFIED without a payment row.
func (s *Service) VerifyWithPayment(ctx context.Context, appointmentID string) (*models.Payment, error) {
	var payment *models.Payment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var appt models.Appointment
		if err := tx.First(&appt, "id = ?", appointmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to fetch appointment: %w", err)
		}

		if err := ValidateTransition(appt.Status, models.AppointmentVerified); err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&appt).
			Updates(map[string]any{"status": models.AppointmentVerified, "verified_at": now}).Error; err != nil {
			return fmt.Errorf("failed to verify appointment: %w", err)
		}

		// Leads that produced a verified appointment have converted.
		if err := tx.Model(&models.Lead{}).
			Where("id = ?", appt.LeadID).
			Update("status", models.LeadConverted).Error; err != nil {
			return fmt.Errorf("failed to update lead status: %w", err)
		}

		payment = &models.Payment{
			AppointmentID: appt.ID,
			BusinessID:    appt.BusinessID,
			CallerID:      appt.CallerID,
			Amount:        appt.TotalCharge,
			PlatformFee:   appt.PlatformFee,
			CallerPayout:  appt.PayoutAmount,
			Status:        models.PaymentPending,
		}
		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// EnsureVerified moves an appointment to VERIFIED if it is not already
// there. Used by the settlement success path, which may observe an
// appointment in any post-booking state after out-of-order callbacks:
// a status only reachable through VERIFIED (completed, disputed,
// no-show) means verification already happened, so there is nothing to
// do even though the appointment is no longer VERIFIED itself.
func (s *Service) EnsureVerified(ctx context.Context, appointmentID string) error {
	appt, err := s.Get(ctx, appointmentID)
	if err != nil {
		return err
	}
	switch appt.Status {
	case models.AppointmentVerified, models.AppointmentCompleted,
		models.AppointmentDisputed, models.AppointmentNoShow:
		return nil
	}
	if err := ValidateTransition(appt.Status, models.AppointmentVerified); err != nil {
		return err
	}

	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND status = ?", appt.ID, appt.Status).
		Updates(map[string]any{"status": models.AppointmentVerified, "verified_at": now}).Error
}

// Transition moves an appointment to the requested status after
// validating against the transition table. The update is conditioned on
// the observed status so concurrent transitions serialize on the row.
func (s *Service) Transition(ctx context.Context, appointmentID string, to models.AppointmentStatus) error {
	appt, err := s.Get(ctx, appointmentID)
	if err != nil {
		return err
	}
	if err := ValidateTransition(appt.Status, to); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND status = ?", appt.ID, appt.Status).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("failed to transition appointment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("appointment %s changed concurrently, transition to %s not applied", appt.ID, to)
	}
	return nil
}

// FindActiveForSlot returns the appointment occupying a (lead, business,
// scheduled time) slot in a non-terminal-failure status, if any.
func (s *Service) FindActiveForSlot(ctx context.Context, leadID, businessID string, scheduledAt time.Time) (*models.Appointment, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND business_id = ? AND scheduled_at = ?", leadID, businessID, scheduledAt).
		Where("status IN ?", statusStrings(models.ActiveAppointmentStatuses)).
		First(&appt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check appointment slot: %w", err)
	}
	return &appt, nil
}

// ListParams filters role-scoped appointment listings.
type ListParams struct {
	BusinessID string
	CallerID   string
	Status     models.AppointmentStatus
	Page       int
	Limit      int
}

// List returns appointments scoped to one side of the marketplace.
func (s *Service) List(ctx context.Context, p ListParams) ([]models.Appointment, int64, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 || p.Limit > 50 {
		p.Limit = 20
	}

	q := s.db.WithContext(ctx).Model(&models.Appointment{})
	if p.BusinessID != "" {
		q = q.Where("business_id = ?", p.BusinessID)
	}
	if p.CallerID != "" {
		q = q.Where("caller_id = ?", p.CallerID)
	}
	if p.Status != "" {
		q = q.Where("status = ?", p.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count appointments: %w", err)
	}

	var appts []models.Appointment
	if err := q.Order("created_at DESC").
		Offset((p.Page - 1) * p.Limit).
		Limit(p.Limit).
		Find(&appts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list appointments: %w", err)
	}

	return appts, total, nil
}

func statusStrings(statuses []models.AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
