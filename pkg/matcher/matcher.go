package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/closeflow/closeflow/pkg/models"
	"github.com/closeflow/closeflow/pkg/phone"
	"gorm.io/gorm"
)

// Rejection reasons reported back to the scheduler. These are semantic
// outcomes, not errors: the webhook response is still HTTP 200 so the
// partner system does not retry them.
const (
	ReasonMissingContact    = "missing email and phone"
	ReasonMissingSchedule   = "missing scheduled time"
	ReasonMissingBookingID  = "missing booking id"
	ReasonInvalidSchedule   = "invalid scheduled time"
	ReasonUnconfirmedStatus = "booking status not confirmed"
	ReasonStaleBooking      = "scheduled time too far in the past"
	ReasonNoLead            = "no matching lead"
	ReasonNoBusiness        = "lead has no owning business"
	ReasonNoAssignment      = "no active assignment for lead"
	ReasonDuplicate         = "duplicate appointment"
)

// confirmedStatuses is the allow-list for the scheduler's free-text
// status. Anything else fails verification rather than erroring.
var confirmedStatuses = map[string]struct{}{
	"confirmed": {},
	"scheduled": {},
	"active":    {},
	"booked":    {},
}

// maxBookingAge rejects backdated bookings older than a week.
const maxBookingAge = 7 * 24 * time.Hour

// Match is a resolved booking event: the lead, its owning business, and
// the caller whose active assignment claims credit.
type Match struct {
	Lead        *models.Lead
	Business    *models.Business
	Assignment  *models.Assignment
	Caller      *models.Caller
	ScheduledAt time.Time
	BookingID   string
}

// Rejection is a structured "not verified" outcome.
type Rejection struct {
	Reason string
}

// Service resolves inbound booking events to leads and assignments.
type Service struct {
	db *gorm.DB
}

// NewService creates a new matcher service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Resolve matches a booking payload to a lead and its active assignment.
// Exactly one of (*Match, *Rejection) is non-nil on a nil error; a non-nil
// error means storage failed and the sender should retry at the transport
// level.
func (s *Service) Resolve(ctx context.Context, p models.BookingPayload) (*Match, *Rejection, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	phoneE164 := phone.NormalizeOrEmpty(p.Phone)

	if email == "" && phoneE164 == "" {
		return nil, &Rejection{Reason: ReasonMissingContact}, nil
	}
	if strings.TrimSpace(p.ScheduledTime) == "" {
		return nil, &Rejection{Reason: ReasonMissingSchedule}, nil
	}
	if strings.TrimSpace(p.BookingID) == "" {
		return nil, &Rejection{Reason: ReasonMissingBookingID}, nil
	}

	scheduledAt, err := time.Parse(time.RFC3339, p.ScheduledTime)
	if err != nil {
		return nil, &Rejection{Reason: ReasonInvalidSchedule}, nil
	}

	if _, ok := confirmedStatuses[strings.ToLower(strings.TrimSpace(p.Status))]; !ok {
		return nil, &Rejection{Reason: ReasonUnconfirmedStatus}, nil
	}

	if time.Since(scheduledAt) > maxBookingAge {
		return nil, &Rejection{Reason: ReasonStaleBooking}, nil
	}

	lead, err := s.findLead(ctx, email, phoneE164)
	if err != nil {
		return nil, nil, err
	}
	if lead == nil {
		return nil, &Rejection{Reason: ReasonNoLead}, nil
	}
	if lead.BusinessID == "" {
		return nil, &Rejection{Reason: ReasonNoBusiness}, nil
	}

	var business models.Business
	if err := s.db.WithContext(ctx).First(&business, "id = ?", lead.BusinessID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &Rejection{Reason: ReasonNoBusiness}, nil
		}
		return nil, nil, fmt.Errorf("failed to fetch business: %w", err)
	}

	assignment, err := s.findActiveAssignment(ctx, lead.ID)
	if err != nil {
		return nil, nil, err
	}
	if assignment == nil {
		return nil, &Rejection{Reason: ReasonNoAssignment}, nil
	}

	var caller models.Caller
	if err := s.db.WithContext(ctx).Preload("User").First(&caller, "id = ?", assignment.CallerID).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to fetch caller: %w", err)
	}

	dupe, err := s.hasActiveAppointment(ctx, lead.ID, lead.BusinessID, scheduledAt)
	if err != nil {
		return nil, nil, err
	}
	if dupe {
		return nil, &Rejection{Reason: ReasonDuplicate}, nil
	}

	return &Match{
		Lead:        lead,
		Business:    &business,
		Assignment:  assignment,
		Caller:      &caller,
		ScheduledAt: scheduledAt,
		BookingID:   strings.TrimSpace(p.BookingID),
	}, nil, nil
}

// findLead looks up a lead by email or phone. Ties break toward the most
// recently created lead.
func (s *Service) findLead(ctx context.Context, email, phoneE164 string) (*models.Lead, error) {
	q := s.db.WithContext(ctx).Model(&models.Lead{})

	switch {
	case email != "" && phoneE164 != "":
		q = q.Where("(email != '' AND LOWER(email) = ?) OR (phone != '' AND phone = ?)", email, phoneE164)
	case email != "":
		q = q.Where("email != '' AND LOWER(email) = ?", email)
	default:
		q = q.Where("phone != '' AND phone = ?", phoneE164)
	}

	var lead models.Lead
	err := q.Order("created_at DESC, id DESC").First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find lead: %w", err)
	}
	return &lead, nil
}

// findActiveAssignment picks the most recent assignment in an active
// work stage. Deterministic ordering matters: two calls must agree on
// which caller gets credit.
func (s *Service) findActiveAssignment(ctx context.Context, leadID string) (*models.Assignment, error) {
	statuses := make([]string, len(models.ActiveAssignmentStatuses))
	for i, st := range models.ActiveAssignmentStatuses {
		statuses[i] = string(st)
	}

	var assignment models.Assignment
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND status IN ?", leadID, statuses).
		Order("created_at DESC, id DESC").
		First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}
	return &assignment, nil
}

func (s *Service) hasActiveAppointment(ctx context.Context, leadID, businessID string, scheduledAt time.Time) (bool, error) {
	statuses := make([]string, len(models.ActiveAppointmentStatuses))
	for i, st := range models.ActiveAppointmentStatuses {
		statuses[i] = string(st)
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("lead_id = ? AND business_id = ? AND scheduled_at = ? AND status IN ?",
			leadID, businessID, scheduledAt, statuses).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate appointment: %w", err)
	}
	return count > 0, nil
}
