package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/closeflow/closeflow/pkg/models"
	"gorm.io/gorm"
)

// Alert descriptions. Stable strings: they are persisted as FraudAlert
// rows and matched by support tooling.
const (
	AlertCoolingPeriod   = "caller is still in cooling period (24h after account creation)"
	AlertDuplicateLead   = "duplicate appointment detected for this lead"
	AlertMultiCaller     = "same lead booked by multiple callers"
	AlertEmailDomain     = "lead email domain matches caller email domain"
	AlertConcentration   = "over 80% of caller appointments are with the same business - possible collusion"
	AlertBurstActivity   = "caller has 10+ appointments in the last 24 hours - unusual activity"
	AlertBackdated       = "appointment time is in the past"
	alertTypeVerification = "APPOINTMENT_VERIFICATION"
	alertTypeDisputeRate  = "HIGH_DISPUTE_RATE"
	alertTypeFalseDispute = "FALSE_DISPUTES"
)

const (
	concentrationMinSample = 5
	concentrationShare     = 0.8
	burstThreshold         = 10
	burstWindow            = 24 * time.Hour
)

// Input is the booking under evaluation.
type Input struct {
	Caller      *models.Caller
	Lead        *models.Lead
	BusinessID  string
	ScheduledAt time.Time
}

// Result is the outcome of one evaluation. Passed means zero alerts;
// Categorical means the account is summarily ineligible (cooling period)
// and the event must be rejected regardless of alert count. Policy for
// non-categorical alerts (reject above 2) belongs to the caller of the
// evaluator: "any alert" is too strict for a marketplace with legitimate
// edge cases.
type Result struct {
	Passed      bool
	Categorical bool
	Alerts      []string
	// Severity mirrors what the persisted FraudAlert rows carry: empty
	// when no alerts fired, "high" above two alerts, "medium" otherwise.
	Severity string
}

// Service evaluates booking events against the anti-collusion rules.
type Service struct {
	db *gorm.DB
}

// NewService creates a new fraud evaluation service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Evaluate runs every rule independently (no short-circuit) so all
// applicable alerts are recorded, then persists one FraudAlert per
// triggered rule. Evidence accumulates even for events that are
// ultimately allowed through.
func (s *Service) Evaluate(ctx context.Context, in Input) (*Result, error) {
	now := time.Now()

	// Cooling period is categorical: the account is ineligible, no
	// further checks needed.
	if in.Caller.InCoolingPeriod(now) {
		alerts := []string{AlertCoolingPeriod}
		if err := s.persistAlerts(ctx, in, alerts); err != nil {
			return nil, err
		}
		return &Result{Categorical: true, Alerts: alerts, Severity: alertSeverity(len(alerts))}, nil
	}

	var alerts []string

	dupe, err := s.countActiveOnLead(ctx, in.Lead.ID, in.BusinessID, "")
	if err != nil {
		return nil, err
	}
	if dupe > 0 {
		alerts = append(alerts, AlertDuplicateLead)
	}

	others, err := s.countActiveOnLead(ctx, in.Lead.ID, in.BusinessID, in.Caller.ID)
	if err != nil {
		return nil, err
	}
	if others > 0 {
		alerts = append(alerts, AlertMultiCaller)
	}

	if domainsCollide(callerEmail(in.Caller), in.Lead.Email) {
		alerts = append(alerts, AlertEmailDomain)
	}

	concentrated, err := s.isConcentrated(ctx, in.Caller.ID, in.BusinessID)
	if err != nil {
		return nil, err
	}
	if concentrated {
		alerts = append(alerts, AlertConcentration)
	}

	var recent int64
	err = s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("caller_id = ? AND created_at >= ?", in.Caller.ID, now.Add(-burstWindow)).
		Count(&recent).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count recent appointments: %w", err)
	}
	if recent >= burstThreshold {
		alerts = append(alerts, AlertBurstActivity)
	}

	if in.ScheduledAt.Before(now) {
		alerts = append(alerts, AlertBackdated)
	}

	if err := s.persistAlerts(ctx, in, alerts); err != nil {
		return nil, err
	}

	res := &Result{Passed: len(alerts) == 0, Alerts: alerts}
	if len(alerts) > 0 {
		res.Severity = alertSeverity(len(alerts))
	}
	return res, nil
}

func alertSeverity(n int) string {
	if n > 2 {
		return "high"
	}
	return "medium"
}

// CheckBusinessDisputeRate records business-side fraud telemetry after a
// dispute event: a >20% dispute rate over a meaningful sample, and
// repeated false disputes.
func (s *Service) CheckBusinessDisputeRate(ctx context.Context, businessID string) error {
	var business models.Business
	if err := s.db.WithContext(ctx).First(&business, "id = ?", businessID).Error; err != nil {
		return fmt.Errorf("failed to fetch business: %w", err)
	}

	var totalAppointments, totalDisputes int64
	if err := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("business_id = ?", businessID).Count(&totalAppointments).Error; err != nil {
		return fmt.Errorf("failed to count appointments: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("business_id = ?", businessID).Count(&totalDisputes).Error; err != nil {
		return fmt.Errorf("failed to count disputes: %w", err)
	}

	if totalAppointments > 10 && float64(totalDisputes)/float64(totalAppointments) > 0.2 {
		alert := &models.FraudAlert{
			Type:        alertTypeDisputeRate,
			Severity:    "high",
			Description: fmt.Sprintf("business %s has >20%% dispute rate", business.CompanyName),
			BusinessID:  businessID,
		}
		if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
			return fmt.Errorf("failed to create dispute rate alert: %w", err)
		}
	}

	if business.FalseDisputeCount >= 3 {
		alert := &models.FraudAlert{
			Type:        alertTypeFalseDispute,
			Severity:    "high",
			Description: fmt.Sprintf("business %s has %d false disputes - account review required", business.CompanyName, business.FalseDisputeCount),
			BusinessID:  businessID,
		}
		if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
			return fmt.Errorf("failed to create false dispute alert: %w", err)
		}
	}

	return nil
}

// countActiveOnLead counts non-terminal appointments for a lead+business,
// optionally excluding one caller (to detect multi-caller contention).
func (s *Service) countActiveOnLead(ctx context.Context, leadID, businessID, excludeCallerID string) (int64, error) {
	statuses := make([]string, len(models.ActiveAppointmentStatuses))
	for i, st := range models.ActiveAppointmentStatuses {
		statuses[i] = string(st)
	}

	q := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("lead_id = ? AND business_id = ? AND status IN ?", leadID, businessID, statuses)
	if excludeCallerID != "" {
		q = q.Where("caller_id != ?", excludeCallerID)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count lead appointments: %w", err)
	}
	return count, nil
}

// isConcentrated reports whether more than 80% of the caller's
// verified/completed appointments sit with this one business, given at
// least 5 such appointments exist.
func (s *Service) isConcentrated(ctx context.Context, callerID, businessID string) (bool, error) {
	settled := []string{string(models.AppointmentVerified), string(models.AppointmentCompleted)}

	var total, pair int64
	if err := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("caller_id = ? AND status IN ?", callerID, settled).
		Count(&total).Error; err != nil {
		return false, fmt.Errorf("failed to count caller appointments: %w", err)
	}
	if total < concentrationMinSample {
		return false, nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("caller_id = ? AND business_id = ? AND status IN ?", callerID, businessID, settled).
		Count(&pair).Error; err != nil {
		return false, fmt.Errorf("failed to count pair appointments: %w", err)
	}

	return float64(pair)/float64(total) > concentrationShare, nil
}

func (s *Service) persistAlerts(ctx context.Context, in Input, alerts []string) error {
	if len(alerts) == 0 {
		return nil
	}

	severity := alertSeverity(len(alerts))

	data, _ := json.Marshal(map[string]any{
		"lead_id":      in.Lead.ID,
		"scheduled_at": in.ScheduledAt,
	})

	for _, alert := range alerts {
		row := &models.FraudAlert{
			Type:        alertTypeVerification,
			Severity:    severity,
			Description: alert,
			BusinessID:  in.BusinessID,
			CallerID:    in.Caller.ID,
			Data:        string(data),
		}
		if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
			return fmt.Errorf("failed to persist fraud alert: %w", err)
		}
	}
	return nil
}

func callerEmail(c *models.Caller) string {
	if c.User != nil {
		return c.User.Email
	}
	return ""
}

func domainsCollide(callerEmail, leadEmail string) bool {
	cd := emailDomain(callerEmail)
	ld := emailDomain(leadEmail)
	return cd != "" && cd == ld
}

func emailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}
