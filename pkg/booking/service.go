package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/closeflow/closeflow/pkg/appointments"
	"github.com/closeflow/closeflow/pkg/fraud"
	"github.com/closeflow/closeflow/pkg/logger"
	"github.com/closeflow/closeflow/pkg/matcher"
	"github.com/closeflow/closeflow/pkg/metrics"
	"github.com/closeflow/closeflow/pkg/models"
	"github.com/closeflow/closeflow/pkg/settlement"
)

// Rejection reasons produced by this pipeline stage. Matcher reasons pass
// through unchanged.
const (
	ReasonUnsupportedEvent = "unsupported event type"
	ReasonCoolingPeriod    = "caller in cooling period"
	ReasonFraudAlerts      = "too many fraud alerts"
)

// maxTolerableAlerts is how many non-categorical fraud alerts a booking
// may carry and still verify. The alerts are persisted either way.
const maxTolerableAlerts = 2

// Service is the booking verification pipeline: match the event to a
// lead, assignment and caller; run fraud evaluation; then create, verify
// and start settling the appointment. Every outcome, verified or not, is
// a structured result so the upstream scheduler never sees an error for a
// merely-rejected booking.
type Service struct {
	matcher    *matcher.Service
	frauds     *fraud.Service
	appts      *appointments.Service
	settlement *settlement.Service
	metrics    *metrics.Metrics
	log        logger.Logger
}

// NewService creates the booking pipeline.
func NewService(match *matcher.Service, frauds *fraud.Service,
	appts *appointments.Service, settle *settlement.Service,
	m *metrics.Metrics, log logger.Logger) *Service {
	return &Service{
		matcher:    match,
		frauds:     frauds,
		appts:      appts,
		settlement: settle,
		metrics:    m,
		log:        log,
	}
}

// Process runs one booking event through the pipeline. The returned
// error is reserved for infrastructure failures; rejections come back as
// a result with Verified=false and a reason.
func (s *Service) Process(ctx context.Context, event models.BookingEvent) (*models.BookingResult, error) {
	if !strings.EqualFold(event.EventType, "booking.created") {
		return &models.BookingResult{Verified: false, Reason: ReasonUnsupportedEvent}, nil
	}

	match, rejection, err := s.matcher.Resolve(ctx, event.Payload)
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		s.log.Info("booking rejected by matcher",
			"booking_id", event.Payload.BookingID, "reason", rejection.Reason)
		return &models.BookingResult{Verified: false, Reason: rejection.Reason}, nil
	}

	fraudResult, err := s.frauds.Evaluate(ctx, fraud.Input{
		Caller:      match.Caller,
		Lead:        match.Lead,
		BusinessID:  match.Business.ID,
		ScheduledAt: match.ScheduledAt,
	})
	if err != nil {
		return nil, err
	}
	if len(fraudResult.Alerts) > 0 {
		s.metrics.RecordFraudAlerts(fraudResult.Severity, len(fraudResult.Alerts))
	}
	if fraudResult.Categorical {
		s.log.Info("booking rejected, caller in cooling period",
			"booking_id", match.BookingID, "caller_id", match.Caller.ID)
		return &models.BookingResult{Verified: false, Reason: ReasonCoolingPeriod}, nil
	}
	if len(fraudResult.Alerts) > maxTolerableAlerts {
		s.log.Warn("booking rejected by fraud evaluation",
			"booking_id", match.BookingID, "caller_id", match.Caller.ID,
			"alerts", len(fraudResult.Alerts))
		return &models.BookingResult{Verified: false, Reason: ReasonFraudAlerts}, nil
	}

	rawPayload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode booking payload: %w", err)
	}

	appt, err := s.appts.Create(ctx, appointments.CreateParams{
		LeadID:         match.Lead.ID,
		BusinessID:     match.Business.ID,
		CallerID:       match.Caller.ID,
		CallerTier:     match.Caller.Tier,
		BookingID:      match.BookingID,
		ScheduledAt:    match.ScheduledAt,
		WebhookPayload: string(rawPayload),
	})
	if err != nil {
		return nil, err
	}

	payment, err := s.appts.VerifyWithPayment(ctx, appt.ID)
	if err != nil {
		return nil, err
	}

	if err := s.settlement.InitiateCharge(ctx, payment.ID); err != nil {
		// The appointment is verified and the payment row exists;
		// reconciliation retries the charge. Do not fail the booking.
		s.log.Error("failed to initiate charge, left for reconciliation",
			"payment_id", payment.ID, "error", err)
	}

	s.log.Info("booking verified",
		"booking_id", match.BookingID, "appointment_id", appt.ID)
	return &models.BookingResult{Verified: true, AppointmentID: appt.ID}, nil
}
