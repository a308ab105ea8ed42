package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/closeflow/closeflow/pkg/appointments"
	"github.com/closeflow/closeflow/pkg/cache"
	"github.com/closeflow/closeflow/pkg/database"
	"github.com/closeflow/closeflow/pkg/fraud"
	"github.com/closeflow/closeflow/pkg/logger"
	"github.com/closeflow/closeflow/pkg/matcher"
	"github.com/closeflow/closeflow/pkg/metrics"
	"github.com/closeflow/closeflow/pkg/models"
	"github.com/closeflow/closeflow/pkg/notifications"
	"github.com/closeflow/closeflow/pkg/settlement"
	"github.com/closeflow/closeflow/pkg/tier"
)

type fakeProcessor struct {
	charges   int
	transfers int
}

func (p *fakeProcessor) CreateCharge(context.Context, settlement.ChargeParams) (string, error) {
	p.charges++
	return fmt.Sprintf("pi_%d", p.charges), nil
}

func (p *fakeProcessor) CreateTransfer(context.Context, settlement.TransferParams) (string, error) {
	p.transfers++
	return fmt.Sprintf("tr_%d", p.transfers), nil
}

type harness struct {
	db     *gorm.DB
	proc   *fakeProcessor
	svc    *Service
	biz    *models.Business
	caller *models.Caller
	lead   *models.Lead
}

func setup(t *testing.T) *harness {
	t.Helper()
	db := database.OpenTest(t)

	mr := miniredis.RunT(t)
	cacheClient := &cache.Client{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})}

	bizUser := &models.User{Email: "owner@acme.test", PasswordHash: "x", Name: "Owner", Role: models.RoleBusiness}
	require.NoError(t, db.Create(bizUser).Error)
	custID := "cus_acme"
	biz := &models.Business{
		UserID:           bizUser.ID,
		CompanyName:      "Acme",
		StripeCustomerID: &custID,
		StripeOnboarded:  true,
	}
	require.NoError(t, db.Create(biz).Error)

	callerUser := &models.User{Email: "caller@dialers.test", PasswordHash: "x", Name: "Caller", Role: models.RoleCaller}
	require.NoError(t, db.Create(callerUser).Error)
	caller := &models.Caller{
		UserID:            callerUser.ID,
		DisplayName:       "Caller",
		Tier:              models.TierElite,
		CoolingPeriodEnds: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(caller).Error)

	lead := &models.Lead{BusinessID: biz.ID, Name: "Prospect", Email: "prospect@corp.test", Status: models.LeadAssigned}
	require.NoError(t, db.Create(lead).Error)
	assignment := &models.Assignment{LeadID: lead.ID, CallerID: caller.ID, Status: models.AssignmentContacted}
	require.NoError(t, db.Create(assignment).Error)

	log := logger.New("error")
	apptSvc := appointments.NewService(db)
	notifier := notifications.NewService(db, "noreply@closeflow.test", "CloseFlow", "")
	m := metrics.NewWith(prometheus.NewRegistry())
	tiers := tier.NewService(db, notifier, m)
	proc := &fakeProcessor{}
	settle := settlement.NewService(db, cacheClient, proc, apptSvc, tiers, notifier, m, log)
	svc := NewService(matcher.NewService(db), fraud.NewService(db), apptSvc, settle, m, log)

	return &harness{db: db, proc: proc, svc: svc, biz: biz, caller: caller, lead: lead}
}

func event(payload models.BookingPayload) models.BookingEvent {
	return models.BookingEvent{EventType: "booking.created", Payload: payload}
}

func payload() models.BookingPayload {
	return models.BookingPayload{
		Email:         "prospect@corp.test",
		EventName:     "Intro call",
		ScheduledTime: time.Now().Add(48 * time.Hour).Format(time.RFC3339),
		Status:        "confirmed",
		BookingID:     "bk_1",
	}
}

func TestProcess_VerifiesAndSettles(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	res, err := h.svc.Process(ctx, event(payload()))
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Empty(t, res.Reason)
	require.NotEmpty(t, res.AppointmentID)

	// The scheduler integration reads the appointment id from the
	// camelCase field.
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"verified":true,"appointmentId":%q}`, res.AppointmentID), string(raw))

	var appt models.Appointment
	require.NoError(t, h.db.First(&appt, "id = ?", res.AppointmentID).Error)
	assert.Equal(t, models.AppointmentVerified, appt.Status)
	assert.NotNil(t, appt.VerifiedAt)
	assert.Equal(t, models.TierElite, appt.CallerTier)
	assert.True(t, appt.TotalCharge.Equal(decimal.NewFromInt(125)))
	assert.True(t, appt.PayoutAmount.Equal(decimal.NewFromInt(100)))
	assert.NotEmpty(t, appt.WebhookPayload)

	var lead models.Lead
	require.NoError(t, h.db.First(&lead, "id = ?", h.lead.ID).Error)
	assert.Equal(t, models.LeadConverted, lead.Status)

	var payment models.Payment
	require.NoError(t, h.db.First(&payment, "appointment_id = ?", appt.ID).Error)
	assert.Equal(t, models.PaymentProcessing, payment.Status)
	assert.Equal(t, 1, h.proc.charges)
}

func TestProcess_UnsupportedEventType(t *testing.T) {
	h := setup(t)

	ev := event(payload())
	ev.EventType = "booking.cancelled"

	res, err := h.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, ReasonUnsupportedEvent, res.Reason)
}

func TestProcess_EventTypeCaseInsensitive(t *testing.T) {
	h := setup(t)

	ev := event(payload())
	ev.EventType = "Booking.Created"

	res, err := h.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestProcess_MatcherRejectionPassesThrough(t *testing.T) {
	h := setup(t)

	p := payload()
	p.Email = "stranger@corp.test"

	res, err := h.svc.Process(context.Background(), event(p))
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, matcher.ReasonNoLead, res.Reason)
}

func TestProcess_CoolingPeriodRejects(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	require.NoError(t, h.db.Model(&models.Caller{}).
		Where("id = ?", h.caller.ID).
		Update("cooling_period_ends", time.Now().Add(12*time.Hour)).Error)

	res, err := h.svc.Process(ctx, event(payload()))
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, ReasonCoolingPeriod, res.Reason)

	// The rejection still leaves evidence behind.
	var n int64
	require.NoError(t, h.db.Model(&models.FraudAlert{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.svc.metrics.FraudAlerts.WithLabelValues("medium")))

	// And no appointment was created.
	require.NoError(t, h.db.Model(&models.Appointment{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestProcess_ToleratesTwoAlerts(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	// Lead email sharing the caller's domain plus a backdated slot is two
	// alerts, within tolerance.
	require.NoError(t, h.db.Model(&models.Lead{}).
		Where("id = ?", h.lead.ID).
		Update("email", "prospect@dialers.test").Error)

	p := payload()
	p.Email = "prospect@dialers.test"
	p.ScheduledTime = time.Now().Add(-time.Hour).Format(time.RFC3339)

	res, err := h.svc.Process(ctx, event(p))
	require.NoError(t, err)
	assert.True(t, res.Verified)

	var n int64
	require.NoError(t, h.db.Model(&models.FraudAlert{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.svc.metrics.FraudAlerts.WithLabelValues("medium")))
}

func TestProcess_RejectsAboveAlertTolerance(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	// A prior active appointment by another caller adds duplicate-lead and
	// multi-caller alerts on top of the email-domain collision.
	otherUser := &models.User{Email: "other@dialers.test", PasswordHash: "x", Name: "Other", Role: models.RoleCaller}
	require.NoError(t, h.db.Create(otherUser).Error)
	other := &models.Caller{UserID: otherUser.ID, DisplayName: "Other", CoolingPeriodEnds: time.Now().Add(-time.Hour)}
	require.NoError(t, h.db.Create(other).Error)
	prior := &models.Appointment{
		LeadID:      h.lead.ID,
		BusinessID:  h.biz.ID,
		CallerID:    other.ID,
		BookingID:   "bk_prior",
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Status:      models.AppointmentVerified,
		CallerTier:  models.TierBasic,
	}
	require.NoError(t, h.db.Create(prior).Error)

	require.NoError(t, h.db.Model(&models.Lead{}).
		Where("id = ?", h.lead.ID).
		Update("email", "prospect@dialers.test").Error)

	p := payload()
	p.Email = "prospect@dialers.test"

	res, err := h.svc.Process(ctx, event(p))
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, ReasonFraudAlerts, res.Reason)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.svc.metrics.FraudAlerts.WithLabelValues("high")))
}

func TestProcess_ChargeFailureStillVerifies(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	// Without payment onboarding the charge is deferred, not failed; the
	// booking must still verify and the payment must wait in PENDING for
	// reconciliation.
	require.NoError(t, h.db.Model(&models.Business{}).
		Where("id = ?", h.biz.ID).Update("stripe_onboarded", false).Error)

	res, err := h.svc.Process(ctx, event(payload()))
	require.NoError(t, err)
	assert.True(t, res.Verified)

	var payment models.Payment
	require.NoError(t, h.db.First(&payment, "appointment_id = ?", res.AppointmentID).Error)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, 0, h.proc.charges)
}

func TestProcess_SecondBookingForSameSlotRejected(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	first, err := h.svc.Process(ctx, event(payload()))
	require.NoError(t, err)
	require.True(t, first.Verified)

	p := payload()
	p.BookingID = "bk_2"

	second, err := h.svc.Process(ctx, event(p))
	require.NoError(t, err)
	assert.False(t, second.Verified)
	assert.Equal(t, matcher.ReasonDuplicate, second.Reason)
}
