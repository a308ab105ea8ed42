package fraud

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/closeflow/closeflow/pkg/database"
	"github.com/closeflow/closeflow/pkg/models"
)

type fixtures struct {
	business *models.Business
	caller   *models.Caller
	lead     *models.Lead
}

func setupFixtures(t *testing.T, db *gorm.DB) *fixtures {
	t.Helper()

	bizUser := &models.User{Email: "owner@acme.test", PasswordHash: "x", Name: "Owner", Role: models.RoleBusiness}
	require.NoError(t, db.Create(bizUser).Error)
	business := &models.Business{UserID: bizUser.ID, CompanyName: "Acme"}
	require.NoError(t, db.Create(business).Error)

	callerUser := &models.User{Email: "caller@dialers.test", PasswordHash: "x", Name: "Caller", Role: models.RoleCaller}
	require.NoError(t, db.Create(callerUser).Error)
	caller := &models.Caller{
		UserID:            callerUser.ID,
		DisplayName:       "Caller",
		CoolingPeriodEnds: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(caller).Error)
	caller.User = callerUser

	lead := &models.Lead{
		BusinessID: business.ID,
		Name:       "Prospect",
		Email:      "prospect@corp.test",
		Status:     models.LeadAssigned,
	}
	require.NoError(t, db.Create(lead).Error)

	return &fixtures{business: business, caller: caller, lead: lead}
}

func (f *fixtures) input() Input {
	return Input{
		Caller:      f.caller,
		Lead:        f.lead,
		BusinessID:  f.business.ID,
		ScheduledAt: time.Now().Add(48 * time.Hour),
	}
}

func alertCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.FraudAlert{}).Count(&n).Error)
	return n
}

func TestEvaluate_CleanBookingPasses(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	res, err := s.Evaluate(context.Background(), f.input())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.False(t, res.Categorical)
	assert.Empty(t, res.Alerts)
	assert.Zero(t, alertCount(t, db))
}

func TestEvaluate_CoolingPeriodIsCategorical(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	f.caller.CoolingPeriodEnds = time.Now().Add(12 * time.Hour)
	in := f.input()
	// Backdated on top of cooling period: the categorical check stops
	// evaluation, so only one alert is recorded.
	in.ScheduledAt = time.Now().Add(-time.Hour)

	res, err := s.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.True(t, res.Categorical)
	assert.Equal(t, []string{AlertCoolingPeriod}, res.Alerts)
	assert.Equal(t, int64(1), alertCount(t, db))
}

func TestEvaluate_DuplicateLeadAndMultiCaller(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	otherUser := &models.User{Email: "other@dialers.test", PasswordHash: "x", Name: "Other", Role: models.RoleCaller}
	require.NoError(t, db.Create(otherUser).Error)
	other := &models.Caller{UserID: otherUser.ID, DisplayName: "Other", CoolingPeriodEnds: time.Now().Add(-time.Hour)}
	require.NoError(t, db.Create(other).Error)

	existing := &models.Appointment{
		LeadID:      f.lead.ID,
		BusinessID:  f.business.ID,
		CallerID:    other.ID,
		BookingID:   "bk_prior",
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Status:      models.AppointmentVerified,
		CallerTier:  models.TierBasic,
	}
	require.NoError(t, db.Create(existing).Error)

	res, err := s.Evaluate(context.Background(), f.input())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Alerts, AlertDuplicateLead)
	assert.Contains(t, res.Alerts, AlertMultiCaller)
}

func TestEvaluate_DuplicateByOwnCallerIsNotMultiCaller(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	existing := &models.Appointment{
		LeadID:      f.lead.ID,
		BusinessID:  f.business.ID,
		CallerID:    f.caller.ID,
		BookingID:   "bk_prior",
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Status:      models.AppointmentPendingVerification,
		CallerTier:  models.TierBasic,
	}
	require.NoError(t, db.Create(existing).Error)

	res, err := s.Evaluate(context.Background(), f.input())
	require.NoError(t, err)
	assert.Contains(t, res.Alerts, AlertDuplicateLead)
	assert.NotContains(t, res.Alerts, AlertMultiCaller)
}

func TestEvaluate_RejectedAppointmentsDoNotCountAsDuplicates(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	existing := &models.Appointment{
		LeadID:      f.lead.ID,
		BusinessID:  f.business.ID,
		CallerID:    f.caller.ID,
		BookingID:   "bk_rejected",
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Status:      models.AppointmentRejected,
		CallerTier:  models.TierBasic,
	}
	require.NoError(t, db.Create(existing).Error)

	res, err := s.Evaluate(context.Background(), f.input())
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestEvaluate_EmailDomainCollision(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	f.lead.Email = "prospect@Dialers.Test"

	res, err := s.Evaluate(context.Background(), f.input())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{AlertEmailDomain}, res.Alerts)
}

func TestEvaluate_Backdated(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	in := f.input()
	in.ScheduledAt = time.Now().Add(-2 * time.Hour)

	res, err := s.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{AlertBackdated}, res.Alerts)
}

func TestEvaluate_Concentration(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)
	ctx := context.Background()

	// 5 settled appointments, all with the same business.
	for i := 0; i < 5; i++ {
		lead := &models.Lead{BusinessID: f.business.ID, Name: fmt.Sprintf("Lead %d", i), Status: models.LeadConverted}
		require.NoError(t, db.Create(lead).Error)
		appt := &models.Appointment{
			LeadID:      lead.ID,
			BusinessID:  f.business.ID,
			CallerID:    f.caller.ID,
			BookingID:   fmt.Sprintf("bk_%d", i),
			ScheduledAt: time.Now().Add(time.Duration(i+1) * time.Hour),
			Status:      models.AppointmentCompleted,
			CallerTier:  models.TierBasic,
		}
		require.NoError(t, db.Create(appt).Error)
	}

	res, err := s.Evaluate(ctx, f.input())
	require.NoError(t, err)
	assert.Contains(t, res.Alerts, AlertConcentration)
}

func TestEvaluate_ConcentrationNeedsSample(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	// 4 settled appointments is below the minimum sample.
	for i := 0; i < 4; i++ {
		lead := &models.Lead{BusinessID: f.business.ID, Name: fmt.Sprintf("Lead %d", i), Status: models.LeadConverted}
		require.NoError(t, db.Create(lead).Error)
		appt := &models.Appointment{
			LeadID:      lead.ID,
			BusinessID:  f.business.ID,
			CallerID:    f.caller.ID,
			BookingID:   fmt.Sprintf("bk_%d", i),
			ScheduledAt: time.Now().Add(time.Duration(i+1) * time.Hour),
			Status:      models.AppointmentVerified,
			CallerTier:  models.TierBasic,
		}
		require.NoError(t, db.Create(appt).Error)
	}

	res, err := s.Evaluate(context.Background(), f.input())
	require.NoError(t, err)
	assert.NotContains(t, res.Alerts, AlertConcentration)
}

func TestEvaluate_BurstActivity(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	otherBizUser := &models.User{Email: "owner2@beta.test", PasswordHash: "x", Name: "Owner2", Role: models.RoleBusiness}
	require.NoError(t, db.Create(otherBizUser).Error)
	otherBiz := &models.Business{UserID: otherBizUser.ID, CompanyName: "Beta"}
	require.NoError(t, db.Create(otherBiz).Error)

	// 10 appointments in the last day, spread over two businesses so the
	// concentration rule stays quiet.
	for i := 0; i < 10; i++ {
		bizID := f.business.ID
		if i%2 == 0 {
			bizID = otherBiz.ID
		}
		lead := &models.Lead{BusinessID: bizID, Name: fmt.Sprintf("Lead %d", i), Status: models.LeadConverted}
		require.NoError(t, db.Create(lead).Error)
		appt := &models.Appointment{
			LeadID:      lead.ID,
			BusinessID:  bizID,
			CallerID:    f.caller.ID,
			BookingID:   fmt.Sprintf("bk_%d", i),
			ScheduledAt: time.Now().Add(time.Duration(i+1) * time.Hour),
			Status:      models.AppointmentRejected,
			CallerTier:  models.TierBasic,
		}
		require.NoError(t, db.Create(appt).Error)
	}

	res, err := s.Evaluate(context.Background(), f.input())
	require.NoError(t, err)
	assert.Contains(t, res.Alerts, AlertBurstActivity)
}

func TestEvaluate_PersistsSeverityHighAboveTwoAlerts(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	otherUser := &models.User{Email: "other@dialers.test", PasswordHash: "x", Name: "Other", Role: models.RoleCaller}
	require.NoError(t, db.Create(otherUser).Error)
	other := &models.Caller{UserID: otherUser.ID, DisplayName: "Other", CoolingPeriodEnds: time.Now().Add(-time.Hour)}
	require.NoError(t, db.Create(other).Error)

	existing := &models.Appointment{
		LeadID:      f.lead.ID,
		BusinessID:  f.business.ID,
		CallerID:    other.ID,
		BookingID:   "bk_prior",
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Status:      models.AppointmentVerified,
		CallerTier:  models.TierBasic,
	}
	require.NoError(t, db.Create(existing).Error)

	// Duplicate + multi-caller + backdated makes three alerts.
	in := f.input()
	in.ScheduledAt = time.Now().Add(-time.Hour)

	res, err := s.Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 3)
	assert.Equal(t, "high", res.Severity)

	var rows []models.FraudAlert
	require.NoError(t, db.Where("caller_id = ?", f.caller.ID).Find(&rows).Error)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, "high", row.Severity)
		assert.Equal(t, "APPOINTMENT_VERIFICATION", row.Type)
		assert.Equal(t, f.business.ID, row.BusinessID)
	}
}

func TestCheckBusinessDisputeRate(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)
	ctx := context.Background()

	// 12 appointments, 3 disputes puts the business over 20%.
	for i := 0; i < 12; i++ {
		lead := &models.Lead{BusinessID: f.business.ID, Name: fmt.Sprintf("Lead %d", i), Status: models.LeadConverted}
		require.NoError(t, db.Create(lead).Error)
		appt := &models.Appointment{
			LeadID:      lead.ID,
			BusinessID:  f.business.ID,
			CallerID:    f.caller.ID,
			BookingID:   fmt.Sprintf("bk_%d", i),
			ScheduledAt: time.Now().Add(time.Duration(i+1) * time.Hour),
			Status:      models.AppointmentVerified,
			CallerTier:  models.TierBasic,
		}
		require.NoError(t, db.Create(appt).Error)
		if i < 3 {
			dispute := &models.Dispute{
				AppointmentID: appt.ID,
				BusinessID:    f.business.ID,
				CallerID:      f.caller.ID,
				Reason:        "no show",
				Description:   "the prospect never answered the call",
			}
			require.NoError(t, db.Create(dispute).Error)
		}
	}

	require.NoError(t, s.CheckBusinessDisputeRate(ctx, f.business.ID))

	var n int64
	require.NoError(t, db.Model(&models.FraudAlert{}).
		Where("type = ? AND business_id = ?", "HIGH_DISPUTE_RATE", f.business.ID).
		Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestCheckBusinessDisputeRate_FalseDisputes(t *testing.T) {
	db := database.OpenTest(t)
	f := setupFixtures(t, db)
	s := NewService(db)

	require.NoError(t, db.Model(&models.Business{}).
		Where("id = ?", f.business.ID).
		Update("false_dispute_count", 3).Error)

	require.NoError(t, s.CheckBusinessDisputeRate(context.Background(), f.business.ID))

	var n int64
	require.NoError(t, db.Model(&models.FraudAlert{}).
		Where("type = ? AND business_id = ?", "FALSE_DISPUTES", f.business.ID).
		Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "corp.test", emailDomain("a@Corp.Test"))
	assert.Equal(t, "", emailDomain("no-at-sign"))
	assert.Equal(t, "", emailDomain("trailing@"))
	assert.False(t, domainsCollide("", "prospect@corp.test"))
	assert.True(t, domainsCollide("a@x.test", "b@X.TEST"))
}
