package tier

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/closeflow/closeflow/pkg/metrics"
	"github.com/closeflow/closeflow/pkg/models"
	"github.com/closeflow/closeflow/pkg/notifications"
)

// milestone is an appointment-count achievement.
type milestone struct {
	Threshold   int
	Type        string
	Label       string
	Description string
}

var milestones = []milestone{
	{10, "MILESTONE_10", "First 10", "Completed 10 appointments"},
	{50, "MILESTONE_50", "Power Closer", "Completed 50 appointments"},
	{100, "MILESTONE_100", "Century Club", "Completed 100 appointments"},
	{250, "MILESTONE_250", "Elite Performer", "Completed 250 appointments"},
	{500, "MILESTONE_500", "Legend", "Completed 500 appointments"},
}

// Service recomputes caller performance stats and the tier derived from
// them. Stats are always rebuilt from source rows (appointments,
// assignments, disputes, ratings, payments), never incremented in place,
// so a replayed or out-of-order event cannot drift them.
type Service struct {
	db            *gorm.DB
	notifications *notifications.Service
	metrics       *metrics.Metrics
}

// NewService creates a new tier service.
func NewService(db *gorm.DB, notifier *notifications.Service, m *metrics.Metrics) *Service {
	return &Service{db: db, notifications: notifier, metrics: m}
}

// Recalculate rebuilds a caller's derived stats, reapplies the tier
// ladder, and checks milestone achievements. Safe to call after any
// event that touches caller performance.
func (s *Service) Recalculate(ctx context.Context, callerID string) error {
	caller := &models.Caller{}
	if err := s.db.WithContext(ctx).Preload("User").First(caller, "id = ?", callerID).Error; err != nil {
		return fmt.Errorf("failed to fetch caller: %w", err)
	}

	stats, err := s.computeStats(ctx, callerID)
	if err != nil {
		return err
	}

	newTier := models.TierBasic
	for _, rung := range models.TierLadder {
		if rung.Meets(int(stats.leadsWorked), stats.conversionRate, stats.avgRating, stats.disputeRate) {
			newTier = rung.Tier
			break
		}
	}

	updates := map[string]any{
		"total_leads_worked": stats.leadsWorked,
		"total_appointments": stats.appointments,
		"conversion_rate":    stats.conversionRate,
		"show_up_rate":       stats.showUpRate,
		"dispute_rate":       stats.disputeRate,
		"avg_rating":         stats.avgRating,
		"total_earnings":     stats.totalEarnings,
		"tier":               newTier,
	}
	if err := s.db.WithContext(ctx).Model(&models.Caller{}).
		Where("id = ?", callerID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update caller stats: %w", err)
	}

	if newTier != caller.Tier {
		s.metrics.RecordTierChange(newTier.Rank() > caller.Tier.Rank())
		if caller.User != nil {
			if err := s.notifications.NotifyTierChanged(ctx, caller.User.ID, caller.Tier, newTier); err != nil {
				return err
			}
		}
	}

	return s.checkMilestones(ctx, caller, stats.appointments)
}

type callerStats struct {
	leadsWorked    int64
	appointments   int64
	conversionRate float64
	showUpRate     float64
	disputeRate    float64
	avgRating      float64
	totalEarnings  decimal.Decimal
}

func (s *Service) computeStats(ctx context.Context, callerID string) (*callerStats, error) {
	db := s.db.WithContext(ctx)
	stats := &callerStats{totalEarnings: decimal.Zero}

	if err := db.Model(&models.Assignment{}).
		Where("caller_id = ?", callerID).Count(&stats.leadsWorked).Error; err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}

	settled := []string{string(models.AppointmentVerified), string(models.AppointmentCompleted)}
	if err := db.Model(&models.Appointment{}).
		Where("caller_id = ? AND status IN ?", callerID, settled).
		Count(&stats.appointments).Error; err != nil {
		return nil, fmt.Errorf("failed to count appointments: %w", err)
	}

	var totalAppointments, noShows int64
	if err := db.Model(&models.Appointment{}).
		Where("caller_id = ?", callerID).
		Count(&totalAppointments).Error; err != nil {
		return nil, fmt.Errorf("failed to count total appointments: %w", err)
	}
	if err := db.Model(&models.Appointment{}).
		Where("caller_id = ? AND status = ?", callerID, models.AppointmentNoShow).
		Count(&noShows).Error; err != nil {
		return nil, fmt.Errorf("failed to count no-shows: %w", err)
	}

	var validDisputes int64
	if err := db.Model(&models.Dispute{}).
		Where("caller_id = ? AND status = ?", callerID, models.DisputeValid).
		Count(&validDisputes).Error; err != nil {
		return nil, fmt.Errorf("failed to count disputes: %w", err)
	}

	var avgRating *float64
	if err := db.Model(&models.Rating{}).
		Where("caller_id = ?", callerID).
		Select("AVG(score)").Scan(&avgRating).Error; err != nil {
		return nil, fmt.Errorf("failed to average ratings: %w", err)
	}
	if avgRating != nil {
		stats.avgRating = *avgRating
	}

	var earnings *float64
	if err := db.Model(&models.Payment{}).
		Where("caller_id = ? AND status = ?", callerID, models.PaymentCompleted).
		Select("SUM(caller_payout)").Scan(&earnings).Error; err != nil {
		return nil, fmt.Errorf("failed to sum earnings: %w", err)
	}
	if earnings != nil {
		stats.totalEarnings = decimal.NewFromFloat(*earnings)
	}

	if stats.leadsWorked > 0 {
		stats.conversionRate = float64(stats.appointments) / float64(stats.leadsWorked)
	}
	// Show-up rate counts appointments that settled (verified or
	// completed) against settled plus no-shows. Dispute rate is measured
	// against every appointment the caller ever booked, so an appointment
	// moving to DISPUTED cannot shrink its own denominator.
	if stats.appointments+noShows > 0 {
		stats.showUpRate = float64(stats.appointments) / float64(stats.appointments+noShows)
	}
	if totalAppointments > 0 {
		stats.disputeRate = float64(validDisputes) / float64(totalAppointments)
	}

	return stats, nil
}

// checkMilestones inserts any newly crossed milestone achievements. The
// (caller_id, type) unique index plus ON CONFLICT DO NOTHING makes the
// check idempotent across repeated recalculations.
func (s *Service) checkMilestones(ctx context.Context, caller *models.Caller, appointments int64) error {
	for _, m := range milestones {
		if appointments < int64(m.Threshold) {
			continue
		}

		row := &models.Achievement{
			CallerID:    caller.ID,
			Type:        m.Type,
			Label:       m.Label,
			Description: m.Description,
		}
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(row)
		if res.Error != nil {
			return fmt.Errorf("failed to record achievement: %w", res.Error)
		}
		if res.RowsAffected > 0 && caller.User != nil {
			if err := s.notifications.NotifyAchievement(ctx, caller.User.ID, m.Label); err != nil {
				return err
			}
		}
	}
	return nil
}
