package settlement

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/closeflow/closeflow/pkg/appointments"
	"github.com/closeflow/closeflow/pkg/cache"
	"github.com/closeflow/closeflow/pkg/logger"
	"github.com/closeflow/closeflow/pkg/metrics"
	"github.com/closeflow/closeflow/pkg/models"
	"github.com/closeflow/closeflow/pkg/notifications"
	"github.com/closeflow/closeflow/pkg/tier"
)

const (
	// eventDedupTTL bounds how long a processed provider event ID is
	// remembered. Stripe retries webhooks for up to three days.
	eventDedupTTL = 72 * time.Hour

	// pendingRetryAge is how old a PENDING payment must be before
	// reconciliation retries the charge.
	pendingRetryAge = time.Hour

	// processingStuckAge is how long a payment may sit PROCESSING before
	// it is flagged for operator review.
	processingStuckAge = 24 * time.Hour
)

// ErrPaymentNotFound is returned when a provider event references a
// payment this system does not know about.
var ErrPaymentNotFound = fmt.Errorf("settlement: payment not found")

// Service orchestrates the two-leg settlement of a verified appointment:
// a charge against the business, then, once the provider confirms the
// charge out of band, a payout transfer to the caller. The charge and the
// payout never happen in one step; the payout waits for the success
// callback.
type Service struct {
	db            *gorm.DB
	cache         *cache.Client
	processor     Processor
	appointments  *appointments.Service
	tiers         *tier.Service
	notifications *notifications.Service
	metrics       *metrics.Metrics
	log           logger.Logger
}

// NewService creates a settlement service around an injected Processor.
func NewService(db *gorm.DB, cacheClient *cache.Client, processor Processor,
	appointmentSvc *appointments.Service, tierSvc *tier.Service,
	notifier *notifications.Service, m *metrics.Metrics, log logger.Logger) *Service {
	return &Service{
		db:            db,
		cache:         cacheClient,
		processor:     processor,
		appointments:  appointmentSvc,
		tiers:         tierSvc,
		notifications: notifier,
		metrics:       m,
		log:           log,
	}
}

// InitiateCharge starts the business-side charge for a pending payment.
// If the business has not finished payment onboarding the payment stays
// PENDING and reconciliation picks it up later; that is a normal state,
// not an error.
func (s *Service) InitiateCharge(ctx context.Context, paymentID string) error {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ?", paymentID).Error; err != nil {
		return fmt.Errorf("failed to fetch payment: %w", err)
	}
	if payment.Status != models.PaymentPending {
		return nil
	}

	var business models.Business
	if err := s.db.WithContext(ctx).First(&business, "id = ?", payment.BusinessID).Error; err != nil {
		return fmt.Errorf("failed to fetch business: %w", err)
	}
	if business.StripeCustomerID == nil || !business.StripeOnboarded {
		s.log.Warn("business not onboarded, charge deferred",
			"payment_id", payment.ID, "business_id", business.ID)
		return nil
	}

	intentID, err := s.processor.CreateCharge(ctx, ChargeParams{
		PaymentID:     payment.ID,
		AppointmentID: payment.AppointmentID,
		CustomerID:    *business.StripeCustomerID,
		Amount:        payment.Amount,
		Description:   "Verified appointment charge",
	})
	if err != nil {
		return fmt.Errorf("failed to initiate charge: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentPending).
		Updates(map[string]any{
			"status":                   models.PaymentProcessing,
			"stripe_payment_intent_id": intentID,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record payment intent: %w", res.Error)
	}

	s.log.Info("charge initiated",
		"payment_id", payment.ID, "payment_intent_id", intentID)
	return nil
}

// HandleChargeSucceeded settles the payment after the provider confirms
// the charge: mark the payment COMPLETED, credit the business counters,
// release the caller payout, and recompute the caller's tier. The event
// ID dedup plus the guarded status transition make the whole path
// idempotent; a replayed event is a no-op.
func (s *Service) HandleChargeSucceeded(ctx context.Context, eventID, paymentIntentID, metadataPaymentID string) error {
	return s.withEventDedup(ctx, eventID, func() error {
		return s.settleCharge(ctx, paymentIntentID, metadataPaymentID)
	})
}

func (s *Service) settleCharge(ctx context.Context, paymentIntentID, metadataPaymentID string) error {
	payment, err := s.findPayment(ctx, paymentIntentID, metadataPaymentID)
	if err != nil {
		return err
	}

	now := time.Now()
	settled := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status IN ?", payment.ID,
				[]string{string(models.PaymentPending), string(models.PaymentProcessing)}).
			Updates(map[string]any{
				"status":  models.PaymentCompleted,
				"paid_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to complete payment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Already settled or failed; nothing else to do.
			return nil
		}
		settled = true

		// Counters move exactly once, inside the same transaction as the
		// guarded status change.
		res = tx.Model(&models.Business{}).
			Where("id = ?", payment.BusinessID).
			Updates(map[string]any{
				"total_spent":        gorm.Expr("total_spent + ?", payment.Amount),
				"total_appointments": gorm.Expr("total_appointments + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update business counters: %w", res.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !settled {
		return nil
	}
	s.metrics.RecordSettlement("completed")

	if err := s.appointments.EnsureVerified(ctx, payment.AppointmentID); err != nil {
		return err
	}

	if err := s.releasePayout(ctx, payment); err != nil {
		return err
	}

	return s.tiers.Recalculate(ctx, payment.CallerID)
}

// HandleChargeFailed reacts to a failed charge: the payment goes to
// FAILED, the business account is paused and its lead pools frozen, and
// the owner is notified. The appointment itself is left alone; the work
// was real even though the money did not move.
func (s *Service) HandleChargeFailed(ctx context.Context, eventID, paymentIntentID, metadataPaymentID string) error {
	return s.withEventDedup(ctx, eventID, func() error {
		return s.failCharge(ctx, paymentIntentID, metadataPaymentID)
	})
}

func (s *Service) failCharge(ctx context.Context, paymentIntentID, metadataPaymentID string) error {
	payment, err := s.findPayment(ctx, paymentIntentID, metadataPaymentID)
	if err != nil {
		return err
	}

	now := time.Now()
	failed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status IN ?", payment.ID,
				[]string{string(models.PaymentPending), string(models.PaymentProcessing)}).
			Updates(map[string]any{
				"status":    models.PaymentFailed,
				"failed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark payment failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		failed = true

		if err := tx.Model(&models.Business{}).
			Where("id = ?", payment.BusinessID).
			Update("payment_failed_at", now).Error; err != nil {
			return fmt.Errorf("failed to flag business: %w", err)
		}

		var business models.Business
		if err := tx.First(&business, "id = ?", payment.BusinessID).Error; err != nil {
			return fmt.Errorf("failed to fetch business: %w", err)
		}
		if err := tx.Model(&models.User{}).
			Where("id = ?", business.UserID).
			Update("status", models.AccountPaused).Error; err != nil {
			return fmt.Errorf("failed to pause business account: %w", err)
		}
		if err := tx.Model(&models.LeadPool{}).
			Where("business_id = ?", payment.BusinessID).
			Update("status", models.PoolFrozen).Error; err != nil {
			return fmt.Errorf("failed to freeze lead pools: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}
	s.metrics.RecordSettlement("failed")

	s.log.Warn("charge failed, business paused",
		"payment_id", payment.ID, "business_id", payment.BusinessID)

	var business models.Business
	if err := s.db.WithContext(ctx).Preload("User").First(&business, "id = ?", payment.BusinessID).Error; err != nil {
		return fmt.Errorf("failed to fetch business: %w", err)
	}
	if business.User != nil {
		if err := s.notifications.NotifyPaymentFailed(ctx, business.User, payment.AppointmentID); err != nil {
			// Notification failure must not fail webhook processing.
			s.log.Error("failed to notify business of payment failure",
				"business_id", business.ID, "error", err)
		}
	}
	return nil
}

// HandleAccountUpdated syncs payment-provider onboarding state onto
// whichever profile owns the connected account.
func (s *Service) HandleAccountUpdated(ctx context.Context, accountID string, chargesEnabled, payoutsEnabled bool) error {
	onboarded := chargesEnabled && payoutsEnabled

	if err := s.db.WithContext(ctx).Model(&models.Business{}).
		Where("stripe_account_id = ?", accountID).
		Update("stripe_onboarded", onboarded).Error; err != nil {
		return fmt.Errorf("failed to sync business onboarding: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Caller{}).
		Where("stripe_account_id = ?", accountID).
		Update("stripe_onboarded", onboarded).Error; err != nil {
		return fmt.Errorf("failed to sync caller onboarding: %w", err)
	}
	return nil
}

// ReconcilePending retries charges for payments stuck PENDING (typically
// created while the business was mid-onboarding) and flags payments stuck
// PROCESSING for operator review. Run from cron.
func (s *Service) ReconcilePending(ctx context.Context) error {
	now := time.Now()

	var pending []models.Payment
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentPending, now.Add(-pendingRetryAge)).
		Find(&pending).Error; err != nil {
		return fmt.Errorf("failed to list pending payments: %w", err)
	}
	for i := range pending {
		if err := s.InitiateCharge(ctx, pending[i].ID); err != nil {
			s.log.Error("reconciliation charge failed",
				"payment_id", pending[i].ID, "error", err)
		}
	}

	var stuck []models.Payment
	if err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.PaymentProcessing, now.Add(-processingStuckAge)).
		Find(&stuck).Error; err != nil {
		return fmt.Errorf("failed to list processing payments: %w", err)
	}
	for i := range stuck {
		s.log.Warn("payment stuck in processing, needs operator review",
			"payment_id", stuck[i].ID, "payment_intent_id", deref(stuck[i].StripePaymentIntentID))
	}
	return nil
}

// releasePayout runs the second settlement leg. A caller who has not
// finished payout onboarding keeps the earnings recorded on the payment
// row; the transfer is skipped, not lost, and can be replayed by support
// tooling once onboarding completes.
func (s *Service) releasePayout(ctx context.Context, payment *models.Payment) error {
	var caller models.Caller
	if err := s.db.WithContext(ctx).First(&caller, "id = ?", payment.CallerID).Error; err != nil {
		return fmt.Errorf("failed to fetch caller: %w", err)
	}
	if caller.StripeAccountID == nil || !caller.StripeOnboarded {
		s.log.Warn("caller not onboarded, payout deferred",
			"payment_id", payment.ID, "caller_id", caller.ID)
		return nil
	}

	transferID, err := s.processor.CreateTransfer(ctx, TransferParams{
		PaymentID:     payment.ID,
		AppointmentID: payment.AppointmentID,
		AccountID:     *caller.StripeAccountID,
		Amount:        payment.CallerPayout,
	})
	if err != nil {
		return fmt.Errorf("failed to create payout transfer: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("stripe_transfer_id", transferID).Error; err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}

	s.log.Info("payout released",
		"payment_id", payment.ID, "transfer_id", transferID)
	return nil
}

// withEventDedup claims a provider event ID in Redis before running fn.
// A duplicate delivery is a no-op. If fn fails the claim is released so
// the provider's retry gets another attempt.
func (s *Service) withEventDedup(ctx context.Context, eventID string, fn func() error) error {
	key := "stripe:event:" + eventID
	fresh, err := s.cache.SetNX(ctx, key, "1", eventDedupTTL)
	if err != nil {
		return fmt.Errorf("failed to dedup provider event: %w", err)
	}
	if !fresh {
		s.log.Info("duplicate provider event ignored", "event_id", eventID)
		return nil
	}

	if err := fn(); err != nil {
		if delErr := s.cache.Delete(ctx, key); delErr != nil {
			s.log.Error("failed to release event dedup key",
				"event_id", eventID, "error", delErr)
		}
		return err
	}
	return nil
}

// findPayment resolves a provider event to a payment row, first by the
// recorded intent ID, then by the payment ID carried in event metadata
// (covers charges initiated before the intent ID was persisted).
func (s *Service) findPayment(ctx context.Context, paymentIntentID, metadataPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	if paymentIntentID != "" {
		err := s.db.WithContext(ctx).First(&payment, "stripe_payment_intent_id = ?", paymentIntentID).Error
		if err == nil {
			return &payment, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to fetch payment: %w", err)
		}
	}
	if metadataPaymentID != "" {
		err := s.db.WithContext(ctx).First(&payment, "id = ?", metadataPaymentID).Error
		if err == nil {
			return &payment, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to fetch payment: %w", err)
		}
	}
	return nil, ErrPaymentNotFound
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
