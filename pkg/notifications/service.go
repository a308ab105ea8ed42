package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"gorm.io/gorm"

	"github.com/closeflow/closeflow/pkg/models"
)

// Notification types consumed by the frontend inbox.
const (
	TypePaymentFailed  = "PAYMENT_FAILED"
	TypeTierChanged    = "TIER_CHANGED"
	TypeAchievement    = "ACHIEVEMENT_UNLOCKED"
	TypeDisputeOpened  = "DISPUTE_OPENED"
	TypePayoutReleased = "PAYOUT_RELEASED"
)

// Service persists in-app notifications and, where the event warrants it,
// sends an email via SendGrid. Delivery is best effort: notification
// failures never fail the business operation that triggered them.
type Service struct {
	db          *gorm.DB
	fromEmail   string
	fromName    string
	sendGridKey string
	useSendGrid bool
}

// NewService creates a notification service. Without a SendGrid key the
// service runs in console-only mode and logs emails instead of sending.
func NewService(db *gorm.DB, fromEmail, fromName, sendGridAPIKey string) *Service {
	useSendGrid := sendGridAPIKey != ""
	if !useSendGrid {
		log.Printf("notification service in console-only mode (set SENDGRID_API_KEY for production)")
	}

	return &Service{
		db:          db,
		fromEmail:   fromEmail,
		fromName:    fromName,
		sendGridKey: sendGridAPIKey,
		useSendGrid: useSendGrid,
	}
}

// Notify writes an in-app notification row for a user.
func (s *Service) Notify(ctx context.Context, userID, ntype, title, message string, data map[string]any) error {
	var encoded string
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode notification data: %w", err)
		}
		encoded = string(raw)
	}

	row := &models.Notification{
		UserID:  userID,
		Type:    ntype,
		Title:   title,
		Message: message,
		Data:    encoded,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// NotifyPaymentFailed records the failure in-app and emails the business
// owner, since a failed charge pauses the account.
func (s *Service) NotifyPaymentFailed(ctx context.Context, user *models.User, appointmentID string) error {
	err := s.Notify(ctx, user.ID, TypePaymentFailed,
		"Payment failed",
		"A payment for one of your appointments failed. Your account has been paused and your lead pools frozen until billing is resolved.",
		map[string]any{"appointment_id": appointmentID})
	if err != nil {
		return err
	}

	subject := "Action required: payment failed"
	html := fmt.Sprintf(`
		<html>
		<body>
			<h2>Payment Failed</h2>
			<p>Hi %s,</p>
			<p>We were unable to process a payment for one of your appointments.</p>
			<p>Your account has been paused and your lead pools frozen. Please update your payment method to resume activity.</p>
			<p>Thanks,<br>The CloseFlow Team</p>
		</body>
		</html>
	`, user.Name)
	plain := fmt.Sprintf(`
Hi %s,

We were unable to process a payment for one of your appointments.

Your account has been paused and your lead pools frozen. Please update
your payment method to resume activity.

Thanks,
The CloseFlow Team
	`, user.Name)

	return s.sendEmail(user.Email, user.Name, subject, html, plain)
}

// NotifyTierChanged records a tier promotion or demotion for a caller.
func (s *Service) NotifyTierChanged(ctx context.Context, userID string, from, to models.Tier) error {
	title := "Tier updated"
	message := fmt.Sprintf("Your tier changed from %s to %s.", from, to)
	if to.Rank() > from.Rank() {
		title = "Tier promotion"
		message = fmt.Sprintf("Congratulations, you have been promoted from %s to %s.", from, to)
	}
	return s.Notify(ctx, userID, TypeTierChanged, title, message,
		map[string]any{"from": from, "to": to})
}

// NotifyAchievement records a milestone unlock for a caller.
func (s *Service) NotifyAchievement(ctx context.Context, userID, label string) error {
	return s.Notify(ctx, userID, TypeAchievement,
		"Achievement unlocked",
		fmt.Sprintf("You earned the %q achievement.", label),
		map[string]any{"label": label})
}

func (s *Service) sendEmail(toEmail, toName, subject, htmlBody, plainBody string) error {
	if !s.useSendGrid {
		log.Printf("[EMAIL] %s", subject)
		log.Printf("   To: %s <%s>", toName, toEmail)
		log.Printf("   Email NOT sent (development mode)")
		return nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainBody, htmlBody)

	client := sendgrid.NewSendClient(s.sendGridKey)
	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned error status: %d", response.StatusCode)
	}
	return nil
}
