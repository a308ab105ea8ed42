package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// WebhookDispatcher verifies provider webhook signatures and routes
// events to the settlement service. Unknown event types are acknowledged
// and dropped so the provider does not retry them forever.
type WebhookDispatcher struct {
	service       *Service
	webhookSecret string
}

// NewWebhookDispatcher creates a dispatcher for provider callbacks.
func NewWebhookDispatcher(service *Service, webhookSecret string) *WebhookDispatcher {
	return &WebhookDispatcher{service: service, webhookSecret: webhookSecret}
}

// ErrBadSignature is returned when signature verification fails; the
// handler maps it to HTTP 400.
var ErrBadSignature = fmt.Errorf("settlement: webhook signature verification failed")

// Dispatch verifies and routes one raw webhook delivery. It returns the
// event type for metrics alongside any processing error.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, payload []byte, signature string) (string, error) {
	event, err := webhook.ConstructEvent(payload, signature, d.webhookSecret)
	if err != nil {
		return "", ErrBadSignature
	}

	eventType := string(event.Type)
	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return eventType, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		return eventType, d.service.HandleChargeSucceeded(ctx, event.ID, pi.ID, pi.Metadata["payment_id"])

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return eventType, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		return eventType, d.service.HandleChargeFailed(ctx, event.ID, pi.ID, pi.Metadata["payment_id"])

	case "account.updated":
		var account stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
			return eventType, fmt.Errorf("failed to decode account: %w", err)
		}
		return eventType, d.service.HandleAccountUpdated(ctx, account.ID, account.ChargesEnabled, account.PayoutsEnabled)

	default:
		d.service.log.Debug("unhandled provider event", "type", eventType)
		return eventType, nil
	}
}
