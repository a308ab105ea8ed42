package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/transfer"
)

// ChargeParams describes the business-side leg of a settlement.
type ChargeParams struct {
	PaymentID     string
	AppointmentID string
	CustomerID    string
	Amount        decimal.Decimal
	Description   string
}

// TransferParams describes the caller-payout leg of a settlement.
type TransferParams struct {
	PaymentID     string
	AppointmentID string
	AccountID     string
	Amount        decimal.Decimal
}

// Processor abstracts the payment provider. The settlement service holds
// an injected Processor rather than reaching for a package singleton, so
// tests substitute a double and a second provider can be slotted in.
type Processor interface {
	// CreateCharge initiates an off-session charge against the business
	// and returns the provider's payment intent ID. Completion arrives
	// later via webhook, never as a return value.
	CreateCharge(ctx context.Context, params ChargeParams) (string, error)

	// CreateTransfer moves a caller payout to their connected account and
	// returns the provider's transfer ID.
	CreateTransfer(ctx context.Context, params TransferParams) (string, error)
}

// StripeProcessor implements Processor against the Stripe API.
type StripeProcessor struct{}

// NewStripeProcessor configures the Stripe client with the secret key and
// returns a processor backed by it.
func NewStripeProcessor(secretKey string) *StripeProcessor {
	stripe.Key = secretKey
	return &StripeProcessor{}
}

func (p *StripeProcessor) CreateCharge(ctx context.Context, params ChargeParams) (string, error) {
	piParams := &stripe.PaymentIntentParams{
		Amount:     stripe.Int64(toCents(params.Amount)),
		Currency:   stripe.String(string(stripe.CurrencyUSD)),
		Customer:   stripe.String(params.CustomerID),
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
		Metadata: map[string]string{
			"payment_id":     params.PaymentID,
			"appointment_id": params.AppointmentID,
		},
	}
	if params.Description != "" {
		piParams.Description = stripe.String(params.Description)
	}
	// One intent per payment row regardless of retries.
	piParams.SetIdempotencyKey("charge-" + params.PaymentID)

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return "", fmt.Errorf("failed to create payment intent: %w", err)
	}
	return pi.ID, nil
}

func (p *StripeProcessor) CreateTransfer(ctx context.Context, params TransferParams) (string, error) {
	trParams := &stripe.TransferParams{
		Amount:      stripe.Int64(toCents(params.Amount)),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Destination: stripe.String(params.AccountID),
		Metadata: map[string]string{
			"payment_id":     params.PaymentID,
			"appointment_id": params.AppointmentID,
		},
	}
	trParams.SetIdempotencyKey("payout-" + params.PaymentID)

	tr, err := transfer.New(trParams)
	if err != nil {
		return "", fmt.Errorf("failed to create transfer: %w", err)
	}
	return tr.ID, nil
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}
