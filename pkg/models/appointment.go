package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AppointmentStatus is the appointment lifecycle state. Transitions are
// validated by pkg/appointments; writing a status outside its transition
// table is a programming error.
type AppointmentStatus string

const (
	AppointmentPendingVerification AppointmentStatus = "PENDING_VERIFICATION"
	AppointmentVerified            AppointmentStatus = "VERIFIED"
	AppointmentCompleted           AppointmentStatus = "COMPLETED"
	AppointmentRejected            AppointmentStatus = "REJECTED"
	AppointmentNoShow              AppointmentStatus = "NO_SHOW"
	AppointmentDisputed            AppointmentStatus = "DISPUTED"
)

// ActiveAppointmentStatuses are the non-terminal-failure statuses used for
// duplicate detection: an appointment in any of these blocks a second
// booking for the same (lead, business, scheduled time).
var ActiveAppointmentStatuses = []AppointmentStatus{
	AppointmentPendingVerification,
	AppointmentVerified,
	AppointmentCompleted,
}

// PaymentStatus tracks settlement independently of the appointment status:
// the charge and transfer legs complete at different times.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
)

// TerminalPaymentStatuses are the settlement end states. Processor
// callbacks for a payment already in one of these are acknowledged no-ops.
var TerminalPaymentStatuses = []PaymentStatus{PaymentCompleted, PaymentFailed}

// DisputeStatus is the review outcome of a business-initiated dispute.
type DisputeStatus string

const (
	DisputePending DisputeStatus = "PENDING"
	DisputeValid   DisputeStatus = "VALID"
	DisputeInvalid DisputeStatus = "INVALID"
)

// Appointment is the unit of value exchange: a booked meeting between a
// lead and the business, credited to the caller whose assignment matched.
// The (lead, business, scheduled_at) slot is unique at the storage layer so
// two concurrent deliveries of the same booking cannot both insert.
type Appointment struct {
	ID             string            `gorm:"primaryKey;size:36" json:"id"`
	LeadID         string            `gorm:"size:36;not null;index:uniq_appointment_slot,unique" json:"lead_id"`
	BusinessID     string            `gorm:"size:36;not null;index:uniq_appointment_slot,unique" json:"business_id"`
	CallerID       string            `gorm:"size:36;not null;index" json:"caller_id"`
	BookingID      string            `gorm:"size:255;not null;index" json:"booking_id"`
	ScheduledAt    time.Time         `gorm:"not null;index:uniq_appointment_slot,unique" json:"scheduled_at"`
	Status         AppointmentStatus `gorm:"size:30;not null;default:PENDING_VERIFICATION;index" json:"status"`
	CallerTier     Tier              `gorm:"size:20;not null" json:"caller_tier"`
	PayoutAmount   decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"payout_amount"`
	PlatformFee    decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"platform_fee"`
	TotalCharge    decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"total_charge"`
	WebhookPayload string            `gorm:"type:text" json:"-"`
	VerifiedAt     *time.Time        `json:"verified_at,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`

	Lead     *Lead     `gorm:"foreignKey:LeadID" json:"-"`
	Business *Business `gorm:"foreignKey:BusinessID" json:"-"`
	Caller   *Caller   `gorm:"foreignKey:CallerID" json:"-"`
}

func (a *Appointment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Payment is 1:1 with an appointment and owns the money side of the
// lifecycle. Completing it is the only event that may credit caller
// earnings and business spend, exactly once.
type Payment struct {
	ID                    string          `gorm:"primaryKey;size:36" json:"id"`
	AppointmentID         string          `gorm:"size:36;not null;uniqueIndex" json:"appointment_id"`
	BusinessID            string          `gorm:"size:36;not null;index" json:"business_id"`
	CallerID              string          `gorm:"size:36;not null;index" json:"caller_id"`
	Amount                decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PlatformFee           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"platform_fee"`
	CallerPayout          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"caller_payout"`
	Status                PaymentStatus   `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	StripePaymentIntentID *string         `gorm:"size:255;index" json:"stripe_payment_intent_id,omitempty"`
	StripeTransferID      *string         `gorm:"size:255;index" json:"stripe_transfer_id,omitempty"`
	PaidAt                *time.Time      `json:"paid_at,omitempty"`
	FailedAt              *time.Time      `json:"failed_at,omitempty"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Appointment *Appointment `gorm:"foreignKey:AppointmentID" json:"-"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// FraudAlert is append-only evidence. It never mutates appointment state:
// alerts accumulate even for events that are ultimately allowed through.
type FraudAlert struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Type        string    `gorm:"size:50;not null;index" json:"type"`
	Severity    string    `gorm:"size:20;not null" json:"severity"`
	Description string    `gorm:"type:text;not null" json:"description"`
	BusinessID  string    `gorm:"size:36;index" json:"business_id,omitempty"`
	CallerID    string    `gorm:"size:36;index" json:"caller_id,omitempty"`
	Data        string    `gorm:"type:text" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (f *FraudAlert) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Dispute is a business challenge to a verified appointment, at most one
// per appointment.
type Dispute struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id"`
	AppointmentID string        `gorm:"size:36;not null;uniqueIndex" json:"appointment_id"`
	BusinessID    string        `gorm:"size:36;not null;index" json:"business_id"`
	CallerID      string        `gorm:"size:36;not null;index" json:"caller_id"`
	Reason        string        `gorm:"size:255;not null" json:"reason"`
	Description   string        `gorm:"type:text;not null" json:"description"`
	Evidence      string        `gorm:"type:text" json:"evidence,omitempty"`
	Status        DisputeStatus `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d *Dispute) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// Rating is a business score for a verified appointment, one per
// appointment, 1..5.
type Rating struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	AppointmentID string    `gorm:"size:36;not null;uniqueIndex" json:"appointment_id"`
	BusinessID    string    `gorm:"size:36;not null;index" json:"business_id"`
	CallerID      string    `gorm:"size:36;not null;index" json:"caller_id"`
	Score         int       `gorm:"not null" json:"score"`
	Review        string    `gorm:"type:text" json:"review,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (r *Rating) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Achievement is a milestone unlock. The (caller_id, type) unique index
// makes re-checking milestones idempotent.
type Achievement struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	CallerID    string    `gorm:"size:36;not null;index:uniq_achievement,unique" json:"caller_id"`
	Type        string    `gorm:"size:50;not null;index:uniq_achievement,unique" json:"type"`
	Label       string    `gorm:"size:100;not null" json:"label"`
	Description string    `gorm:"size:255" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (a *Achievement) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Notification is a fire-and-forget in-app message. Content rendering and
// delivery guarantees live outside this service.
type Notification struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;not null;index" json:"user_id"`
	Type      string    `gorm:"size:50;not null" json:"type"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Data      string    `gorm:"type:text" json:"-"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
