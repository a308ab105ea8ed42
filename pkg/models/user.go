package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UserRole identifies which side of the marketplace an account belongs to.
type UserRole string

const (
	RoleBusiness UserRole = "BUSINESS"
	RoleCaller   UserRole = "CALLER"
)

// AccountStatus represents the account-level standing of a user.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountPaused    AccountStatus = "PAUSED"
	AccountSuspended AccountStatus = "SUSPENDED"
)

// Tier represents a caller performance tier.
type Tier string

const (
	TierBasic    Tier = "BASIC"
	TierAdvanced Tier = "ADVANCED"
	TierElite    Tier = "ELITE"
)

// Rank orders tiers for promotion/demotion comparisons.
func (t Tier) Rank() int {
	switch t {
	case TierElite:
		return 3
	case TierAdvanced:
		return 2
	default:
		return 1
	}
}

// User is the authentication identity behind a business or caller profile.
type User struct {
	ID           string        `gorm:"primaryKey;size:36" json:"id"`
	Email        string        `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string        `gorm:"size:255;not null" json:"-"`
	Name         string        `gorm:"size:255;not null" json:"name"`
	Role         UserRole      `gorm:"size:20;not null" json:"role"`
	Status       AccountStatus `gorm:"size:20;not null;default:ACTIVE" json:"status"`
	CreatedAt    time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Business owns leads and pays for verified appointments.
type Business struct {
	ID                string          `gorm:"primaryKey;size:36" json:"id"`
	UserID            string          `gorm:"size:36;not null;uniqueIndex" json:"user_id"`
	CompanyName       string          `gorm:"size:255;not null" json:"company_name"`
	Industry          string          `gorm:"size:100" json:"industry"`
	BookingLink       string          `gorm:"size:500" json:"booking_link"`
	StripeCustomerID  *string         `gorm:"size:255;index" json:"stripe_customer_id,omitempty"`
	StripeAccountID   *string         `gorm:"size:255;index" json:"stripe_account_id,omitempty"`
	StripeOnboarded   bool            `gorm:"not null;default:false" json:"stripe_onboarded"`
	TotalSpent        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_spent"`
	TotalAppointments int             `gorm:"not null;default:0" json:"total_appointments"`
	DisputeCount      int             `gorm:"not null;default:0" json:"dispute_count"`
	FalseDisputeCount int             `gorm:"not null;default:0" json:"false_dispute_count"`
	PaymentFailedAt   *time.Time      `json:"payment_failed_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (b *Business) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Caller is an independent appointment setter. The stats block is derived:
// it is recomputed from appointments, assignments, ratings, disputes and
// payments by pkg/tier and must not be incremented anywhere else.
type Caller struct {
	ID                string          `gorm:"primaryKey;size:36" json:"id"`
	UserID            string          `gorm:"size:36;not null;uniqueIndex" json:"user_id"`
	DisplayName       string          `gorm:"size:255;not null" json:"display_name"`
	Tier              Tier            `gorm:"size:20;not null;default:BASIC" json:"tier"`
	StripeAccountID   *string         `gorm:"size:255;index" json:"stripe_account_id,omitempty"`
	StripeOnboarded   bool            `gorm:"not null;default:false" json:"stripe_onboarded"`
	CoolingPeriodEnds time.Time       `gorm:"not null" json:"cooling_period_ends"`
	TotalLeadsWorked  int             `gorm:"not null;default:0" json:"total_leads_worked"`
	TotalAppointments int             `gorm:"not null;default:0" json:"total_appointments"`
	ConversionRate    float64         `gorm:"not null;default:0" json:"conversion_rate"`
	ShowUpRate        float64         `gorm:"not null;default:0" json:"show_up_rate"`
	DisputeRate       float64         `gorm:"not null;default:0" json:"dispute_rate"`
	AvgRating         float64         `gorm:"not null;default:0" json:"avg_rating"`
	TotalEarnings     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_earnings"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (c *Caller) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CoolingPeriodEnds.IsZero() {
		c.CoolingPeriodEnds = time.Now().Add(24 * time.Hour)
	}
	return nil
}

// InCoolingPeriod reports whether the caller's account is still inside the
// 24-hour post-registration window during which bookings are ineligible.
func (c *Caller) InCoolingPeriod(now time.Time) bool {
	return now.Before(c.CoolingPeriodEnds)
}
