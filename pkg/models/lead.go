package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LeadPoolStatus controls whether callers may work a pool's leads.
type LeadPoolStatus string

const (
	PoolActive LeadPoolStatus = "ACTIVE"
	PoolPaused LeadPoolStatus = "PAUSED"
	PoolFrozen LeadPoolStatus = "FROZEN"
)

// LeadStatus tracks a lead through the marketplace lifecycle.
type LeadStatus string

const (
	LeadAvailable LeadStatus = "AVAILABLE"
	LeadAssigned  LeadStatus = "ASSIGNED"
	LeadContacted LeadStatus = "CONTACTED"
	LeadConverted LeadStatus = "CONVERTED"
	LeadExpired   LeadStatus = "EXPIRED"
)

// AssignmentStatus tracks the caller-side work stage for an assigned lead.
type AssignmentStatus string

const (
	AssignmentAssigned      AssignmentStatus = "ASSIGNED"
	AssignmentContacted     AssignmentStatus = "CONTACTED"
	AssignmentFollowUp      AssignmentStatus = "FOLLOW_UP"
	AssignmentNotInterested AssignmentStatus = "NOT_INTERESTED"
	AssignmentClosed        AssignmentStatus = "CLOSED"
)

// ActiveAssignmentStatuses are the stages in which a caller is considered
// to be actively working a lead and may claim credit for a booking.
var ActiveAssignmentStatuses = []AssignmentStatus{
	AssignmentAssigned,
	AssignmentContacted,
	AssignmentFollowUp,
}

// LeadPool groups leads a business has put up for callers to work.
type LeadPool struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	BusinessID   string          `gorm:"size:36;not null;index" json:"business_id"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Description  string          `gorm:"type:text" json:"description,omitempty"`
	PayoutAmount decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"payout_amount"`
	Status       LeadPoolStatus  `gorm:"size:20;not null;default:ACTIVE" json:"status"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Business *Business `gorm:"foreignKey:BusinessID" json:"-"`
}

func (p *LeadPool) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Lead is a prospect a business uploaded for callers to contact. Phone is
// stored in E.164 so webhook identifiers can be matched exactly.
type Lead struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	BusinessID string     `gorm:"size:36;not null;index" json:"business_id"`
	LeadPoolID *string    `gorm:"size:36;index" json:"lead_pool_id,omitempty"`
	Name       string     `gorm:"size:255;not null" json:"name"`
	Email      string     `gorm:"size:255;index" json:"email,omitempty"`
	Phone      string     `gorm:"size:32;index" json:"phone,omitempty"`
	Company    string     `gorm:"size:255" json:"company,omitempty"`
	Status     LeadStatus `gorm:"size:20;not null;default:AVAILABLE" json:"status"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Business *Business `gorm:"foreignKey:BusinessID" json:"-"`
	LeadPool *LeadPool `gorm:"foreignKey:LeadPoolID" json:"-"`
}

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// Assignment binds one caller to one lead. The most recently created
// assignment in an active status is authoritative for booking matching.
type Assignment struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	LeadID    string           `gorm:"size:36;not null;index" json:"lead_id"`
	CallerID  string           `gorm:"size:36;not null;index" json:"caller_id"`
	Status    AssignmentStatus `gorm:"size:20;not null;default:ASSIGNED" json:"status"`
	Notes     string           `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	Lead   *Lead   `gorm:"foreignKey:LeadID" json:"-"`
	Caller *Caller `gorm:"foreignKey:CallerID" json:"-"`
}

func (a *Assignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
