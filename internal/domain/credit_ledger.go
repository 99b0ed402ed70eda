package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	CreditReasonSettlement = "settlement"
	CreditReasonTopUp      = "topup"
)

// CreditLedger is an append-only record of every balance mutation.
// ExternalRef carries the checkout session id for top-ups and the pipeline
// id for settlements; its uniqueness makes both paths idempotent.
type CreditLedger struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	PipelineID *uuid.UUID `gorm:"type:uuid;index" json:"pipeline_id,omitempty"`

	Delta      int    `gorm:"column:delta;not null" json:"delta"`
	OldBalance int    `gorm:"column:old_balance;not null" json:"old_balance"`
	NewBalance int    `gorm:"column:new_balance;not null" json:"new_balance"`
	Reason     string `gorm:"column:reason;not null;index" json:"reason"`

	ExternalRef string `gorm:"column:external_ref;uniqueIndex" json:"external_ref"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (CreditLedger) TableName() string { return "credit_ledger" }
