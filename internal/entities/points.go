package entities

import (
	"time"
)

type PointsChangeType string

const (
	PointsChangeEarn  PointsChangeType = "earn"
	PointsChangeSpend PointsChangeType = "spend"
)

type PointsReason string

const (
	PointsReasonRegisterBonus PointsReason = "register_bonus"
	PointsReasonTrimUse       PointsReason = "trim_use"
	PointsReasonTrimRefund    PointsReason = "trim_refund"
)

type UserPoints struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int       `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PointsLedger is an append-only record of balance changes. BalanceAfter is
// the running balance once Change was applied.
type PointsLedger struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	UserID       uint             `gorm:"index;not null" json:"user_id"`
	Change       int              `json:"change"`
	BalanceAfter int              `json:"balance_after"`
	Type         PointsChangeType `gorm:"size:16" json:"type"`
	Reason       PointsReason     `gorm:"size:32" json:"reason"`
	RefType      string           `gorm:"size:32" json:"ref_type"`
	RefID        string           `gorm:"size:64" json:"ref_id"`
	Extra        string           `gorm:"type:text" json:"extra"`
	CreatedAt    time.Time        `gorm:"index" json:"created_at"`
}

func (PointsLedger) TableName() string {
	return "points_ledger"
}
