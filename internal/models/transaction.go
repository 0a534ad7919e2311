package models

import (
	"time"

	"checkin-bot/internal/money"
)

type TransactionKind string

const (
	KindDeposit    TransactionKind = "DEPOSIT"
	KindWithdrawal TransactionKind = "WITHDRAWAL"
)

type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusApproved TransactionStatus = "APPROVED"
	StatusRejected TransactionStatus = "REJECTED"
)

// TransactionRecord is a deposit claim or a withdrawal reservation awaiting
// manual settlement. Reference is the dedup key.
type TransactionRecord struct {
	ID          uint              `gorm:"primaryKey"`
	UserID      int64             `gorm:"not null;index"`
	Reference   string            `gorm:"size:128;uniqueIndex;not null"`
	Amount      money.Amount      `gorm:"not null"`
	Kind        TransactionKind   `gorm:"size:32;not null;index"`
	Status      TransactionStatus `gorm:"size:16;not null;default:'PENDING';index"`
	Wallet      string            `gorm:"size:128"`
	SubmittedAt time.Time         `gorm:"not null"`
	ResolvedAt  *time.Time
	ResolvedBy  *int64
	UpdatedAt   time.Time
}
