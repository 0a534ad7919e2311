package models

import (
	"time"

	"checkin-bot/internal/money"
)

// Account is one bot user. ID doubles as the serial number assigned at creation.
type Account struct {
	ID                  uint         `gorm:"primaryKey"`
	UserID              int64        `gorm:"uniqueIndex;not null"`
	Username            string       `gorm:"size:255"`
	FirstName           string       `gorm:"size:255"`
	LastName            string       `gorm:"size:255"`
	ReferrerID          *int64       `gorm:"index"`
	DownlineCount       int64        `gorm:"not null;default:0;check:downline_count >= 0"`
	PointBalance        int64        `gorm:"not null;default:0;check:point_balance >= 0"`
	CryptoBalance       money.Amount `gorm:"not null;default:0;check:crypto_balance >= 0"`
	StartupBonusClaimed bool         `gorm:"not null;default:false"`
	DailyBonusClaimed   bool         `gorm:"not null;default:false"`
	JoinedCommunity     bool         `gorm:"not null;default:false"`
	JoinedChannel       bool         `gorm:"not null;default:false"`
	GasFeeVerified      bool         `gorm:"not null;default:false"`
	WalletAddress       string       `gorm:"size:128"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasWallet reports whether a withdrawal destination is set.
func (a *Account) HasWallet() bool {
	return a.WalletAddress != "" && a.WalletAddress != "0"
}
