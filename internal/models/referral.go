package models

import (
	"time"
)

type ReferralStatus string

const (
	ReferralCredited ReferralStatus = "CREDITED"
	// ReferralPartial means the downline count moved but the point credit did not.
	ReferralPartial ReferralStatus = "PARTIAL"
	// ReferralFailed means neither the downline count nor the points moved.
	ReferralFailed ReferralStatus = "FAILED"
)

type ReferralEvent struct {
	ID            uint           `gorm:"primaryKey"`
	ReferrerID    int64          `gorm:"not null;index"`
	InvitedUserID int64          `gorm:"not null;uniqueIndex"`
	Points        int64          `gorm:"not null"`
	Status        ReferralStatus `gorm:"size:16;not null;index"`
	Error         string         `gorm:"size:512"`
	CreatedAt     time.Time
}
