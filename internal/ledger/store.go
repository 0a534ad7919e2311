// Package ledger is the single source of truth for account balances and
// transaction records. Every balance change goes through Store.ApplyDelta or a
// Store method that applies a delta inside its own transaction.
package ledger

import (
	"context"
	"fmt"

	"checkin-bot/internal/models"
	"checkin-bot/internal/money"
)

// Flag is a one-shot account flag that a Delta can claim.
type Flag string

const (
	FlagStartupBonus Flag = "startup_bonus_claimed"
	FlagDailyBonus   Flag = "daily_bonus_claimed"
)

// Group is an external community whose membership is mirrored on the account.
type Group string

const (
	GroupCommunity Group = "community"
	GroupChannel   Group = "channel"
)

func (g Group) column() string {
	switch g {
	case GroupCommunity:
		return "joined_community"
	case GroupChannel:
		return "joined_channel"
	}
	return ""
}

// Floors are minimums checked against the balances before the delta is applied.
type Floors struct {
	Points    int64
	Crypto    money.Amount
	Downlines int64
}

// Delta is an atomic change to one account. Resulting balances must stay
// non-negative, Require is checked against the pre-change values, and Claim
// (when set) must be false and becomes true in the same write.
type Delta struct {
	Points    int64
	Crypto    money.Amount
	Downlines int64
	Require   Floors
	Claim     Flag
}

func (d Delta) empty() bool {
	return d.Points == 0 && d.Crypto == 0 && d.Downlines == 0 && d.Claim == ""
}

func (d Delta) check(acc *models.Account) error {
	switch d.Claim {
	case FlagStartupBonus:
		if acc.StartupBonusClaimed {
			return ErrAlreadyClaimed
		}
	case FlagDailyBonus:
		if acc.DailyBonusClaimed {
			return ErrAlreadyClaimedToday
		}
	case "":
	default:
		return fmt.Errorf("unknown flag %q", d.Claim)
	}

	if acc.PointBalance < d.Require.Points {
		return &InsufficientError{Floor: FloorPoints, Have: acc.PointBalance, Need: d.Require.Points}
	}
	if acc.DownlineCount < d.Require.Downlines {
		return &InsufficientError{Floor: FloorDownlines, Have: acc.DownlineCount, Need: d.Require.Downlines}
	}
	if acc.CryptoBalance < d.Require.Crypto {
		return &InsufficientError{Floor: FloorCrypto, Have: int64(acc.CryptoBalance), Need: int64(d.Require.Crypto)}
	}

	if acc.PointBalance+d.Points < 0 {
		return &InsufficientError{Floor: FloorPoints, Have: acc.PointBalance, Need: -d.Points}
	}
	if acc.CryptoBalance+d.Crypto < 0 {
		return &InsufficientError{Floor: FloorCrypto, Have: int64(acc.CryptoBalance), Need: int64(-d.Crypto)}
	}
	if acc.DownlineCount+d.Downlines < 0 {
		return &InsufficientError{Floor: FloorDownlines, Have: acc.DownlineCount, Need: -d.Downlines}
	}
	return nil
}

func (d Delta) applyTo(acc *models.Account) {
	acc.PointBalance += d.Points
	acc.CryptoBalance += d.Crypto
	acc.DownlineCount += d.Downlines
	switch d.Claim {
	case FlagStartupBonus:
		acc.StartupBonusClaimed = true
	case FlagDailyBonus:
		acc.DailyBonusClaimed = true
	}
}

// TransactionFilter narrows ListTransactions. Zero fields match everything.
type TransactionFilter struct {
	Kind   models.TransactionKind
	Status models.TransactionStatus
	Limit  int
}

// Resolution moves a PENDING record to a final status. With CreditCrypto the
// record amount is credited to the owner's crypto balance in the same
// transaction as the status change.
type Resolution struct {
	ID           uint
	Kind         models.TransactionKind
	To           models.TransactionStatus
	ActorID      int64
	CreditCrypto bool
}

type Store interface {
	GetAccount(ctx context.Context, userID int64) (*models.Account, error)
	CreateAccount(ctx context.Context, acc *models.Account) (*models.Account, error)
	ApplyDelta(ctx context.Context, userID int64, d Delta) (*models.Account, error)
	SetWallet(ctx context.Context, userID int64, address string) error
	SetMembership(ctx context.Context, userID int64, group Group, member bool) error
	ResetDailyFlags(ctx context.Context) (int64, error)

	AppendTransaction(ctx context.Context, rec *models.TransactionRecord) (uint, error)
	AppendWithDelta(ctx context.Context, rec *models.TransactionRecord, d Delta) (*models.Account, error)
	GetTransaction(ctx context.Context, id uint) (*models.TransactionRecord, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.TransactionRecord, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.TransactionRecord, error)
	ResolveTransaction(ctx context.Context, r Resolution) (*models.TransactionRecord, error)

	RecordReferral(ctx context.Context, ev *models.ReferralEvent) error
	ListReferrals(ctx context.Context, status models.ReferralStatus, limit int) ([]*models.ReferralEvent, error)
}

const defaultListLimit = 50

func listLimit(n int) int {
	if n <= 0 || n > 500 {
		return defaultListLimit
	}
	return n
}
