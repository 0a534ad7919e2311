package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrAlreadyExists           = errors.New("already exists")
	ErrSelfReferral            = errors.New("self referral")
	ErrReferralCycle           = errors.New("referral cycle")
	ErrDuplicateReference      = errors.New("duplicate reference")
	ErrInvalidFormat           = errors.New("invalid format")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrAlreadyClaimedToday     = errors.New("already claimed today")
	ErrAlreadyClaimed          = errors.New("already claimed")
	ErrPartialReferralFailure  = errors.New("partial referral failure")
	ErrCollaboratorUnavailable = errors.New("external collaborator unavailable")
	ErrForbidden               = errors.New("forbidden")
	ErrAlreadyResolved         = errors.New("transaction already resolved")
)

// Floor names the threshold an InsufficientError tripped over.
type Floor string

const (
	FloorPoints            Floor = "points"
	FloorDownlines         Floor = "downlines"
	FloorCrypto            Floor = "crypto"
	FloorCryptoHoldings    Floor = "crypto_holdings"
	FloorWithdrawalMinimum Floor = "withdrawal_minimum"
)

// InsufficientError is returned when a balance or counter is below the value an
// operation needs. It matches ErrInsufficientBalance with errors.Is.
type InsufficientError struct {
	Floor Floor
	Have  int64
	Need  int64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient %s: have %d, need %d", e.Floor, e.Have, e.Need)
}

func (e *InsufficientError) Unwrap() error {
	return ErrInsufficientBalance
}

// FloorOf extracts the floor from err, if it is an InsufficientError.
func FloorOf(err error) (Floor, bool) {
	var ie *InsufficientError
	if errors.As(err, &ie) {
		return ie.Floor, true
	}
	return "", false
}
