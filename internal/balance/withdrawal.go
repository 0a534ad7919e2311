package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"checkin-bot/internal/ledger"
	"checkin-bot/internal/models"
	"checkin-bot/internal/money"
	"checkin-bot/internal/notify"
)

func ValidTier(amount money.Amount) bool {
	for _, t := range WithdrawalTiers {
		if t == amount {
			return true
		}
	}
	return false
}

// PrepareWithdrawal checks the wallet and the withdrawal minimum and opens a
// withdrawal request. Confirm moves it to tier selection.
func (e *Engine) PrepareWithdrawal(ctx context.Context, userID int64) (*Request, error) {
	acc, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !acc.HasWallet() {
		return nil, ErrWalletNotSet
	}
	if acc.CryptoBalance < WithdrawalMinimum {
		return nil, &ledger.InsufficientError{
			Floor: ledger.FloorWithdrawalMinimum,
			Have:  int64(acc.CryptoBalance),
			Need:  int64(WithdrawalMinimum),
		}
	}
	return e.newRequest(ctx, userID, KindWithdrawal)
}

// RequestWithdrawal reserves amount for a confirmed withdrawal request. The
// debit and the PENDING record are one store transaction, and the balance
// must still hold max(minimum, amount) when it runs. Exactly one admin
// notification is sent per reservation.
func (e *Engine) RequestWithdrawal(ctx context.Context, userID int64, requestID string, amount money.Amount) (*models.TransactionRecord, *models.Account, error) {
	if !ValidTier(amount) {
		return nil, nil, ErrInvalidTier
	}
	req, err := e.owned(ctx, userID, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.Kind != KindWithdrawal {
		return nil, nil, ErrInvalidState
	}

	acc, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if !acc.HasWallet() {
		return nil, nil, ErrWalletNotSet
	}

	if err := e.requests.Transition(ctx, requestID, StateConfirming, StateSettled); err != nil {
		return nil, nil, err
	}

	need := WithdrawalMinimum
	if amount > need {
		need = amount
	}
	rec := &models.TransactionRecord{
		UserID:      userID,
		Reference:   "wd-" + uuid.NewString(),
		Amount:      amount,
		Kind:        models.KindWithdrawal,
		Status:      models.StatusPending,
		Wallet:      acc.WalletAddress,
		SubmittedAt: e.now().UTC(),
	}
	updated, err := e.store.AppendWithDelta(ctx, rec, ledger.Delta{
		Crypto:  -amount,
		Require: ledger.Floors{Crypto: need},
	})
	e.metrics.RecordOperation("withdrawal_request", err)
	if err != nil {
		e.abandon(ctx, requestID, StateSettled)
		return nil, nil, withdrawalFloor(err)
	}

	entry := e.log.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":   userID,
		"record_id": rec.ID,
		"amount":    amount.String(),
	})
	entry.Info("withdrawal reserved")

	if err := e.notifier.Notify(ctx, notify.Notification{
		Kind:      models.KindWithdrawal,
		RecordID:  rec.ID,
		UserID:    userID,
		Username:  updated.Username,
		Reference: rec.Reference,
		Amount:    amount,
		Wallet:    rec.Wallet,
		At:        rec.SubmittedAt,
	}); err != nil {
		entry.WithError(err).WithField("kind", "ExternalCollaboratorUnavailable").Error("withdrawal notification failed")
	}
	return rec, updated, nil
}

// withdrawalFloor names the minimum when the balance is below it, otherwise
// the shortfall against the requested amount.
func withdrawalFloor(err error) error {
	var ie *ledger.InsufficientError
	if !errors.As(err, &ie) || ie.Floor != ledger.FloorCrypto {
		return err
	}
	if ie.Have < int64(WithdrawalMinimum) {
		return &ledger.InsufficientError{Floor: ledger.FloorWithdrawalMinimum, Have: ie.Have, Need: int64(WithdrawalMinimum)}
	}
	return err
}

func (e *Engine) ApproveWithdrawal(ctx context.Context, actorID int64, recordID uint) (*models.TransactionRecord, error) {
	return e.resolveWithdrawal(ctx, actorID, recordID, models.StatusApproved, false)
}

// RejectWithdrawal returns the reserved amount to the user in the same store
// transaction as the status change.
func (e *Engine) RejectWithdrawal(ctx context.Context, actorID int64, recordID uint) (*models.TransactionRecord, error) {
	return e.resolveWithdrawal(ctx, actorID, recordID, models.StatusRejected, true)
}

func (e *Engine) resolveWithdrawal(ctx context.Context, actorID int64, recordID uint, to models.TransactionStatus, refund bool) (*models.TransactionRecord, error) {
	if !e.admins.Contains(actorID) {
		return nil, ledger.ErrForbidden
	}
	rec, err := e.store.ResolveTransaction(ctx, ledger.Resolution{
		ID:           recordID,
		Kind:         models.KindWithdrawal,
		To:           to,
		ActorID:      actorID,
		CreditCrypto: refund,
	})
	e.metrics.RecordOperation("withdrawal_"+strings.ToLower(string(to)), err)
	if err != nil {
		return nil, fmt.Errorf("resolve withdrawal %d: %w", recordID, err)
	}
	e.log.WithContext(ctx).WithFields(logrus.Fields{
		"record_id": recordID,
		"actor_id":  actorID,
		"status":    to,
	}).Info("withdrawal resolved")
	return rec, nil
}
