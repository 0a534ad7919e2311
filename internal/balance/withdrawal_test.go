package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-bot/internal/ledger"
	"checkin-bot/internal/models"
	"checkin-bot/internal/money"
)

func withdrawalRequest(t *testing.T, f *fixture, userID int64) *Request {
	t.Helper()
	req, err := f.engine.PrepareWithdrawal(context.Background(), userID)
	require.NoError(t, err)
	require.NoError(t, f.engine.Confirm(context.Background(), userID, req.ID))
	return req
}

func TestRequestWithdrawalReservesFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Account{UserID: 1, Username: "alice", CryptoBalance: money.Coins(30), WalletAddress: "EQwallet"})

	req := withdrawalRequest(t, f, 1)
	rec, acc, err := f.engine.RequestWithdrawal(ctx, 1, req.ID, money.Coins(25))
	require.NoError(t, err)

	assert.Equal(t, money.Coins(5), acc.CryptoBalance)
	assert.Equal(t, money.Coins(5), f.account(t, 1).CryptoBalance)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, "EQwallet", rec.Wallet)

	require.Equal(t, 1, f.notifier.count())
	n := f.notifier.sent[0]
	assert.Equal(t, models.KindWithdrawal, n.Kind)
	assert.Equal(t, rec.ID, n.RecordID)
	assert.Equal(t, money.Coins(25), n.Amount)
	assert.Equal(t, "alice", n.Username)

	// The request is spent.
	_, _, err = f.engine.RequestWithdrawal(ctx, 1, req.ID, money.Coins(10))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, f.notifier.count())
}

func TestPrepareWithdrawalPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		models.Account{UserID: 1, CryptoBalance: money.Coins(30)},
		models.Account{UserID: 2, CryptoBalance: money.Coins(19), WalletAddress: "EQw"},
		models.Account{UserID: 3, CryptoBalance: money.Coins(30), WalletAddress: "0"},
	)

	_, err := f.engine.PrepareWithdrawal(ctx, 1)
	assert.ErrorIs(t, err, ErrWalletNotSet)

	_, err = f.engine.PrepareWithdrawal(ctx, 2)
	floor, _ := ledger.FloorOf(err)
	assert.Equal(t, ledger.FloorWithdrawalMinimum, floor)

	_, err = f.engine.PrepareWithdrawal(ctx, 3)
	assert.ErrorIs(t, err, ErrWalletNotSet)
}

func TestRequestWithdrawalAmountChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Account{UserID: 1, CryptoBalance: money.Coins(30), WalletAddress: "EQw"})
	req := withdrawalRequest(t, f, 1)

	_, _, err := f.engine.RequestWithdrawal(ctx, 1, req.ID, money.Coins(12))
	assert.ErrorIs(t, err, ErrInvalidTier)

	_, _, err = f.engine.RequestWithdrawal(ctx, 1, req.ID, money.Coins(35))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	floor, _ := ledger.FloorOf(err)
	assert.Equal(t, ledger.FloorCrypto, floor)

	assert.Equal(t, money.Coins(30), f.account(t, 1).CryptoBalance)
	assert.Zero(t, f.notifier.count())
	list, err := f.store.ListTransactions(ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRequestWithdrawalMinimumRecheckedAtSettlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Account{UserID: 1, CryptoBalance: money.Coins(20), WalletAddress: "EQw"})
	req := withdrawalRequest(t, f, 1)

	_, err := f.store.ApplyDelta(ctx, 1, ledger.Delta{Crypto: -money.Coins(5)})
	require.NoError(t, err)

	_, _, err = f.engine.RequestWithdrawal(ctx, 1, req.ID, money.Coins(10))
	floor, _ := ledger.FloorOf(err)
	assert.Equal(t, ledger.FloorWithdrawalMinimum, floor)
	assert.Equal(t, money.Coins(15), f.account(t, 1).CryptoBalance)
}

func TestRequestWithdrawalNotificationFailureKeepsReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Account{UserID: 1, CryptoBalance: money.Coins(30), WalletAddress: "EQw"})
	f.notifier.err = errors.New("outbox down")
	req := withdrawalRequest(t, f, 1)

	_, acc, err := f.engine.RequestWithdrawal(ctx, 1, req.ID, money.Coins(10))
	require.NoError(t, err)
	assert.Equal(t, money.Coins(20), acc.CryptoBalance)
	assert.Equal(t, "ExternalCollaboratorUnavailable", f.hook.LastEntry().Data["kind"])
}

func TestRejectWithdrawalRestoresFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Account{UserID: 1, CryptoBalance: money.Coins(30), WalletAddress: "EQw"})
	req := withdrawalRequest(t, f, 1)
	rec, _, err := f.engine.RequestWithdrawal(ctx, 1, req.ID, money.Coins(25))
	require.NoError(t, err)

	_, err = f.engine.RejectWithdrawal(ctx, 1, rec.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	resolved, err := f.engine.RejectWithdrawal(ctx, admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, resolved.Status)
	assert.Equal(t, money.Coins(30), f.account(t, 1).CryptoBalance)

	_, err = f.engine.RejectWithdrawal(ctx, admin, rec.ID)
	assert.ErrorIs(t, err, ledger.ErrAlreadyResolved)
	_, err = f.engine.ApproveWithdrawal(ctx, admin, rec.ID)
	assert.ErrorIs(t, err, ledger.ErrAlreadyResolved)
	assert.Equal(t, money.Coins(30), f.account(t, 1).CryptoBalance)
}

func TestApproveWithdrawalKeepsDebit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Account{UserID: 1, CryptoBalance: money.Coins(30), WalletAddress: "EQw"})
	req := withdrawalRequest(t, f, 1)
	rec, _, err := f.engine.RequestWithdrawal(ctx, 1, req.ID, money.Coins(25))
	require.NoError(t, err)

	resolved, err := f.engine.ApproveWithdrawal(ctx, admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, resolved.Status)
	assert.Equal(t, money.Coins(5), f.account(t, 1).CryptoBalance)
}
