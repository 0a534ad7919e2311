package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-bot/internal/models"
	"checkin-bot/internal/money"
)

func seed(t *testing.T, s *MemoryStore, acc models.Account) *models.Account {
	t.Helper()
	created, err := s.CreateAccount(context.Background(), &acc)
	require.NoError(t, err)
	return created
}

func TestCreateAccountAssignsSerial(t *testing.T) {
	s := NewMemoryStore()
	a := seed(t, s, models.Account{UserID: 1})
	b := seed(t, s, models.Account{UserID: 2})
	assert.Equal(t, uint(1), a.ID)
	assert.Equal(t, uint(2), b.ID)

	_, err := s.CreateAccount(context.Background(), &models.Account{UserID: 1})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.GetAccount(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyDeltaRejectsNegative(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, models.Account{UserID: 1, PointBalance: 10, CryptoBalance: money.Coins(1)})

	_, err := s.ApplyDelta(ctx, 1, Delta{Points: -11})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	floor, ok := FloorOf(err)
	require.True(t, ok)
	assert.Equal(t, FloorPoints, floor)

	_, err = s.ApplyDelta(ctx, 1, Delta{Crypto: -money.Coins(2)})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.PointBalance)
	assert.Equal(t, money.Coins(1), acc.CryptoBalance)

	_, err = s.ApplyDelta(ctx, 2, Delta{Points: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyDeltaFloors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, models.Account{UserID: 1, PointBalance: 1000, DownlineCount: 4, CryptoBalance: money.Coins(3)})

	conv := Delta{
		Points:  -1000,
		Crypto:  money.Coins(20),
		Require: Floors{Points: 1000, Crypto: money.Coins(3), Downlines: 5},
	}
	_, err := s.ApplyDelta(ctx, 1, conv)
	floor, _ := FloorOf(err)
	assert.Equal(t, FloorDownlines, floor)

	_, err = s.ApplyDelta(ctx, 1, Delta{Downlines: 1})
	require.NoError(t, err)

	acc, err := s.ApplyDelta(ctx, 1, conv)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.PointBalance)
	assert.Equal(t, money.Coins(23), acc.CryptoBalance)
}

func TestApplyDeltaClaimOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, models.Account{UserID: 1})

	acc, err := s.ApplyDelta(ctx, 1, Delta{Points: 15, Claim: FlagDailyBonus})
	require.NoError(t, err)
	assert.True(t, acc.DailyBonusClaimed)

	_, err = s.ApplyDelta(ctx, 1, Delta{Points: 15, Claim: FlagDailyBonus})
	assert.ErrorIs(t, err, ErrAlreadyClaimedToday)

	n, err := s.ResetDailyFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.ResetDailyFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	acc, err = s.ApplyDelta(ctx, 1, Delta{Points: 15, Claim: FlagDailyBonus})
	require.NoError(t, err)
	assert.Equal(t, int64(30), acc.PointBalance)

	_, err = s.ApplyDelta(ctx, 1, Delta{Points: 150, Claim: FlagStartupBonus})
	require.NoError(t, err)
	_, err = s.ApplyDelta(ctx, 1, Delta{Points: 150, Claim: FlagStartupBonus})
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestConcurrentDebitsNeverGoNegative(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, models.Account{UserID: 1, PointBalance: 100})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyDelta(ctx, 1, Delta{Points: -7})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 14, accepted)
	assert.Equal(t, int64(2), acc.PointBalance)
}

func TestAppendTransactionDuplicateReference(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.AppendTransaction(ctx, &models.TransactionRecord{UserID: 1, Reference: "abc", Kind: models.KindDeposit, Amount: money.Coins(4)})
	require.NoError(t, err)
	assert.Equal(t, uint(1), id)

	_, err = s.AppendTransaction(ctx, &models.TransactionRecord{UserID: 2, Reference: "abc", Kind: models.KindDeposit, Amount: money.Coins(4)})
	assert.ErrorIs(t, err, ErrDuplicateReference)

	list, err := s.ListTransactions(ctx, TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, models.StatusPending, list[0].Status)
}

func TestAppendWithDeltaIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, models.Account{UserID: 1, CryptoBalance: money.Coins(15)})

	rec := &models.TransactionRecord{UserID: 1, Reference: "wd-1", Kind: models.KindWithdrawal, Amount: money.Coins(10)}
	_, err := s.AppendWithDelta(ctx, rec, Delta{Crypto: -money.Coins(10), Require: Floors{Crypto: money.Coins(20)}})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = s.GetTransactionByReference(ctx, "wd-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ApplyDelta(ctx, 1, Delta{Crypto: money.Coins(15)})
	require.NoError(t, err)
	acc, err := s.AppendWithDelta(ctx, rec, Delta{Crypto: -money.Coins(10), Require: Floors{Crypto: money.Coins(20)}})
	require.NoError(t, err)
	assert.Equal(t, money.Coins(20), acc.CryptoBalance)
	assert.NotZero(t, rec.ID)
}

func TestResolveTransactionOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, models.Account{UserID: 1})
	id, err := s.AppendTransaction(ctx, &models.TransactionRecord{UserID: 1, Reference: "ref", Kind: models.KindDeposit, Amount: money.Coins(5)})
	require.NoError(t, err)

	approve := Resolution{ID: id, Kind: models.KindDeposit, To: models.StatusApproved, ActorID: 7, CreditCrypto: true}

	_, err = s.ResolveTransaction(ctx, Resolution{ID: id, Kind: models.KindWithdrawal, To: models.StatusApproved})
	assert.ErrorIs(t, err, ErrNotFound)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ResolveTransaction(ctx, approve)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, ErrAlreadyResolved))
	}
	assert.Equal(t, 1, ok)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.Coins(5), acc.CryptoBalance)

	rec, err := s.GetTransaction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, rec.Status)
	require.NotNil(t, rec.ResolvedBy)
	assert.Equal(t, int64(7), *rec.ResolvedBy)
}

func TestReferralsAreRecordedOncePerInvitee(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.RecordReferral(ctx, &models.ReferralEvent{ReferrerID: 1, InvitedUserID: 2, Points: 100, Status: models.ReferralCredited}))
	require.NoError(t, s.RecordReferral(ctx, &models.ReferralEvent{ReferrerID: 1, InvitedUserID: 3, Status: models.ReferralPartial}))
	assert.ErrorIs(t, s.RecordReferral(ctx, &models.ReferralEvent{ReferrerID: 1, InvitedUserID: 2}), ErrAlreadyExists)

	partial, err := s.ListReferrals(ctx, models.ReferralPartial, 0)
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.Equal(t, int64(3), partial[0].InvitedUserID)
}
