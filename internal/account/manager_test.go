package account

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-bot/internal/ledger"
	"checkin-bot/internal/models"
)

const house int64 = 6217166646

// flakyStore fails ApplyDelta calls matched by failOn.
type flakyStore struct {
	ledger.Store
	failOn func(userID int64, d ledger.Delta) bool
	calls  int
}

func (s *flakyStore) ApplyDelta(ctx context.Context, userID int64, d ledger.Delta) (*models.Account, error) {
	s.calls++
	if s.failOn != nil && s.failOn(userID, d) {
		return nil, errors.New("connection reset")
	}
	return s.Store.ApplyDelta(ctx, userID, d)
}

// slowLookupStore holds the first `hold` lookups of one user until all of
// them have arrived, so concurrent onboardings all see a missing account.
type slowLookupStore struct {
	ledger.Store
	userID  int64
	hold    int
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func (s *slowLookupStore) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	if userID == s.userID {
		s.mu.Lock()
		s.arrived++
		n := s.arrived
		if n == s.hold {
			close(s.release)
		}
		s.mu.Unlock()
		if n <= s.hold {
			<-s.release
		}
	}
	return s.Store.GetAccount(ctx, userID)
}

func newManager(t *testing.T, store ledger.Store) (*Manager, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	return NewManager(store, house, logrus.NewEntry(logger), nil), hook
}

func TestOnboardCreditsReferrer(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	m, _ := newManager(t, store)

	_, err := m.Onboard(ctx, 1, Profile{FirstName: "Ref"}, 0)
	require.NoError(t, err)

	acc, err := m.Onboard(ctx, 2, Profile{Username: "bob"}, 1)
	require.NoError(t, err)
	require.NotNil(t, acc.ReferrerID)
	assert.Equal(t, int64(1), *acc.ReferrerID)
	assert.Zero(t, acc.PointBalance)
	assert.Zero(t, acc.CryptoBalance)

	ref, err := store.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.DownlineCount)
	assert.Equal(t, ReferralPoints, ref.PointBalance)

	events, err := store.ListReferrals(ctx, models.ReferralCredited, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestOnboardDefaultsToHouse(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	m, _ := newManager(t, store)

	houseAcc, err := m.Onboard(ctx, house, Profile{}, 0)
	require.NoError(t, err)
	assert.Nil(t, houseAcc.ReferrerID)

	acc, err := m.Onboard(ctx, 5, Profile{}, 0)
	require.NoError(t, err)
	require.NotNil(t, acc.ReferrerID)
	assert.Equal(t, house, *acc.ReferrerID)

	h, err := store.GetAccount(ctx, house)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.DownlineCount)
}

func TestOnboardRejectsSelfReferralAndCycles(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	m, _ := newManager(t, store)

	_, err := m.Onboard(ctx, 7, Profile{}, 7)
	assert.ErrorIs(t, err, ledger.ErrSelfReferral)

	// 8 joins under 9 before 9 has an account; 9 may not then join under 8.
	_, err = m.Onboard(ctx, 8, Profile{}, 9)
	require.NoError(t, err)
	_, err = m.Onboard(ctx, 9, Profile{}, 8)
	assert.ErrorIs(t, err, ledger.ErrReferralCycle)

	_, err = store.GetAccount(ctx, 9)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestOnboardExistingAccount(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	m, _ := newManager(t, store)

	_, err := m.Onboard(ctx, 1, Profile{}, 0)
	require.NoError(t, err)
	_, err = m.Onboard(ctx, 2, Profile{}, 1)
	require.NoError(t, err)

	acc, err := m.Onboard(ctx, 2, Profile{}, 1)
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)
	require.NotNil(t, acc)

	ref, err := store.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.DownlineCount)
}

func TestOnboardOwnLinkWhenAccountExists(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, ledger.NewMemoryStore())

	_, err := m.Onboard(ctx, 3, Profile{FirstName: "Ada"}, 0)
	require.NoError(t, err)

	acc, err := m.Onboard(ctx, 3, Profile{}, 3)
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)
	require.NotNil(t, acc)
	assert.Equal(t, "Ada", acc.FirstName)
}

func TestOnboardConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemoryStore()
	store := &slowLookupStore{Store: mem, userID: 42, hold: 2, release: make(chan struct{})}
	m, _ := newManager(t, store)

	type result struct {
		acc *models.Account
		err error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acc, err := m.Onboard(ctx, 42, Profile{FirstName: "Ada"}, 0)
			results[i] = result{acc, err}
		}(i)
	}
	wg.Wait()

	var created, existing int
	for _, r := range results {
		require.NotNil(t, r.acc, "err: %v", r.err)
		assert.Equal(t, int64(42), r.acc.UserID)
		switch {
		case r.err == nil:
			created++
		case errors.Is(r.err, ledger.ErrAlreadyExists):
			existing++
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, existing)
}

func TestOnboardDownlineFailureRecorded(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemoryStore()
	store := &flakyStore{Store: mem}
	m, hook := newManager(t, store)

	_, err := m.Onboard(ctx, 1, Profile{}, 0)
	require.NoError(t, err)

	store.failOn = func(userID int64, d ledger.Delta) bool {
		return userID == 1 && d.Downlines == 1
	}
	store.calls = 0

	acc, err := m.Onboard(ctx, 2, Profile{}, 1)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, 1, store.calls, "points are not credited without the downline")

	ref, err := mem.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, ref.DownlineCount)
	assert.Zero(t, ref.PointBalance)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "ReferralCreditFailure", hook.LastEntry().Data["kind"])

	failed, err := mem.ListReferrals(ctx, models.ReferralFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, int64(2), failed[0].InvitedUserID)
	assert.Contains(t, failed[0].Error, "connection reset")
}

func TestOnboardPartialReferralFailure(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemoryStore()
	store := &flakyStore{Store: mem}
	m, hook := newManager(t, store)

	_, err := m.Onboard(ctx, 1, Profile{}, 0)
	require.NoError(t, err)

	store.failOn = func(userID int64, d ledger.Delta) bool {
		return userID == 1 && d.Points == ReferralPoints
	}
	store.calls = 0

	acc, err := m.Onboard(ctx, 2, Profile{}, 1)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, 2, store.calls, "no automatic retry")

	ref, err := mem.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.DownlineCount)
	assert.Zero(t, ref.PointBalance)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["kind"] == "PartialReferralFailure" {
			logged = true
		}
	}
	assert.True(t, logged)

	partial, err := mem.ListReferrals(ctx, models.ReferralPartial, 0)
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.Equal(t, int64(2), partial[0].InvitedUserID)
	assert.Contains(t, partial[0].Error, ledger.ErrPartialReferralFailure.Error())
}

func TestGrantStartupBonusOnce(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	m, _ := newManager(t, store)
	_, err := m.Onboard(ctx, 3, Profile{}, 0)
	require.NoError(t, err)

	acc, err := m.GrantStartupBonus(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, StartupBonusPoints, acc.PointBalance)
	assert.True(t, acc.StartupBonusClaimed)

	_, err = m.GrantStartupBonus(ctx, 3)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)

	acc, err = m.Profile(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, StartupBonusPoints, acc.PointBalance)
}

func TestResetDailyFlags(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	m, _ := newManager(t, store)
	_, err := m.Onboard(ctx, 3, Profile{}, 0)
	require.NoError(t, err)
	_, err = store.ApplyDelta(ctx, 3, ledger.Delta{Points: 15, Claim: ledger.FlagDailyBonus})
	require.NoError(t, err)

	n, err := m.ResetDailyFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	acc, err := m.Profile(ctx, 3)
	require.NoError(t, err)
	assert.False(t, acc.DailyBonusClaimed)
}

func TestParseWalletCommand(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		err  bool
	}{
		{"valid", "SETTONWALLET\nUQB9VUUvNEuX61LCiyRqV5txPUHZnIJMM-bUBOlozU1jTxgR", "UQB9VUUvNEuX61LCiyRqV5txPUHZnIJMM-bUBOlozU1jTxgR", false},
		{"trailing newline", "SETTONWALLET\nEQabc\n", "EQabc", false},
		{"missing address", "SETTONWALLET", "", true},
		{"empty address", "SETTONWALLET\n  ", "", true},
		{"wrong label", "SETWALLET\nEQabc", "", true},
		{"extra line", "SETTONWALLET\nEQabc\nmore", "", true},
		{"space in address", "SETTONWALLET\nEQ abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWalletCommand(tt.text)
			if tt.err {
				assert.ErrorIs(t, err, ledger.ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetWallet(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	m, _ := newManager(t, store)

	assert.ErrorIs(t, m.SetWallet(ctx, 1, "EQabc"), ledger.ErrNotFound)
	_, err := m.Onboard(ctx, 1, Profile{}, 0)
	require.NoError(t, err)
	require.NoError(t, m.SetWallet(ctx, 1, " EQabc "))
	assert.ErrorIs(t, m.SetWallet(ctx, 1, ""), ledger.ErrInvalidFormat)

	acc, err := m.Profile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "EQabc", acc.WalletAddress)
	assert.True(t, acc.HasWallet())
}
