package membership

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-bot/internal/account"
	"checkin-bot/internal/ledger"
	"checkin-bot/internal/models"
)

type stubChecker struct {
	mu      sync.Mutex
	members map[string]bool
	err     error
}

func (s *stubChecker) IsMember(ctx context.Context, group string, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.members[group], nil
}

func (s *stubChecker) set(group string, member bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[group] = member
}

var groups = Groups{Community: "@community", Channel: "@channel"}

func setup(t *testing.T) (*Evaluator, *ledger.MemoryStore, *stubChecker, *logtest.Hook) {
	t.Helper()
	store := ledger.NewMemoryStore()
	_, err := store.CreateAccount(context.Background(), &models.Account{UserID: 1})
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	log := logrus.NewEntry(logger)
	checker := &stubChecker{members: map[string]bool{}}
	mgr := account.NewManager(store, 0, log, nil)
	return NewEvaluator(store, checker, mgr, groups, 0, log, nil), store, checker, hook
}

func TestEvaluateCreditsWhenBothJoined(t *testing.T) {
	ctx := context.Background()
	e, _, checker, _ := setup(t)

	checker.set("@community", true)
	out, acc, err := e.Evaluate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Incomplete, out)
	assert.True(t, acc.JoinedCommunity)
	assert.False(t, acc.JoinedChannel)
	assert.Zero(t, acc.PointBalance)

	checker.set("@channel", true)
	out, acc, err = e.Evaluate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Credited, out)
	assert.Equal(t, account.StartupBonusPoints, acc.PointBalance)
}

func TestEvaluateNeverCreditsTwice(t *testing.T) {
	ctx := context.Background()
	e, store, checker, _ := setup(t)
	checker.set("@community", true)
	checker.set("@channel", true)

	out, _, err := e.Evaluate(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, Credited, out)

	// Leave and rejoin: flags follow, the bonus does not repeat.
	checker.set("@channel", false)
	out, acc, err := e.Evaluate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, AlreadyClaimed, out)
	assert.False(t, acc.JoinedChannel)

	checker.set("@channel", true)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := e.Evaluate(ctx, 1)
			assert.NoError(t, err)
			assert.Equal(t, AlreadyClaimed, out)
		}()
	}
	wg.Wait()

	acc, err = store.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, account.StartupBonusPoints, acc.PointBalance)
	assert.True(t, acc.JoinedChannel)
}

func TestEvaluateConcurrentFirstClaim(t *testing.T) {
	ctx := context.Background()
	e, store, checker, _ := setup(t)
	checker.set("@community", true)
	checker.set("@channel", true)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := e.Evaluate(ctx, 1)
			assert.NoError(t, err)
			if out == Credited {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, credited)
	acc, err := store.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, account.StartupBonusPoints, acc.PointBalance)
}

func TestEvaluateCheckerFailureLeavesFlags(t *testing.T) {
	ctx := context.Background()
	e, store, checker, hook := setup(t)
	require.NoError(t, store.SetMembership(ctx, 1, ledger.GroupCommunity, true))

	checker.err = errors.New("telegram: too many requests")
	out, acc, err := e.Evaluate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Incomplete, out)
	assert.True(t, acc.JoinedCommunity)

	var logged int
	for _, entry := range hook.AllEntries() {
		if entry.Data["kind"] == "ExternalCollaboratorUnavailable" {
			logged++
		}
	}
	assert.Equal(t, 2, logged)
}

func TestEvaluateUnknownUser(t *testing.T) {
	e, _, _, _ := setup(t)
	_, _, err := e.Evaluate(context.Background(), 99)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestIsMemberStatus(t *testing.T) {
	for _, s := range []string{"creator", "administrator", "member"} {
		assert.True(t, IsMemberStatus(s), s)
	}
	for _, s := range []string{"left", "kicked", "restricted", ""} {
		assert.False(t, IsMemberStatus(s), s)
	}
}
