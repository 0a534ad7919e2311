// Package membership mirrors community and channel membership onto the
// account and pays the one-time startup bonus once both are joined.
package membership

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"checkin-bot/internal/ledger"
	"checkin-bot/internal/metrics"
	"checkin-bot/internal/models"
)

type Outcome string

const (
	Credited       Outcome = "CREDITED"
	AlreadyClaimed Outcome = "ALREADY_CLAIMED"
	Incomplete     Outcome = "INCOMPLETE"
)

// Checker answers whether a user belongs to a group.
type Checker interface {
	IsMember(ctx context.Context, group string, userID int64) (bool, error)
}

type BonusGranter interface {
	GrantStartupBonus(ctx context.Context, userID int64) (*models.Account, error)
}

type Groups struct {
	Community string
	Channel   string
}

type Evaluator struct {
	store   ledger.Store
	checker Checker
	bonus   BonusGranter
	groups  Groups
	settle  time.Duration
	log     *logrus.Entry
	metrics *metrics.Collector
}

func NewEvaluator(store ledger.Store, checker Checker, bonus BonusGranter, groups Groups, settle time.Duration, log *logrus.Entry, m *metrics.Collector) *Evaluator {
	return &Evaluator{
		store:   store,
		checker: checker,
		bonus:   bonus,
		groups:  groups,
		settle:  settle,
		log:     log,
		metrics: m,
	}
}

// Evaluate refreshes both membership flags, waits the settle delay and pays
// the startup bonus when both flags are set. Flags follow the current answer
// in both directions, so leaving a group clears its flag. The bonus itself is
// gated by the claim flag and is never paid twice.
func (e *Evaluator) Evaluate(ctx context.Context, userID int64) (Outcome, *models.Account, error) {
	if _, err := e.store.GetAccount(ctx, userID); err != nil {
		return "", nil, err
	}

	e.refresh(ctx, userID, ledger.GroupCommunity, e.groups.Community)
	e.refresh(ctx, userID, ledger.GroupChannel, e.groups.Channel)

	if err := wait(ctx, e.settle); err != nil {
		return "", nil, err
	}

	acc, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if acc.StartupBonusClaimed {
		return AlreadyClaimed, acc, nil
	}
	if !acc.JoinedCommunity || !acc.JoinedChannel {
		return Incomplete, acc, nil
	}

	credited, err := e.bonus.GrantStartupBonus(ctx, userID)
	if errors.Is(err, ledger.ErrAlreadyClaimed) {
		return AlreadyClaimed, acc, nil
	}
	if err != nil {
		return "", nil, err
	}
	e.log.WithContext(ctx).WithField("user_id", userID).Info("startup bonus credited")
	return Credited, credited, nil
}

func (e *Evaluator) refresh(ctx context.Context, userID int64, group ledger.Group, chat string) {
	entry := e.log.WithContext(ctx).WithFields(logrus.Fields{
		"user_id": userID,
		"group":   group,
	})
	member, err := e.checker.IsMember(ctx, chat, userID)
	if err != nil {
		e.metrics.RecordCollaboratorFailure("membership")
		entry.WithError(err).WithField("kind", "ExternalCollaboratorUnavailable").Warn("membership check failed, flag left unchanged")
		return
	}
	if err := e.store.SetMembership(ctx, userID, group, member); err != nil {
		entry.WithError(err).Error("failed to store membership flag")
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
