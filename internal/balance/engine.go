// Package balance runs every value-affecting user action after onboarding:
// bonus claims, conversions between points and crypto, and withdrawals.
//
// Conversions and withdrawals are staged requests. Pacing between stages is
// cosmetic; the balance change commits once, at settlement, as a single
// guarded ledger.Delta that re-checks the preconditions against current state.
package balance

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"checkin-bot/internal/config"
	"checkin-bot/internal/ledger"
	"checkin-bot/internal/metrics"
	"checkin-bot/internal/models"
	"checkin-bot/internal/money"
	"checkin-bot/internal/notify"
)

const (
	DailyBonusPoints  int64 = 15
	CommunityBonusMin int64 = 5
	CommunityBonusMax int64 = 10

	PointsToCryptoCost    int64 = 1000
	PointsToCryptoMinRefs int64 = 5
	CryptoToPointsCredit  int64 = 100
)

var (
	PointsToCryptoCredit = money.Coins(20)
	CryptoHoldingsFloor  = money.Coins(3)
	CryptoToPointsCost   = money.Coins(2)
	WithdrawalMinimum    = money.Coins(20)
)

// WithdrawalTiers are the amounts a user can pick from.
var WithdrawalTiers = []money.Amount{
	money.Coins(10), money.Coins(15), money.Coins(20), money.Coins(25), money.Coins(30),
	money.Coins(35), money.Coins(40), money.Coins(45), money.Coins(50),
}

// Stage is reported to the progress callback of Process.
type Stage int

const (
	StageProcessing Stage = iota + 1
	StageFinalizing
)

type Options struct {
	Pacing            time.Duration
	CommunityCooldown time.Duration
}

type Engine struct {
	store    ledger.Store
	requests RequestStore
	cooldown Cooldown
	notifier notify.Notifier
	admins   config.AdminSet
	opts     Options
	log      *logrus.Entry
	metrics  *metrics.Collector

	now       func() time.Time
	bonusRoll func() int64
}

func NewEngine(
	store ledger.Store,
	requests RequestStore,
	cooldown Cooldown,
	notifier notify.Notifier,
	admins config.AdminSet,
	opts Options,
	log *logrus.Entry,
	m *metrics.Collector,
) *Engine {
	if opts.CommunityCooldown <= 0 {
		opts.CommunityCooldown = time.Hour
	}
	return &Engine{
		store:    store,
		requests: requests,
		cooldown: cooldown,
		notifier: notifier,
		admins:   admins,
		opts:     opts,
		log:      log,
		metrics:  m,
		now:      time.Now,
		bonusRoll: func() int64 {
			return CommunityBonusMin + rand.Int64N(CommunityBonusMax-CommunityBonusMin+1)
		},
	}
}

func (e *Engine) ClaimDailyBonus(ctx context.Context, userID int64) (*models.Account, error) {
	acc, err := e.store.ApplyDelta(ctx, userID, ledger.Delta{
		Points: DailyBonusPoints,
		Claim:  ledger.FlagDailyBonus,
	})
	e.metrics.RecordOperation("daily_bonus", err)
	return acc, err
}

// ClaimCommunityBonus credits a random 5 to 10 points, at most once per
// cooldown window.
func (e *Engine) ClaimCommunityBonus(ctx context.Context, userID int64) (int64, *models.Account, error) {
	key := "community:" + strconv.FormatInt(userID, 10)
	ok, err := e.cooldown.Acquire(ctx, key, e.opts.CommunityCooldown)
	if err != nil {
		return 0, nil, fmt.Errorf("community cooldown: %w", err)
	}
	if !ok {
		return 0, nil, ErrCooldown
	}

	points := e.bonusRoll()
	acc, err := e.store.ApplyDelta(ctx, userID, ledger.Delta{Points: points})
	e.metrics.RecordOperation("community_bonus", err)
	if err != nil {
		if rerr := e.cooldown.Release(ctx, key); rerr != nil {
			e.log.WithContext(ctx).WithError(rerr).WithField("user_id", userID).Warn("failed to release community cooldown")
		}
		return 0, nil, err
	}
	return points, acc, nil
}

// ConvertPointsToCrypto opens a request to trade 1000 points for 20 crypto.
// The account needs 5 downlines and at least 3 crypto already held.
func (e *Engine) ConvertPointsToCrypto(ctx context.Context, userID int64) (*Request, error) {
	acc, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch {
	case acc.PointBalance < PointsToCryptoCost:
		return nil, &ledger.InsufficientError{Floor: ledger.FloorPoints, Have: acc.PointBalance, Need: PointsToCryptoCost}
	case acc.DownlineCount < PointsToCryptoMinRefs:
		return nil, &ledger.InsufficientError{Floor: ledger.FloorDownlines, Have: acc.DownlineCount, Need: PointsToCryptoMinRefs}
	case acc.CryptoBalance < CryptoHoldingsFloor:
		return nil, &ledger.InsufficientError{Floor: ledger.FloorCryptoHoldings, Have: int64(acc.CryptoBalance), Need: int64(CryptoHoldingsFloor)}
	}
	return e.newRequest(ctx, userID, KindPointsToCrypto)
}

// ConvertCryptoToPoints opens a request to trade 2 crypto for 100 points.
func (e *Engine) ConvertCryptoToPoints(ctx context.Context, userID int64) (*Request, error) {
	acc, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acc.CryptoBalance < CryptoToPointsCost {
		return nil, &ledger.InsufficientError{Floor: ledger.FloorCrypto, Have: int64(acc.CryptoBalance), Need: int64(CryptoToPointsCost)}
	}
	return e.newRequest(ctx, userID, KindCryptoToPoints)
}

func (e *Engine) newRequest(ctx context.Context, userID int64, kind Kind) (*Request, error) {
	req := &Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		State:     StateRequested,
		CreatedAt: e.now().UTC(),
	}
	if err := e.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create %s request: %w", kind, err)
	}
	return req, nil
}

// owned loads a request and hides requests of other users.
func (e *Engine) owned(ctx context.Context, userID int64, requestID string) (*Request, error) {
	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, ledger.ErrNotFound
	}
	return req, nil
}

// Lookup returns a request owned by userID.
func (e *Engine) Lookup(ctx context.Context, userID int64, requestID string) (*Request, error) {
	return e.owned(ctx, userID, requestID)
}

func (e *Engine) Confirm(ctx context.Context, userID int64, requestID string) error {
	if _, err := e.owned(ctx, userID, requestID); err != nil {
		return err
	}
	return e.requests.Transition(ctx, requestID, StateRequested, StateConfirming)
}

// Cancel abandons a request that has not settled.
func (e *Engine) Cancel(ctx context.Context, userID int64, requestID string) error {
	if _, err := e.owned(ctx, userID, requestID); err != nil {
		return err
	}
	err := e.requests.Transition(ctx, requestID, StateRequested, StateCancelled)
	if errors.Is(err, ErrInvalidState) {
		err = e.requests.Transition(ctx, requestID, StateConfirming, StateCancelled)
	}
	return err
}

// Settle commits a confirmed conversion. The request is claimed with a
// CONFIRMING to SETTLED compare-and-set before the ledger is touched, so a
// request settles at most once. A failed delta leaves the request CANCELLED.
func (e *Engine) Settle(ctx context.Context, userID int64, requestID string) (*models.Account, error) {
	req, err := e.owned(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}

	var delta ledger.Delta
	switch req.Kind {
	case KindPointsToCrypto:
		delta = ledger.Delta{
			Points: -PointsToCryptoCost,
			Crypto: PointsToCryptoCredit,
			Require: ledger.Floors{
				Points:    PointsToCryptoCost,
				Crypto:    CryptoHoldingsFloor,
				Downlines: PointsToCryptoMinRefs,
			},
		}
	case KindCryptoToPoints:
		delta = ledger.Delta{Crypto: -CryptoToPointsCost, Points: CryptoToPointsCredit}
	default:
		return nil, ErrInvalidState
	}

	if err := e.requests.Transition(ctx, requestID, StateConfirming, StateSettled); err != nil {
		return nil, err
	}

	acc, err := e.store.ApplyDelta(ctx, userID, delta)
	e.metrics.RecordOperation(string(req.Kind), err)
	if err != nil {
		e.abandon(ctx, req.ID, StateSettled)
		if req.Kind == KindPointsToCrypto {
			err = holdingsFloor(err)
		}
		return nil, err
	}

	e.log.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":    userID,
		"request_id": requestID,
		"kind":       req.Kind,
	}).Info("conversion settled")
	return acc, nil
}

// Process runs Confirm, the pacing stages and Settle. progress may be nil.
// Cancelling ctx during pacing cancels the request without touching balances.
func (e *Engine) Process(ctx context.Context, userID int64, requestID string, progress func(Stage)) (*models.Account, error) {
	if err := e.Confirm(ctx, userID, requestID); err != nil {
		return nil, err
	}
	for _, stage := range []Stage{StageProcessing, StageFinalizing} {
		if progress != nil {
			progress(stage)
		}
		if err := sleep(ctx, e.opts.Pacing); err != nil {
			e.abandon(context.WithoutCancel(ctx), requestID, StateConfirming)
			return nil, err
		}
	}
	return e.Settle(ctx, userID, requestID)
}

// abandon marks a request CANCELLED if it is still in state from.
func (e *Engine) abandon(ctx context.Context, requestID string, from State) {
	err := e.requests.Transition(ctx, requestID, from, StateCancelled)
	if err != nil && !errors.Is(err, ErrInvalidState) {
		e.log.WithContext(ctx).WithError(err).WithField("request_id", requestID).Warn("failed to cancel request")
	}
}

// holdingsFloor reports a tripped crypto floor on a points conversion as the
// holdings requirement rather than a shortfall.
func holdingsFloor(err error) error {
	var ie *ledger.InsufficientError
	if errors.As(err, &ie) && ie.Floor == ledger.FloorCrypto {
		return &ledger.InsufficientError{Floor: ledger.FloorCryptoHoldings, Have: ie.Have, Need: ie.Need}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
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
