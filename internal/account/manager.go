// Package account creates accounts on first contact and applies the one-off
// rewards tied to them: the referral credit, the startup bonus and the daily
// flag reset.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"checkin-bot/internal/ledger"
	"checkin-bot/internal/metrics"
	"checkin-bot/internal/models"
)

const (
	ReferralPoints     int64 = 100
	StartupBonusPoints int64 = 150

	// referral chains deeper than this are not walked for cycles
	maxReferralDepth = 64

	walletLabel = "SETTONWALLET"
)

type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

type Manager struct {
	store   ledger.Store
	house   int64
	log     *logrus.Entry
	metrics *metrics.Collector
}

func NewManager(store ledger.Store, house int64, log *logrus.Entry, m *metrics.Collector) *Manager {
	return &Manager{store: store, house: house, log: log, metrics: m}
}

// Onboard creates the account for userID. A zero referrerID falls back to the
// house account. When the account already exists it is returned together with
// ledger.ErrAlreadyExists.
//
// The referral credit is two single-account writes on the referrer. If the
// point credit fails after the downline increment committed, the referral is
// recorded as PARTIAL for manual reconciliation and onboarding still succeeds.
func (m *Manager) Onboard(ctx context.Context, userID int64, p Profile, referrerID int64) (*models.Account, error) {
	if existing, err := m.store.GetAccount(ctx, userID); err == nil {
		return existing, ledger.ErrAlreadyExists
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	if referrerID == 0 {
		referrerID = m.house
		if referrerID == userID {
			referrerID = 0
		}
	} else if referrerID == userID {
		return nil, ledger.ErrSelfReferral
	}

	if referrerID != 0 {
		if err := m.checkCycle(ctx, userID, referrerID); err != nil {
			return nil, err
		}
	}

	acc := &models.Account{
		UserID:    userID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}
	if referrerID != 0 {
		ref := referrerID
		acc.ReferrerID = &ref
	}

	created, err := m.store.CreateAccount(ctx, acc)
	if errors.Is(err, ledger.ErrAlreadyExists) {
		// lost a race with a concurrent onboarding of the same user
		existing, gerr := m.store.GetAccount(ctx, userID)
		if gerr != nil {
			return nil, fmt.Errorf("reload account %d: %w", userID, gerr)
		}
		return existing, ledger.ErrAlreadyExists
	}
	m.metrics.RecordOperation("onboard", err)
	if err != nil {
		return nil, fmt.Errorf("create account %d: %w", userID, err)
	}
	m.log.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":     userID,
		"serial":      created.ID,
		"referrer_id": referrerID,
	}).Info("account created")

	if referrerID != 0 {
		m.creditReferrer(ctx, referrerID, userID)
	}
	return created, nil
}

// checkCycle rejects referrerID when userID already appears in its ancestor
// chain. Referrer ids are stored even when the referrer has not joined yet, so
// such a chain can exist before userID has an account.
func (m *Manager) checkCycle(ctx context.Context, userID, referrerID int64) error {
	seen := map[int64]bool{referrerID: true}
	cur := referrerID
	for depth := 0; depth < maxReferralDepth; depth++ {
		acc, err := m.store.GetAccount(ctx, cur)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if acc.ReferrerID == nil {
			return nil
		}
		next := *acc.ReferrerID
		if next == userID {
			return ledger.ErrReferralCycle
		}
		if seen[next] {
			return nil
		}
		seen[next] = true
		cur = next
	}
	return nil
}

func (m *Manager) creditReferrer(ctx context.Context, referrerID, userID int64) {
	entry := m.log.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":     userID,
		"referrer_id": referrerID,
	})

	if _, err := m.store.ApplyDelta(ctx, referrerID, ledger.Delta{Downlines: 1}); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			entry.Info("referrer has no account, referral not credited")
			return
		}
		m.metrics.RecordPartialReferral()
		entry.WithError(err).WithField("kind", "ReferralCreditFailure").Error("referral downline increment failed")
		m.recordReferral(ctx, entry, &models.ReferralEvent{
			ReferrerID:    referrerID,
			InvitedUserID: userID,
			Status:        models.ReferralFailed,
			Error:         truncate(err.Error(), 512),
		})
		return
	}

	if _, err := m.store.ApplyDelta(ctx, referrerID, ledger.Delta{Points: ReferralPoints}); err != nil {
		m.metrics.RecordPartialReferral()
		entry.WithError(err).WithField("kind", "PartialReferralFailure").
			Error("referral point credit failed after downline increment")
		m.recordReferral(ctx, entry, &models.ReferralEvent{
			ReferrerID:    referrerID,
			InvitedUserID: userID,
			Status:        models.ReferralPartial,
			Error:         truncate(fmt.Errorf("%w: %v", ledger.ErrPartialReferralFailure, err).Error(), 512),
		})
		return
	}

	m.recordReferral(ctx, entry, &models.ReferralEvent{
		ReferrerID:    referrerID,
		InvitedUserID: userID,
		Points:        ReferralPoints,
		Status:        models.ReferralCredited,
	})
}

func (m *Manager) recordReferral(ctx context.Context, entry *logrus.Entry, ev *models.ReferralEvent) {
	if err := m.store.RecordReferral(ctx, ev); err != nil {
		entry.WithError(err).WithField("status", ev.Status).Warn("failed to record referral event")
	}
}

// GrantStartupBonus credits the one-time bonus. The claim flag and the credit
// are one write, so a repeat returns ledger.ErrAlreadyClaimed.
func (m *Manager) GrantStartupBonus(ctx context.Context, userID int64) (*models.Account, error) {
	acc, err := m.store.ApplyDelta(ctx, userID, ledger.Delta{
		Points: StartupBonusPoints,
		Claim:  ledger.FlagStartupBonus,
	})
	m.metrics.RecordOperation("startup_bonus", err)
	return acc, err
}

func (m *Manager) ResetDailyFlags(ctx context.Context) (int64, error) {
	n, err := m.store.ResetDailyFlags(ctx)
	m.metrics.RecordOperation("daily_reset", err)
	if err != nil {
		m.log.WithContext(ctx).WithError(err).Error("daily reset failed")
		return 0, err
	}
	m.metrics.RecordDailyReset(n)
	m.log.WithContext(ctx).WithField("accounts", n).Info("daily bonus flags cleared")
	return n, nil
}

func (m *Manager) SetWallet(ctx context.Context, userID int64, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ledger.ErrInvalidFormat
	}
	err := m.store.SetWallet(ctx, userID, address)
	m.metrics.RecordOperation("set_wallet", err)
	return err
}

func (m *Manager) Profile(ctx context.Context, userID int64) (*models.Account, error) {
	return m.store.GetAccount(ctx, userID)
}

// ParseWalletCommand extracts the address from "SETTONWALLET\n<address>".
func ParseWalletCommand(text string) (string, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 2 || strings.TrimSpace(lines[0]) != walletLabel {
		return "", ledger.ErrInvalidFormat
	}
	address := strings.TrimSpace(lines[1])
	if address == "" || strings.ContainsAny(address, " \t") {
		return "", ledger.ErrInvalidFormat
	}
	return address, nil
}

// IsWalletCommand reports whether text is meant as a wallet update.
func IsWalletCommand(text string) bool {
	return strings.HasPrefix(text, walletLabel)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
