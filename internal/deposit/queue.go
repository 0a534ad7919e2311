// Package deposit accepts user deposit claims, deduplicates them by
// transaction hash and holds them for manual admin approval.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"checkin-bot/internal/config"
	"checkin-bot/internal/ledger"
	"checkin-bot/internal/metrics"
	"checkin-bot/internal/models"
	"checkin-bot/internal/money"
	"checkin-bot/internal/notify"
)

const proofLabel = "VERIFYTRANSACTION"

var (
	proofPattern     = regexp.MustCompile(`^VERIFYTRANSACTION\nTransaction Hash:\n([a-zA-Z0-9\-_=]{43,})\nAmount:\n(\d+(?:\.\d{1,9})?)$`)
	referencePattern = regexp.MustCompile(`^[a-zA-Z0-9\-_=]{43,}$`)
)

// Proof is a parsed deposit claim.
type Proof struct {
	Reference string
	Amount    money.Amount
}

// ParseProof reads the fixed deposit template. Anything that deviates from it
// is rejected whole.
func ParseProof(text string) (Proof, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	m := proofPattern.FindStringSubmatch(text)
	if m == nil {
		return Proof{}, ledger.ErrInvalidFormat
	}
	amount, err := money.Parse(m[2])
	if err != nil || amount <= 0 {
		return Proof{}, ledger.ErrInvalidFormat
	}
	return Proof{Reference: m[1], Amount: amount}, nil
}

// IsProof reports whether text is meant as a deposit claim.
func IsProof(text string) bool {
	return strings.HasPrefix(text, proofLabel)
}

type Queue struct {
	store    ledger.Store
	notifier notify.Notifier
	admins   config.AdminSet
	log      *logrus.Entry
	metrics  *metrics.Collector
	now      func() time.Time
}

func NewQueue(store ledger.Store, notifier notify.Notifier, admins config.AdminSet, log *logrus.Entry, m *metrics.Collector) *Queue {
	return &Queue{store: store, notifier: notifier, admins: admins, log: log, metrics: m, now: time.Now}
}

// SubmitDeposit records a PENDING deposit claim and notifies the admins. A
// reference that was already submitted, by anyone, returns the existing
// record with ledger.ErrDuplicateReference.
func (q *Queue) SubmitDeposit(ctx context.Context, userID int64, reference string, amount money.Amount) (*models.TransactionRecord, error) {
	if !referencePattern.MatchString(reference) || amount <= 0 {
		return nil, ledger.ErrInvalidFormat
	}

	if existing, err := q.store.GetTransactionByReference(ctx, reference); err == nil {
		return existing, ledger.ErrDuplicateReference
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	acc, err := q.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	rec := &models.TransactionRecord{
		UserID:      userID,
		Reference:   reference,
		Amount:      amount,
		Kind:        models.KindDeposit,
		Status:      models.StatusPending,
		SubmittedAt: q.now().UTC(),
	}
	_, err = q.store.AppendTransaction(ctx, rec)
	q.metrics.RecordOperation("deposit_submit", err)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		existing, gerr := q.store.GetTransactionByReference(ctx, reference)
		if gerr != nil {
			return nil, err
		}
		return existing, err
	}
	if err != nil {
		return nil, fmt.Errorf("append deposit: %w", err)
	}

	entry := q.log.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":   userID,
		"record_id": rec.ID,
		"amount":    amount.String(),
	})
	entry.Info("deposit submitted")

	if err := q.notifier.Notify(ctx, notify.Notification{
		Kind:      models.KindDeposit,
		RecordID:  rec.ID,
		UserID:    userID,
		Username:  acc.Username,
		Reference: reference,
		Amount:    amount,
		At:        rec.SubmittedAt,
	}); err != nil {
		entry.WithError(err).WithField("kind", "ExternalCollaboratorUnavailable").Error("deposit notification failed")
	}
	return rec, nil
}

// ApproveDeposit credits the claimed amount and marks the record APPROVED in
// one store transaction.
func (q *Queue) ApproveDeposit(ctx context.Context, actorID int64, recordID uint) (*models.TransactionRecord, error) {
	return q.resolve(ctx, actorID, recordID, models.StatusApproved)
}

func (q *Queue) RejectDeposit(ctx context.Context, actorID int64, recordID uint) (*models.TransactionRecord, error) {
	return q.resolve(ctx, actorID, recordID, models.StatusRejected)
}

func (q *Queue) resolve(ctx context.Context, actorID int64, recordID uint, to models.TransactionStatus) (*models.TransactionRecord, error) {
	if !q.admins.Contains(actorID) {
		return nil, ledger.ErrForbidden
	}
	rec, err := q.store.ResolveTransaction(ctx, ledger.Resolution{
		ID:           recordID,
		Kind:         models.KindDeposit,
		To:           to,
		ActorID:      actorID,
		CreditCrypto: to == models.StatusApproved,
	})
	q.metrics.RecordOperation("deposit_"+strings.ToLower(string(to)), err)
	if err != nil {
		return nil, fmt.Errorf("resolve deposit %d: %w", recordID, err)
	}
	q.log.WithContext(ctx).WithFields(logrus.Fields{
		"record_id": recordID,
		"actor_id":  actorID,
		"status":    to,
	}).Info("deposit resolved")
	return rec, nil
}

// Pending lists deposit claims awaiting a decision, oldest first.
func (q *Queue) Pending(ctx context.Context, limit int) ([]*models.TransactionRecord, error) {
	return q.store.ListTransactions(ctx, ledger.TransactionFilter{
		Kind:   models.KindDeposit,
		Status: models.StatusPending,
		Limit:  limit,
	})
}
