package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"checkin-bot/internal/models"
)

// GormStore is the PostgreSQL Store. Balance changes lock the account row with
// SELECT ... FOR UPDATE, validate the delta, then write SQL increments, all in
// one transaction. The CHECK constraints on models.Account back the guard.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrAlreadyExists
	}
	return err
}

func (s *GormStore) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	var acc models.Account
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&acc).Error; err != nil {
		return nil, translate(err)
	}
	return &acc, nil
}

func (s *GormStore) CreateAccount(ctx context.Context, acc *models.Account) (*models.Account, error) {
	created := *acc
	created.ID = 0
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		return nil, translate(err)
	}
	return &created, nil
}

func (s *GormStore) ApplyDelta(ctx context.Context, userID int64, d Delta) (*models.Account, error) {
	var acc *models.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		acc, err = applyDelta(tx, userID, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func lockAccount(tx *gorm.DB, userID int64) (*models.Account, error) {
	var acc models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&acc).Error
	if err != nil {
		return nil, translate(err)
	}
	return &acc, nil
}

func applyDelta(tx *gorm.DB, userID int64, d Delta) (*models.Account, error) {
	acc, err := lockAccount(tx, userID)
	if err != nil {
		return nil, err
	}
	if err := d.check(acc); err != nil {
		return nil, err
	}
	if d.empty() {
		return acc, nil
	}

	updates := map[string]interface{}{}
	if d.Points != 0 {
		updates["point_balance"] = gorm.Expr("point_balance + ?", d.Points)
	}
	if d.Crypto != 0 {
		updates["crypto_balance"] = gorm.Expr("crypto_balance + ?", int64(d.Crypto))
	}
	if d.Downlines != 0 {
		updates["downline_count"] = gorm.Expr("downline_count + ?", d.Downlines)
	}
	if d.Claim != "" {
		updates[string(d.Claim)] = true
	}

	if err := tx.Model(&models.Account{}).Where("id = ?", acc.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("apply delta to %d: %w", userID, err)
	}
	// The row is locked, so the in-memory result matches what was written.
	d.applyTo(acc)
	return acc, nil
}

func (s *GormStore) SetWallet(ctx context.Context, userID int64, address string) error {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ?", userID).
		Update("wallet_address", address)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SetMembership(ctx context.Context, userID int64, group Group, member bool) error {
	column := group.column()
	if column == "" {
		return fmt.Errorf("unknown group %q", group)
	}
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ?", userID).
		Update(column, member)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ResetDailyFlags(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("daily_bonus_claimed = ?", true).
		Update("daily_bonus_claimed", false)
	return res.RowsAffected, res.Error
}

func appendRecord(tx *gorm.DB, rec *models.TransactionRecord) error {
	var count int64
	if err := tx.Model(&models.TransactionRecord{}).Where("reference = ?", rec.Reference).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateReference
	}
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	if err := tx.Create(rec).Error; err != nil {
		// Lost the race against a concurrent insert of the same reference.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (s *GormStore) AppendTransaction(ctx context.Context, rec *models.TransactionRecord) (uint, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return appendRecord(tx, rec)
	})
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

func (s *GormStore) AppendWithDelta(ctx context.Context, rec *models.TransactionRecord, d Delta) (*models.Account, error) {
	var acc *models.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if acc, err = applyDelta(tx, rec.UserID, d); err != nil {
			return err
		}
		return appendRecord(tx, rec)
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *GormStore) GetTransaction(ctx context.Context, id uint) (*models.TransactionRecord, error) {
	var rec models.TransactionRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

func (s *GormStore) GetTransactionByReference(ctx context.Context, reference string) (*models.TransactionRecord, error) {
	var rec models.TransactionRecord
	if err := s.db.WithContext(ctx).Where("reference = ?", reference).Take(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

func (s *GormStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.TransactionRecord, error) {
	query := s.db.WithContext(ctx).Model(&models.TransactionRecord{})
	if f.Kind != "" {
		query = query.Where("kind = ?", f.Kind)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	out := make([]*models.TransactionRecord, 0)
	err := query.Order("id asc").Limit(listLimit(f.Limit)).Find(&out).Error
	return out, err
}

func (s *GormStore) ResolveTransaction(ctx context.Context, r Resolution) (*models.TransactionRecord, error) {
	var rec models.TransactionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND kind = ?", r.ID, r.Kind).
			Take(&rec).Error; err != nil {
			return translate(err)
		}
		if rec.Status != models.StatusPending {
			return ErrAlreadyResolved
		}
		if r.CreditCrypto {
			if _, err := applyDelta(tx, rec.UserID, Delta{Crypto: rec.Amount}); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		actor := r.ActorID
		if err := tx.Model(&rec).Updates(map[string]interface{}{
			"status":      r.To,
			"resolved_at": now,
			"resolved_by": actor,
		}).Error; err != nil {
			return err
		}
		rec.Status = r.To
		rec.ResolvedAt = &now
		rec.ResolvedBy = &actor
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) RecordReferral(ctx context.Context, ev *models.ReferralEvent) error {
	return translate(s.db.WithContext(ctx).Create(ev).Error)
}

func (s *GormStore) ListReferrals(ctx context.Context, status models.ReferralStatus, limit int) ([]*models.ReferralEvent, error) {
	query := s.db.WithContext(ctx).Model(&models.ReferralEvent{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	out := make([]*models.ReferralEvent, 0)
	err := query.Order("id asc").Limit(listLimit(limit)).Find(&out).Error
	return out, err
}
