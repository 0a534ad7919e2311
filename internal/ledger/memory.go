package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkin-bot/internal/models"
)

// MemoryStore is a thread-safe in-memory Store. All operations run under one
// mutex, which gives every Store method the same atomicity as a database
// transaction. Returned values are copies.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[int64]*models.Account
	transactions map[uint]*models.TransactionRecord
	references   map[string]uint
	referrals    []*models.ReferralEvent
	nextSerial   uint
	nextTxID     uint
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[int64]*models.Account),
		transactions: make(map[uint]*models.TransactionRecord),
		references:   make(map[string]uint),
		now:          time.Now,
	}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	if a.ReferrerID != nil {
		ref := *a.ReferrerID
		c.ReferrerID = &ref
	}
	return &c
}

func copyRecord(r *models.TransactionRecord) *models.TransactionRecord {
	c := *r
	return &c
}

func (s *MemoryStore) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(acc), nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, acc *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.UserID]; ok {
		return nil, ErrAlreadyExists
	}
	s.nextSerial++
	stored := copyAccount(acc)
	stored.ID = s.nextSerial
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	s.accounts[acc.UserID] = stored
	return copyAccount(stored), nil
}

func (s *MemoryStore) ApplyDelta(ctx context.Context, userID int64, d Delta) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLocked(userID, d)
}

func (s *MemoryStore) applyLocked(userID int64, d Delta) (*models.Account, error) {
	acc, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := d.check(acc); err != nil {
		return nil, err
	}
	if !d.empty() {
		d.applyTo(acc)
		acc.UpdatedAt = s.now()
	}
	return copyAccount(acc), nil
}

func (s *MemoryStore) SetWallet(ctx context.Context, userID int64, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	acc.WalletAddress = address
	acc.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetMembership(ctx context.Context, userID int64, group Group, member bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	switch group {
	case GroupCommunity:
		acc.JoinedCommunity = member
	case GroupChannel:
		acc.JoinedChannel = member
	default:
		return ErrNotFound
	}
	acc.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ResetDailyFlags(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, acc := range s.accounts {
		if acc.DailyBonusClaimed {
			acc.DailyBonusClaimed = false
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendTransaction(ctx context.Context, rec *models.TransactionRecord) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(rec)
}

func (s *MemoryStore) appendLocked(rec *models.TransactionRecord) (uint, error) {
	if _, ok := s.references[rec.Reference]; ok {
		return 0, ErrDuplicateReference
	}
	s.nextTxID++
	rec.ID = s.nextTxID
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = s.now()
	}
	rec.UpdatedAt = s.now()
	s.transactions[rec.ID] = copyRecord(rec)
	s.references[rec.Reference] = rec.ID
	return rec.ID, nil
}

func (s *MemoryStore) AppendWithDelta(ctx context.Context, rec *models.TransactionRecord, d Delta) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.references[rec.Reference]; ok {
		return nil, ErrDuplicateReference
	}
	acc, ok := s.accounts[rec.UserID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := d.check(acc); err != nil {
		return nil, err
	}
	if _, err := s.appendLocked(rec); err != nil {
		return nil, err
	}
	return s.applyLocked(rec.UserID, d)
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id uint) (*models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) GetTransactionByReference(ctx context.Context, reference string) (*models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.references[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(s.transactions[id]), nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.TransactionRecord, 0)
	for _, rec := range s.transactions {
		if f.Kind != "" && rec.Kind != f.Kind {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit := listLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ResolveTransaction(ctx context.Context, r Resolution) (*models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transactions[r.ID]
	if !ok || rec.Kind != r.Kind {
		return nil, ErrNotFound
	}
	if rec.Status != models.StatusPending {
		return nil, ErrAlreadyResolved
	}
	if r.CreditCrypto {
		if _, err := s.applyLocked(rec.UserID, Delta{Crypto: rec.Amount}); err != nil {
			return nil, err
		}
	}
	now := s.now()
	actor := r.ActorID
	rec.Status = r.To
	rec.ResolvedAt = &now
	rec.ResolvedBy = &actor
	rec.UpdatedAt = now
	return copyRecord(rec), nil
}

func (s *MemoryStore) RecordReferral(ctx context.Context, ev *models.ReferralEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.referrals {
		if existing.InvitedUserID == ev.InvitedUserID {
			return ErrAlreadyExists
		}
	}
	ev.ID = uint(len(s.referrals) + 1)
	ev.CreatedAt = s.now()
	c := *ev
	s.referrals = append(s.referrals, &c)
	return nil
}

func (s *MemoryStore) ListReferrals(ctx context.Context, status models.ReferralStatus, limit int) ([]*models.ReferralEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.ReferralEvent, 0)
	for _, ev := range s.referrals {
		if status != "" && ev.Status != status {
			continue
		}
		c := *ev
		out = append(out, &c)
	}
	if limit = listLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
