package balance

import (
	"context"
	"errors"
	"sync"
	"time"

	"checkin-bot/internal/ledger"
)

var (
	ErrInvalidState = errors.New("request is not in the expected state")
	ErrInvalidTier  = errors.New("withdrawal amount is not an offered tier")
	ErrWalletNotSet = errors.New("wallet address not set")
	ErrCooldown     = errors.New("bonus is cooling down")
)

type State string

const (
	StateRequested  State = "REQUESTED"
	StateConfirming State = "CONFIRMING"
	StateSettled    State = "SETTLED"
	StateCancelled  State = "CANCELLED"
)

type Kind string

const (
	KindPointsToCrypto Kind = "points_to_crypto"
	KindCryptoToPoints Kind = "crypto_to_points"
	KindWithdrawal     Kind = "withdrawal"
)

// Request is a staged conversion or withdrawal. Its state only moves through
// RequestStore.Transition.
type Request struct {
	ID        string
	UserID    int64
	Kind      Kind
	State     State
	CreatedAt time.Time
}

type RequestStore interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// Transition moves the request from one state to another atomically. It
	// fails with ErrInvalidState when the current state is not from.
	Transition(ctx context.Context, id string, from, to State) error
}

type memoryEntry struct {
	req     Request
	expires time.Time
}

type MemoryRequestStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	reqs map[string]*memoryEntry
	now  func() time.Time
}

func NewMemoryRequestStore(ttl time.Duration) *MemoryRequestStore {
	return &MemoryRequestStore{ttl: ttl, reqs: make(map[string]*memoryEntry), now: time.Now}
}

func (s *MemoryRequestStore) lookup(id string) (*memoryEntry, bool) {
	e, ok := s.reqs[id]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().After(e.expires) {
		delete(s.reqs, id)
		return nil, false
	}
	return e, true
}

func (s *MemoryRequestStore) Create(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(req.ID); ok {
		return ledger.ErrAlreadyExists
	}
	s.reqs[req.ID] = &memoryEntry{req: *req, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryRequestStore) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return nil, ledger.ErrNotFound
	}
	req := e.req
	return &req, nil
}

func (s *MemoryRequestStore) Transition(ctx context.Context, id string, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return ledger.ErrNotFound
	}
	if e.req.State != from {
		return ErrInvalidState
	}
	e.req.State = to
	return nil
}
