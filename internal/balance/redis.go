package balance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"checkin-bot/internal/ledger"
)

// RedisRequestStore keeps requests in hashes that expire after ttl, so
// abandoned confirmations disappear on their own.
type RedisRequestStore struct {
	rdb          *redis.Client
	ttl          time.Duration
	prefix       string
	scriptCreate *redis.Script
	scriptSwitch *redis.Script
}

func NewRedisRequestStore(rdb *redis.Client, ttl time.Duration) *RedisRequestStore {
	return &RedisRequestStore{
		rdb:          rdb,
		ttl:          ttl,
		prefix:       "balance:request:",
		scriptCreate: redis.NewScript(createLua),
		scriptSwitch: redis.NewScript(transitionLua),
	}
}

func (s *RedisRequestStore) key(id string) string {
	return s.prefix + id
}

// Create writes every field and the expiry in one script, so a request is
// never visible half-written or without a TTL.
func (s *RedisRequestStore) Create(ctx context.Context, req *Request) error {
	created, err := s.scriptCreate.Run(ctx, s.rdb, []string{s.key(req.ID)},
		string(req.State),
		req.UserID,
		string(req.Kind),
		req.CreatedAt.UTC().Unix(),
		s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return err
	}
	if created == 0 {
		return ledger.ErrAlreadyExists
	}
	return nil
}

func (s *RedisRequestStore) Get(ctx context.Context, id string) (*Request, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 || fields["state"] == "" {
		return nil, ledger.ErrNotFound
	}
	userID, err := strconv.ParseInt(fields["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("request %s: bad user_id: %w", id, err)
	}
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &Request{
		ID:        id,
		UserID:    userID,
		Kind:      Kind(fields["kind"]),
		State:     State(fields["state"]),
		CreatedAt: time.Unix(created, 0).UTC(),
	}, nil
}

func (s *RedisRequestStore) Transition(ctx context.Context, id string, from, to State) error {
	res, err := s.scriptSwitch.Run(ctx, s.rdb, []string{s.key(id)}, string(from), string(to)).Int64()
	if err != nil {
		return err
	}
	switch res {
	case -1:
		return ledger.ErrNotFound
	case 0:
		return ErrInvalidState
	}
	return nil
}

// Cooldown grants a key at most once per window.
type Cooldown interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisCooldown struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCooldown(rdb *redis.Client) *RedisCooldown {
	return &RedisCooldown{rdb: rdb, prefix: "balance:cooldown:"}
}

func (c *RedisCooldown) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, c.prefix+key, time.Now().UTC().Unix(), window).Result()
}

func (c *RedisCooldown) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}
