package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Envelope is one undelivered message.
type Envelope struct {
	ChatID   int64  `json:"chat_id"`
	Text     string `json:"text"`
	Attempts int    `json:"attempts"`
}

// Outbox is a FIFO of undelivered messages. Messages that keep failing are
// moved to a dead-letter list and no longer retried.
type Outbox interface {
	Push(ctx context.Context, env Envelope) error
	Pop(ctx context.Context) (Envelope, bool, error)
	DeadLetter(ctx context.Context, env Envelope) error
	Len(ctx context.Context) (int64, error)
}

const defaultOutboxKey = "notify:outbox"

// RedisOutbox keeps the queue in a redis list: LPUSH on enqueue, RPOP on
// dequeue. Dead letters go to a second list under key + ":dead".
type RedisOutbox struct {
	rdb *redis.Client
	key string
}

func NewRedisOutbox(rdb *redis.Client, key string) *RedisOutbox {
	if key == "" {
		key = defaultOutboxKey
	}
	return &RedisOutbox{rdb: rdb, key: key}
}

func (o *RedisOutbox) push(ctx context.Context, key string, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return o.rdb.LPush(ctx, key, raw).Err()
}

func (o *RedisOutbox) Push(ctx context.Context, env Envelope) error {
	return o.push(ctx, o.key, env)
}

func (o *RedisOutbox) Pop(ctx context.Context) (Envelope, bool, error) {
	raw, err := o.rdb.RPop(ctx, o.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}

func (o *RedisOutbox) DeadLetter(ctx context.Context, env Envelope) error {
	return o.push(ctx, o.key+":dead", env)
}

func (o *RedisOutbox) Len(ctx context.Context) (int64, error) {
	return o.rdb.LLen(ctx, o.key).Result()
}

type MemoryOutbox struct {
	mu    sync.Mutex
	queue []Envelope
	dead  []Envelope
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

func (o *MemoryOutbox) Push(ctx context.Context, env Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append(o.queue, env)
	return nil
}

func (o *MemoryOutbox) Pop(ctx context.Context) (Envelope, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return Envelope{}, false, nil
	}
	env := o.queue[0]
	o.queue = o.queue[1:]
	return env, true, nil
}

func (o *MemoryOutbox) DeadLetter(ctx context.Context, env Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dead = append(o.dead, env)
	return nil
}

// Dead returns the messages given up on.
func (o *MemoryOutbox) Dead() []Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Envelope(nil), o.dead...)
}

func (o *MemoryOutbox) Len(ctx context.Context) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.queue)), nil
}
