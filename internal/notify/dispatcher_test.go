package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-bot/internal/models"
	"checkin-bot/internal/money"
)

type fakeSender struct {
	mu   sync.Mutex
	down map[int64]bool
	sent map[int64][]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{down: map[int64]bool{}, sent: map[int64][]string{}}
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[chatID] {
		return errors.New("telegram: bad gateway")
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeSender) setDown(chatID int64, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[chatID] = down
}

func sample() Notification {
	return Notification{
		Kind:      models.KindWithdrawal,
		RecordID:  4,
		UserID:    42,
		Username:  "alice",
		Reference: "wd-123",
		Amount:    money.Coins(25),
		Wallet:    "EQwallet",
		At:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotificationText(t *testing.T) {
	text := sample().Text()
	assert.Contains(t, text, "withdrawal")
	assert.Contains(t, text, "@alice (42)")
	assert.Contains(t, text, "Amount: 25 TON")
	assert.Contains(t, text, "Wallet: EQwallet")
	assert.Contains(t, text, "2024-06-01T12:00:00Z")
	assert.Contains(t, text, "/reject_withdrawal 4")
}

func TestDispatcherQueuesFailedDeliveries(t *testing.T) {
	ctx := context.Background()
	sender := newFakeSender()
	sender.setDown(2, true)
	outbox := NewMemoryOutbox()
	logger, hook := logtest.NewNullLogger()
	d := NewDispatcher(sender, outbox, []int64{1, 2}, logrus.NewEntry(logger), nil)

	require.NoError(t, d.Notify(ctx, sample()))
	assert.Len(t, sender.sent[1], 1)
	assert.Empty(t, sender.sent[2])

	n, err := outbox.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "ExternalCollaboratorUnavailable", hook.LastEntry().Data["kind"])

	delivered, err := d.Retry(ctx, 10)
	assert.Error(t, err)
	assert.Zero(t, delivered)

	sender.setDown(2, false)
	delivered, err = d.Retry(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Len(t, sender.sent[2], 1)
	assert.Len(t, sender.sent[1], 1)
}

func TestRetryDoesNotStallBehindUnreachableChat(t *testing.T) {
	ctx := context.Background()
	sender := newFakeSender()
	sender.setDown(1, true)
	sender.setDown(2, true)
	outbox := NewMemoryOutbox()
	logger, hook := logtest.NewNullLogger()
	d := NewDispatcher(sender, outbox, []int64{1, 2}, logrus.NewEntry(logger), nil)
	d.maxAttempts = 3

	require.NoError(t, d.Notify(ctx, sample()))
	sender.setDown(2, false)

	delivered, err := d.Retry(ctx, 10)
	assert.Error(t, err)
	assert.Equal(t, 1, delivered)
	assert.Len(t, sender.sent[2], 1)

	for i := 0; i < 5; i++ {
		_, _ = d.Retry(ctx, 10)
	}
	n, err := outbox.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	dead := outbox.Dead()
	require.Len(t, dead, 1)
	assert.Equal(t, int64(1), dead[0].ChatID)
	assert.Equal(t, 3, dead[0].Attempts)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "admin notification dead-lettered" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestRetryHandlesEachMessageOncePerPass(t *testing.T) {
	ctx := context.Background()
	sender := newFakeSender()
	sender.setDown(1, true)
	outbox := NewMemoryOutbox()
	d := NewDispatcher(sender, outbox, []int64{1}, logrus.NewEntry(logrus.New()), nil)

	require.NoError(t, outbox.Push(ctx, Envelope{ChatID: 1, Text: "a"}))
	require.NoError(t, outbox.Push(ctx, Envelope{ChatID: 1, Text: "b"}))

	_, err := d.Retry(ctx, 100)
	assert.Error(t, err)
	for _, text := range []string{"a", "b"} {
		env, ok, err := outbox.Pop(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, text, env.Text)
		assert.Equal(t, 1, env.Attempts)
	}
}

func TestRedisOutboxOrder(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	o := NewRedisOutbox(rdb, "")
	require.NoError(t, o.Push(ctx, Envelope{ChatID: 1, Text: "first"}))
	require.NoError(t, o.Push(ctx, Envelope{ChatID: 1, Text: "second"}))

	env, ok, err := o.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", env.Text)

	env.Attempts++
	require.NoError(t, o.Push(ctx, env))

	env, ok, err = o.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", env.Text)

	env, ok, err = o.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", env.Text)
	assert.Equal(t, 1, env.Attempts)

	require.NoError(t, o.DeadLetter(ctx, env))
	dead, err := rdb.LLen(ctx, defaultOutboxKey+":dead").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	_, ok, err = o.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
