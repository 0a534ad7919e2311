// Package notify delivers admin notifications. Failed deliveries go to an
// outbox and are retried by the scheduler; they never affect the ledger.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"

	"checkin-bot/internal/ledger"
	"checkin-bot/internal/metrics"
)

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Sender delivers one text message to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type TelegramSender struct {
	bot *telego.Bot
}

func NewTelegramSender(bot *telego.Bot) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

// MaxAttempts is how many redeliveries a queued message gets before it is
// dead-lettered.
const MaxAttempts = 20

// Dispatcher fans a notification out to every admin.
type Dispatcher struct {
	sender      Sender
	outbox      Outbox
	admins      []int64
	maxAttempts int
	log         *logrus.Entry
	metrics     *metrics.Collector
}

func NewDispatcher(sender Sender, outbox Outbox, admins []int64, log *logrus.Entry, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{sender: sender, outbox: outbox, admins: admins, maxAttempts: MaxAttempts, log: log, metrics: m}
}

// Notify returns an error only when a message could be neither delivered nor
// queued for retry.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	text := n.Text()
	var lost []error
	for _, chatID := range d.admins {
		err := d.sender.Send(ctx, chatID, text)
		d.metrics.RecordNotification(err)
		if err == nil {
			continue
		}
		d.metrics.RecordCollaboratorFailure("notify")
		entry := d.log.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"kind":      "ExternalCollaboratorUnavailable",
			"chat_id":   chatID,
			"record_id": n.RecordID,
		})
		if qerr := d.outbox.Push(ctx, Envelope{ChatID: chatID, Text: text}); qerr != nil {
			entry.WithField("outbox_error", qerr.Error()).Error("admin notification lost")
			lost = append(lost, fmt.Errorf("notify %d: %w", chatID, ledger.ErrCollaboratorUnavailable))
			continue
		}
		entry.Warn("admin notification queued for retry")
	}
	return errors.Join(lost...)
}

// Retry makes one pass over the messages queued when it starts, handling at
// most max of them. A message that fails again goes to the back of the queue,
// or to the dead-letter list once it has failed maxAttempts times.
func (d *Dispatcher) Retry(ctx context.Context, max int) (int, error) {
	defer func() {
		if n, err := d.outbox.Len(ctx); err == nil {
			d.metrics.RecordOutboxDepth(n)
		}
	}()

	queued, err := d.outbox.Len(ctx)
	if err != nil {
		return 0, err
	}
	if int64(max) < queued {
		queued = int64(max)
	}

	delivered := 0
	var failed []error
	for i := int64(0); i < queued; i++ {
		env, ok, err := d.outbox.Pop(ctx)
		if err != nil {
			return delivered, errors.Join(append(failed, err)...)
		}
		if !ok {
			break
		}
		err = d.sender.Send(ctx, env.ChatID, env.Text)
		d.metrics.RecordNotification(err)
		if err == nil {
			delivered++
			continue
		}
		d.metrics.RecordCollaboratorFailure("notify")
		env.Attempts++
		failed = append(failed, fmt.Errorf("redeliver to %d: %w", env.ChatID, err))
		d.giveBack(ctx, env, err)
	}
	return delivered, errors.Join(failed...)
}

func (d *Dispatcher) giveBack(ctx context.Context, env Envelope, cause error) {
	entry := d.log.WithContext(ctx).WithError(cause).WithFields(logrus.Fields{
		"chat_id":  env.ChatID,
		"attempts": env.Attempts,
	})
	if env.Attempts >= d.maxAttempts {
		if err := d.outbox.DeadLetter(ctx, env); err != nil {
			entry.WithField("outbox_error", err.Error()).Error("admin notification lost")
			return
		}
		entry.Error("admin notification dead-lettered")
		return
	}
	if err := d.outbox.Push(ctx, env); err != nil {
		entry.WithField("outbox_error", err.Error()).Error("admin notification lost on requeue")
	}
}
