// Package bot is the Telegram command surface. It translates updates into
// calls on the account, balance, deposit and membership services and renders
// their results.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"

	"checkin-bot/internal/account"
	"checkin-bot/internal/balance"
	"checkin-bot/internal/config"
	"checkin-bot/internal/deposit"
	"checkin-bot/internal/ledger"
	"checkin-bot/internal/membership"
	"checkin-bot/internal/metrics"
	"checkin-bot/internal/models"
)

type Services struct {
	Accounts   *account.Manager
	Engine     *balance.Engine
	Deposits   *deposit.Queue
	Membership *membership.Evaluator
}

type Options struct {
	Admins          config.AdminSet
	CommunityChatID int64
	Links           Links
	Texts           Texts
	Limiter         *RateLimiter
	Metrics         *metrics.Collector
}

type Bot struct {
	Instance *telego.Bot
	svc      Services
	opts     Options
	steps    []Step
	log      *logrus.Entry
}

// NewTelegram creates the API client shared by the bot, the notifier and the
// membership checker.
func NewTelegram(token string, log *logrus.Entry) (*telego.Bot, error) {
	tgBot, err := telego.NewBot(token, telego.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return tgBot, nil
}

func NewBot(instance *telego.Bot, svc Services, opts Options, log *logrus.Entry) *Bot {
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(2, 5)
	}
	return &Bot{
		Instance: instance,
		svc:      svc,
		opts:     opts,
		steps:    onboardingSteps(opts.Links),
		log:      log,
	}
}

// Start long-polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	handler.Use(th.PanicRecoveryHandler(func(recovered any) error {
		b.log.WithField("panic", recovered).Error("update handler panicked")
		return fmt.Errorf("handler panic: %v", recovered)
	}))
	handler.Handle(b.limited(b.onStart), th.CommandEqual("start"))
	handler.Handle(b.limited(b.onMessage), th.AnyMessageWithText())
	handler.Handle(b.limited(b.onCallback), th.AnyCallbackQuery())

	b.log.Info("Bot started")
	return handler.Start()
}

func (b *Bot) limited(next th.Handler) th.Handler {
	return func(ctx *th.Context, update telego.Update) error {
		var userID int64
		switch {
		case update.Message != nil && update.Message.From != nil:
			userID = update.Message.From.ID
		case update.CallbackQuery != nil:
			userID = update.CallbackQuery.From.ID
		}
		if userID != 0 && !b.opts.Limiter.Allow(userID) {
			b.log.WithField("user_id", userID).Debug("update rate limited")
			if update.CallbackQuery != nil {
				_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(update.CallbackQuery.ID).WithText(msgRateLimited))
			}
			return nil
		}
		return next(ctx, update)
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, markup telego.ReplyMarkup) {
	params := tu.Message(tu.ID(chatID), text)
	if markup != nil {
		params = params.WithReplyMarkup(markup)
	}
	if _, err := b.Instance.SendMessage(ctx, params); err != nil {
		b.opts.Metrics.RecordCollaboratorFailure("telegram")
		b.log.WithContext(ctx).WithError(err).WithField("chat_id", chatID).Warn("failed to send message")
	}
}

func (b *Bot) fail(ctx context.Context, chatID int64, op string, err error) {
	text := errorMessage(err)
	if text == msgGenericFailure {
		b.log.WithContext(ctx).WithError(err).WithFields(logrus.Fields{"user_id": chatID, "op": op}).Error("command failed")
	}
	b.send(ctx, chatID, text, nil)
}

func displayName(acc *models.Account) string {
	if acc == nil {
		return ""
	}
	if acc.Username != "" {
		return acc.Username
	}
	return acc.FirstName
}

// greetingName prefers the stored account name and falls back to the sender.
func greetingName(acc *models.Account, from *telego.User) string {
	if name := displayName(acc); name != "" {
		return name
	}
	if from.Username != "" {
		return from.Username
	}
	return from.FirstName
}

func (b *Bot) onStart(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if message.Chat.Type != telego.ChatTypePrivate || message.From == nil {
		return nil
	}
	c := ctx.Context()
	from := message.From
	profile := account.Profile{Username: from.Username, FirstName: from.FirstName, LastName: from.LastName}
	referrer := parseStartReferrer(message.Text)

	acc, err := b.svc.Accounts.Onboard(c, from.ID, profile, referrer)
	if errors.Is(err, ledger.ErrSelfReferral) || errors.Is(err, ledger.ErrReferralCycle) {
		b.log.WithContext(c).WithError(err).WithFields(logrus.Fields{"user_id": from.ID, "referrer_id": referrer}).Warn("referral refused, onboarding without it")
		b.send(c, from.ID, errorMessage(err), nil)
		referrer = 0
		acc, err = b.svc.Accounts.Onboard(c, from.ID, profile, 0)
	}
	switch {
	case errors.Is(err, ledger.ErrAlreadyExists):
		b.send(c, from.ID, b.opts.Texts.WelcomeBack(greetingName(acc, from), account.ReferralPoints, account.StartupBonusPoints), mainKeyboard())
		return nil
	case err != nil:
		b.fail(c, from.ID, "onboard", err)
		return nil
	}

	b.send(c, from.ID, b.opts.Texts.Welcome(from.FirstName, acc.ReferrerID, account.ReferralPoints, account.StartupBonusPoints), continueKeyboard())
	if referrer != 0 && acc.ReferrerID != nil && *acc.ReferrerID == referrer {
		b.send(c, referrer, fmt.Sprintf("🎉 Congratulations!\nUser %s joined through your link.\nYou have earned %d CheckIn Tokens.",
			from.FirstName, account.ReferralPoints), nil)
	}
	return nil
}

func (b *Bot) onMessage(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if message.From == nil {
		return nil
	}
	c := ctx.Context()

	if message.Chat.ID == b.opts.CommunityChatID {
		if isCheckInCommand(message.Text) {
			b.communityCheckIn(c, message.From)
		}
		return nil
	}
	if message.Chat.Type != telego.ChatTypePrivate {
		return nil
	}

	userID := message.From.ID
	text := message.Text
	switch route(text) {
	case actProfile:
		acc, err := b.svc.Accounts.Profile(c, userID)
		if err != nil {
			b.fail(c, userID, "profile", err)
			return nil
		}
		b.send(c, userID, b.opts.Texts.Profile(acc), nil)
	case actBalance:
		acc, err := b.svc.Accounts.Profile(c, userID)
		if err != nil {
			b.fail(c, userID, "balance", err)
			return nil
		}
		b.send(c, userID, b.opts.Texts.Balance(acc), mainKeyboard())
	case actDailyBonus:
		if _, err := b.svc.Engine.ClaimDailyBonus(c, userID); err != nil {
			b.fail(c, userID, "daily_bonus", err)
			return nil
		}
		b.send(c, userID, b.opts.Texts.DailyBonus(balance.DailyBonusPoints), nil)
	case actReferral:
		b.send(c, userID, b.opts.Texts.Referral(userID, account.ReferralPoints, account.StartupBonusPoints), nil)
	case actMore, actSwapBack:
		b.send(c, userID, msgChooseOption, moreKeyboard())
	case actMainBack:
		b.send(c, userID, msgChooseOption, mainKeyboard())
	case actCommunity:
		b.send(c, userID, b.opts.Texts.CommunityHowTo(), nil)
	case actSwap:
		b.send(c, userID, msgChooseOption, swapKeyboard())
	case actPointsToCrypto:
		req, err := b.svc.Engine.ConvertPointsToCrypto(c, userID)
		if err != nil {
			b.fail(c, userID, "points_to_crypto", err)
			return nil
		}
		b.send(c, userID, b.opts.Texts.ConfirmPointsToCrypto(), confirmKeyboard(cbConvertYes+req.ID, cbConvertNo+req.ID))
	case actCryptoToPoints:
		req, err := b.svc.Engine.ConvertCryptoToPoints(c, userID)
		if err != nil {
			b.fail(c, userID, "crypto_to_points", err)
			return nil
		}
		acc, err := b.svc.Accounts.Profile(c, userID)
		if err != nil {
			b.fail(c, userID, "crypto_to_points", err)
			return nil
		}
		b.send(c, userID, b.opts.Texts.ConfirmCryptoToPoints(acc), confirmKeyboard(cbConvertYes+req.ID, cbConvertNo+req.ID))
	case actTopup:
		acc, err := b.svc.Accounts.Profile(c, userID)
		if err != nil {
			b.fail(c, userID, "topup", err)
			return nil
		}
		b.send(c, userID, b.opts.Texts.Topup(acc), depositKeyboard())
	case actSetWallet:
		b.send(c, userID, b.opts.Texts.WalletHowTo(), nil)
	case actWithdraw:
		b.prepareWithdrawal(c, userID)
	case actDepositProof:
		b.submitDeposit(c, userID, text)
	case actWalletCommand:
		address, err := account.ParseWalletCommand(text)
		if err == nil {
			err = b.svc.Accounts.SetWallet(c, userID, address)
		}
		if err != nil {
			b.fail(c, userID, "set_wallet", err)
			return nil
		}
		b.send(c, userID, msgWalletSaved, nil)
	case actAdmin:
		b.adminCommand(c, userID, text)
	}
	return nil
}

func (b *Bot) communityCheckIn(ctx context.Context, from *telego.User) {
	points, _, err := b.svc.Engine.ClaimCommunityBonus(ctx, from.ID)
	if err != nil {
		b.fail(ctx, from.ID, "community_bonus", err)
		return
	}
	b.send(ctx, from.ID, b.opts.Texts.CommunityClaimed(from.Username, points), nil)
}

func (b *Bot) submitDeposit(ctx context.Context, userID int64, text string) {
	proof, err := deposit.ParseProof(text)
	if err != nil {
		b.send(ctx, userID, "Invalid transaction hash format. Please send it in this format:\n\n"+proofTemplate, nil)
		return
	}
	rec, err := b.svc.Deposits.SubmitDeposit(ctx, userID, proof.Reference, proof.Amount)
	if errors.Is(err, ledger.ErrDuplicateReference) && rec != nil {
		b.send(ctx, userID, depositExistsText(rec), nil)
		return
	}
	if err != nil {
		b.fail(ctx, userID, "deposit_submit", err)
		return
	}
	b.send(ctx, userID, msgDepositSaved, nil)
}

func (b *Bot) prepareWithdrawal(ctx context.Context, userID int64) {
	req, err := b.svc.Engine.PrepareWithdrawal(ctx, userID)
	if err != nil {
		b.fail(ctx, userID, "withdrawal", err)
		return
	}
	acc, err := b.svc.Accounts.Profile(ctx, userID)
	if err != nil {
		b.fail(ctx, userID, "withdrawal", err)
		return
	}
	b.send(ctx, userID, b.opts.Texts.ConfirmWithdrawal(acc), confirmKeyboard(cbWithdrawYes+req.ID, cbWithdrawNo+req.ID))
}

func (b *Bot) adminCommand(ctx context.Context, userID int64, text string) {
	if !b.opts.Admins.Contains(userID) {
		b.send(ctx, userID, errorMessage(ledger.ErrForbidden), nil)
		return
	}

	cmd := commandOf(text)
	switch cmd {
	case "pending":
		recs, err := b.svc.Deposits.Pending(ctx, 20)
		if err != nil {
			b.fail(ctx, userID, cmd, err)
			return
		}
		b.send(ctx, userID, pendingList(recs), nil)
		return
	case "reset_daily":
		n, err := b.svc.Accounts.ResetDailyFlags(ctx)
		if err != nil {
			b.fail(ctx, userID, cmd, err)
			return
		}
		b.send(ctx, userID, fmt.Sprintf("Daily bonus reset for %d accounts.", n), nil)
		return
	}

	id, err := parseRecordID(text)
	if err != nil {
		b.send(ctx, userID, fmt.Sprintf("Usage: /%s <id>", cmd), nil)
		return
	}
	var rec *models.TransactionRecord
	switch cmd {
	case "approve_deposit":
		rec, err = b.svc.Deposits.ApproveDeposit(ctx, userID, id)
	case "reject_deposit":
		rec, err = b.svc.Deposits.RejectDeposit(ctx, userID, id)
	case "approve_withdrawal":
		rec, err = b.svc.Engine.ApproveWithdrawal(ctx, userID, id)
	case "reject_withdrawal":
		rec, err = b.svc.Engine.RejectWithdrawal(ctx, userID, id)
	}
	if err != nil {
		b.fail(ctx, userID, cmd, err)
		return
	}
	b.send(ctx, userID, resolvedText(rec), nil)
	b.send(ctx, rec.UserID, userResolutionText(rec), nil)
}

func userResolutionText(rec *models.TransactionRecord) string {
	kind := strings.ToLower(string(rec.Kind))
	if rec.Status == models.StatusApproved {
		return fmt.Sprintf("✅ Your %s of %s TON has been approved.", kind, rec.Amount)
	}
	if rec.Kind == models.KindWithdrawal {
		return fmt.Sprintf("❌ Your withdrawal of %s TON was rejected. The amount has been returned to your balance.", rec.Amount)
	}
	return fmt.Sprintf("❌ Your %s of %s TON was rejected.", kind, rec.Amount)
}

func (b *Bot) onCallback(ctx *th.Context, update telego.Update) error {
	query := update.CallbackQuery
	c := ctx.Context()
	userID := query.From.ID
	_ = ctx.Bot().AnswerCallbackQuery(c, tu.CallbackQuery(query.ID))

	if idx, ok := stepIndex[query.Data]; ok {
		b.nextStep(c, userID, idx)
		return nil
	}
	if query.Data == cbDepositSent {
		b.send(c, userID, b.opts.Texts.ProofHowTo(), nil)
		return nil
	}

	a, err := parseRequestAction(query.Data)
	if err != nil {
		b.log.WithField("data", query.Data).Debug("unknown callback")
		return nil
	}

	switch a.Prefix {
	case cbConvertNo, cbWithdrawNo:
		if err := b.svc.Engine.Cancel(c, userID, a.RequestID); err != nil {
			b.send(c, userID, requestErrorMessage(err), nil)
			return nil
		}
		b.send(c, userID, msgCancelled, mainKeyboard())
	case cbConvertYes:
		b.convert(c, userID, a.RequestID)
	case cbWithdrawYes:
		if err := b.svc.Engine.Confirm(c, userID, a.RequestID); err != nil {
			b.send(c, userID, requestErrorMessage(err), nil)
			return nil
		}
		b.send(c, userID, msgPickTier, tierKeyboard(a.RequestID))
	case cbWithdrawTier:
		rec, acc, err := b.svc.Engine.RequestWithdrawal(c, userID, a.RequestID, a.Tier)
		if err != nil {
			b.send(c, userID, requestErrorMessage(err), nil)
			return nil
		}
		b.send(c, userID, b.opts.Texts.WithdrawalSubmitted(rec, acc), mainKeyboard())
	}
	return nil
}

func (b *Bot) convert(ctx context.Context, userID int64, requestID string) {
	req, err := b.svc.Engine.Lookup(ctx, userID, requestID)
	if err != nil {
		b.send(ctx, userID, requestErrorMessage(err), nil)
		return
	}
	acc, err := b.svc.Engine.Process(ctx, userID, requestID, func(s balance.Stage) {
		switch {
		case s == balance.StageFinalizing:
			b.send(ctx, userID, msgAlmostDone, nil)
		case req.Kind == balance.KindPointsToCrypto:
			b.send(ctx, userID, msgProcessingTon, nil)
		default:
			b.send(ctx, userID, msgProcessingPts, nil)
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		text := requestErrorMessage(err)
		if text == msgGenericFailure {
			b.log.WithContext(ctx).WithError(err).WithFields(logrus.Fields{"user_id": userID, "request_id": requestID}).Error("conversion failed")
		}
		b.send(ctx, userID, text, nil)
		return
	}
	b.send(ctx, userID, b.opts.Texts.Converted(req.Kind, acc), mainKeyboard())
}

func (b *Bot) nextStep(ctx context.Context, userID int64, idx int) {
	if idx < len(b.steps) {
		step := b.steps[idx]
		b.send(ctx, userID, step.Text, stepKeyboard(step))
		return
	}

	outcome, acc, err := b.svc.Membership.Evaluate(ctx, userID)
	if err != nil {
		b.fail(ctx, userID, "membership", err)
		return
	}
	switch outcome {
	case membership.Credited:
		b.send(ctx, userID, b.opts.Texts.Verified(displayName(acc), account.StartupBonusPoints), mainKeyboard())
	case membership.AlreadyClaimed:
		b.send(ctx, userID, b.opts.Texts.AlreadyRewarded(), mainKeyboard())
	default:
		b.send(ctx, userID, b.opts.Texts.StepsIncomplete(displayName(acc)), retryKeyboard())
	}
}
