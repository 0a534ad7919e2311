package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"checkin-bot/internal/account"
	"checkin-bot/internal/admin"
	"checkin-bot/internal/balance"
	"checkin-bot/internal/bot"
	"checkin-bot/internal/config"
	"checkin-bot/internal/database"
	"checkin-bot/internal/deposit"
	"checkin-bot/internal/ledger"
	"checkin-bot/internal/membership"
	"checkin-bot/internal/metrics"
	"checkin-bot/internal/notify"
	"checkin-bot/internal/utils"
	"checkin-bot/internal/worker"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()
	logger := newLogger(cfg)
	log := logrus.NewEntry(logger).WithField("service", "checkin-bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Database
	db, err := database.ConnectPostgres(cfg, log.WithField("component", "postgres"))
	if err != nil {
		log.WithError(err).Fatal("Could not connect to database")
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(ctx, cfg, log.WithField("component", "redis"))
	if err != nil {
		log.WithError(err).Fatal("Could not connect to redis")
	}
	defer rdb.Close()

	tg, err := bot.NewTelegram(cfg.BotToken, log.WithField("component", "telego"))
	if err != nil {
		log.WithError(err).Fatal("Could not create telegram client")
	}

	m := metrics.NewCollector("checkin")
	store := ledger.NewGormStore(db)

	dispatcher := notify.NewDispatcher(
		notify.NewTelegramSender(tg),
		notify.NewRedisOutbox(rdb, ""),
		cfg.AdminIDs.IDs(),
		log.WithField("component", "notify"),
		m,
	)
	accounts := account.NewManager(store, cfg.HouseAccount, log.WithField("component", "account"), m)
	engine := balance.NewEngine(
		store,
		balance.NewRedisRequestStore(rdb, cfg.RequestTTL),
		balance.NewRedisCooldown(rdb),
		dispatcher,
		cfg.AdminIDs,
		balance.Options{Pacing: cfg.ConversionPacing, CommunityCooldown: cfg.CommunityCooldown},
		log.WithField("component", "balance"),
		m,
	)
	deposits := deposit.NewQueue(store, dispatcher, cfg.AdminIDs, log.WithField("component", "deposit"), m)
	evaluator := membership.NewEvaluator(
		store,
		membership.NewTelegramChecker(tg),
		accounts,
		membership.Groups{Community: cfg.CommunityGroup, Channel: cfg.ChannelGroup},
		cfg.MembershipSettleDelay,
		log.WithField("component", "membership"),
		m,
	)

	rate, err := decimal.NewFromString(cfg.CheckInRate)
	if err != nil {
		log.WithError(err).WithField("rate", cfg.CheckInRate).Fatal("Invalid CHECKIN_RATE")
	}
	limiter := bot.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	b := bot.NewBot(tg, bot.Services{
		Accounts:   accounts,
		Engine:     engine,
		Deposits:   deposits,
		Membership: evaluator,
	}, bot.Options{
		Admins:          cfg.AdminIDs,
		CommunityChatID: cfg.CommunityChatID,
		Links:           bot.Links{Community: cfg.CommunityURL, Channel: cfg.ChannelURL, Twitter: cfg.TwitterURL},
		Texts: bot.Texts{
			BotUsername:    cfg.BotUsername,
			DepositAddress: cfg.DepositAddress,
			CommunityGroup: cfg.CommunityGroup,
			Rate:           rate,
		},
		Limiter: limiter,
		Metrics: m,
	}, log.WithField("component", "bot"))

	scheduler := worker.NewScheduler(time.UTC, log.WithField("component", "worker"), m)
	jobs := []struct {
		name, spec string
		immediate  bool
		run        func(context.Context) error
	}{
		{"daily_reset", cfg.DailyResetCron, false, worker.DailyReset(accounts)},
		{"outbox_retry", cfg.OutboxRetryCron, true, worker.OutboxRetry(dispatcher, log.WithField("job", "outbox_retry"))},
		{"limiter_cleanup", "@every 10m", false, func(context.Context) error {
			limiter.Cleanup(10 * time.Minute)
			return nil
		}},
	}
	for _, j := range jobs {
		if err := scheduler.Add(j.name, j.spec, j.immediate, j.run); err != nil {
			log.WithError(err).Fatal("Could not schedule job")
		}
	}

	allow, err := utils.NewAllowList(cfg.AdminAllowedCIDRs)
	if err != nil {
		log.WithError(err).Fatal("Invalid ADMIN_ALLOWED_CIDRS")
	}
	if cfg.AdminAPIToken == "" {
		log.Warn("ADMIN_API_TOKEN is empty, admin API will reject every request")
	}
	srv := admin.NewServer(store, deposits, engine, accounts, admin.Options{
		Admins:  cfg.AdminIDs,
		Token:   cfg.AdminAPIToken,
		Allow:   allow,
		Metrics: m,
	}, log.WithField("component", "admin")).NewHTTPServer(cfg.AdminHTTPAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		log.WithField("addr", cfg.AdminHTTPAddr).Info("Admin API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Admin API stopped")
			stop()
		}
	}()
	go func() {
		if err := b.Start(ctx); err != nil {
			log.WithError(err).Error("Bot stopped")
			stop()
		}
	}()

	log.Info("Service started successfully")
	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Admin API shutdown")
	}
	wg.Wait()
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return logger
}
