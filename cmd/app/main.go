// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/config"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/infra/adapters/notify"
	payAdapters "mpesa-settlement/internal/infra/adapters/payment"
	tele "mpesa-settlement/internal/infra/adapters/telegram"
	"mpesa-settlement/internal/infra/adapters/wallet"
	"mpesa-settlement/internal/infra/api"
	"mpesa-settlement/internal/infra/api/apiv1"
	pg "mpesa-settlement/internal/infra/db/postgres"
	"mpesa-settlement/internal/infra/i18n"
	"mpesa-settlement/internal/infra/logging"
	"mpesa-settlement/internal/infra/metrics"
	red "mpesa-settlement/internal/infra/redis"
	"mpesa-settlement/internal/infra/sched"
	"mpesa-settlement/internal/infra/scheduler"
	"mpesa-settlement/internal/infra/security"
	"mpesa-settlement/internal/infra/worker"
	"mpesa-settlement/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, dev encryption key)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}
	metrics.SetBuildInfo(version, commit)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)
	reminderDedupe := red.NewDeduper(redisClient, "reminder:")

	// ---- Security ----
	codec, err := security.NewTokenCodec([]byte(cfg.Security.TokenSigningKey))
	if err != nil {
		logger.Fatal().Err(err).Msg("token codec")
	}
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 32 {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("security.encryption_key must be 32 bytes")
		}
		logger.Warn().Msg("security.encryption_key not set or not 32 bytes; falling back to dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	cipher, err := security.NewPayloadCipher(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Language)
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	payRepo := pg.NewPaymentRepo(pool)
	auditRepo := pg.NewCallbackAuditRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	notifLogRepo := pg.NewNotificationLogRepo(pool)
	planRepo := pg.NewPlanRepoCacheDecorator(pg.NewPostgresPlanRepo(pool), redisClient, cfg.Redis.TTL)

	// ---- Collaborators ----
	notifyPool := worker.NewPool(cfg.Notify.Workers, logger)
	notifyPool.Start(ctx)
	alerter := notify.NewAsyncAlerter(newAlerter(cfg, logger), notifyPool, logger)
	var notifier adapter.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notify.BaseURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.Notify.BaseURL, cfg.Notify.Timeout)
	}
	notifier = notify.NewAsyncNotifier(notifier, notifyPool)

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("mpesa gateway")
	}

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(subRepo, planRepo, tm, logger)
	subjects := usecase.SubjectRouter{model.PurposeSubscription: subUC}
	if cfg.Wallet.BaseURL != "" {
		subjects[model.PurposeWalletTopUp] = wallet.NewHTTPWallet(cfg.Wallet.BaseURL, cfg.Wallet.ServiceToken, cfg.Wallet.Timeout, logger)
	} else {
		logger.Warn().Msg("wallet.base_url not set; wallet top-ups will settle in the ledger and wait for repair")
	}

	paymentUC := usecase.NewPaymentUseCase(payRepo, gateway, codec, rateLimiter, alerter, tr, usecase.PaymentOptions{
		CallbackBaseURL:  cfg.HTTP.PublicBaseURL,
		TokenTTL:         cfg.Security.TokenTTL,
		ProviderTimeout:  cfg.Mpesa.RequestTimeout,
		AccountReference: cfg.Mpesa.AccountReference,
		RateLimit:        cfg.RateLimit.Initiations,
		RateWindow:       cfg.RateLimit.Window,
	}, logger)
	callbackUC := usecase.NewCallbackUseCase(payRepo, auditRepo, tm, gateway, codec, subjects, locker, cipher, alerter, notifier, tr, logger)
	statusUC := usecase.NewStatusUseCase(payRepo, codec, tr, logger)
	notifUC := usecase.NewNotificationUseCase(subRepo, notifLogRepo, notifier, reminderDedupe, tr, logger)
	adminUC := usecase.NewAdminUseCase(payRepo, auditRepo, callbackUC, cipher, logger)
	planUC := usecase.NewPlanUseCase(planRepo, tm, logger)
	statsUC := usecase.NewStatsUseCase(payRepo, logger)

	// ---- HTTP ----
	v1 := apiv1.NewServer(apiv1.Deps{
		Payments:      paymentUC,
		Callbacks:     callbackUC,
		Status:        statusUC,
		Subscriptions: subUC,
		Admin:         adminUC,
		Plans:         planUC,
		Stats:         statsUC,
		AdminAPIKey:   cfg.Security.AdminAPIKey,
	}, logger)
	handler := api.NewRouter(v1, api.RouterOptions{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		Ready: func(r *http.Request) error {
			if err := pool.Ping(r.Context()); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			return redisClient.Ping(r.Context())
		},
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Str("provider", gateway.Name()).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Background jobs ----
	repair := sched.NewRepairWorker(callbackUC, payRepo, alerter, cfg.Scheduler.RepairInterval, cfg.Scheduler.RepairStaleAfter, cfg.Security.TokenTTL, logger)
	go func() { _ = repair.Run(ctx) }()

	reminders := scheduler.NewScheduler(cfg.Scheduler.ReminderInterval, cfg.Scheduler.ReminderDays, notifUC, logger)
	reminders.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	reminders.Stop()
	notifyPool.Stop()
	cancel()
	logger.Info().Msg("bye")
}

func newGateway(cfg *config.Config, logger *zerolog.Logger) (adapter.PushPaymentGateway, error) {
	if cfg.Mpesa.Environment == "fake" {
		logger.Warn().Msg("mpesa.environment=fake; push requests are not sent to Safaricom")
		return payAdapters.NewFakeGateway(), nil
	}
	return payAdapters.NewMpesaGateway(payAdapters.MpesaOptions{
		Environment:     cfg.Mpesa.Environment,
		ConsumerKey:     cfg.Mpesa.ConsumerKey,
		ConsumerSecret:  cfg.Mpesa.ConsumerSecret,
		ShortCode:       cfg.Mpesa.ShortCode,
		Passkey:         cfg.Mpesa.Passkey,
		TransactionType: cfg.Mpesa.TransactionType,
		Timeout:         cfg.Mpesa.RequestTimeout,
		BreakerFailures: cfg.Mpesa.BreakerFailures,
		BreakerCooldown: cfg.Mpesa.BreakerCooldown,
	}, logger)
}

func newAlerter(cfg *config.Config, logger *zerolog.Logger) adapter.Alerter {
	if cfg.Alerts.TelegramToken == "" {
		return tele.NewLogAlerter(logger)
	}
	bot, err := tele.NewAlertBot(cfg.Alerts.TelegramToken, cfg.Alerts.ChatIDs, cfg.Alerts.Timeout, logger)
	if err != nil {
		logger.Error().Err(err).Msg("telegram alerts unavailable; logging alerts instead")
		return tele.NewLogAlerter(logger)
	}
	return bot
}
