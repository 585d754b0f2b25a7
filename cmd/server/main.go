package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"timersync/backend/internal/apns"
	"timersync/backend/internal/billing"
	"timersync/backend/internal/config"
	"timersync/backend/internal/db"
	"timersync/backend/internal/handler"
	"timersync/backend/internal/push"
	"timersync/backend/internal/ratelimit"
	"timersync/backend/internal/repository"
	"timersync/backend/internal/router"
	"timersync/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)

	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.MigrationsDir); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userRepo := repository.NewUserRepository(database)
	timerRepo := repository.NewTimerRepository(database)
	tokenRepo := repository.NewTokenRepository(database)
	deliveryRepo := repository.NewDeliveryRepository(database)

	var pusher service.Pusher
	var dispatcher *push.Dispatcher
	if cfg.APNs.Enabled() {
		dispatcher, err = newDispatcher(cfg, tokenRepo, deliveryRepo, logger)
		if err != nil {
			log.Fatalf("configure apns: %v", err)
		}
		// Workers outlive the request context so Stop can drain the queue.
		dispatcher.Start(context.Background())
		pusher = dispatcher
	} else {
		logger.Info("apns credentials not configured; live activity pushes disabled")
	}

	notifier := service.NewNotifier(tokenRepo, pusher, logger)
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	timerService := service.NewTimerService(timerRepo, notifier, logger)
	activityService := service.NewActivityService(tokenRepo, deliveryRepo, timerRepo, notifier, logger)

	var billingHandler *handler.BillingHandler
	if cfg.Billing.Enabled() {
		client, err := newBillingClient(cfg.Billing, logger)
		if err != nil {
			log.Fatalf("configure billing: %v", err)
		}
		billingHandler = handler.NewBillingHandler(client)
	}

	engine := router.New(
		authService,
		handler.NewAuthHandler(authService),
		handler.NewTimerHandler(timerService),
		handler.NewActivityHandler(activityService),
		billingHandler,
		cfg.CORSOrigins,
	)

	scheduler := push.NewScheduler(logger,
		push.Task{Name: "complete-due-sessions", Interval: cfg.Push.CompletionInterval, Run: timerService.CompleteDueSessions},
		push.Task{Name: "periodic-updates", Interval: cfg.Push.PeriodicInterval, Run: timerService.SendPeriodicUpdates},
		push.Task{Name: "prune-deliveries", Interval: time.Hour, Run: func(ctx context.Context) error {
			return activityService.PruneDeliveries(ctx, cfg.Push.DeliveryRetention)
		}},
	)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}()

	logger.Info("backend listening", "port", cfg.Port, "push", notifier.Enabled(), "billing", billingHandler != nil)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("run server: %v", err)
	}

	cancel()
	<-schedulerDone
	if dispatcher != nil {
		dispatcher.Stop()
	}
}

func newDispatcher(cfg config.Config, tokens *repository.TokenRepository, deliveries *repository.DeliveryRepository, logger *slog.Logger) (*push.Dispatcher, error) {
	key, err := apns.LoadKey(cfg.APNs.KeyPath)
	if err != nil {
		return nil, err
	}
	client, err := apns.NewClient(apns.Config{
		KeyID:       cfg.APNs.KeyID,
		TeamID:      cfg.APNs.TeamID,
		Key:         key,
		Topic:       cfg.APNs.Topic,
		Environment: cfg.APNs.Environment,
	})
	if err != nil {
		return nil, err
	}

	pipeline := push.NewPipeline(client, deliveries, tokens, push.Config{
		AttemptTimeout: cfg.Push.AttemptTimeout,
		MaxAttempts:    cfg.Push.MaxAttempts,
		BaseBackoff:    cfg.Push.BaseBackoff,
		MaxBackoff:     cfg.Push.MaxBackoff,
	},
		push.WithLimiter(ratelimit.NewLimiter(time.Minute, cfg.Push.RequestsPerMinute, nil)),
		push.WithLogger(logger),
	)
	return push.NewDispatcher(pipeline, cfg.Push.Workers, cfg.Push.QueueSize, logger), nil
}

func newBillingClient(cfg config.BillingConfig, logger *slog.Logger) (*billing.Client, error) {
	key, err := apns.LoadKey(cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	return billing.NewClient(billing.Config{
		KeyID:       cfg.KeyID,
		IssuerID:    cfg.IssuerID,
		Key:         key,
		MaxRequests: cfg.MaxRequests,
	}, billing.WithLogger(logger))
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
