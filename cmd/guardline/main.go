package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/guardline/guardline/internal/api"
	"github.com/guardline/guardline/internal/billing"
	"github.com/guardline/guardline/internal/cache"
	"github.com/guardline/guardline/internal/client"
	"github.com/guardline/guardline/internal/config"
	"github.com/guardline/guardline/internal/database"
	"github.com/guardline/guardline/internal/logging"
	"github.com/guardline/guardline/internal/metrics"
	"github.com/guardline/guardline/internal/notify"
	"github.com/guardline/guardline/internal/repo"
	"github.com/guardline/guardline/internal/scheduler"
	"github.com/guardline/guardline/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}
	logging.Setup(cfg.LogLevel)

	db, err := database.Open(cfg.Database.PostgresURL)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var locations cache.LocationCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locations = cache.NewRedisCache(rdb, cfg.Redis.TTL)
		slog.Info("location cache enabled", "addr", cfg.Redis.Address)
	}

	sessions := repo.NewPostgresSessionRepo(db)
	contacts := repo.NewPostgresContactRepo(db)
	smsLog := repo.NewPostgresSmsLogRepo(db)
	quotas := repo.NewPostgresQuotaRepo(db, repo.QuotaDefaults{
		FreeAlerts:    cfg.Quota.DefaultFreeAlerts,
		FreeTestSms:   cfg.Quota.DefaultFreeTestSms,
		SmsDailyLimit: cfg.Quota.SmsDailyLimit,
		SOSDailyLimit: cfg.Quota.SOSDailyLimit,
	})

	smsClient := client.NewSmsClient(
		cfg.Gateway.APIURL,
		cfg.Gateway.AccountSID,
		cfg.Gateway.AuthToken,
		cfg.Gateway.FromNumber,
		cfg.Gateway.StatusCallbackURL,
	)

	lifecycle := service.NewLifecycle(sessions, locations)
	contactSvc := service.NewContacts(contacts)
	dispatcher := service.NewDispatcher(sessions, contacts, smsLog, quotas, smsClient, locations, cfg.Dispatch)
	reconciler := service.NewReconciler(smsLog)
	sweeper := service.NewSweeper(sessions, dispatcher, notify.SlogNotifier{}, cfg.Scheduler, cfg.Dispatch.RedispatchOnTopUp)

	sched, err := scheduler.New("deadline-sweep", cfg.Scheduler.Interval, sweeper.Tick)
	if err != nil {
		slog.Error("failed to create scheduler", "err", err)
		os.Exit(1)
	}
	sched.WithObserver(metrics.ObserveTick)
	sched.Start()
	defer sched.Stop()

	stripeHook := billing.NewWebhookHandler(quotas, cfg.Stripe.WebhookSecret)

	handler := api.NewHandler(sched, lifecycle, contactSvc, dispatcher, reconciler, smsLog, quotas)
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.Router(handler, stripeHook.HandleStripeWebhook),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("guardline listening",
			"addr", cfg.Server.Address,
			"sweep_interval", cfg.Scheduler.Interval.String(),
			"batch", cfg.Scheduler.BatchSize,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}
