// cmd/billing-engine/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"club-billing-engine/internal/common/aws"
	"club-billing-engine/internal/common/config"
	"club-billing-engine/internal/common/database"
	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/common/observability"
	"club-billing-engine/internal/notify"
	"club-billing-engine/internal/provider"
	"club-billing-engine/internal/reconcile"
	"club-billing-engine/internal/scheduler"
	"club-billing-engine/internal/store"
	"club-billing-engine/internal/tracker"
	"club-billing-engine/internal/webhook"

	bc "club-billing-engine/internal/workers/billing/billing-cycle"
	pr "club-billing-engine/internal/workers/billing/payment-retry"
	is "club-billing-engine/internal/workers/invoicing/invoice-schedule"
	ms "club-billing-engine/internal/workers/reconcile/mandate-sync"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting billing engine...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("billing-engine")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init SES for outbound email ---
	var sesClient notify.SESService
	if cfg.Notifications.Email.Enabled {
		client, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client initialization failed", zap.Error(err))
		}
		sesClient = client
	}
	notifier := notify.NewEmailDispatcher(sesClient,
		cfg.Notifications.Email.FromEmail, cfg.Notifications.Email.Enabled, log)

	// --- Init payment provider client ---
	ddClient := provider.NewDirectDebitClient(
		cfg.Provider.BaseURL,
		cfg.Provider.AccessToken,
		config.GetDuration(cfg.Provider.Timeout),
	)
	zapLog.Info("All external service clients initialized")

	st := store.New(pg.DB)
	trk := tracker.New(st.Executions, log)
	applier := reconcile.NewApplier(st, log)
	ingestor := webhook.NewIngestor(st, applier,
		cfg.Provider.Name, cfg.Provider.WebhookSecret, log)

	// --- Scheduler with fleet-wide advisory locks ---
	lockTTL := time.Duration(cfg.Billing.AdvisoryLockTTL) * time.Second
	locker := scheduler.NewAdvisoryLocker(redis.Client, lockTTL, uuid.NewString())
	sched := scheduler.New(trk, locker, obs, log)

	registerWorker := func(name string, handler scheduler.Handler) {
		if !config.IsWorkerEnabled(cfg, name) {
			zapLog.Info("worker disabled", zap.String("worker", name))
			return
		}
		wcfg := config.GetWorkerConfig(cfg, name)
		if err := sched.Register(scheduler.ScheduledTask{
			Name:    name,
			Cadence: wcfg.Cadence,
			Timeout: config.GetDuration(wcfg.Timeout),
			Handler: handler,
		}); err != nil {
			zapLog.Fatal("worker registration failed",
				zap.String("worker", name), zap.Error(err))
		}
	}

	registerWorker(bc.WorkerName,
		bc.NewHandler(bc.LoadConfig(cfg), st, ddClient, notifier, log).Run)
	registerWorker(pr.WorkerName,
		pr.NewHandler(pr.LoadConfig(cfg), st, ddClient, notifier, log).Run)
	registerWorker(ms.WorkerName,
		ms.NewHandler(ms.LoadConfig(cfg), st, ddClient, applier, log).Run)
	registerWorker(is.WorkerName,
		is.NewHandler(is.LoadConfig(cfg), st, notifier, log).Run)

	sched.Start()
	zapLog.Info("All workers registered successfully")

	// --- Health, Metrics & Webhook Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := pg.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "not ready",
					"error":  err.Error(),
				})
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		http.Handle("/webhooks/"+cfg.Provider.Name, webhook.NewHandler(ingestor, log))
		zapLog.Info("HTTP server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	stopCtx := sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	select {
	case <-stopCtx.Done():
	case <-shutdownCtx.Done():
		zapLog.Warn("in-flight runs did not finish before shutdown deadline")
	}

	zapLog.Info("Billing engine stopped gracefully")
}
