// cmd/pipeline-manager/main.go
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"poppins-pipeline/internal/common/config"
	"poppins-pipeline/internal/common/gateway"
	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/observability"
	"poppins-pipeline/internal/common/store"
	"poppins-pipeline/internal/events"
	"poppins-pipeline/internal/templates"

	ci "poppins-pipeline/internal/workers/delivery/child-index"
	ed "poppins-pipeline/internal/workers/delivery/email-dispatch"
	pd "poppins-pipeline/internal/workers/delivery/push-dispatch"
	rr "poppins-pipeline/internal/workers/delivery/recipient-resolve"
	ng "poppins-pipeline/internal/workers/maintenance/notification-gc"
	rs "poppins-pipeline/internal/workers/maintenance/retry-sweep"
	sr "poppins-pipeline/internal/workers/maintenance/schedule-replicate"
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
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting pipeline manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("storeBackend", cfg.Store.Backend),
	)

	obs := observability.New("pipeline-manager")
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init record store with retry ---
	var st store.Store
	switch cfg.Store.Backend {
	case "postgres":
		var pg *store.Postgres
		err = retryWithBackoff(func() error {
			var err error
			pg, err = store.OpenPostgres(cfg.Store.Postgres.GetDSN())
			return err
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		st = pg
	default:
		rds := store.NewRedis(store.RedisOptions{
			Address:  cfg.Store.Redis.Address,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		err = retryWithBackoff(func() error {
			return rds.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		st = rds
	}
	defer st.Close()
	zapLog.Info("Record store connected successfully")

	// --- Init AWS clients ---
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		zapLog.Fatal("aws config load failed", zap.Error(err))
	}
	emailGateway := gateway.NewSESGateway(ses.NewFromConfig(awsCfg))
	pushGateway := gateway.NewSNSGateway(sns.NewFromConfig(awsCfg))
	zapLog.Info("AWS gateways initialized")

	// --- Init template registry ---
	registry, err := templates.NewRegistry()
	if err != nil {
		zapLog.Fatal("template registry failed", zap.Error(err))
	}

	// --- Register event handlers ---
	emailHandler := ed.NewHandler(
		&ed.Config{
			MaxRetries:      cfg.Pipeline.MaxRetries,
			FromAddress:     cfg.Email.FromAddress,
			FromName:        cfg.Email.FromName,
			DefaultSubject:  cfg.Email.DefaultSubject,
			DefaultTemplate: cfg.Email.DefaultTemplate,
		},
		st, emailGateway, registry, log,
	)

	pushHandler := pd.NewHandler(st, pushGateway, log)

	resolveHandler := rr.NewHandler(
		&rr.Config{
			UnresolvedAge:   cfg.Pipeline.UnresolvedAge,
			UnresolvedLimit: cfg.Pipeline.UnresolvedLimit,
		},
		st, log,
	)

	indexHandler := ci.NewHandler(st, log)

	dispatcher := events.NewDispatcher(log, obs)
	dispatcher.Register("emailQueue", emailHandler)
	dispatcher.Register("notifications", pushHandler)
	dispatcher.Register("messages", resolveHandler)
	dispatcher.Register("tenants/*/children", indexHandler)

	feed, err := st.Events(ctx)
	if err != nil {
		zapLog.Fatal("event feed subscription failed", zap.Error(err))
	}
	go dispatcher.Run(ctx, feed)
	zapLog.Info("All 4 event handlers registered successfully")

	// --- Schedule maintenance jobs ---
	sweepJob := rs.NewJob(
		&rs.Config{
			MaxRetries:  cfg.Pipeline.MaxRetries,
			RetryWindow: cfg.Pipeline.RetryWindow,
			BatchLimit:  cfg.Pipeline.SweepBatchLimit,
		},
		st, log,
	)
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		zapLog.Fatal("timezone load failed", zap.Error(err))
	}
	replicateJob := sr.NewJob(st, log, func() time.Time { return time.Now().In(paris) })
	gcJob := ng.NewJob(&ng.Config{RetentionDays: cfg.Pipeline.RetentionDays}, st, log)

	scheduler := cron.New()
	scheduleJob(scheduler, cfg.Pipeline.SweepSchedule, "retry-sweep", sweepJob.Run, obs, zapLog)
	scheduleJob(scheduler, cfg.Pipeline.ReplicationSchedule, "schedule-replicate", replicateJob.Run, obs, zapLog)
	scheduleJob(scheduler, cfg.Pipeline.GCSchedule, "notification-gc", gcJob.Run, obs, zapLog)
	scheduleJob(scheduler, cfg.Pipeline.UnresolvedSchedule, "unresolved-sweep", resolveHandler.SweepUnresolved, obs, zapLog)
	scheduler.Start()
	zapLog.Info("All 4 maintenance jobs scheduled successfully")

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
		if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping pipeline...")
	cancel()

	cronCtx := scheduler.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(30 * time.Second):
		zapLog.Warn("Timed out waiting for running jobs")
	}

	zapLog.Info("Pipeline manager stopped gracefully")
}

func scheduleJob(scheduler *cron.Cron, spec, name string, run func(context.Context) error, obs *observability.Observability, log *zap.Logger) {
	_, err := scheduler.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		status := "success"
		if err := run(ctx); err != nil {
			status = "error"
			log.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		}
		obs.RecordJobRun(ctx, name, status)
	})
	if err != nil {
		log.Fatal("invalid job schedule", zap.String("job", name), zap.String("spec", spec), zap.Error(err))
	}

	log.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
}
