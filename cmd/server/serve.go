package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/karprabha/snowjob-backend/internal/audit"
	"github.com/karprabha/snowjob-backend/internal/clock"
	"github.com/karprabha/snowjob-backend/internal/config"
	"github.com/karprabha/snowjob-backend/internal/escrow"
	"github.com/karprabha/snowjob-backend/internal/events"
	internalhttp "github.com/karprabha/snowjob-backend/internal/http"
	"github.com/karprabha/snowjob-backend/internal/logger"
	ratelimiter "github.com/karprabha/snowjob-backend/internal/rate-limiter"
	"github.com/karprabha/snowjob-backend/internal/recovery"
	"github.com/karprabha/snowjob-backend/internal/report"
	"github.com/karprabha/snowjob-backend/internal/service"
	"github.com/karprabha/snowjob-backend/internal/store"
	"github.com/karprabha/snowjob-backend/internal/tracing"
	"github.com/karprabha/snowjob-backend/internal/worker"
)

const serviceName = "snowjob"

func serve(parent context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, closeLog, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		OutputFile: cfg.Log.OutputFile,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	log.SetVersion(version)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		Endpoint:     cfg.Tracing.Endpoint,
		Insecure:     cfg.Tracing.Insecure,
		ServiceName:  serviceName,
		Version:      version,
		Environment:  cfg.Environment,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return err
	}

	reporter := report.Multi{report.NewLogReporter(log)}
	if cfg.Sentry.DSN != "" {
		hostname, _ := os.Hostname()
		sentryReporter, err := report.NewSentry(report.SentryOptions{
			DSN:         cfg.Sentry.DSN,
			ServerName:  hostname,
			Release:     version,
			Environment: cfg.Environment,
		})
		if err != nil {
			return err
		}
		defer sentryReporter.Flush(2 * time.Second)
		reporter = append(reporter, sentryReporter)
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}

	gateway, err := openGateway(cfg.Escrow)
	if err != nil {
		_ = b.close(context.Background())
		return err
	}

	// The bus outlives the signal context so Close can drain buffered
	// events to the external publishers during shutdown.
	busCtx, cancelBus := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBus()
	bus := events.NewBus(cfg.Events.BusSize, log)
	for _, p := range b.publishers {
		bus.Subscribe(p.Publish)
	}
	bus.Start(busCtx, cfg.Events.BusWorkers)

	reconcileQueue := make(chan string, cfg.Reconcile.QueueCapacity)
	metrics := store.NewInMemoryMetricStore()
	realClock := clock.Real()

	svc := service.New(b.jobs,
		escrow.NewCoordinator(gateway, cfg.Escrow.Timeout, realClock),
		audit.NewMessenger(b.sink),
		service.WithPublisher(bus),
		service.WithMetrics(metrics),
		service.WithReporter(reporter),
		service.WithClock(realClock),
		service.WithLogger(log),
		service.WithReconcileQueue(reconcileQueue),
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		worker.StartPool(ctx, cfg.Reconcile.Workers, svc, log, reconcileQueue, cfg.Escrow.Timeout*2)
	}()
	go func() {
		defer wg.Done()
		store.NewPaymentSweeper(b.jobs, log, cfg.Reconcile.Interval, reconcileQueue).Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := recovery.RecoverPayments(ctx, b.jobs, reconcileQueue, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, "Recovery failed", "event", "recovery_error", "error", err)
			reporter.Report(ctx, err, map[string]string{"op": "recovery"})
		}
	}()

	limiter := ratelimiter.NewBurstyLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.Rate)
	defer limiter.Stop()

	gin.SetMode(cfg.Server.Mode)
	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: internalhttp.NewRouter(svc, internalhttp.RouterOptions{
			Limiter: limiter,
			Logger:  log,
			Clock:   realClock,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "Starting server", "event", "server_started", "addr", server.Addr, "store", cfg.Store.Backend, "gateway", cfg.Escrow.Gateway)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		log.Error(ctx, "Server failed", "event", "server_error", "error", err)
		stop()
	}

	log.Info(context.Background(), "Shutting down", "event", "shutdown_started")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, err)
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	wg.Wait()
	if err := bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	logMetrics(shutdownCtx, log, metrics)
	log.Info(context.Background(), "Server exited", "event", "shutdown_completed")
	return errors.Join(errs...)
}

func logMetrics(ctx context.Context, log *logger.Logger, metrics store.MetricStore) {
	m, err := metrics.GetMetrics(ctx)
	if err != nil {
		return
	}
	log.Info(ctx, "Final counters", "event", "final_metrics",
		"jobs_created", m.TotalJobsCreated,
		"transitions", m.TransitionsApplied,
		"stale_conflicts", m.StaleConflicts,
		"holds_failed", m.HoldsFailed,
		"captures_failed", m.CapturesFailed,
		"refunds_failed", m.RefundsFailed,
		"reconciled", m.Reconciled)
}
