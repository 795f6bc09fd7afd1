package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/izavyalov-dev/delta-qa/internal/archive"
	"github.com/izavyalov-dev/delta-qa/internal/config"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
	"github.com/izavyalov-dev/delta-qa/internal/vcs/github"
	"github.com/izavyalov-dev/delta-qa/orchestrator"
	"github.com/izavyalov-dev/delta-qa/state"
)

const (
	shutdownTimeout = 30 * time.Second
	janitorSchedule = "@every 1h"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the webhook server and the analysis workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Override the listen port",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c, true)
			if err != nil {
				return err
			}
			if c.IsSet("port") {
				cfg.Port = c.Int("port")
			}
			return serve(c.Context, cfg)
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	logs := newLoggerFactory(cfg)
	logger := logs("delta-qa")
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db    *sql.DB
		store *state.Store
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		store = state.NewStore(db)
		applied, err := store.ApplyMigrations(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "event", "migrations_applied", "migrations", applied)
		}
	} else if cfg.DurableQueue {
		return errors.New("durable_queue requires database_url")
	}

	ghClient, err := newGitHubClient(cfg, logs)
	if err != nil {
		return fmt.Errorf("github client: %w", err)
	}

	metrics := observability.NewMetrics(nil)
	var metricsHandler http.Handler
	if cfg.EnableMetrics {
		metricsHandler = observability.MetricsHandler()
	}

	sinks := []orchestrator.ReportSink{orchestrator.NewLogSink(logs("report"))}
	var (
		recorder   orchestrator.RunRecorder = orchestrator.NoopRecorder{}
		deliveries state.DeliveryStore      = state.NewMemoryDeliveries()
		reports    orchestrator.ReportReader
		archiver   orchestrator.WebhookArchiver
		auditor    *archive.AuditLog
	)
	if store != nil {
		recorder = store
		deliveries = store
		reports = store
		sinks = append(sinks, orchestrator.NewStoreSink(store))
	}
	if cfg.ArchiveS3Bucket != "" {
		s3Archiver, err := archive.NewS3Archiver(ctx, archive.S3Config{
			Bucket: cfg.ArchiveS3Bucket,
			Prefix: cfg.ArchiveS3Prefix,
			Region: cfg.ArchiveS3Region,
		})
		if err != nil {
			return fmt.Errorf("s3 archive: %w", err)
		}
		archiver = s3Archiver
		sinks = append(sinks, s3Archiver)
	}
	if cfg.PostPRComment {
		var comments github.CommentStore
		if store != nil {
			comments = store
		}
		sinks = append(sinks, github.NewReporter(ghClient, comments, logs("github.reporter")))
	}
	if cfg.EnableWebhookAudit {
		auditor, err = archive.NewAuditLog(cfg.WebhookAuditDir)
		if err != nil {
			return fmt.Errorf("webhook audit: %w", err)
		}
	}

	st := newStages(cfg, logs)
	pipeline := orchestrator.NewPipeline(orchestrator.PipelineConfig{
		Fetcher:      ghClient,
		Tree:         ghClient,
		Analyzer:     st.analyzer,
		Detector:     st.detector,
		Planner:      st.planner,
		Recorder:     recorder,
		Sinks:        sinks,
		Metrics:      metrics,
		IDs:          orchestrator.RandomIDGenerator{},
		Logger:       logs("pipeline"),
		StageTimeout: cfg.AgentTimeout(),
		FetchTimeout: cfg.FetchTimeout(),
	})
	pool := orchestrator.NewWorkerPool(pipeline, cfg.PipelineWorkers, cfg.PipelineQueueSize, logs("dispatcher"))

	var (
		dispatcher orchestrator.Dispatcher = pool
		queue      *orchestrator.QueueDispatcher
	)
	if cfg.DurableQueue {
		queue = orchestrator.NewQueueDispatcher(orchestrator.QueueDispatcherConfig{
			Queue:      store,
			Pool:       pool,
			Logger:     logs("dispatcher.queue"),
			Visibility: cfg.QueueVisibility(),
		})
		dispatcher = queue
	}

	handlerCfg := orchestrator.HandlerConfig{
		Secret:         cfg.GitHubWebhookSecret,
		Dispatcher:     dispatcher,
		Deliveries:     deliveries,
		DeliveryTTL:    cfg.DeliveryTTL(),
		Reports:        reports,
		Archiver:       archiver,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Logger:         logs("orchestrator.http"),
	}
	if auditor != nil {
		handlerCfg.Auditor = auditor
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           orchestrator.NewHTTPHandler(handlerCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	janitor := cron.New()
	if _, err := janitor.AddFunc(janitorSchedule, func() {
		runJanitor(ctx, cfg, deliveries, store, auditor, logger)
	}); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("delta-qa listening", "event", "server_started", "addr", server.Addr, "mode", cfg.Mode(), "durable_queue", cfg.DurableQueue)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if queue != nil {
		group.Go(func() error {
			return queue.Run(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down", "event", "server_stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		serverErr := server.Shutdown(shutdownCtx)
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("worker pool did not drain", "event", "pool_shutdown_timeout", "error", err)
		}
		return serverErr
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("delta-qa stopped", "event", "server_stopped")
	return nil
}

// runJanitor drops expired delivery records, exhausted queue items and old
// audit files.
func runJanitor(ctx context.Context, cfg config.Config, deliveries state.DeliveryStore, store *state.Store, auditor *archive.AuditLog, logger *slog.Logger) {
	if purged, err := deliveries.PurgeExpiredDeliveries(ctx, time.Now().UTC()); err != nil {
		logger.Error("delivery purge failed", "event", "janitor_delivery_purge_failed", "error", err)
	} else if purged > 0 {
		logger.Info("expired deliveries purged", "event", "janitor_delivery_purge", "count", purged)
	}

	if store != nil && cfg.DurableQueue {
		if purged, err := store.PurgeExhaustedAnalyses(ctx); err != nil {
			logger.Error("queue purge failed", "event", "janitor_queue_purge_failed", "error", err)
		} else if purged > 0 {
			logger.Warn("exhausted analyses dropped", "event", "janitor_queue_purge", "count", purged)
		}
	}

	if auditor != nil && cfg.WebhookAuditRetentionDays > 0 {
		retention := time.Duration(cfg.WebhookAuditRetentionDays) * 24 * time.Hour
		if removed, err := auditor.Prune(retention); err != nil {
			logger.Error("audit prune failed", "event", "janitor_audit_prune_failed", "error", err)
		} else if removed > 0 {
			logger.Info("audit files pruned", "event", "janitor_audit_prune", "count", removed)
		}
	}
}
