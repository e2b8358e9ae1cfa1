// Command crawld runs the crawl orchestration service: an HTTP API that
// accepts crawl submissions, executes them through a bounded launcher
// pool, and serves status and results for each run.
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

	gcppubsub "cloud.google.com/go/pubsub"
	gcpstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/patchlight/crawld/internal/api"
	"github.com/patchlight/crawld/internal/clock/system"
	"github.com/patchlight/crawld/internal/config"
	"github.com/patchlight/crawld/internal/crawl"
	"github.com/patchlight/crawld/internal/dispatcher"
	"github.com/patchlight/crawld/internal/fetcher/headless"
	simfetcher "github.com/patchlight/crawld/internal/fetcher/sim"
	sitefetcher "github.com/patchlight/crawld/internal/fetcher/site"
	"github.com/patchlight/crawld/internal/id/uuid"
	"github.com/patchlight/crawld/internal/logging"
	"github.com/patchlight/crawld/internal/metrics"
	"github.com/patchlight/crawld/internal/orchestrator"
	"github.com/patchlight/crawld/internal/progress"
	"github.com/patchlight/crawld/internal/progress/sinks"
	pubmem "github.com/patchlight/crawld/internal/publisher/memory"
	pubgcp "github.com/patchlight/crawld/internal/publisher/pubsub"
	quemem "github.com/patchlight/crawld/internal/queue/memory"
	regmem "github.com/patchlight/crawld/internal/registry/memory"
	regpg "github.com/patchlight/crawld/internal/registry/postgres"
	resmem "github.com/patchlight/crawld/internal/results/memory"
	respg "github.com/patchlight/crawld/internal/results/postgres"
	storegcs "github.com/patchlight/crawld/internal/storage/gcs"
	storelocal "github.com/patchlight/crawld/internal/storage/local"
	storemem "github.com/patchlight/crawld/internal/storage/memory"
	"github.com/patchlight/crawld/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "crawld: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idGen := uuid.New()
	clock := system.New()

	registry, results, storesClose, err := buildStores(ctx, cfg, idGen, clock)
	if err != nil {
		return err
	}
	defer storesClose()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics, err := metrics.NewHTTP(promReg)
	if err != nil {
		return err
	}
	promSink, err := sinks.NewPrometheusSink(promReg)
	if err != nil {
		return err
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	publisher, publisherClose, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer publisherClose()

	fetcher, fetcherClose, err := buildFetcher(ctx, cfg, idGen, clock, logger)
	if err != nil {
		return err
	}
	defer fetcherClose()

	queue := quemem.New(cfg.Crawler.QueueDepth)
	w := worker.New(
		registry,
		results,
		fetcher,
		buildEstimator(cfg),
		clock,
		hub,
		publisher,
		worker.Config{PublishTopic: cfg.Publisher.Topic},
		logger.Named("worker"),
	)
	pool := dispatcher.New(queue, w, cfg.Crawler.Concurrency, logger.Named("dispatcher"))
	pool.Start(ctx)

	orch := orchestrator.New(registry, results, queue, clock, logger.Named("orchestrator"))
	server := api.NewServer(orch, api.Config{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, httpMetrics, metrics.Handler(promReg), logger.Named("api"))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	queue.Close()
	pool.Wait()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close incomplete", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, idGen crawl.IDGenerator, clock crawl.Clock) (crawl.Registry, crawl.ResultsStore, func(), error) {
	switch cfg.Registry.Provider {
	case "postgres":
		registry, err := regpg.New(ctx, regpg.Config{DSN: cfg.Registry.DSN}, idGen, clock)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres registry: %w", err)
		}
		results, err := respg.New(ctx, respg.Config{DSN: cfg.Registry.DSN})
		if err != nil {
			registry.Close()
			return nil, nil, nil, fmt.Errorf("postgres results store: %w", err)
		}
		return registry, results, func() {
			results.Close()
			registry.Close()
		}, nil
	default:
		return regmem.New(idGen, clock), resmem.New(), func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (crawl.Publisher, func(), error) {
	switch cfg.Publisher.Provider {
	case "memory":
		return pubmem.New(), func() {}, nil
	case "pubsub":
		client, err := gcppubsub.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := pubgcp.New(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return publisher, func() {
			publisher.Close()
			_ = client.Close()
		}, nil
	default:
		return nil, func() {}, nil
	}
}

func buildSnapshots(ctx context.Context, cfg config.Config) (crawl.BlobStore, func(), error) {
	switch cfg.Snapshots.Provider {
	case "memory":
		return storemem.New(), func() {}, nil
	case "local":
		store, err := storelocal.New(cfg.Snapshots.Local.BaseDir)
		if err != nil {
			return nil, nil, fmt.Errorf("local snapshot store: %w", err)
		}
		return store, func() {}, nil
	case "gcs":
		client, err := gcpstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := storegcs.New(client, storegcs.Config{Bucket: cfg.Snapshots.GCS.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func buildFetcher(ctx context.Context, cfg config.Config, idGen crawl.IDGenerator, clock crawl.Clock, logger *zap.Logger) (crawl.Fetcher, func(), error) {
	if cfg.Fetcher.Mode == "sim" {
		return simfetcher.New(simfetcher.Config{
			Pages:     cfg.Fetcher.Sim.Pages,
			UnitDelay: time.Duration(cfg.Fetcher.Sim.UnitDelayMs) * time.Millisecond,
			FailAt:    cfg.Fetcher.Sim.FailAt,
		}, clock, idGen), func() {}, nil
	}

	var renderer headless.Renderer = headless.Noop{}
	cleanup := func() {}
	if cfg.Headless.Enabled {
		chrome, err := headless.NewChromeRenderer(headless.Config{
			MaxParallel: cfg.Headless.MaxParallel,
			UserAgent:   cfg.Fetcher.UserAgent,
			NavTimeout:  time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("headless renderer: %w", err)
		}
		renderer = chrome
		cleanup = chrome.Close
	}

	blobs, blobsClose, err := buildSnapshots(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	fetcher := sitefetcher.New(sitefetcher.Config{
		UserAgent:          cfg.Fetcher.UserAgent,
		Timeout:            time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
		MaxPages:           cfg.Fetcher.MaxPages,
		MaxDepth:           cfg.Fetcher.MaxDepth,
		SnapshotPrefix:     cfg.Snapshots.Prefix,
		PromotionThreshold: cfg.Headless.PromotionThreshold,
	}, renderer, blobs, idGen, clock, logger.Named("fetcher"))

	return fetcher, func() {
		blobsClose()
		cleanup()
	}, nil
}

func buildEstimator(cfg config.Config) worker.Estimator {
	if cfg.Crawler.Estimator == "frontier" {
		return worker.FrontierEstimator{}
	}
	return worker.BudgetEstimator{Budget: cfg.Crawler.PageBudgetDefault}
}
