// Package main is the messaging-core worker: it discovers every tenant
// database, deploys the embedded schema into each, then runs the
// lease-guarded outbox, inbox, scheduler, and idempotency dispatcher
// loops for every tenant until signaled to stop.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/correlator-io/correlator/internal/config"
	"github.com/correlator-io/correlator/internal/discovery"
	"github.com/correlator-io/correlator/internal/idempotency"
	"github.com/correlator-io/correlator/internal/idempotencystore"
	"github.com/correlator-io/correlator/internal/inbox"
	"github.com/correlator-io/correlator/internal/inboxstore"
	"github.com/correlator-io/correlator/internal/lease"
	"github.com/correlator-io/correlator/internal/leasestore"
	"github.com/correlator-io/correlator/internal/metrics"
	"github.com/correlator-io/correlator/internal/outbox"
	"github.com/correlator-io/correlator/internal/outboxstore"
	"github.com/correlator-io/correlator/internal/scheduler"
	"github.com/correlator-io/correlator/internal/schedulerstore"
	"github.com/correlator-io/correlator/internal/schemadeploy"
)

const (
	version = "1.0.0-dev"
	name    = "worker"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(config.GetEnvStr("LOG_LEVEL", "info")),
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("worker exited with error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	metricsRegistry := metrics.NewRegistry(prometheus.DefaultRegisterer)

	metricsServer := startMetricsServer(logger)
	defer func() { _ = metricsServer.Close() }()

	source, err := buildDiscoverySource()
	if err != nil {
		return err
	}

	registry := discovery.NewRegistry(source)
	defer func() { _ = registry.Close() }()

	databases, err := registry.Refresh(ctx)
	if err != nil {
		return err
	}

	logger.Info("discovered databases", slog.Int("count", len(databases)))

	deployer, err := schemadeploy.NewDeployer(logger)
	if err != nil {
		return err
	}

	deployed := deployer.DeployAll(ctx, databases, registry)

	select {
	case <-deployed:
	case <-time.After(30 * time.Second):
		logger.Warn("schema deployment still running after 30s, starting dispatchers anyway")
	case <-ctx.Done():
		return ctx.Err()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	for _, db := range databases {
		db := db

		conn, err := registry.Get(db.Name)
		if err != nil {
			logger.Error("skipping database: connection unavailable", slog.String("database", db.Name), slog.Any("error", err))

			continue
		}

		leaseMgr := lease.NewManager(leasestore.NewPostgresStore(conn, db.Schema, logger), lease.LoadConfig(), logger)
		leaseMgr.Metrics = metricsRegistry

		outboxStore := outboxstore.NewPostgresStore(conn, db.Schema, logger)
		inboxStore := inboxstore.NewPostgresStore(conn, db.Schema, logger)
		schedStore := schedulerstore.NewPostgresStore(conn, db.Schema, logger)
		idemStore := idempotencystore.NewPostgresStore(conn, db.Schema, logger)

		outboxDispatcher := outbox.NewDispatcher(outboxStore, leaseMgr, outbox.NewRegistry(), outbox.LoadConfig(), logger)
		outboxDispatcher.Metrics = metricsRegistry

		inboxDispatcher := inbox.NewDispatcher(inboxStore, leaseMgr, inbox.NewRegistry(), inbox.LoadConfig(), logger)
		inboxDispatcher.Metrics = metricsRegistry

		materialiser := scheduler.NewMaterialiser(schedStore, leaseMgr, scheduler.LoadConfig(), logger)
		materialiser.Metrics = metricsRegistry

		timerRunDispatcher := scheduler.NewTimerRunDispatcher(schedStore, outboxStore, leaseMgr, scheduler.LoadConfig(), logger)
		timerRunDispatcher.Metrics = metricsRegistry

		cleaner := idempotency.NewCleaner(idemStore, leaseMgr, idempotency.LoadConfig(), logger)
		cleaner.Metrics = metricsRegistry

		group.Go(func() error { return outboxDispatcher.Run(groupCtx, db.Name) })
		group.Go(func() error { return inboxDispatcher.Run(groupCtx, db.Name) })
		group.Go(func() error { return materialiser.Run(groupCtx, db.Name) })
		group.Go(func() error { return timerRunDispatcher.Run(groupCtx, db.Name) })
		group.Go(func() error { return cleaner.Run(groupCtx, db.Name) })
	}

	return group.Wait()
}

// buildDiscoverySource chooses a discovery.Source based on
// DISCOVERY_SOURCE: "envlist" (default) reads a comma-separated list of
// database names from DISCOVERY_DATABASES, "yaml" reads a file named by
// DISCOVERY_CONFIG_PATH.
func buildDiscoverySource() (discovery.Source, error) {
	switch config.GetEnvStr("DISCOVERY_SOURCE", "envlist") {
	case "yaml":
		return discovery.NewYAMLSource(config.GetEnvStr("DISCOVERY_CONFIG_PATH", "/etc/messaging-core/databases.yaml")), nil
	default:
		return discovery.NewEnvListSource("DISCOVERY_DATABASES"), nil
	}
}

func startMetricsServer(logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              config.GetEnvStr("METRICS_ADDR", ":9090"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped unexpectedly", slog.Any("error", err))
		}
	}()

	return server
}

func logLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}

	return level
}
