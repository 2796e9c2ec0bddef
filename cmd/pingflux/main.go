// Command pingflux runs the probing and aggregation engine.
//
// # Usage
//
//	pingflux --config /etc/pingflux/config.yaml
//
// # Configuration
//
// The process is configured via a YAML file plus PINGFLUX_* environment
// overrides; see the config package for the full reference.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rafrcruz/pingflux/db/migrate"
	"github.com/rafrcruz/pingflux/internal/aggregate"
	"github.com/rafrcruz/pingflux/internal/catchup"
	"github.com/rafrcruz/pingflux/internal/config"
	"github.com/rafrcruz/pingflux/internal/health"
	"github.com/rafrcruz/pingflux/internal/live"
	"github.com/rafrcruz/pingflux/internal/persist"
	"github.com/rafrcruz/pingflux/internal/probe"
	"github.com/rafrcruz/pingflux/internal/scheduler"
	"github.com/rafrcruz/pingflux/internal/secrets"
	"github.com/rafrcruz/pingflux/internal/store"
	"github.com/rafrcruz/pingflux/internal/tracker"
	"github.com/rafrcruz/pingflux/pkg/types"
)

// Version is set at build time.
var Version = "dev"

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to YAML config file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("pingflux %s\n", Version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dbURL, err := secrets.NewResolverFromEnv(logger).ResolveDatabaseURL(cfg.Database.URL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	st, err := store.NewFromURL(ctx, dbURL)
	cancel()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	err = st.Ping(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("connected to database")

	ctx, cancel = context.WithTimeout(context.Background(), time.Minute)
	err = migrate.Run(ctx, st.Pool(), logger)
	cancel()
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	// Live cache and optional Redis snapshot publisher.
	var cache *live.Cache
	var publisher *live.Publisher
	if cfg.Live.Enabled {
		longest := types.Resolution60m.Duration()
		capacity := live.Capacity(cfg.Live.MaxPoints, longest, cfg.Probing.Interval, cfg.Live.Margin)
		cache = live.NewCache(capacity, nil)

		if cfg.Redis.URL != "" {
			publisher, err = live.NewPublisher(cfg.Redis.URL, 2*cfg.Probing.Interval+time.Second, logger)
			if err != nil {
				return err
			}
			defer publisher.Close()
			logger.Info("live snapshot publishing enabled")
		}
	}

	persister := persist.New(st, persist.Config{
		Threshold:     cfg.FlushThreshold(),
		FlushInterval: cfg.Persistence.FlushInterval,
		MaxPending:    cfg.Persistence.MaxPending,
		Logger:        logger,
	})

	reg := tracker.NewRegistry(cfg.Fallback.FallbackAfterFails, cfg.Fallback.RecoveryAfterOks, logger)

	icmpExec := probe.NewICMPExecutor(cfg.Probing.Timeout)
	if cfg.Probing.PingPath != "" {
		icmpExec.PingPath = cfg.Probing.PingPath
	}
	tcpExec := probe.NewTCPExecutor(cfg.Probing.TCPPort, cfg.Probing.Timeout)

	targets := make([]scheduler.Target, len(cfg.Probing.Targets))
	for i, t := range cfg.Probing.Targets {
		targets[i] = scheduler.Target{Address: t.Address, Preference: t.Preference}
	}

	sched := scheduler.New(scheduler.Config{
		Targets:  targets,
		Interval: cfg.Probing.Interval,
		Jitter:   cfg.Probing.Jitter,
		Logger:   logger,
	}, reg, []probe.Executor{icmpExec, tcpExec}, persister, cache, publisher)

	engine := aggregate.NewEngine(st, aggregate.Config{
		ProbeInterval: cfg.Probing.Interval,
		LatencyMs:     cfg.Alerts.LatencyMs,
		LossPct:       cfg.Alerts.LossPct,
		Logger:        logger,
	})
	catchupWorker := catchup.NewWorker(engine, catchup.Config{
		CatchupMinutes:  cfg.Aggregation.CatchupMinutes,
		Interval:        cfg.Aggregation.TickInterval,
		MaxBatchMinutes: cfg.Aggregation.MaxBatchMinutes,
	}, logger)

	collector := health.NewCollector(st, persister, reg)

	runCtx, stop := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	catchupWorker.Start(runCtx)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = persister.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		_ = sched.Run(runCtx)
	}()
	go logHealth(runCtx, collector, logger)

	logger.Info("pingflux started",
		"version", Version,
		"targets", len(targets),
		"interval", cfg.Probing.Interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	catchupWorker.Stop()
	stop()

	// Grace period for in-flight probes and the final flush.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown grace period exceeded")
	}

	logger.Info("shutdown complete")
	return nil
}

// logHealth periodically emits a one-line health summary.
func logHealth(ctx context.Context, collector *health.Collector, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := collector.Collect(ctx)
			logger.Info("health",
				"db_ok", r.DatabaseOK,
				"pending_samples", r.PendingSamples,
				"goroutines", r.Process.Goroutines,
				"memory_mb", r.Process.MemoryMB,
				"pool_acquired", r.Pool.AcquiredConnections)
		}
	}
}
