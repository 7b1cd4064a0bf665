// Package main implements the entry point for the incident watcher, the
// service that ingests CAD call export files, aggregates them into active
// incidents and serves the result to dashboards.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/incidentwatch/aggregate"
	"github.com/c360/incidentwatch/config"
	"github.com/c360/incidentwatch/extract"
	"github.com/c360/incidentwatch/gateway"
	"github.com/c360/incidentwatch/metric"
	"github.com/c360/incidentwatch/scheduler"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "incidentwatch"
)

// component is the common lifecycle of the long-running pieces.
type component interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting incident watcher",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	if err := os.MkdirAll(cfg.Directories.Staging, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	components, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(components, cliCfg.ShutdownTimeout)
}

// loadConfiguration loads the config file layers, applies flag overrides and
// validates the result.
func loadConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Flags override file and environment.
	if cliCfg.SourceDir != "" {
		cfg.Directories.Source = cliCfg.SourceDir
	}
	if cliCfg.StagingDir != "" {
		cfg.Directories.Staging = cliCfg.StagingDir
	}
	if cliCfg.ListenAddress != "" {
		cfg.Server.Address = cliCfg.ListenAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildComponents wires the pipeline and returns the components in start
// order.
func buildComponents(cfg *config.Config, logger *slog.Logger) ([]component, error) {
	metricsRegistry := metric.NewMetricsRegistry()
	tables := cfg.Policy.Tables()

	registry := aggregate.NewRegistry()
	extractor := extract.NewExtractor(tables.ExcludedUnitTypes, logger)
	aggregator := aggregate.NewAggregator(extractor, tables, registry, logger)
	pipeline := aggregate.NewPipeline(cfg.Directories.Staging, aggregator, extractor, registry,
		metricsRegistry.Metrics, logger)

	gw := gateway.NewGateway(cfg.Server, pipeline, metricsRegistry, logger)
	sched := scheduler.NewScheduler(cfg.Directories.Source, cfg.Schedule, cfg.Retention, pipeline, logger,
		scheduler.WithPublisher(gw.Publisher()),
		scheduler.WithPoolMetrics(metricsRegistry.PrometheusRegistry()))

	// The gateway starts first so dashboards can connect before the first
	// pass publishes.
	return []component{gw, sched}, nil
}

// runWithSignalHandling starts the components and stops them on SIGINT or
// SIGTERM.
func runWithSignalHandling(components []component, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	for _, c := range components {
		if err := c.Initialize(); err != nil {
			return fmt.Errorf("initialize component: %w", err)
		}
	}
	for i, c := range components {
		if err := c.Start(signalCtx); err != nil {
			stopComponents(components[:i], shutdownTimeout)
			return fmt.Errorf("start component: %w", err)
		}
	}
	slog.Info("incident watcher started")

	<-signalCtx.Done()
	slog.Info("shutdown signal received")

	if err := stopComponents(components, shutdownTimeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("incident watcher stopped")
	return nil
}

// stopComponents stops components concurrently within the shared timeout.
// Each component tolerates peers stopping in any order.
func stopComponents(components []component, timeout time.Duration) error {
	var g errgroup.Group
	for _, c := range components {
		g.Go(func() error {
			return c.Stop(timeout)
		})
	}
	return g.Wait()
}
