package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mssql2pg/internal/config"
	"mssql2pg/internal/metrics"
	"mssql2pg/internal/metrics/datadog"
	"mssql2pg/internal/metrics/prompush"
	"mssql2pg/internal/storage"
	"mssql2pg/pkg/logger"

	// register every engine with the storage factory; config picks one per side.
	_ "mssql2pg/internal/storage/all"
)

// main loads configuration, wires logging and metrics, and runs the selected
// mode (or the interactive menu) until it finishes or the process is
// signalled.
func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	issues := config.Validate(*cfg)
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss.Error())
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(os.Stderr, "configuration is invalid")
		return 2
	}

	logger.Initialize(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, EnableColor: true})
	defer setupMetrics(cfg)()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg: cfg,
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
		openSource: func(ctx context.Context) (storage.Source, error) {
			return storage.OpenSource(ctx, storage.Config{Engine: cfg.SourceEngine, DSN: cfg.SourceDSN})
		},
		openTarget: func(ctx context.Context) (storage.Target, error) {
			return storage.OpenTarget(ctx, storage.Config{Engine: cfg.TargetEngine, DSN: cfg.TargetDSN})
		},
		now: time.Now,
	}
	if err := a.run(ctx); err != nil {
		logger.Error("run failed", err)
		return 1
	}
	return 0
}

// setupMetrics installs the configured backend and returns the flush to run
// on exit. A backend that cannot start leaves metrics disabled.
func setupMetrics(cfg *config.Config) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch cfg.MetricsBackend {
	case "prometheus":
		b, err = prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.StatsdAddr,
			Namespace:  "mssql2pg.",
			GlobalTags: []string{"job:" + cfg.Job},
		})
	default:
		logger.Debug("metrics disabled", logger.Fields{"backend": cfg.MetricsBackend})
		return func() {}
	}
	if err != nil {
		logger.Warn("metrics backend unavailable; using nop", logger.Fields{"backend": cfg.MetricsBackend, "error": err.Error()})
		return func() {}
	}
	logger.Info("metrics enabled", logger.Fields{"backend": cfg.MetricsBackend, "job": cfg.Job})
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			logger.Warn("metrics flush failed", logger.Fields{"error": err.Error()})
		}
	}
}
