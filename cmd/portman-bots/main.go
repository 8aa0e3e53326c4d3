package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0x-ximon/portman/bots/internal/config"
	"github.com/0x-ximon/portman/bots/internal/dashboard"
	"github.com/0x-ximon/portman/bots/internal/logging"
	"github.com/0x-ximon/portman/bots/internal/metrics"
	"github.com/0x-ximon/portman/bots/internal/output"
	"github.com/0x-ximon/portman/bots/internal/runner"
	"github.com/0x-ximon/portman/bots/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, config.NewLoader(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads the configuration and drives one bot run. Bot failures are
// reported, not returned: only configuration and setup errors make it
// return non-nil.
func run(ctx context.Context, loader *config.Loader, args []string, stdout, stderr io.Writer) error {
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logOut, closeLog, err := logOutput(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: logOut})

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	collector := metrics.NewCollector()
	collector.Plan(cfg.Amount)

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Serve(cfg.MetricsAddr, collector)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		logger.Info().Str("addr", srv.Addr()).Msg("serving metrics")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(collector, dashboard.RunConfig{
			APIURL:      cfg.APIURL,
			Bots:        cfg.Amount,
			Concurrency: cfg.Concurrency,
			Timeout:     cfg.Timeout,
			TickCount:   cfg.Ticks.Count,
			ConfigFile:  cfg.ConfigFile,
		}, cancel)
		if err != nil {
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(collector, progressInterval, stderr)
		progress.Start()
	}

	manager := runner.NewManager(runner.Options{
		Secret:      cfg.Secret,
		Concurrency: cfg.Concurrency,
		Timeout:     cfg.Timeout,
		Headers:     cfg.Headers,
		Logger:      logger,
		Tracer:      provider.Tracer(),
		Propagate:   provider.ShouldPropagate(),
		Recorder:    collector,
		Tickers:     cfg.Tickers.Enabled,
		Ticks: runner.TicksOptions{
			Count:       cfg.Ticks.Count,
			Path:        cfg.Ticks.Path,
			ReadTimeout: cfg.Ticks.ReadTimeout,
		},
	})

	startedAt := time.Now()
	runID := output.NewRunID(startedAt)
	collector.Start()
	res, err := manager.Start(ctx, cfg.APIURL, cfg.Amount)

	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	report := output.NewReport(runID, cfg.APIURL, startedAt, cfg.Amount, res, collector.Stats(res.Duration))
	if err := writeReport(cfg, stdout, report); err != nil {
		return err
	}

	if cfg.HistoryFile != "" {
		if err := output.AppendHistory(cfg.HistoryFile, output.HistoryEntryFrom(report)); err != nil {
			logger.Warn().Err(err).Str("path", cfg.HistoryFile).Msg("could not record run history")
		}
	}
	return nil
}

func writeReport(cfg *config.Config, w io.Writer, report output.Report) error {
	switch {
	case cfg.JSONOutput:
		return output.PrintJSONReport(w, report)
	case cfg.YAMLOutput:
		return output.PrintYAMLReport(w, report)
	case cfg.Summary || cfg.Dashboard:
		output.PrintReport(w, report)
	}
	return nil
}

// logOutput picks where worker lines go. The dashboard owns the terminal,
// so without --log-file its logs are discarded.
func logOutput(cfg *config.Config, stderr io.Writer) (io.Writer, func(), error) {
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	}
	if cfg.Dashboard {
		return io.Discard, func() {}, nil
	}
	return stderr, func() {}, nil
}
