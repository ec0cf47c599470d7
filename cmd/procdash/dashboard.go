package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/procdash/internal/config"
	"github.com/loykin/procdash/internal/history"
	historyfactory "github.com/loykin/procdash/internal/history/factory"
	"github.com/loykin/procdash/internal/manager"
	"github.com/loykin/procdash/internal/metrics"
	"github.com/loykin/procdash/internal/server"
	"github.com/loykin/procdash/internal/shutdown"
	apitls "github.com/loykin/procdash/internal/tls"
	"github.com/loykin/procdash/internal/tui"
)

// runDashboard loads the config, starts the autostart processes and runs the
// dashboard until shutdown is requested. Every process is stopped before it
// returns, whatever the reason for leaving the dashboard.
func runDashboard(ctx context.Context, flags *RootFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !isTerminal(os.Stdout) {
		return errors.New("the dashboard needs a terminal; use 'procdash status' or 'procdash validate' instead")
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	procOpts, err := cfg.ProcessOptions()
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", flags.ConfigPath, err)
	}
	shared, err := cfg.SharedEnv()
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", flags.ConfigPath, err)
	}

	// the terminal belongs to the dashboard: diagnostics go to the log file or nowhere
	log, logCloser := cfg.Logger().NewSlogger(io.Discard)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)
	procOpts.Logger = log

	rec, reader, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			log.Warn("history close failed", "error", err)
		}
	}()

	mgr, err := manager.New(cfg.Specs(), manager.Options{
		Process:       procOpts,
		LogLines:      cfg.LogLines,
		Env:           shared,
		History:       rec,
		HistoryReader: reader,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", flags.ConfigPath, err)
	}
	defer mgr.Close()

	if cfg.API.Listen != "" {
		srv, err := startAPI(cfg, mgr, log)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	quit := shutdown.New()
	stopSignals := quit.Notify(ctx)
	defer stopSignals()

	log.Info("procdash starting", "config", flags.ConfigPath, "processes", mgr.Len(), "version", version)
	mgr.StartAll()

	model := tui.New(mgr, quit, tui.Options{TickInterval: cfg.TickInterval, Logger: log})
	runErr := tui.Run(ctx, model)
	if runErr != nil && quit.Requested() {
		// a shutdown signal may also interrupt the program itself
		log.Debug("dashboard interrupted by shutdown", "error", runErr)
		runErr = nil
	}
	if runErr != nil {
		log.Error("dashboard stopped", "error", runErr)
	}
	// the dashboard has released the terminal; stopping may take a grace window
	_, _ = fmt.Fprintln(os.Stderr, "Stopping processes...")
	mgr.Close()
	log.Info("procdash stopped")
	return runErr
}

// openHistory builds the history recorder for the configured DSN. With no
// DSN the recorder has no sinks and discards events.
func openHistory(cfg *config.FileConfig, log *slog.Logger) (*history.Recorder, history.Reader, error) {
	if cfg.History.DSN == "" {
		return history.NewRecorder(log), nil, nil
	}
	sink, err := historyfactory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open history %s: %w", cfg.History.DSN, err)
	}
	reader, _ := sink.(history.Reader)
	log.Info("history enabled", "queryable", reader != nil)
	return history.NewRecorder(log, sink), reader, nil
}

func startAPI(cfg *config.FileConfig, mgr *manager.Manager, log *slog.Logger) (*http.Server, error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := prometheus.Register(metrics.NewUsageCollector(mgr)); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register usage metrics: %w", err)
		}
	}
	tlsCfg, err := apitls.Setup(cfg.APITLS())
	if err != nil {
		return nil, fmt.Errorf("api tls: %w", err)
	}
	srv, err := server.NewServer(cfg.API.Listen, server.DefaultBasePath, mgr, tlsCfg, log)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.API.Listen, err)
	}
	return srv, nil
}
