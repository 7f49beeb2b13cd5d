// Package main implements the entry point for wwebjsd, the WhatsApp session
// orchestration daemon: it owns one authenticated session, normalizes inbound
// traffic into application events and exposes the outbound send/edit API.
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

	"github.com/rgranatodutra/wwebjs-api/audit"
	"github.com/rgranatodutra/wwebjs-api/config"
	"github.com/rgranatodutra/wwebjs-api/emitter"
	"github.com/rgranatodutra/wwebjs-api/files"
	gatewayhttp "github.com/rgranatodutra/wwebjs-api/gateway/http"
	"github.com/rgranatodutra/wwebjs-api/inbound"
	"github.com/rgranatodutra/wwebjs-api/mapper"
	"github.com/rgranatodutra/wwebjs-api/metric"
	"github.com/rgranatodutra/wwebjs-api/natsclient"
	"github.com/rgranatodutra/wwebjs-api/outbound"
	"github.com/rgranatodutra/wwebjs-api/session"
	"github.com/rgranatodutra/wwebjs-api/storage/sqlitestore"
	"github.com/rgranatodutra/wwebjs-api/wire/meow"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "wwebjsd"
)

func main() {
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
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.NewLoader(cliCfg.ConfigPath).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "session", cfg.Identity.SessionID)
		return nil
	}

	ctx := context.Background()

	store, err := sqlitestore.New(ctx, cfg.Storage.DSN, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	metricsRegistry := metric.NewMetricsRegistry()

	events, natsClient, err := setupEmitters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer natsClient.Close()
	}

	sess, pipeline, err := setupSession(cfg, store, events, metricsRegistry, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	api, err := gatewayhttp.NewAPI(gatewayhttp.Options{
		Outbound: pipeline,
		Session:  sess,
		Registry: metricsRegistry,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create api: %w", err)
	}

	return runWithSignalHandling(ctx, cfg, sess, api, metricsRegistry, logger, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting wwebjsd (WhatsApp session orchestration)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// setupEmitters builds the event fan-out: HTTP endpoints, the optional NATS
// sink and the terminal QR renderer.
func setupEmitters(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (emitter.Emitter, *natsclient.Client, error) {
	sinks := emitter.Multi{newQRRenderer(logger)}

	if len(cfg.Events.Endpoints) > 0 {
		sinks = append(sinks, emitter.NewHTTP(cfg.Events.Endpoints, logger))
	}

	var natsClient *natsclient.Client
	if cfg.Events.NATSURL != "" {
		var err error
		natsClient, err = natsclient.NewClient(cfg.Events.NATSURL,
			natsclient.WithName(appName+"-"+cfg.Identity.SessionID),
			natsclient.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("create NATS client: %w", err)
		}

		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := natsClient.Connect(connCtx); err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}

		sinks = append(sinks, emitter.NewNATS(natsClient, cfg.Identity.SessionID, logger))
	}

	return sinks, natsClient, nil
}

// setupSession wires storage, socket factory and pipelines into a ready (not
// yet built) session plus the outbound pipeline serving the API.
func setupSession(
	cfg *config.Config,
	store *sqlitestore.Store,
	events emitter.Emitter,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*session.Session, *outbound.Pipeline, error) {
	auditSink := audit.NewSink(store, logger, cfg.Identity.Instance)
	filesClient := files.NewClient(cfg.Files.APIURL)
	contentMapper := mapper.New(filesClient, cfg.Identity.Instance, cfg.Identity.ClientID, logger)

	sess := session.New(session.Options{
		SessionID:       cfg.Identity.SessionID,
		ClientID:        cfg.Identity.ClientID,
		Instance:        cfg.Identity.Instance,
		Factory:         meow.NewFactory(store.Container(), store, logger),
		Store:           store,
		Emitter:         events,
		Audit:           auditSink,
		Logger:          logger,
		Registry:        metricsRegistry,
		HistoryCount:    cfg.History.Count,
		HistoryLookback: cfg.History.Lookback,
	})

	sess.SetInbound(inbound.New(sess, store, contentMapper, events, auditSink, logger, metricsRegistry))

	pipeline := outbound.New(outbound.Options{
		Session:        sess,
		Store:          store,
		Mapper:         contentMapper,
		Audit:          auditSink,
		Logger:         logger,
		MinTypingSpeed: cfg.Typing.MinSpeed,
		MaxTypingSpeed: cfg.Typing.MaxSpeed,
		Registry:       metricsRegistry,
	})

	return sess, pipeline, nil
}

// runWithSignalHandling builds the session, starts the listeners and blocks
// until a shutdown signal arrives.
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	sess *session.Session,
	api *gatewayhttp.API,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := sess.Build(signalCtx); err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	slog.Info("Session built", "session", cfg.Identity.SessionID)

	server := gatewayhttp.NewServer(cfg.HTTP.ListenAddr, api, logger)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, "/metrics", metricsRegistry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	slog.Info("wwebjsd started", "addr", cfg.HTTP.ListenAddr)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}

	slog.Info("wwebjsd shutdown complete")
	return nil
}
