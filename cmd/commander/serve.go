package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cvsloane/agent-commander/internal/api"
	"github.com/cvsloane/agent-commander/internal/auth"
	"github.com/cvsloane/agent-commander/internal/config"
	"github.com/cvsloane/agent-commander/internal/correlator"
	"github.com/cvsloane/agent-commander/internal/notifier"
	"github.com/cvsloane/agent-commander/internal/registry"
	"github.com/cvsloane/agent-commander/internal/router"
	"github.com/cvsloane/agent-commander/internal/transport"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket hub and HTTP API",
		Long: `Run the hub. Configuration is layered: built-in defaults, then the YAML
file from --config, then variables from --env-file and the process
environment (COMMANDER_*), then any flag set on the command line.

Send SIGHUP to reload notification recipients from the config file.

Examples:
  # Run with a config file
  commander serve --config /etc/commander/commander.yaml

  # Override the listen address for local testing
  commander serve --config commander.yaml --listen 127.0.0.1:9090 --log-format console`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("COMMANDER_CONFIG"), "Path to the YAML config file.")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment. Missing files are ignored.")
	flags := config.RegisterFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		flags.Apply(&cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, err := cfg.Logger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		logger.Info("Starting commander",
			zap.String("version", version),
			zap.String("listen", cfg.ListenAddr),
			zap.String("config", configPath),
			zap.Int("tokens", len(cfg.Tokens)),
			zap.Int("recipients", len(cfg.Notifications.Recipients)),
		)

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.run(ctx, configPath)
	}
	return cmd
}

// app is the fully wired hub.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	registry   *registry.Registry
	router     *router.Router
	correlator *correlator.Correlator
	batcher    *notifier.Batcher
	engine     *notifier.Engine
	recipients *notifier.RecipientStore
	handler    http.Handler
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	verifier, err := auth.NewStaticVerifier(cfg.Tokens)
	if err != nil {
		return nil, err
	}

	regLogger := logger.Named("registry")
	reg := registry.New(func(evt registry.ChangeEvent) {
		regLogger.Debug("Registry changed",
			zap.String("change", string(evt.Type)),
			zap.String("id", evt.ID))
	})

	batcher := notifier.NewBatcher(logger, cfg.BatcherOptions())
	engine := notifier.NewEngine(batcher, logger, cfg.EngineOptions())
	recipients := notifier.NewRecipientStore(logger)
	if err := recipients.Update(cfg.Notifications.Recipients); err != nil {
		return nil, fmt.Errorf("configure recipients: %w", err)
	}
	alerter := notifier.NewAlerter(engine, recipients, logger, notifier.AlerterOptions{BaseURL: cfg.PublicURL})

	rt := router.New(reg, logger, router.WithListener(alerter))
	corr := correlator.New(reg, logger, cfg.CorrelatorOptions())
	ts := transport.New(reg, rt, corr, verifier, logger, cfg.TransportOptions())

	handler := api.NewHandler(api.Deps{
		Registry:   reg,
		Router:     rt,
		Correlator: corr,
		Verifier:   verifier,
		Transport:  ts,
		Recipients: recipients,
		Batcher:    batcher,
		Engine:     engine,
	}, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		registry:   reg,
		router:     rt,
		correlator: corr,
		batcher:    batcher,
		engine:     engine,
		recipients: recipients,
		handler:    handler,
	}, nil
}

// run serves until ctx is canceled, then drains connections and the
// notification queue.
func (a *app) run(ctx context.Context, configPath string) error {
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.engine.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		closed := a.registry.CloseAll("server shutting down")
		a.logger.Info("Closed live connections", zap.Int("count", closed))
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.watchReload(gctx, configPath)
		return nil
	})

	err := g.Wait()
	a.batcher.Close()
	a.logger.Info("Shutdown complete")
	return err
}

// watchReload reloads recipients on SIGHUP until ctx is done.
func (a *app) watchReload(ctx context.Context, configPath string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.reloadRecipients(configPath); err != nil {
				a.logger.Error("Recipient reload failed, keeping previous set", zap.Error(err))
			}
		}
	}
}

// reloadRecipients re-reads the config and swaps the recipient set. The
// previous set stays active on any error.
func (a *app) reloadRecipients(configPath string) error {
	if configPath == "" {
		return errors.New("no config file to reload from")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := a.recipients.Update(cfg.Notifications.Recipients); err != nil {
		return err
	}
	a.logger.Info("Reloaded notification recipients", zap.Int("recipients", a.recipients.Len()))
	return nil
}
