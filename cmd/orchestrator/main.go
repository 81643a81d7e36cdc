package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"home-orchestrator/config"
	"home-orchestrator/internal/application"
	"home-orchestrator/internal/dialogue"
	"home-orchestrator/internal/infra"
	"home-orchestrator/internal/infra/bus"
	"home-orchestrator/internal/infra/homeassistant"
	"home-orchestrator/internal/infra/httpapi"
	"home-orchestrator/internal/infra/pushover"
	"home-orchestrator/internal/infra/replay"
	"home-orchestrator/internal/infra/tuya"
	"home-orchestrator/internal/session"
	"home-orchestrator/internal/slots"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to config file")
	envFile := pflag.StringP("env", "e", ".env", "env file loaded before the config is expanded")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("loading env file", "path", *envFile, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting home orchestrator",
		"bus", cfg.Bus.Source,
		"devices", cfg.Devices.Backend,
		"session_store", cfg.Session.Store,
		"http", cfg.HTTP.Enabled,
	)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("orchestrator error", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	checks := make(map[string]httpapi.HealthCheck)

	devices, err := createDeviceController(ctx, cfg, checks, logger)
	if err != nil {
		return err
	}

	vocab := cfg.Vocabulary()
	extractor := slots.NewExtractor(cfg.Intents.Slots)
	executor := application.NewExecutor(devices, createNotifier(cfg.Pushover), cfg.Devices.Timeout, cfg.Dialogue.SecondaryName, logger)
	machine := dialogue.NewMachine(cfg.Dialogue.Script, vocab, extractor, executor, logger)

	store, closeStore, err := createSessionStore(ctx, cfg.Session, machine, checks, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	replies := application.Replies{
		UnknownIntent:     cfg.Dialogue.UnknownIntentReply,
		Failure:           cfg.Dialogue.Prompts.Failure,
		MissingColor:      cfg.Dialogue.MissingColor,
		MissingBrightness: cfg.Dialogue.MissingBrightness,
	}

	// With bus.source none the bus stays nil: HTTP ingest replies inline and
	// never publishes.
	var intentBus application.IntentBus
	var serveBus func(ctx context.Context, d *application.Dispatcher) error
	switch cfg.Bus.Source {
	case "websocket":
		ws := bus.NewWebSocketBus(bus.Config{
			URL:   cfg.Bus.URL,
			Token: cfg.Bus.Token,
			Reconnect: infra.RetryConfig{
				InitialDelay: cfg.Bus.ReconnectDelay,
				MaxDelay:     30 * time.Second,
				Multiplier:   2,
			},
		}, logger)
		intentBus = ws
		serveBus = func(ctx context.Context, d *application.Dispatcher) error { return ws.Run(ctx, d.OnIntent) }
	case "file":
		fb := replay.NewFileBus(cfg.Bus.FileDir, cfg.Bus.PollInterval, logger)
		intentBus = fb
		serveBus = func(ctx context.Context, d *application.Dispatcher) error { return fb.Run(ctx, d.OnIntent) }
	}

	dispatcher := application.NewDispatcher(vocab, extractor, machine, executor, store, intentBus, replies, logger)

	if serveBus != nil {
		g.Go(func() error { return serveBus(ctx, dispatcher) })
	}

	if cfg.HTTP.Enabled {
		server := httpapi.NewServer(cfg.HTTP.Addr, cfg.HTTP.AuthToken, httpapi.NewRateLimiter(cfg.HTTP.RatePerMinute), dispatcher.Handle, logger)
		for name, check := range checks {
			server.AddHealthCheck(name, check)
		}
		if err := server.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return server.Stop()
		})
	}

	return g.Wait()
}

func createDeviceController(ctx context.Context, cfg *config.Config, checks map[string]httpapi.HealthCheck, logger *slog.Logger) (application.DeviceController, error) {
	switch cfg.Devices.Backend {
	case "tuya":
		client := tuya.NewClient(cfg.Tuya.ClientID, cfg.Tuya.Secret, cfg.Tuya.Region)
		registry := tuya.NewRegistry(client, logger)
		if err := registry.Sync(ctx); err != nil {
			logger.Warn("initial device sync failed", "error", err)
		} else {
			logger.Debug("tuya devices synced", "devices", registry.Summary())
		}
		if cfg.Tuya.SyncInterval > 0 {
			registry.StartPeriodicSync(ctx, cfg.Tuya.SyncInterval)
		}
		return tuya.NewController(client, registry, cfg.Tuya.SecondaryDevice), nil

	default:
		client := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, homeassistant.Options{
			LightEntityFormat: cfg.HomeAssistant.LightEntityFormat,
			SecondaryEntity:   cfg.HomeAssistant.SecondaryEntity,
		})
		if err := client.Check(ctx); err != nil {
			if infra.IsPermanent(err) {
				return nil, err
			}
			logger.Warn("home assistant not reachable yet", "error", err)
		}
		checks["home_assistant"] = client.Check
		return client, nil
	}
}

func createSessionStore(ctx context.Context, cfg config.SessionConfig, machine *dialogue.Machine, checks map[string]httpapi.HealthCheck, logger *slog.Logger) (application.SessionStore, func(), error) {
	if cfg.Store == "redis" {
		store, err := session.NewRedisStore(ctx, cfg.Redis, cfg.IdleTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		store.OnExpire(machine.Expire)
		checks["redis"] = store.HealthCheck
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing redis", "error", err)
			}
		}, nil
	}

	store := session.NewMemoryStore(cfg.IdleTimeout, logger)
	store.OnExpire(machine.Expire)
	store.StartSweeper(ctx, cfg.SweepInterval)
	return store, func() {}, nil
}

func createNotifier(cfg config.PushoverConfig) application.Notifier {
	if !cfg.Enabled {
		return &application.NoopNotifier{}
	}
	return pushover.NewClient(cfg.Token, cfg.UserKey, cfg.Title)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	level, ok := logLevels[cfg.Level]
	if !ok {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	}

	return slog.New(handler)
}
