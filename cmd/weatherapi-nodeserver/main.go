package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpapi "github.com/i474232898/weatherapi-nodeserver/internal/api/http"
	"github.com/i474232898/weatherapi-nodeserver/internal/config"
	"github.com/i474232898/weatherapi-nodeserver/internal/logging"
	"github.com/i474232898/weatherapi-nodeserver/internal/nodes"
	"github.com/i474232898/weatherapi-nodeserver/internal/observability"
	"github.com/i474232898/weatherapi-nodeserver/internal/polyglot"
	"github.com/i474232898/weatherapi-nodeserver/internal/scheduler"
	"github.com/i474232898/weatherapi-nodeserver/internal/store"
	"github.com/i474232898/weatherapi-nodeserver/internal/weather"
	"github.com/i474232898/weatherapi-nodeserver/internal/weather/providers"
)

const appName = "weatherapi-nodeserver"

// Overridden with -ldflags "-X main.version=...".
var version = "dev"

type readingStore interface {
	weather.Store
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	logger.Info("starting",
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"poll_source", cfg.PollSource,
		"store", cfg.StoreDriver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}

	logger.Info("shutting down")
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	if cfg.Polyglot.Generated {
		logger.Warn("no Polyglot uuid configured, using a generated one", "uuid", cfg.Polyglot.UUID)
	}

	metrics := observability.NewMetrics()

	readings, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := readings.Close(); err != nil {
			logger.Warn("failed to close store", "err", err)
		}
	}()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	backoff := providers.BackoffConfig{
		MaxRetries:      cfg.APIMaxRetries,
		InitialInterval: cfg.APIRetryInterval,
		MaxInterval:     30 * time.Second,
	}
	newProvider := func(apiKey string) weather.Provider {
		return providers.NewWeatherAPIProvider(httpClient, apiKey, cfg.WeatherAPIBaseURL, backoff)
	}

	service := weather.NewService(readings, newProvider, metrics, weather.Options{
		CacheTTL:        cfg.CacheTTL,
		RateLimitCalls:  cfg.RateLimitCalls,
		RateLimitPeriod: cfg.RateLimitPeriod,
		Logger:          logger.With("component", "weather"),
	})

	transport, err := polyglot.NewMQTTTransport(polyglot.MQTTOptions{
		Host:     cfg.Polyglot.MQTTHost,
		Port:     cfg.Polyglot.MQTTPort,
		ClientID: cfg.Polyglot.ClientID(),
		Username: cfg.Polyglot.ClientID(),
		Password: cfg.Polyglot.Token,
		CAFile:   cfg.Polyglot.CAFile,
		CertFile: cfg.Polyglot.CertFile,
		KeyFile:  cfg.Polyglot.KeyFile,
	}, logger)
	if err != nil {
		return err
	}
	hub := polyglot.NewInterface(cfg.Polyglot.ClientID(), transport, metrics, logger)

	ctrl := nodes.NewController(hub, service, metrics, nodes.Options{
		APIKey:   cfg.WeatherAPIKey,
		Location: cfg.Location,
		// Worst case: a full rate limit window plus every retry timing out.
		PollTimeout: cfg.RateLimitPeriod + time.Duration(cfg.APIMaxRetries+1)*(cfg.HTTPTimeout+backoff.MaxInterval),
		Logger:      logger,
	})
	hub.SetHandlers(ctrl.Handlers())

	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("connect to polyglot: %w", err)
	}
	defer hub.Stop()

	if cfg.PollSource == config.PollSourceLocal {
		sched := scheduler.New(ctrl, cfg.ShortPoll, cfg.LongPoll, logger)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	if cfg.HTTPEnabled {
		app := httpapi.NewApp(true)
		httpapi.RegisterRoutes(app, service, ctrl, prometheus.DefaultGatherer)

		go func() {
			if err := app.Listen(":" + cfg.Port); err != nil {
				logger.Error("http server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				logger.Warn("error during http shutdown", "err", err)
			}
		}()
	}

	err = ctrl.Run(ctx)
	if errors.Is(err, nodes.ErrStopRequested) {
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg *config.AppConfig) (readingStore, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath, cfg.StoreMaxHistory, cfg.StoreMaxAge)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge), nil
	}
}
