// Package main is the entry point for governord, the Governor daemon.
// It fronts the engine with the HTTP admin API, forwards webhook
// categories to downstream services, and exposes Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/governor"
	"github.com/xraph/governor/api"
	"github.com/xraph/governor/audit"
	"github.com/xraph/governor/engine"
	"github.com/xraph/governor/store/memory"
	"github.com/xraph/governor/store/postgres"
	redisstore "github.com/xraph/governor/store/redis"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "run store migrations before starting")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "governord:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger, *migrateFlag); err != nil {
		logger.Error("governord exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *serverConfig, logger *slog.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if migrate {
		logger.Info("running store migrations")
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}

	metricsHandler, meterProvider, err := initMetrics()
	if err != nil {
		return err
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			logger.Warn("meter provider shutdown failed", slog.String("error", err.Error()))
		}
	}()

	c, err := governor.New(
		governor.WithConfig(cfg.Governor),
		governor.WithStore(st),
		governor.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	eng, err := engine.Build(c,
		engine.WithMeterProvider(meterProvider),
		engine.WithExtension(audit.New(audit.SlogRecorder(logger))),
	)
	if err != nil {
		return err
	}

	registerWebhookCategories(eng, cfg.Categories, logger)

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start governor: %w", err)
	}

	router := mux.NewRouter()
	api.New(eng).RegisterRoutes(router)
	router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("governord listening",
			slog.String("addr", cfg.Addr),
			slog.String("store", cfg.Store),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		// The HTTP surface closes first so no new submissions arrive
		// while the engine drains.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Governor.ShutdownTimeout+10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", slog.String("error", err.Error()))
		}
		return c.Stop(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("governord stopped")
	return err
}

// openStore builds the configured persistence backend. The returned
// cleanup releases client resources not owned by the controller.
func openStore(ctx context.Context, cfg *serverConfig, logger *slog.Logger) (governor.Storer, func(), error) {
	switch cfg.Store {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		st := redisstore.New(client, redisstore.WithLogger(logger))
		if err := st.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return st, func() { _ = client.Close() }, nil

	case "postgres":
		st, err := postgres.New(ctx, cfg.DatabaseURL, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return st, func() { _ = st.Close() }, nil

	default:
		return memory.New(), func() {}, nil
	}
}

// initMetrics initializes the OpenTelemetry meter provider with a
// Prometheus exporter. The returned handler serves the /metrics endpoint.
func initMetrics() (http.Handler, *sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
