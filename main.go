package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mahakalaqua/visitor-tracker/internal/api/rest"
	"github.com/mahakalaqua/visitor-tracker/internal/api/websocket"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/values"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/backend"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/config"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/flagstore"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/geocoding"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/geolocation"
	"github.com/mahakalaqua/visitor-tracker/internal/infrastructure/telemetry"
	"github.com/mahakalaqua/visitor-tracker/internal/metrics"
	"github.com/mahakalaqua/visitor-tracker/internal/service/tracking"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(ctx, cfg); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting visitor tracker",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"port", cfg.Server.Port)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	var store flagstore.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		store = flagstore.NewRedisStore(client, zapLogger.Named("flagstore"))
	} else {
		slog.Warn("no redis configured, flags will not survive a restart")
		store = flagstore.NewMemoryStore()
	}

	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, zapLogger.Named("backend"))
	geocoder := geocoding.NewReverseGeocoder(cfg.Geocoder.BaseURL, cfg.Geocoder.Timeout, zapLogger.Named("geocoder"))

	var provider geolocation.PositionProvider
	if cfg.Location.StaticEnabled {
		coord, err := values.NewCoordinate(cfg.Location.StaticLatitude, cfg.Location.StaticLongitude)
		if err != nil {
			return err
		}
		provider = geolocation.NewStaticProvider(coord, 50)
	}

	m := metrics.New()

	hub := websocket.NewHub(zapLogger.Named("ws"))
	go hub.Run(ctx)
	defer hub.Close()

	acquirerCfg := geolocation.Config{
		HighAccuracy:    cfg.Location.HighAccuracy,
		RequestTimeout:  cfg.Location.RequestTimeout,
		WatchdogTimeout: cfg.Location.WatchdogTimeout,
		MaximumAge:      cfg.Location.MaximumAge,
	}

	registry := tracking.NewRegistry(func(visitorID string) *tracking.Coordinator {
		flags := flagstore.Scope(store, visitorID)
		acquirer := geolocation.NewAcquirer(
			provider,
			geocoder,
			backendClient,
			flags,
			m,
			zapLogger.Named("geolocation"),
			acquirerCfg,
		)
		return tracking.NewCoordinator(
			ctx,
			zapLogger.Named("coordinator"),
			flags,
			backendClient,
			acquirer,
			m,
			hub,
			tracking.Config{
				LocationDelay: cfg.Prompts.LocationDelay,
				ContactDelay:  cfg.Prompts.ContactDelay,
			},
		)
	})
	defer registry.Close()

	handler := rest.NewHandler(zapLogger.Named("rest"), registry, hub, m)
	server := rest.NewServer(cfg.Server, cfg.Security, handler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down gracefully")
	return server.Shutdown(context.Background())
}
