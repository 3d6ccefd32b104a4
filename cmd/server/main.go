package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prudhvinik1/divsync/internal/config"
	"github.com/prudhvinik1/divsync/internal/database"
	"github.com/prudhvinik1/divsync/internal/handlers"
	"github.com/prudhvinik1/divsync/internal/logger"
	"github.com/prudhvinik1/divsync/internal/repositories"
	"github.com/prudhvinik1/divsync/internal/services"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("Failed to open record store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	snapshotCache, closeCache, err := openSnapshotCache(ctx, cfg)
	if err != nil {
		log.Error("Failed to open snapshot cache", "error", err)
		os.Exit(1)
	}
	defer closeCache()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var source services.CredentialSource = services.NewStaticCredentialSource(cfg.CredentialValue)
	if cfg.CredentialValue == "" && cfg.CredentialFile != "" {
		source = services.NewFileCredentialSource(cfg.CredentialFile)
	}
	credentials, err := services.NewCredentialResolver(services.CredentialResolverConfig{
		Source:     source,
		CookieName: cfg.CredentialCookieName,
		ProbeURL:   cfg.ProbeURL,
		HTTPClient: httpClient,
		Logger:     log,
	})
	if err != nil {
		log.Error("Failed to create credential resolver", "error", err)
		os.Exit(1)
	}

	client := services.NewGraphQLFeedClient(services.GraphQLClientConfig{
		GraphQLURL:      cfg.GraphQLURL,
		TradeServiceURL: cfg.TradeServiceURL,
		HTTPClient:      httpClient,
		RatePerSecond:   cfg.RemoteRatePerSecond,
		RateBurst:       cfg.RemoteRateBurst,
		Logger:          log,
	})

	engine, err := services.NewSyncEngine(services.SyncEngineConfig{
		Store:           store,
		Credentials:     credentials,
		Client:          client,
		ActivityTypes:   cfg.FeedActivityTypes,
		PageSize:        cfg.FeedPageSize,
		MaxPages:        cfg.FeedMaxPages,
		FreshnessWindow: cfg.FreshnessWindow,
		Logger:          log,
	})
	if err != nil {
		log.Error("Failed to create sync engine", "error", err)
		os.Exit(1)
	}

	snapshots, err := services.NewSnapshotService(services.SnapshotServiceConfig{
		Cache:           snapshotCache,
		Credentials:     credentials,
		Client:          client,
		TTL:             cfg.SnapshotTTL,
		FreshnessWindow: cfg.FreshnessWindow,
		Logger:          log,
	})
	if err != nil {
		log.Error("Failed to create snapshot service", "error", err)
		os.Exit(1)
	}

	handler := handlers.NewFeedHandler(engine, snapshots, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handler.Routes(),
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Info("Starting server", "port", cfg.ServerPort, "backend", cfg.StoreBackend, "activity_types", cfg.FeedActivityTypes)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}

func openStore(ctx context.Context, cfg *config.Config) (repositories.RecordStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewPostgresRecordStore(pool), pool.Close, nil
	case config.BackendMemory:
		return repositories.NewMemoryRecordStore(), func() {}, nil
	default:
		db, err := database.NewSQLiteDB(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewSQLiteRecordStore(db), func() { db.Close() }, nil
	}
}

func openSnapshotCache(ctx context.Context, cfg *config.Config) (repositories.SnapshotCache, func(), error) {
	if cfg.RedisURL == "" {
		return repositories.NewMemorySnapshotCache(), func() {}, nil
	}
	client, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewRedisSnapshotCache(client), func() { client.Close() }, nil
}
