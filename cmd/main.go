package main

import (
	"log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/embermeter/internal/config"
	"github.com/davidbz/embermeter/internal/domain"
	"github.com/davidbz/embermeter/internal/httpserver"
	"github.com/davidbz/embermeter/internal/httpserver/middleware"
	"github.com/davidbz/embermeter/internal/observability"
	"github.com/davidbz/embermeter/internal/pricing"
	"github.com/davidbz/embermeter/internal/run"
)

func main() {
	container := buildContainer()

	err := container.Invoke(func(server *httpserver.Server) {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Provide(func(logger *zap.Logger) domain.EventPublisher {
		return observability.NewEventBus(logger)
	}); err != nil {
		log.Fatalf("Failed to provide event bus: %v", err)
	}

	// Optional shared pricing snapshot store (enabled when REDIS_ADDR is set)
	if err := container.Provide(func(cfg *config.RedisConfig) *redis.Client {
		if cfg.Addr == "" {
			return nil
		}
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}); err != nil {
		log.Fatalf("Failed to provide redis client: %v", err)
	}
	if err := container.Provide(func(client *redis.Client, cfg *pricing.Config) pricing.SnapshotStore {
		if client == nil {
			return nil
		}
		return pricing.NewRedisSnapshotStore(client, cfg.SnapshotKey, cfg.TTL())
	}); err != nil {
		log.Fatalf("Failed to provide snapshot store: %v", err)
	}

	// Pricing source
	if err := container.Provide(func(cfg *pricing.Config, snapshots pricing.SnapshotStore) domain.PricingSource {
		return pricing.NewSource(*cfg, snapshots)
	}); err != nil {
		log.Fatalf("Failed to provide pricing source: %v", err)
	}

	// Run manager
	if err := container.Provide(run.NewManager); err != nil {
		log.Fatalf("Failed to provide run manager: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(httpserver.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(httpserver.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}
