package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/attendance/internal/api"
	"example.com/attendance/internal/auth"
	"example.com/attendance/internal/cache"
	"example.com/attendance/internal/config"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/outbox"
	"example.com/attendance/internal/persistence/memory"
	"example.com/attendance/internal/persistence/postgres"
	"example.com/attendance/internal/snapshot"
	httptransport "example.com/attendance/internal/transport/http"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots := newSnapshotStore(cfg)
	invalidator := newInvalidator(cfg)

	var (
		repo       domain.Repository
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		mem := memory.NewRepository()
		// Without Kafka the snapshot projection runs in process.
		mem.Subscribe(func(c memory.Change) {
			snap := domain.SnapshotFromMetrics(&c.Record, c.Metrics, c.Event.At)
			written, err := snapshots.Project(ctx, snap)
			if err != nil {
				log.Printf("snapshot projection failed (employee=%s): %v", c.Record.EmployeeID, err)
				return
			}
			if written {
				if err := invalidator.Invalidate(ctx, snap.TenantID, snap.EmployeeID, snap.LocalDate); err != nil {
					log.Printf("cache invalidation failed (employee=%s): %v", snap.EmployeeID, err)
				}
			}
		})
		repo = mem
		log.Printf("using in-memory attendance store")
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)

		repo = postgres.NewRepository(pool)
	}

	policy := domain.Policy{RequiredDaily: cfg.RequiredDaily()}
	service := domain.NewService(repo,
		domain.WithPolicy(policy),
		domain.WithSnapshots(snapshots),
		domain.WithReconciler(domain.NewReconciler(cfg.SyncStalenessThreshold, cfg.SyncTolerance, policy)),
	)

	handler := api.NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.Chain(mux, httptransport.RequestLogger(nil), httptransport.CORS(cfg.CORSOrigin), authMiddleware.Wrap))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("attendance-service listening on %s (store=%s)", cfg.HTTPAddress, cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}

func newSnapshotStore(cfg config.Config) snapshot.Store {
	if cfg.RedisURL == "" {
		return snapshot.NewMemoryStore()
	}
	client, err := snapshot.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to configure redis: %v", err)
	}
	return snapshot.NewRedisStore(client, cfg.SnapshotTTL)
}

func newInvalidator(cfg config.Config) cache.Invalidator {
	if cfg.CacheInvalidationURL == "" {
		return cache.NoopInvalidator{}
	}
	return cache.NewHTTPInvalidator(cfg.CacheInvalidationURL, cfg.CacheInvalidationToken, 5*time.Second)
}
