package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/attendance/internal/cache"
	"example.com/attendance/internal/config"
	"example.com/attendance/internal/consumer"
	"example.com/attendance/internal/snapshot"
)

const (
	handlerAttempts   = 3
	handlerRetryDelay = 500 * time.Millisecond
)

func main() {
	cfg := config.Load()
	if cfg.RedisURL == "" {
		log.Fatalf("REDIS_URL is required by the snapshot consumer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	redisClient, err := snapshot.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to configure redis: %v", err)
	}
	defer redisClient.Close()

	store := snapshot.NewRedisStore(redisClient, cfg.SnapshotTTL)
	if err := store.Ping(ctx); err != nil {
		log.Printf("redis not reachable yet, continuing: %v", err)
	}

	handler := consumer.Fanout{
		consumer.NewPersistenceHandler(pool),
		consumer.NewSnapshotHandler(store, invalidatorFor(cfg)),
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for _, topic := range cfg.ConsumerTopics {
		topic := topic
		reader := kafka.NewReader(readerConfig(cfg, topic))
		proc := consumer.NewProcessor(reader, handler, consumer.WithRetry(handlerAttempts, handlerRetryDelay))

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()

			log.Printf("projecting %s (group=%s)", topic, cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("consumer for %s stopped: %v", topic, err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("consumer shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
	wg.Wait()
}

func readerConfig(cfg config.Config, topic string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        cfg.ConsumerGroupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	}
}

func invalidatorFor(cfg config.Config) cache.Invalidator {
	if cfg.CacheInvalidationURL == "" {
		return cache.NoopInvalidator{}
	}
	return cache.NewHTTPInvalidator(cfg.CacheInvalidationURL, cfg.CacheInvalidationToken, 5*time.Second)
}
