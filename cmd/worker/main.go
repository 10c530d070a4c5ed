package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"presence/internal/attendance"
	"presence/internal/config"
	"presence/internal/logging"
	"presence/internal/queue"
	"presence/internal/store"
)

// Worker consumes attendance events and writes the audit trail.
func main() {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "memory" {
		log.Fatal().Msg("worker needs QUEUE_BACKEND=redis; the memory queue is audited inside the api process")
	}

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate failed")
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet, consumer will retry")
	}

	q := queue.NewRedisQueue(redisClient.Client, "", logging.WithComponent("queue"))
	auditor := attendance.NewAuditor(attendance.NewRepository(db), logging.WithComponent("audit"))

	log.Info().Msg("worker started, waiting for messages")
	if err := auditor.Run(ctx, q); err != nil {
		log.Error().Err(err).Msg("worker failed")
		return
	}
	log.Info().Msg("worker stopped")
}
