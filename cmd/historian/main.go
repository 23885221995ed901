// cmd/historian/main.go is an asynchronous historian service that pops race broadcasts
// from a Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/glacials/splits.io/internal/cache"
	"github.com/glacials/splits.io/internal/config"
	"github.com/glacials/splits.io/internal/database"
	"github.com/glacials/splits.io/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectDB(ctx, cfg.PostgresDSN(), logger)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	sink := func(ctx context.Context, records []cache.RaceEventRecord) (int64, error) {
		return database.InsertRaceEvents(ctx, pool, records)
	}
	svc := historian.New(rdb, sink, clockwork.NewRealClock(), logger, historian.Options{
		Queue:      cfg.HistorianQueueName,
		BatchSize:  cfg.HistorianBatchSize,
		FlushEvery: cfg.HistorianFlushEvery,
	})
	svc.Run(ctx)
	logger.Info("Historian shutdown complete.")
}
