// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glacials/splits.io/internal/auth"
	"github.com/glacials/splits.io/internal/broadcast"
	"github.com/glacials/splits.io/internal/cache"
	"github.com/glacials/splits.io/internal/config"
	"github.com/glacials/splits.io/internal/database"
	"github.com/glacials/splits.io/internal/handlers"
	"github.com/glacials/splits.io/internal/metrics"
	"github.com/glacials/splits.io/internal/middleware"
	"github.com/glacials/splits.io/internal/race"
	"github.com/glacials/splits.io/internal/scheduler"
	_ "github.com/joho/godotenv/autoload"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatalf("log level: %v", err)
	}
	logger.SetLevel(level)

	if err := initAuth(cfg, logger); err != nil {
		logger.Fatalf("auth: %v", err)
	}
	metrics.InitRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	store, closeStore := openStore(ctx, cfg, clock, logger)
	defer closeStore()

	var rdb *redis.Client
	if cfg.SchedulerBackend == "redis" || cfg.HistorianEnabled {
		rdb, err = cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
	}

	var backend scheduler.Backend = scheduler.NewMemoryBackend()
	if cfg.SchedulerBackend == "redis" {
		backend = scheduler.NewRedisBackend(rdb, cfg.SchedulerKey, scheduler.DefaultLease)
	}
	sched := scheduler.New(backend, clock, logger, scheduler.Options{
		Interval: cfg.SchedulerInterval,
		Batch:    cfg.SchedulerBatch,
	})

	hub := broadcast.NewHub(logger)
	dispatchers := broadcast.Multi{hub}
	if cfg.NATSURL != "" {
		nc, err := broadcast.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatalf("nats: %v", err)
		}
		defer nc.Close()
		relay := broadcast.NewNATSRelay(nc, hub, logger)
		if err := relay.Start(); err != nil {
			logger.Fatalf("nats relay: %v", err)
		}
		defer relay.Close()
		dispatchers = append(dispatchers, relay)
	}
	if cfg.HistorianEnabled {
		recorder := cache.NewHistoryRecorder(rdb, cfg.HistorianQueueName, 1024, logger)
		defer recorder.Close()
		dispatchers = append(dispatchers, recorder)
	}

	svc := race.NewService(store, sched, dispatchers, clock, logger)
	if n, err := svc.Recover(ctx); err != nil {
		logger.WithError(err).Error("failed to recover scheduled race tasks")
	} else if n > 0 {
		logger.WithField("tasks", n).Info("recovered scheduled race tasks")
	}
	go sched.Run(ctx, scheduler.HandlerFunc(svc.HandleTask))
	go svc.RunRecovery(ctx, cfg.RecoverInterval)

	srv := handlers.NewRaceServer(svc, hub, clock, logger, handlers.ServerOptions{
		OriginPatterns: originHosts(cfg.CORSOrigins),
		CommandRate:    cfg.CommandRate,
		CommandBurst:   cfg.CommandBurst,
		SendBuffer:     cfg.SendBuffer,
		ActiveCacheTTL: cfg.ActiveCacheTTL,
		ActiveLimit:    cfg.ActiveLimit,
	})

	mux := http.NewServeMux()
	srv.Routes(mux, middleware.LogMiddleware(logger))
	mux.Handle("GET /metrics", metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet},
		AllowCredentials: true,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           c.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http shutdown")
		}
	}()

	logger.Infof("Running on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("server stopped")
}

// openStore picks the persistence backend. The memory store is for local runs only.
// initAuth loads the configured token keys. Generated keys are only used when key files
// are absent, which config validation allows solely with AUTH_DEV_KEYS.
func initAuth(cfg *config.Config, logger *logrus.Logger) error {
	if cfg.JWTPublicKeyPath != "" {
		if cfg.JWTPrivateKeyPath == "" {
			logger.Info("no JWT private key configured, verifying tokens only")
		}
		return auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.TokenExpire)
	}
	logger.Warn("AUTH_DEV_KEYS is set, tokens are signed with a key pair generated at boot")
	return auth.Init(cfg.TokenExpire)
}

func openStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *logrus.Logger) (race.Store, func()) {
	if cfg.StoreBackend != "postgres" {
		logger.Warn("using in-memory race store, state is lost on restart")
		return race.NewMemoryStore(clock), func() {}
	}
	pool, err := database.ConnectDB(ctx, cfg.PostgresDSN(), logger)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		logger.Fatalf("migrate: %v", err)
	}
	return database.NewStore(pool, cfg.StoreTimeout), pool.Close
}

// originHosts turns CORS origins into the host patterns the websocket handshake checks.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
