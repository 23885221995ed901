// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the process configuration shared by the server and historian binaries.
type Config struct {
	Port     int    `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`

	StoreBackend     string `env:"STORE_BACKEND" envDefault:"memory" validate:"oneof=memory postgres"`
	SchedulerBackend string `env:"SCHEDULER_BACKEND" envDefault:"memory" validate:"oneof=memory redis"`

	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresHost     string `env:"PG_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"PG_PORT" envDefault:"5432" validate:"min=1,max=65535"`
	PostgresDatabase string `env:"PG_DATABASE" envDefault:"splitsio"`

	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s" validate:"gt=0"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0" validate:"min=0"`

	// Empty disables the cross-instance relay.
	NATSURL string `env:"NATS_URL"`

	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"250ms" validate:"gt=0"`
	SchedulerBatch    int           `env:"SCHEDULER_BATCH" envDefault:"100" validate:"min=1"`
	SchedulerKey      string        `env:"SCHEDULER_KEY" envDefault:"race_tasks" validate:"required"`
	RecoverInterval   time.Duration `env:"RECOVER_INTERVAL" envDefault:"1m" validate:"gt=0"`

	CommandRate  float64 `env:"COMMAND_RATE" envDefault:"5" validate:"gt=0"`
	CommandBurst int     `env:"COMMAND_BURST" envDefault:"10" validate:"min=1"`
	SendBuffer   int     `env:"SEND_BUFFER" envDefault:"64" validate:"min=1"`

	CORSOrigins    []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
	ActiveCacheTTL time.Duration `env:"ACTIVE_CACHE_TTL" envDefault:"3s"`
	ActiveLimit    int           `env:"ACTIVE_LIMIT" envDefault:"100" validate:"min=1"`

	HistorianEnabled    bool          `env:"HISTORIAN_ENABLED" envDefault:"false"`
	HistorianQueueName  string        `env:"HISTORIAN_QUEUE_NAME" envDefault:"race_events" validate:"required"`
	HistorianBatchSize  int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"100" validate:"min=1"`
	HistorianFlushEvery time.Duration `env:"HISTORIAN_FLUSH_INTERVAL" envDefault:"1s" validate:"gt=0"`

	// TokenExpire of zero issues tokens without an exp claim.
	TokenExpire time.Duration `env:"TOKEN_EXPIRE_TIME" envDefault:"0s" validate:"min=0"`

	// Tokens are verified against JWTPublicKeyPath. JWTPrivateKeyPath is only needed to
	// issue tokens; without it the service runs verify-only. AuthDevKeys allows booting
	// without key files by generating a throwaway pair.
	JWTPublicKeyPath  string `env:"JWT_PUBLIC_KEY_PATH" validate:"required_unless=AuthDevKeys true"`
	JWTPrivateKeyPath string `env:"JWT_PRIVATE_KEY_PATH"`
	AuthDevKeys       bool   `env:"AUTH_DEV_KEYS" envDefault:"false"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PostgresDSN builds a connection URL from the PG_* settings.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   c.PostgresDatabase,
	}
	return u.String()
}
