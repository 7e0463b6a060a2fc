// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v11"
)

type DB struct {
	User string `env:"DB_USER" envDefault:"postgres"`
	Pass string `env:"DB_PASS" envDefault:"postgres"`
	Host string `env:"DB_HOST" envDefault:"postgres"`
	Port string `env:"DB_PORT" envDefault:"5432"`
	Name string `env:"DB_NAME" envDefault:"hookrelay"`
	// URL overrides the individual fields when set
	URL      string `env:"DATABASE_URL"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10"`
}

type NSQ struct {
	NsqdTCPAddr     string `env:"NSQD_TCP_ADDR" envDefault:"nsqd:4150"`
	NsqdHTTPAddr    string `env:"NSQD_HTTP_ADDR" envDefault:"nsqd:4151"`
	LookupHTTPAddr  string `env:"NSQ_LOOKUP_HTTP_ADDR"` // optional, e.g. http://nsqlookupd:4161
	DeliveriesTopic string `env:"NSQ_DELIVERIES_TOPIC" envDefault:"webhook_deliveries"`
	WorkerChannel   string `env:"NSQ_WORKER_CHANNEL" envDefault:"workers"`
	MaxInFlight     int    `env:"NSQ_MAX_IN_FLIGHT" envDefault:"200"`
}

type Worker struct {
	MaxAttempts         int             `env:"MAX_ATTEMPTS" envDefault:"10"`
	BackoffSchedule     []time.Duration `env:"BACKOFF_SCHEDULE" envDefault:"1s,4s,16s,1m,4m,10m" envSeparator:","`
	JitterPercent       float64         `env:"BACKOFF_JITTER_PCT" envDefault:"0.25"`
	DeliveryTimeout     time.Duration   `env:"DELIVERY_TIMEOUT" envDefault:"10s"`
	FailOnHTTPError     bool            `env:"DELIVERY_FAIL_ON_HTTP_ERROR" envDefault:"false"`
	HTTPPort            string          `env:"WORKER_HTTP_PORT" envDefault:":8083"`
	BacklogPollInterval time.Duration   `env:"BACKLOG_POLL_INTERVAL" envDefault:"15s"`
}

type API struct {
	HTTPPort           string   `env:"HTTP_PORT" envDefault:":8080"`
	GRPCPort           string   `env:"GRPC_PORT" envDefault:":50051"`
	SiteURL            string   `env:"SITE_URL" envDefault:"https://dev.to"`
	StoreDriver        string   `env:"STORE_DRIVER" envDefault:"postgres"` // postgres or memory
	RateLimitPerMinute int      `env:"API_RATE_LIMIT_PER_MINUTE" envDefault:"600"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

type Auth struct {
	PublicKeyPEM     string `env:"JWT_PUBLIC_KEY"`
	PublicKeyFile    string `env:"JWT_PUBLIC_KEY_FILE"`
	Issuer           string `env:"JWT_ISSUER" envDefault:"hookrelay"`
	Audience         string `env:"JWT_AUDIENCE" envDefault:"hookrelay-api"`
	TrustOwnerHeader bool   `env:"TRUST_OWNER_HEADER" envDefault:"false"` // X-Owner-Id set by the edge proxy
}

// TokenIssuer configures the development token service.
type TokenIssuer struct {
	PrivateKeyPEM string        `env:"JWT_PRIVATE_KEY"` // generated at startup when empty
	Port          string        `env:"TOKEN_ISSUER_PORT" envDefault:":8082"`
	DefaultTTL    time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
}

type Redis struct {
	Addr     string        `env:"REDIS_ADDR"` // empty disables the lookup cache
	CacheTTL time.Duration `env:"REDIS_CACHE_TTL" envDefault:"1m"`
}

type Tracing struct {
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
	Version     string  `env:"SERVICE_VERSION"`
}

type FakeReceiver struct {
	FailFirstN      int           `env:"FAIL_FIRST_N" envDefault:"0"`
	ResponseDelayMS int           `env:"RESPONSE_DELAY_MS" envDefault:"0"`
	Port            string        `env:"FAKE_RECEIVER_PORT" envDefault:":8081"`
	ReadTimeout     time.Duration `env:"FAKE_RECEIVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"FAKE_RECEIVER_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"FAKE_RECEIVER_IDLE_TIMEOUT" envDefault:"60s"`
}

type Config struct {
	AppName      string `env:"APP_NAME" envDefault:"hookrelay"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	DB           DB
	NSQ          NSQ
	Worker       Worker
	API          API
	Auth         Auth
	Redis        Redis
	Tracing      Tracing
	FakeReceiver FakeReceiver
	TokenIssuer  TokenIssuer
}

var defaultBackoff = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second, 1 * time.Minute, 4 * time.Minute, 10 * time.Minute}

// FromEnv parses the process environment into a Config
func FromEnv() (Config, error) {
	return load(env.Options{})
}

// FromMap parses the given variables only; used by tests and tooling
func FromMap(vars map[string]string) (Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.Worker.BackoffSchedule) == 0 {
		cfg.Worker.BackoffSchedule = append([]time.Duration(nil), defaultBackoff...)
	}
	if cfg.Worker.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", cfg.Worker.MaxAttempts)
	}
	// nsq counts attempts in a uint16
	if cfg.Worker.MaxAttempts > math.MaxUint16 {
		return Config{}, fmt.Errorf("MAX_ATTEMPTS must be at most %d, got %d", math.MaxUint16, cfg.Worker.MaxAttempts)
	}
	if cfg.Worker.JitterPercent < 0 || cfg.Worker.JitterPercent > 1 {
		return Config{}, fmt.Errorf("BACKOFF_JITTER_PCT must be within [0,1], got %v", cfg.Worker.JitterPercent)
	}
	if cfg.API.StoreDriver != "postgres" && cfg.API.StoreDriver != "memory" {
		return Config{}, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.API.StoreDriver)
	}
	return cfg, nil
}

func (c Config) DSN() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
