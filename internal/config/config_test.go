package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	if err != nil {
		t.Fatalf("FromMap() unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"AppName", cfg.AppName, "hookrelay"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"DB.Host", cfg.DB.Host, "postgres"},
		{"DB.MaxConns", cfg.DB.MaxConns, int32(10)},
		{"NSQ.NsqdTCPAddr", cfg.NSQ.NsqdTCPAddr, "nsqd:4150"},
		{"NSQ.DeliveriesTopic", cfg.NSQ.DeliveriesTopic, "webhook_deliveries"},
		{"NSQ.WorkerChannel", cfg.NSQ.WorkerChannel, "workers"},
		{"Worker.MaxAttempts", cfg.Worker.MaxAttempts, 10},
		{"Worker.JitterPercent", cfg.Worker.JitterPercent, 0.25},
		{"Worker.DeliveryTimeout", cfg.Worker.DeliveryTimeout, 10 * time.Second},
		{"Worker.FailOnHTTPError", cfg.Worker.FailOnHTTPError, false},
		{"API.HTTPPort", cfg.API.HTTPPort, ":8080"},
		{"API.StoreDriver", cfg.API.StoreDriver, "postgres"},
		{"Redis.Addr", cfg.Redis.Addr, ""},
		{"Tracing.Endpoint", cfg.Tracing.Endpoint, ""},
		{"FakeReceiver.Port", cfg.FakeReceiver.Port, ":8081"},
		{"TokenIssuer.Port", cfg.TokenIssuer.Port, ":8082"},
		{"TokenIssuer.DefaultTTL", cfg.TokenIssuer.DefaultTTL, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %#v, want %#v", tt.name, tt.got, tt.want)
			}
		})
	}

	if !reflect.DeepEqual(cfg.Worker.BackoffSchedule, defaultBackoff) {
		t.Errorf("BackoffSchedule = %v, want %v", cfg.Worker.BackoffSchedule, defaultBackoff)
	}
}

func TestFromMap_Overrides(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"MAX_ATTEMPTS":                "3",
		"BACKOFF_SCHEDULE":            "2s,30s",
		"DELIVERY_TIMEOUT":            "5s",
		"DELIVERY_FAIL_ON_HTTP_ERROR": "true",
		"STORE_DRIVER":                "memory",
		"REDIS_ADDR":                  "redis:6379",
		"TRUST_OWNER_HEADER":          "true",
		"CORS_ALLOWED_ORIGINS":        "https://dev.to,https://forem.com",
	})
	if err != nil {
		t.Fatalf("FromMap() unexpected error: %v", err)
	}

	if cfg.Worker.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Worker.MaxAttempts)
	}
	if want := []time.Duration{2 * time.Second, 30 * time.Second}; !reflect.DeepEqual(cfg.Worker.BackoffSchedule, want) {
		t.Errorf("BackoffSchedule = %v, want %v", cfg.Worker.BackoffSchedule, want)
	}
	if cfg.Worker.DeliveryTimeout != 5*time.Second {
		t.Errorf("DeliveryTimeout = %v, want 5s", cfg.Worker.DeliveryTimeout)
	}
	if !cfg.Worker.FailOnHTTPError {
		t.Error("FailOnHTTPError = false, want true")
	}
	if cfg.API.StoreDriver != "memory" {
		t.Errorf("StoreDriver = %q, want memory", cfg.API.StoreDriver)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if !cfg.Auth.TrustOwnerHeader {
		t.Error("TrustOwnerHeader = false, want true")
	}
	if want := []string{"https://dev.to", "https://forem.com"}; !reflect.DeepEqual(cfg.API.CORSAllowedOrigins, want) {
		t.Errorf("CORSAllowedOrigins = %v, want %v", cfg.API.CORSAllowedOrigins, want)
	}
}

func TestFromMap_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		errPart string
	}{
		{"non-numeric attempts", map[string]string{"MAX_ATTEMPTS": "many"}, "parse env"},
		{"zero attempts", map[string]string{"MAX_ATTEMPTS": "0"}, "MAX_ATTEMPTS"},
		{"attempts beyond nsq counter", map[string]string{"MAX_ATTEMPTS": "70000"}, "at most 65535"},
		{"bad duration", map[string]string{"DELIVERY_TIMEOUT": "soon"}, "parse env"},
		{"jitter out of range", map[string]string{"BACKOFF_JITTER_PCT": "1.5"}, "BACKOFF_JITTER_PCT"},
		{"unknown store", map[string]string{"STORE_DRIVER": "mysql"}, "STORE_DRIVER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(tt.vars)
			if err == nil {
				t.Fatal("FromMap() expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("FromMap() error = %q, want to contain %q", err.Error(), tt.errPart)
			}
		})
	}
}

func TestFromMap_MaxAttemptsUpperBound(t *testing.T) {
	cfg, err := FromMap(map[string]string{"MAX_ATTEMPTS": "65535"})
	if err != nil {
		t.Fatalf("FromMap() unexpected error: %v", err)
	}
	if cfg.Worker.MaxAttempts != 65535 {
		t.Errorf("MaxAttempts = %d, want 65535", cfg.Worker.MaxAttempts)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("APP_NAME", "relay-test")
	t.Setenv("NSQ_WORKER_CHANNEL", "ch")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() unexpected error: %v", err)
	}
	if cfg.AppName != "relay-test" || cfg.NSQ.WorkerChannel != "ch" {
		t.Errorf("FromEnv() = %+v", cfg)
	}
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		db       DB
		expected string
	}{
		{
			name:     "assembled from parts",
			db:       DB{User: "u", Pass: "p", Host: "h", Port: "5433", Name: "n"},
			expected: "postgres://u:p@h:5433/n?sslmode=disable",
		},
		{
			name:     "explicit url wins",
			db:       DB{User: "u", URL: "postgres://x@y/z"},
			expected: "postgres://x@y/z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Config{DB: tt.db}).DSN(); got != tt.expected {
				t.Errorf("DSN() = %q, want %q", got, tt.expected)
			}
		})
	}
}
