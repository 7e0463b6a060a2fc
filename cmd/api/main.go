package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/rueidis"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/hookrelay/internal/api"
	"github.com/austindbirch/hookrelay/internal/auth"
	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/db"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/dispatch"
	"github.com/austindbirch/hookrelay/internal/health"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/payload"
	"github.com/austindbirch/hookrelay/internal/registry"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

const serviceName = "hookrelay-api"

func main() {
	logger := logging.New(serviceName)
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}
	logging.SetLevel(cfg.LogLevel)
	ctx := context.Background()

	shutdownTracing, err := tracing.InitTracing(ctx, tracing.Config{
		ServiceName: serviceName,
		Version:     cfg.Tracing.Version,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdownTracing()

	store, checks, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("endpoint store setup failed")
	}
	defer closeStore()

	// NSQ producer
	prod, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer prod.Stop()
	checks = append(checks, health.Check{Name: "nsq", Pinger: health.PingFunc(func(context.Context) error { return prod.Ping() })})

	authMW, err := newAuthMiddleware(cfg.Auth)
	if err != nil {
		logger.Plain().WithError(err).Fatal("auth setup failed")
	}

	reg := registry.New(store, logger)
	dispatcher := dispatch.New(
		reg,
		payload.NewAdapter(payload.Site{BaseURL: cfg.API.SiteURL}),
		delivery.NewQueue(prod, cfg.NSQ.DeliveriesTopic),
		logger,
	)

	promReg := prometheus.NewRegistry()
	metrics.MustRegister(promReg)

	srv := api.NewServer(reg, dispatcher, authMW, logger, api.Options{
		RateLimitPerMinute: cfg.API.RateLimitPerMinute,
		CORSAllowedOrigins: cfg.API.CORSAllowedOrigins,
		HealthChecks:       checks,
		Metrics:            promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	})

	// gRPC health service
	grpcSrv := grpc.NewServer()
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.API.GRPCPort)
	if err != nil {
		logger.Plain().WithError(err).Fatal("gRPC listen failed")
	}
	go func() {
		logger.Plain().WithField("addr", cfg.API.GRPCPort).Info("gRPC health listening")
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Plain().WithError(err).Fatal("gRPC serve failed")
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.API.HTTPPort,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("API HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("HTTP serve failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down API service")
	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	logger.Plain().Info("API service stopped")
}

// openStore builds the endpoint store selected by STORE_DRIVER, wrapped in
// the Redis lookup cache when REDIS_ADDR is set.
func openStore(ctx context.Context, cfg config.Config, logger *logging.Logger) (registry.Store, []health.Check, func(), error) {
	var (
		store   registry.Store
		checks  []health.Check
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.API.StoreDriver {
	case "memory":
		logger.Plain().Warn("using in-memory endpoint store; registrations are lost on restart")
		store = registry.NewMemoryStore()
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DSN(), cfg.DB.MaxConns)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, pool.Close)
		if err := db.Migrate(ctx, pool); err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		store = registry.NewPostgresStore(pool)
		checks = append(checks, health.Check{Name: "database", Pinger: pool})
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.API.StoreDriver)
	}

	if cfg.Redis.Addr != "" {
		client, err := rueidis.NewClient(rueidis.ClientOption{InitAddress: []string{cfg.Redis.Addr}})
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("redis client: %w", err)
		}
		closers = append(closers, client.Close)
		store = registry.NewCachedStore(store, client, cfg.Redis.CacheTTL, logger)
		checks = append(checks, health.Check{Name: "redis", Pinger: health.PingFunc(func(ctx context.Context) error {
			return client.Do(ctx, client.B().Ping().Build()).Error()
		})})
	}

	return store, checks, closeAll, nil
}

// newAuthMiddleware requires a public key unless the edge proxy is trusted
// to set the owner header.
func newAuthMiddleware(cfg config.Auth) (*auth.Middleware, error) {
	pem, err := auth.LoadPublicKey(cfg.PublicKeyPEM, cfg.PublicKeyFile)
	if err != nil {
		return nil, err
	}
	if pem == "" {
		if !cfg.TrustOwnerHeader {
			return nil, fmt.Errorf("JWT_PUBLIC_KEY or JWT_PUBLIC_KEY_FILE is required unless TRUST_OWNER_HEADER is set")
		}
		return auth.NewMiddleware(nil, true), nil
	}

	v, err := auth.NewJWTValidator(pem, cfg.Issuer, cfg.Audience)
	if err != nil {
		return nil, err
	}
	return auth.NewMiddleware(v, cfg.TrustOwnerHeader), nil
}
