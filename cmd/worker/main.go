package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/health"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

const serviceName = "hookrelay-worker"

func main() {
	logger := logging.New(serviceName)
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}
	logging.SetLevel(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	consumer, err := nsq.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, consumerConfig(cfg))
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)

	worker := delivery.NewWorker(delivery.Options{
		Timeout:         cfg.Worker.DeliveryTimeout,
		FailOnHTTPError: cfg.Worker.FailOnHTTPError,
	}, logger)
	handler := delivery.NewConsumer(worker, retryPolicy(cfg), logger)
	consumer.AddConcurrentHandlers(handler, cfg.NSQ.MaxInFlight)

	// HTTP health/metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(health.Check{
		Name: "nsq",
		Pinger: health.PingFunc(func(context.Context) error {
			if consumer.Stats().Connections == 0 {
				return errNotConnected
			}
			return nil
		}),
	}))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	// Start backlog monitoring
	monitor := delivery.NewBacklogMonitor(cfg.NSQ.NsqdHTTPAddr, cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel,
		cfg.Worker.BacklogPollInterval, logger)
	go monitor.Run(ctx)

	// Connecting directly to NSQD forces channel creation, instead of the channel being lazily created on first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if cfg.NSQ.LookupHTTPAddr != "" {
		if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
			logger.Plain().WithError(err).Fatal("connect to lookupd failed")
		}
	}

	logger.Plain().WithFields(map[string]any{
		"topic":        cfg.NSQ.DeliveriesTopic,
		"channel":      cfg.NSQ.WorkerChannel,
		"max_attempts": cfg.Worker.MaxAttempts,
	}).Info("worker service started")

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down worker service")
	cancel()
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}
