package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jogardn/bookstore-orders/internal/circuitbreaker"
	"github.com/jogardn/bookstore-orders/internal/config"
	"github.com/jogardn/bookstore-orders/internal/events"
	"github.com/jogardn/bookstore-orders/internal/gateway"
	"github.com/jogardn/bookstore-orders/internal/metrics"
	"github.com/jogardn/bookstore-orders/internal/orders"
	"github.com/jogardn/bookstore-orders/internal/server"
	"github.com/jogardn/bookstore-orders/internal/storage"
	"github.com/jogardn/bookstore-orders/internal/websocket"
	"github.com/sirupsen/logrus"
)

func main() {
	envFile := flag.String("env", ".env", "optional .env file with configuration overrides")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogger(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage is chosen once; the service never switches back at runtime.
	backend, err := storage.Open(ctx, storage.Config{
		Driver:         cfg.Database.Driver,
		DSN:            cfg.Database.DataSourceName(),
		ConnectTimeout: cfg.Database.ConnectTimeout,
		DataFile:       cfg.DataFile,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize order storage")
	}
	logger.WithField("storage_mode", backend.Mode).Info("Order storage selected")

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)

	gatewayOptions := gateway.Options{
		Timeout:     cfg.Gateway.Timeout,
		MaxAttempts: cfg.Gateway.MaxAttempts,
		Backoff:     cfg.Gateway.Backoff,
		MaxBackoff:  cfg.Gateway.MaxBackoff,
		Breaker: circuitbreaker.Config{
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				logger.WithFields(logrus.Fields{
					"circuit_breaker": name,
					"from":            from.String(),
					"to":              to.String(),
				}).Warn("Circuit breaker state changed")
			},
		},
	}
	customers := gateway.NewCustomerClient(cfg.CustomerServiceURL, gatewayOptions, breakers, m, logger)
	products := gateway.NewProductClient(cfg.ProductServiceURL, gatewayOptions, breakers, m, logger)
	prober := gateway.NewProber(cfg.Gateway.HealthTimeout)

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	publishers := events.Fanout{hub}
	var producer *events.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka unavailable, order events will only be streamed over WebSocket")
		} else {
			publishers = append(publishers, producer)
			logger.WithField("brokers", cfg.KafkaBrokers).Info("Kafka producer connected")
		}
	}

	service := orders.NewService(orders.Dependencies{
		Customers: customers,
		Products:  products,
		Backend:   backend,
		Publisher: publishers,
		Probes: map[string]orders.HealthProbe{
			gateway.CustomerService: func(ctx context.Context) string {
				return prober.Probe(ctx, customers.BaseURL())
			},
			gateway.ProductService: func(ctx context.Context) string {
				return prober.Probe(ctx, products.BaseURL())
			},
		},
		Breakers:       breakers,
		Metrics:        m,
		Logger:         logger,
		PublishTimeout: cfg.EventPublishTimeout,
	})

	srv := server.New(cfg.Port, server.NewRouter(server.Options{
		Orders:   orders.NewHandler(service, logger),
		Hub:      hub,
		Breakers: breakers,
		Metrics:  m,
		Logger:   logger,
	}))

	go func() {
		logger.WithFields(logrus.Fields{
			"port":         cfg.Port,
			"storage_mode": backend.Mode,
		}).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var result *multierror.Error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := backend.Repository.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		return
	}
	logger.Info("Server gracefully stopped")
}

func configureLogger(logger *logrus.Logger, cfg *config.Config) {
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		return
	}
	logger.SetLevel(level)
}
