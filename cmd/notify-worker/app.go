package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/TripWatch/config"
	"github.com/BearBump/TripWatch/internal/broker/kafka"
	"github.com/BearBump/TripWatch/internal/integrations/gateway"
	gatewayfake "github.com/BearBump/TripWatch/internal/integrations/gateway/fake"
	"github.com/BearBump/TripWatch/internal/integrations/gateway/smshttp"
	"github.com/BearBump/TripWatch/internal/metrics"
	"github.com/BearBump/TripWatch/internal/services/notifier"
	"github.com/BearBump/TripWatch/internal/storage/pgtrips"
)

type workerConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (notifier.Records, func(), error)
	newConsumer func(cfg *config.Config, topic string) workerConsumer
	newGateway  func(cfg *config.Config) gateway.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (notifier.Records, func(), error) {
			st, err := pgtrips.New(connString(cfg))
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config, topic string) workerConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			group := cfg.TripWatch.KafkaConsumerGroup
			if group == "" {
				group = "notify-worker"
			}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newGateway: func(cfg *config.Config) gateway.Client {
			// Для демо по умолчанию локальная заглушка; http-шлюз
			// включается явно через конфиг.
			if cfg.TripWatch.GatewayMode == "http" && cfg.TripWatch.GatewayBaseURL != "" {
				return smshttp.New(cfg.TripWatch.GatewayBaseURL, cfg.TripWatch.GatewayAPIKey)
			}
			return gatewayfake.New()
		},
	}
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func RunNotifyWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string) error {
	topic := cfg.Kafka.StatusChangedTopicName
	if topic == "" {
		topic = "trip.status_changed"
	}

	concurrency := cfg.TripWatch.NotifyConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	sendTimeout := time.Duration(cfg.TripWatch.NotifyGatewayTimeoutSeconds) * time.Second
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}

	records, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	consumer := f.newConsumer(cfg, topic)
	defer func() { _ = consumer.Close() }()

	collector := metrics.NewCollector()

	d := notifier.New(records, f.newGateway(cfg), collector, slog.Default()).
		WithSettings(concurrency, sendTimeout)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.TripWatch.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			dispatcher:  d,
			collector:   collector,
			cfg:         cfg,
		})
	}()

	slog.Info("kafka consumer started", "topic", topic)
	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- consumer.Consume(ctx, d.HandleMessage)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-consumeErr:
		return err
	case err := <-httpErr:
		return err
	}
}
