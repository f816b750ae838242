package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TripWatch/config"
	"github.com/BearBump/TripWatch/internal/api/tripapi"
	"github.com/BearBump/TripWatch/internal/broker/kafka"
	"github.com/BearBump/TripWatch/internal/cache/rediscache"
	"github.com/BearBump/TripWatch/internal/geo"
	"github.com/BearBump/TripWatch/internal/integrations/bookings"
	"github.com/BearBump/TripWatch/internal/integrations/bookings/bookinghttp"
	bookingsfake "github.com/BearBump/TripWatch/internal/integrations/bookings/fake"
	"github.com/BearBump/TripWatch/internal/metrics"
	"github.com/BearBump/TripWatch/internal/services/trips"
	"github.com/BearBump/TripWatch/internal/storage/pgtrips"
)

type tripAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   tripAPIOpts

	api       *tripapi.TripAPI
	collector *metrics.Collector

	producer *kafka.Producer
	closeDB  func()
}

func mustBootstrapTripAPI() *tripAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.TripWatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.StatusChangedTopicName
	if topic == "" {
		topic = "trip.status_changed"
	}
	liveTTL := time.Duration(cfg.TripWatch.LiveStatusTTLSeconds) * time.Second
	if liveTTL <= 0 {
		liveTTL = 5 * time.Minute
	}

	st := mustOpenPostgresWithRetry(connString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers, topic)

	engine := geo.NewEngine(geo.Config{
		AverageSpeedMph:     cfg.TripWatch.ETAAverageSpeedMph,
		TrafficFactor:       cfg.TripWatch.ETATrafficFactor,
		StopDwellMinutes:    cfg.TripWatch.ETAStopDwellMinutes,
		SafetyBufferMinutes: cfg.TripWatch.ETASafetyBufferMinutes,
	}, nil)

	collector := metrics.NewCollector()
	log := slog.Default()

	svc := trips.New(st, newDirectory(cfg), rc, rl, producer, engine, collector, log, trips.Config{
		LiveTTL:            liveTTL,
		GPSLimitPerMinute:  int64(cfg.TripWatch.GPSRateLimitPerMinute),
		AssumedTripMinutes: float64(cfg.TripWatch.AssumedTripMinutes),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &tripAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: tripAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:       tripapi.New(svc, log),
		collector: collector,
		producer:  producer,
		closeDB:   st.Close,
	}
}

// newDirectory выбирает источник рейсов и бронирований: http-клиент к
// booking-сервису или встроенная фикстура для демо.
func newDirectory(cfg *config.Config) bookings.Directory {
	if cfg.TripWatch.BookingsMode == "http" && cfg.TripWatch.BookingsBaseURL != "" {
		return bookinghttp.New(cfg.TripWatch.BookingsBaseURL)
	}
	return bookingsfake.New()
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgtrips.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtrips.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *tripAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *tripAPIApp) Run() error {
	return runTripAPI(a.ctx, a.opts, a.api, a.collector)
}
