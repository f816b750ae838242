package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	TripWatch TripWatchConfig `yaml:"tripwatch"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	StatusChangedTopicName string `yaml:"status_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TripWatchConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Live-projection cache TTL for GET /tracking.
	LiveStatusTTLSeconds int `yaml:"live_status_ttl_seconds"`

	// GPS ingestion throttle, per tracking record per minute.
	GPSRateLimitPerMinute int `yaml:"gps_rate_limit_per_minute"`

	// Time-based progress heuristic: assumed total trip duration.
	AssumedTripMinutes int `yaml:"assumed_trip_minutes"`

	// ETA engine.
	ETAAverageSpeedMph     float64 `yaml:"eta_average_speed_mph"`
	ETATrafficFactor       float64 `yaml:"eta_traffic_factor"`
	ETAStopDwellMinutes    float64 `yaml:"eta_stop_dwell_minutes"`
	ETASafetyBufferMinutes float64 `yaml:"eta_safety_buffer_minutes"`

	// Notification worker.
	WorkerHTTPAddr              string `yaml:"worker_http_addr"`
	NotifyConcurrency           int    `yaml:"notify_concurrency"`
	NotifyGatewayTimeoutSeconds int    `yaml:"notify_gateway_timeout_seconds"`

	// Message gateway. Mode "http" uses the JSON gateway, anything else
	// falls back to the local fake.
	GatewayMode    string `yaml:"gateway_mode"`
	GatewayBaseURL string `yaml:"gateway_base_url"`
	GatewayAPIKey  string `yaml:"gateway_api_key"`

	// Booking subsystem. Mode "http" talks to the booking service,
	// anything else falls back to the local fixture.
	BookingsMode    string `yaml:"bookings_mode"`
	BookingsBaseURL string `yaml:"bookings_base_url"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
