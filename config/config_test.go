package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  status_changed_topic_name: "trip.status_changed"
redis:
  host: "localhost"
  port: 6379
tripwatch:
  http_addr: ":8080"
  kafka_consumer_group: "notify-worker"
  live_status_ttl_seconds: 60
  gps_rate_limit_per_minute: 30
  assumed_trip_minutes: 120
  eta_average_speed_mph: 45
  eta_traffic_factor: 1.2
  notify_concurrency: 10
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "trip.status_changed", cfg.Kafka.StatusChangedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.TripWatch.HTTPAddr)
	require.Equal(t, 30, cfg.TripWatch.GPSRateLimitPerMinute)
	require.Equal(t, 1.2, cfg.TripWatch.ETATrafficFactor)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
