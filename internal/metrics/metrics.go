package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector держит все счетчики сервиса на собственном Registry,
// чтобы не тащить глобальный default registry в тесты.
type Collector struct {
	reg *prometheus.Registry

	StatusTransitions *prometheus.CounterVec // status label: BOARDING|EN_ROUTE|...
	LocationUpdates   prometheus.Counter
	LocationThrottled prometheus.Counter

	KafkaPublished   prometheus.Counter
	KafkaPublishErrs prometheus.Counter

	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter

	ETADuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripwatch_status_transitions_total",
			Help: "Total accepted driver status transitions.",
		}, []string{"status"}),
		LocationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_location_updates_total",
			Help: "Total accepted GPS location updates.",
		}),
		LocationThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_location_throttled_total",
			Help: "Total GPS updates rejected by the rate limiter.",
		}),
		KafkaPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_kafka_published_total",
			Help: "Total status change messages published to Kafka.",
		}),
		KafkaPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_kafka_publish_errors_total",
			Help: "Total Kafka publish errors.",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_notifications_sent_total",
			Help: "Total notifications delivered by the gateway.",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripwatch_notifications_failed_total",
			Help: "Total notifications the gateway could not deliver.",
		}),
		ETADuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripwatch_eta_duration_seconds",
			Help:    "Duration of a single ETA calculation.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	reg.MustRegister(
		c.StatusTransitions,
		c.LocationUpdates, c.LocationThrottled,
		c.KafkaPublished, c.KafkaPublishErrs,
		c.NotificationsSent, c.NotificationsFailed,
		c.ETADuration,
	)

	return c
}

// Handler отдает /metrics для sidecar-сервера воркера и API.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
