package activitypub

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	inboxActivitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agora",
			Subsystem: "inbox",
			Name:      "activities_total",
			Help:      "Inbound activities by type and response status.",
		},
		[]string{"type", "status"},
	)
	remoteFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agora",
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Remote object fetches by result.",
		},
		[]string{"result"},
	)
	remoteFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agora",
			Subsystem: "fetch",
			Name:      "request_duration_seconds",
			Help:      "Remote object fetch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agora",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Outbound delivery attempts by result.",
		},
		[]string{"result"},
	)
	deliveryQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agora",
			Subsystem: "delivery",
			Name:      "queue_length",
			Help:      "Activities waiting in the delivery queue.",
		},
	)
)

// RegisterMetrics registers the federation collectors with the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(inboxActivitiesTotal, remoteFetchesTotal, remoteFetchDuration, deliveriesTotal, deliveryQueueLength)
	})
}

func recordInboxActivity(kind string, status int) {
	if kind == "" {
		kind = "unknown"
	}
	inboxActivitiesTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
}
