package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callrelay_notifications_total",
			Help: "Processed notifications by outcome (sent, failed, suppressed).",
		},
		[]string{"outcome"},
	)
	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callrelay_send_duration_seconds",
			Help:    "Duration of outbound message sends.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"status"},
	)
	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callrelay_tracker_evictions_total",
			Help: "Calls evicted from the in-memory trackers by reason.",
		},
		[]string{"reason"},
	)
)
