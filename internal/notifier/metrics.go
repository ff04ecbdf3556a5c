package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commander_notification_decisions_total",
			Help: "Notification candidates by throttle decision reason.",
		},
		[]string{"reason"},
	)
	channelSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commander_notification_send_total",
			Help: "Total notification send attempts by channel and status.",
		},
		[]string{"channel", "status"},
	)
	channelSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commander_notification_send_duration_seconds",
			Help:    "Duration of notification channel requests.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel", "status"},
	)
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "commander_notification_queue_depth",
			Help: "Accepted notifications waiting for the next batch flush.",
		},
	)
)
