package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "commander_websocket_connections",
			Help: "Open websocket connections by role.",
		},
		[]string{"role"},
	)
	framesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commander_websocket_frames_received_total",
			Help: "Inbound frames by role and message type.",
		},
		[]string{"role", "type"},
	)
	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commander_websocket_rate_limited_total",
			Help: "Inbound observer frames rejected by the rate limiter.",
		},
	)
	sendOverflowTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commander_websocket_send_overflow_total",
			Help: "Sends rejected because the peer's outbound queue was full.",
		},
	)
	replayedFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commander_executor_replayed_frames_total",
			Help: "Executor frames skipped because their seq was already acknowledged.",
		},
	)
)

const (
	roleObserver = "observer"
	roleExecutor = "executor"
)
