package correlator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commander_commands_total",
			Help: "Executor commands by final outcome.",
		},
		[]string{"outcome"},
	)
	commandDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "commander_command_duration_seconds",
			Help:    "Time from dispatch to settlement of executor commands.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	pendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "commander_commands_pending",
			Help: "Executor commands currently awaiting a reply.",
		},
	)
)

const (
	outcomeOK           = "ok"
	outcomeRemoteError  = "remote_error"
	outcomeTimeout      = "timeout"
	outcomeCanceled     = "canceled"
	outcomeDisconnected = "disconnected"
	outcomeSendFailed   = "send_failed"
	outcomeNotConnected = "not_connected"
)
