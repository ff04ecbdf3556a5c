package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commander_events_published_total",
			Help: "Total domain events published by kind.",
		},
		[]string{"kind"},
	)
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commander_event_deliveries_total",
			Help: "Per-observer delivery outcomes by kind and result.",
		},
		[]string{"kind", "result"},
	)
	publishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "commander_publish_duration_seconds",
			Help:    "Time spent fanning one event out to all observers.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

const (
	resultDelivered  = "delivered"
	resultSuppressed = "suppressed"
	resultFailed     = "failed"
)
