package game

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pong_live_matches",
		Help: "Number of matches currently held in memory.",
	})

	matchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pong_matches_created_total",
		Help: "Matches created, by mode.",
	}, []string{"mode"})

	matchesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pong_matches_ended_total",
		Help: "Matches removed from the registry, by mode and reason.",
	}, []string{"mode", "reason"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pong_queue_depth",
		Help: "Players waiting in each matchmaking queue.",
	}, []string{"mode"})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pong_tick_duration_seconds",
		Help:    "Time spent advancing all live matches in one tick.",
		Buckets: []float64{.0001, .0005, .001, .002, .004, .008, .016, .032},
	})
)
