// Package metrics exposes Prometheus instrumentation for the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchesStarted counts accepted challenges.
	MatchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockout_matches_started_total",
		Help: "Number of 1v1 matches started.",
	})

	// RoundsStarted counts created rounds.
	RoundsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockout_rounds_started_total",
		Help: "Number of rounds started.",
	})

	// ContestsFinished counts concluded contests by kind and outcome.
	ContestsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockout_contests_finished_total",
		Help: "Number of contests concluded.",
	}, []string{"kind", "outcome"})

	// RatingUpdates counts rating history appends.
	RatingUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockout_rating_updates_total",
		Help: "Number of rating snapshots written.",
	})

	// CollectorTimeouts counts negotiation prompts that expired unanswered.
	CollectorTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockout_collector_timeouts_total",
		Help: "Number of response prompts that timed out.",
	})
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
