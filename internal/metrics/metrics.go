// Package metrics provides Prometheus instrumentation for the matchmaking
// and signaling server. It exposes gauges for connection, queue, and call
// counts, counters for match and signal throughput, and a histogram for
// search latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meetmingle_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MatchQueueSize tracks the current number of users waiting in the queue.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meetmingle_match_queue_size",
		Help: "Current number of users in the matching queue",
	})

	// ActiveCalls tracks the current number of rooms with both peers connected.
	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meetmingle_active_calls",
		Help: "Current number of active call sessions",
	})

	// MatchesTotal counts committed pairings, labeled by call type.
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetmingle_matches_total",
		Help: "Total number of committed matches",
	}, []string{"call_type"}) // call_type = "video", "audio"

	// SignalsRelayed counts relayed signaling messages, labeled by kind:
	// "webrtc", "ice", or "data".
	SignalsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetmingle_signals_relayed_total",
		Help: "Total number of relayed signaling messages",
	}, []string{"kind"})

	// MatchSearchDuration records how long one findMatch pass takes.
	MatchSearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meetmingle_match_search_duration_seconds",
		Help:    "Duration of one matching pass",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// CoinChargesTotal counts filter debits written to the coin ledger.
	CoinChargesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meetmingle_coin_charges_total",
		Help: "Total number of filter charges applied",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MatchQueueSize,
		ActiveCalls,
		MatchesTotal,
		SignalsRelayed,
		MatchSearchDuration,
		CoinChargesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
