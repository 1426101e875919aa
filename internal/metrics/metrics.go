// Package metrics exposes the arena's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arena"

var (
	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_ops_total",
			Help:      "Session operations processed by kind and outcome",
		},
		[]string{"op", "outcome"},
	)
	opDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_op_duration_seconds",
			Help:      "Time spent inside the session actor per operation",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)
	activeActors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_actors_active",
		Help:      "Live session actors",
	})
	liveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_live",
		Help:      "Open realtime connections",
	})
	sessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions that reached ended, by reason",
		},
		[]string{"reason"},
	)
	ratingAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rating_adjustments_total",
			Help:      "Rating adjustments committed, by game type",
		},
		[]string{"game_type"},
	)
	broadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_total",
		Help:      "Events dropped because a connection outbox was full",
	})
	persistRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_retries_total",
		Help:      "Store writes retried after a failure",
	})
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_rate_limited_total",
		Help:      "Inbound client messages rejected by the per-connection limiter",
	})
	webhookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_failures_total",
		Help:      "Result webhook deliveries that failed after all retries",
	})
)

func ObserveOp(op, outcome string, seconds float64) {
	opsTotal.WithLabelValues(op, outcome).Inc()
	opDuration.WithLabelValues(op).Observe(seconds)
}

func ActorStarted()       { activeActors.Inc() }
func ActorStopped()       { activeActors.Dec() }
func ConnectionOpened()   { liveConnections.Inc() }
func ConnectionClosed()   { liveConnections.Dec() }
func BroadcastDropped()   { broadcastDrops.Inc() }
func PersistRetried()     { persistRetries.Inc() }
func InboundRateLimited() { rateLimited.Inc() }
func WebhookFailed()      { webhookFailures.Inc() }

func SessionEnded(reason string) { sessionsEnded.WithLabelValues(reason).Inc() }

func RatingAdjusted(gameType string, n int) {
	ratingAdjustments.WithLabelValues(gameType).Add(float64(n))
}
