package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_active_connections",
			Help: "Number of active WebSocket connections.",
		},
	)

	ActiveRoomsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_active_rooms",
			Help: "Number of rooms with at least one participant.",
		},
	)

	EventsReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_events_received_total",
			Help: "Inbound realtime events by type.",
		},
		[]string{"type"},
	)

	EventsBroadcastCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_events_broadcast_total",
			Help: "Events broadcast to room members by type.",
		},
		[]string{"type"},
	)

	CacheOperationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_cache_operations_total",
			Help: "Cache store operations by backend outcome (hit, miss, error, write).",
		},
		[]string{"op", "outcome"},
	)

	RateLimitDecisionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_rate_limit_decisions_total",
			Help: "Rate limiter decisions (allow, deny, fail_open).",
		},
		[]string{"decision"},
	)

	ResponseCacheCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_response_cache_total",
			Help: "Response cache middleware outcomes (hit, miss, bypass, invalidate).",
		},
		[]string{"outcome"},
	)

	MessagesDroppedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_ws_messages_dropped_total",
			Help: "Outbound messages dropped due to backpressure, by reason.",
		},
		[]string{"reason"},
	)
)

// IncrementActiveConnections increments the active connections gauge.
func IncrementActiveConnections() { ActiveConnectionsGauge.Inc() }

// DecrementActiveConnections decrements the active connections gauge.
func DecrementActiveConnections() { ActiveConnectionsGauge.Dec() }

// IncrementActiveRooms increments the active rooms gauge.
func IncrementActiveRooms() { ActiveRoomsGauge.Inc() }

// DecrementActiveRooms decrements the active rooms gauge.
func DecrementActiveRooms() { ActiveRoomsGauge.Dec() }

// IncrementEventsReceived counts one inbound realtime event.
func IncrementEventsReceived(eventType string) {
	EventsReceivedCounter.WithLabelValues(eventType).Inc()
}

// IncrementEventsBroadcast counts one broadcast to room members.
func IncrementEventsBroadcast(eventType string) {
	EventsBroadcastCounter.WithLabelValues(eventType).Inc()
}

// ObserveCacheOperation records a cache store operation outcome.
func ObserveCacheOperation(op, outcome string) {
	CacheOperationsCounter.WithLabelValues(op, outcome).Inc()
}

// ObserveRateLimitDecision records a rate limiter decision.
func ObserveRateLimitDecision(decision string) {
	RateLimitDecisionsCounter.WithLabelValues(decision).Inc()
}

// ObserveResponseCache records a response cache middleware outcome.
func ObserveResponseCache(outcome string) {
	ResponseCacheCounter.WithLabelValues(outcome).Inc()
}

// IncrementMessagesDropped counts an outbound message dropped under backpressure.
func IncrementMessagesDropped(reason string) {
	MessagesDroppedCounter.WithLabelValues(reason).Inc()
}
