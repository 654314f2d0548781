package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseQueryLatency records repository latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campuspulse_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// RoomSubscribers is the number of connection/room memberships held by this instance.
	RoomSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campuspulse_room_subscribers",
		Help: "Number of connections joined to chat rooms",
	})

	// MessagesSent counts chat messages accepted by the router, by message type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuspulse_messages_sent_total",
		Help: "Total number of chat messages persisted and broadcast",
	}, []string{"message_type"})

	// NotificationsCreated counts notification attempts by type and outcome (persisted, failed).
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuspulse_notifications_total",
		Help: "Total notification create attempts by type and outcome",
	}, []string{"type", "outcome"})

	// NotificationPushes counts live notification pushes to online receivers.
	NotificationPushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuspulse_notification_pushes_total",
		Help: "Total notifications pushed to an online receiver",
	})

	// TrendingRecomputes counts score recomputations by trigger (like, comment, share, decay).
	TrendingRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuspulse_trending_recomputes_total",
		Help: "Total trending score recomputations by trigger",
	}, []string{"trigger"})

	// WebSocketEventsTotal counts inbound WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuspulse_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuspulse_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// RoomSequenceGaps counts room sequence gaps skipped after the gap timeout.
	RoomSequenceGaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuspulse_room_sequence_gaps_total",
		Help: "Total room broadcast gaps released after the gap timeout",
	})

	// EventStreamPublishes counts engagement stream publishes by outcome.
	EventStreamPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuspulse_event_stream_publishes_total",
		Help: "Total engagement events published by outcome",
	}, []string{"outcome"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
