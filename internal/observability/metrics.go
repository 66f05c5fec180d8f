package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesAppended counts messages appended to conversation logs by kind.
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_messages_appended_total",
		Help: "Total number of messages appended to conversation logs",
	}, []string{"kind"})

	// MessagesRejected counts appends dropped as no-ops by reason.
	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_messages_rejected_total",
		Help: "Total number of message appends ignored",
	}, []string{"reason"})

	// ReadReceipts counts readBy additions.
	ReadReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealroom_read_receipts_total",
		Help: "Total number of read receipts recorded",
	})

	// TypingTransitions counts typing state machine transitions by target state.
	TypingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_typing_transitions_total",
		Help: "Total number of typing state transitions",
	}, []string{"to", "cause"})

	// RepliesScheduled counts counterparty replies awaited by source.
	RepliesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_replies_scheduled_total",
		Help: "Total number of counterparty replies scheduled",
	}, []string{"source"})

	// RepliesDelivered counts counterparty replies appended.
	RepliesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealroom_replies_delivered_total",
		Help: "Total number of counterparty replies delivered",
	})

	// TimersCancelled counts timers stopped before firing by reason.
	TimersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_timers_cancelled_total",
		Help: "Total number of scheduled timers cancelled before firing",
	}, []string{"timer", "reason"})

	// ActiveConversations is the gauge of open conversation views.
	ActiveConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealroom_active_conversations",
		Help: "Number of conversations with an open view",
	})

	// NotificationsAdded counts notifications accepted by the center by type.
	NotificationsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_notifications_added_total",
		Help: "Total number of notifications added",
	}, []string{"type"})

	// NotificationsRemoved counts dismissed notifications by operation.
	NotificationsRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_notifications_removed_total",
		Help: "Total number of notifications removed",
	}, []string{"operation"})

	// PersistErrors counts persistence failures by backend and operation.
	PersistErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_persist_errors_total",
		Help: "Total number of persistence errors",
	}, []string{"backend", "operation"})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealroom_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealroom_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)
