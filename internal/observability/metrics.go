package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Degraded-mode component labels.
const (
	DegradedPresence  = "presence"
	DegradedRateLimit = "ratelimit"
	DegradedFanout    = "fanout"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_auth_failures_total",
		Help: "Handshakes refused by the identity gate",
	})

	MessagesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_persisted_total",
		Help: "Chat messages written to the durable store",
	})

	NotificationsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_notifications_persisted_total",
		Help: "Notification records written to the durable store",
	})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_rejected_total",
		Help: "Actions rejected by the fixed-window limiter",
	}, []string{"action"})

	OfflineEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_queue_enqueued_total",
		Help: "Events buffered for offline recipients",
	})

	OfflineDrained = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_queue_drained_total",
		Help: "Buffered events replayed on reconnect",
	})

	OfflineDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_queue_dropped_total",
		Help: "Buffered events dropped because a queue exceeded its max length",
	})

	Degraded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "degraded_mode_total",
		Help: "Operations served in degraded mode because a shared backend failed",
	}, []string{"component"})

	SlowClientsDisconnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_slow_clients_disconnected_total",
		Help: "Connections closed because their send buffer was full",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		AuthFailures,
		MessagesPersisted,
		NotificationsPersisted,
		RateLimited,
		OfflineEnqueued,
		OfflineDrained,
		OfflineDropped,
		Degraded,
		SlowClientsDisconnected,
	)
}

// RecordDegraded counts one operation served in degraded mode.
func RecordDegraded(component string) {
	Degraded.WithLabelValues(component).Inc()
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
