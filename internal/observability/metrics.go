package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_http_requests_total",
			Help: "Total number of HTTP requests processed by the comms core.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comms_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "comms_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_ws_events_total",
			Help: "Total number of websocket events by name.",
		},
		[]string{"event"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_messages_total",
			Help: "Total number of accepted messages by room kind.",
		},
		[]string{"room_kind"},
	)
	offlineQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "comms_offline_queue_depth",
			Help: "Messages currently waiting in offline queues.",
		},
	)
	crisisAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_crisis_alerts_total",
			Help: "Total number of triggered crisis alerts by severity.",
		},
		[]string{"severity"},
	)
	crisisTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_crisis_transitions_total",
			Help: "Total number of crisis alert status transitions.",
		},
		[]string{"status"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comms_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		messagesTotal,
		offlineQueueDepth,
		crisisAlertsTotal,
		crisisTransitionsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncMessage(roomKind string) {
	messagesTotal.WithLabelValues(roomKind).Inc()
}

func SetOfflineQueueDepth(depth int) {
	offlineQueueDepth.Set(float64(depth))
}

func IncCrisisAlert(severity string) {
	crisisAlertsTotal.WithLabelValues(severity).Inc()
}

func IncCrisisTransition(status string) {
	crisisTransitionsTotal.WithLabelValues(status).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
