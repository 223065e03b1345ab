package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsrelay_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smsrelay_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsrelay_deliveries_total",
			Help: "Delivery attempts by outcome and error kind",
		},
		[]string{"outcome", "kind"},
	)

	transportSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smsrelay_transport_send_duration_seconds",
			Help:    "Time spent in the email transport per send",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"transport"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smsrelay_queue_depth",
			Help: "Messages currently waiting in the retry queue",
		},
	)

	queueEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smsrelay_queue_evictions_total",
			Help: "Oldest messages evicted to keep the queue under its cap",
		},
	)

	flushRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsrelay_flush_runs_total",
			Help: "Queue flush invocations by result status",
		},
		[]string{"status"},
	)

	flushProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smsrelay_flush_processed_total",
			Help: "Messages drained from the retry queue by flushes",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smsrelay_idempotency_hits_total",
			Help: "Inbound events served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsrelay_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"source"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smsrelay_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smsrelay_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDelivery records one delivery attempt's outcome
func RecordDelivery(outcome, kind string) {
	deliveriesTotal.WithLabelValues(outcome, kind).Inc()
}

// RecordTransportSend records time spent in one transport send
func RecordTransportSend(transport string, duration time.Duration) {
	transportSendDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// SetQueueDepth sets the current retry queue size
func SetQueueDepth(count int) {
	queueDepth.Set(float64(count))
}

// RecordQueueEvictions records messages dropped by the queue cap
func RecordQueueEvictions(count int) {
	queueEvictions.Add(float64(count))
}

// RecordFlush records one flush run and how many messages it drained
func RecordFlush(status string, processed int) {
	flushRuns.WithLabelValues(status).Inc()
	flushProcessed.Add(float64(processed))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(source string) {
	rateLimitRejections.WithLabelValues(source).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
