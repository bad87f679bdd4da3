package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medreminder_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medreminder_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	remindersGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medreminder_reminders_generated_total",
			Help: "Reminders generated by slot",
		},
		[]string{"slot"},
	)

	remindersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medreminder_reminders_dispatched_total",
			Help: "Reminder dispatch outcomes by slot (sent, failed, skipped)",
		},
		[]string{"slot", "outcome"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medreminder_deliveries_total",
			Help: "Per-recipient deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medreminder_delivery_latency_seconds",
			Help:    "Time spent delivering one message to one recipient",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medreminder_confirmations_total",
			Help: "Confirmation attempts by source and result",
		},
		[]string{"source", "result"},
	)

	slotClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medreminder_slot_claims_total",
			Help: "Slot claim attempts by outcome (won, lost, error)",
		},
		[]string{"outcome"},
	)

	resends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medreminder_resends_total",
			Help: "Reminders re-sent while awaiting confirmation",
		},
	)

	pendingSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medreminder_pending_reminders",
			Help: "Size of the pending set after the last write",
		},
	)

	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medreminder_store_errors_total",
			Help: "Backing store failures by operation",
		},
		[]string{"operation"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medreminder_rate_limit_rejections_total",
			Help: "Inbound webhook requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medreminder_circuit_state",
			Help: "Circuit breaker state per channel (0 closed, 1 half-open, 2 open)",
		},
		[]string{"channel"},
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

// RecordGenerated records the size of a generated batch
func RecordGenerated(slot string, count int) {
	remindersGenerated.WithLabelValues(slot).Add(float64(count))
}

// RecordDispatch records one reminder's dispatch outcome
func RecordDispatch(slot, outcome string) {
	remindersDispatched.WithLabelValues(slot, outcome).Inc()
}

// RecordDelivery records one recipient delivery
func RecordDelivery(channel, status string, latency time.Duration) {
	deliveries.WithLabelValues(channel, status).Inc()
	deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordConfirmation records a confirmation attempt
func RecordConfirmation(source, result string) {
	confirmations.WithLabelValues(source, result).Inc()
}

// RecordSlotClaim records a slot claim outcome
func RecordSlotClaim(outcome string) {
	slotClaims.WithLabelValues(outcome).Inc()
}

// RecordResend records a re-sent reminder
func RecordResend() {
	resends.Inc()
}

// SetPending sets the pending-set size gauge
func SetPending(count int) {
	pendingSize.Set(float64(count))
}

// RecordStoreError records a backing store failure
func RecordStoreError(operation string) {
	storeErrors.WithLabelValues(operation).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(route string) {
	rateLimitRejections.WithLabelValues(route).Inc()
}

// SetCircuitState sets the breaker state gauge for a channel
func SetCircuitState(channel string, state int) {
	circuitState.WithLabelValues(channel).Set(float64(state))
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

// Middleware returns HTTP middleware that records request metrics. Paths
// are labeled by chi route pattern so reminder ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
