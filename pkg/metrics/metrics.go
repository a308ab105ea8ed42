package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	BookingEvents    *prometheus.CounterVec
	FraudAlerts      *prometheus.CounterVec
	ProcessorEvents  *prometheus.CounterVec
	SettlementsTotal *prometheus.CounterVec
	TierChanges      *prometheus.CounterVec
	DisputesOpened   prometheus.Counter
}

// New creates a new Metrics instance registered on the default registerer
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer. Tests pass a
// fresh registry so repeated construction does not collide on the
// process-wide default.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		BookingEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_events_total",
				Help: "Booking webhook events by outcome",
			},
			[]string{"outcome"}, // verified, rejected, error
		),
		FraudAlerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraud_alerts_total",
				Help: "Fraud alerts raised during booking evaluation",
			},
			[]string{"severity"},
		),
		ProcessorEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "processor_events_total",
				Help: "Payment processor webhook events by type and outcome",
			},
			[]string{"type", "outcome"}, // outcome: ok, error, ignored
		),
		SettlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_total",
				Help: "Settled payments by final status",
			},
			[]string{"status"}, // completed, failed
		),
		TierChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier_changes_total",
				Help: "Caller tier changes by direction",
			},
			[]string{"direction"}, // promotion, demotion
		),
		DisputesOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "disputes_opened_total",
			Help: "Disputes opened by businesses",
		}),
	}
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			// Route pattern, not the raw path, keeps cardinality bounded.
			path := c.Path()

			err := next(c)

			status := c.Response().Status
			duration := time.Since(start).Seconds()

			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, strconv.Itoa(status)).Observe(duration)

			return err
		}
	}
}

// RecordBookingEvent increments the booking outcome counter
func (m *Metrics) RecordBookingEvent(outcome string) {
	m.BookingEvents.WithLabelValues(outcome).Inc()
}

// RecordFraudAlerts increments the fraud alert counter
func (m *Metrics) RecordFraudAlerts(severity string, count int) {
	m.FraudAlerts.WithLabelValues(severity).Add(float64(count))
}

// RecordProcessorEvent increments the processor webhook counter
func (m *Metrics) RecordProcessorEvent(eventType, outcome string) {
	m.ProcessorEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordSettlement increments the settlement counter
func (m *Metrics) RecordSettlement(status string) {
	m.SettlementsTotal.WithLabelValues(status).Inc()
}

// RecordTierChange increments the tier change counter
func (m *Metrics) RecordTierChange(promotion bool) {
	direction := "demotion"
	if promotion {
		direction = "promotion"
	}
	m.TierChanges.WithLabelValues(direction).Inc()
}

// RecordDisputeOpened increments the disputes counter
func (m *Metrics) RecordDisputeOpened() {
	m.DisputesOpened.Inc()
}
