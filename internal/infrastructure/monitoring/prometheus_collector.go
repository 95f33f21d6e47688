package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	sessionsCreatedTotal prometheus.Counter
	sessionsExpiredTotal prometheus.Counter
	rateLimitedTotal     prometheus.Counter
	messagesTotal        *prometheus.CounterVec

	// Gauges
	connectionsActive prometheus.Gauge

	// Histograms
	messageHandleDuration *prometheus.HistogramVec
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_sessions_created_total",
			Help: "Total number of signaling sessions created",
		}),

		sessionsExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_sessions_expired_total",
			Help: "Total number of signaling sessions removed after inactivity",
		}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_rate_limited_total",
			Help: "Total number of requests rejected by rate limiting",
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_messages_total",
			Help: "Total number of signaling messages handled",
		}, []string{"type", "outcome"}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_connections_active",
			Help: "Number of open push connections",
		}),

		messageHandleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pairlink_message_handle_duration_seconds",
			Help:    "Time spent handling a signaling message",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"type"}),
	}
}

func (p *PrometheusCollector) MessageHandled(msgType string, success bool, duration time.Duration) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}

	p.messagesTotal.WithLabelValues(msgType, outcome).Inc()
	p.messageHandleDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

func (p *PrometheusCollector) SessionCreated() {
	p.sessionsCreatedTotal.Inc()
}

func (p *PrometheusCollector) SessionsExpired(n int) {
	p.sessionsExpiredTotal.Add(float64(n))
}

func (p *PrometheusCollector) RateLimited() {
	p.rateLimitedTotal.Inc()
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}
