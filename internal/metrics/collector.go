// Package metrics exposes prometheus counters for sessions, slots, the
// compiler and the inspection API. A nil *Collector records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every metric the process exports.
type Collector struct {
	messagesTotal      *prometheus.CounterVec
	handshakesTotal    *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	slotsTotal         *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	compilesTotal      *prometheus.CounterVec
	compileCache       *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the metrics on reg.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.messagesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Protocol messages by direction, plane and code",
		},
		[]string{"direction", "type", "code"},
	)
	c.handshakesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Session handshakes by result",
		},
		[]string{"result"},
	)
	c.sessionsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions currently serving",
	})
	c.slotsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_total",
			Help:      "Slot lifecycle events",
		},
		[]string{"event"},
	)
	c.evaluationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating remote code",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"status"},
	)
	c.compilesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Module compilations by result",
		},
		[]string{"result"},
	)
	c.compileCache = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_cache_total",
			Help:      "Compile cache lookups",
		},
		[]string{"result"},
	)
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
	c.httpDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	return c
}

func (c *Collector) RecordMessage(direction, msgType, code string) {
	if c == nil {
		return
	}
	c.messagesTotal.WithLabelValues(direction, msgType, code).Inc()
}

func (c *Collector) RecordHandshake(ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.handshakesTotal.WithLabelValues(result).Inc()
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

// RecordSlot counts a slot event such as "allocated", "completed",
// "delivered" or "failed".
func (c *Collector) RecordSlot(event string) {
	if c == nil {
		return
	}
	c.slotsTotal.WithLabelValues(event).Inc()
}

func (c *Collector) ObserveEvaluation(d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.evaluationDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (c *Collector) RecordCompile(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.compilesTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.compileCache.WithLabelValues(result).Inc()
}

func (c *Collector) RecordHTTPRequest(method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}
