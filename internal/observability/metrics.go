package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes recorded by RecordDispatch.
const (
	OutcomeModule    = "module"
	OutcomeWildcard  = "wildcard"
	OutcomeHandler   = "handler"
	OutcomeUnclaimed = "unclaimed"
	OutcomeCore      = "core"
	OutcomeDropped   = "dropped"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goscar",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the status server.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goscar",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goscar",
			Subsystem: "rx",
			Name:      "frames_total",
			Help:      "Frames read from connections.",
		},
		[]string{"kind", "channel"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goscar",
			Subsystem: "tx",
			Name:      "frames_total",
			Help:      "Frames written to connections.",
		},
		[]string{"kind", "channel"},
	)
	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goscar",
			Subsystem: "rx",
			Name:      "dispatch_total",
			Help:      "Dispatch results per received frame.",
		},
		[]string{"outcome"},
	)
	transactionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goscar",
			Subsystem: "correlation",
			Name:      "transactions_total",
			Help:      "Transaction registry events.",
		},
		[]string{"event"},
	)
	cookieEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goscar",
			Subsystem: "correlation",
			Name:      "cookies_total",
			Help:      "Cookie registry events.",
		},
		[]string{"event"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "goscar",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Frames currently held by a queue.",
		},
		[]string{"queue"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesReceived,
			framesSent,
			dispatchOutcomes,
			transactionEvents,
			cookieEvents,
			queueDepth,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameReceived(kind string, channel uint16) {
	RegisterMetrics()
	framesReceived.WithLabelValues(kind, strconv.Itoa(int(channel))).Inc()
}

func RecordFrameSent(kind string, channel uint16) {
	RegisterMetrics()
	framesSent.WithLabelValues(kind, strconv.Itoa(int(channel))).Inc()
}

func RecordDispatch(outcome string) {
	RegisterMetrics()
	dispatchOutcomes.WithLabelValues(outcome).Inc()
}

func RecordTransaction(event string, n int) {
	RegisterMetrics()
	transactionEvents.WithLabelValues(event).Add(float64(n))
}

func RecordCookie(event string) {
	RegisterMetrics()
	cookieEvents.WithLabelValues(event).Inc()
}

func SetQueueDepth(queue string, n int) {
	RegisterMetrics()
	queueDepth.WithLabelValues(queue).Set(float64(n))
}
