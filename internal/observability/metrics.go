package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memex",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)

	connectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "memex",
			Subsystem: "ingest",
			Name:      "connections_active",
			Help:      "Connections currently being served.",
		},
		[]string{"node"},
	)
	connectionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Subsystem: "ingest",
			Name:      "connections_closed_total",
			Help:      "Connections closed, by terminal state.",
		},
		[]string{"node", "outcome"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Subsystem: "ingest",
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from ingest sockets.",
		},
		[]string{"node"},
	)
	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Subsystem: "ingest",
			Name:      "frames_decoded_total",
			Help:      "Frames decoded and handed to dispatch.",
		},
		[]string{"node"},
	)
	discardedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Subsystem: "ingest",
			Name:      "discarded_bytes_total",
			Help:      "Bytes dropped while resynchronizing on the frame marker.",
		},
		[]string{"node"},
	)
	backpressureThrottles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Subsystem: "ingest",
			Name:      "backpressure_throttles_total",
			Help:      "Read iterations delayed by the soft buffer threshold.",
		},
		[]string{"node"},
	)
	dispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Subsystem: "ingest",
			Name:      "dispatch_errors_total",
			Help:      "Payloads the dispatch collaborator rejected.",
		},
		[]string{"node"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memex",
			Subsystem: "ingest",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent inside the dispatch collaborator per payload.",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connectionsActive,
			connectionsClosed,
			bytesReceived,
			framesDecoded,
			discardedBytes,
			backpressureThrottles,
			dispatchErrors,
			dispatchDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// IngestRecorder binds the ingest collectors to one node label so the
// per-read hot path avoids label lookups.
type IngestRecorder struct {
	node     string
	active   prometheus.Gauge
	bytes    prometheus.Counter
	frames   prometheus.Counter
	discard  prometheus.Counter
	throttle prometheus.Counter
	dErrors  prometheus.Counter
	dLatency prometheus.Observer
}

func NewIngestRecorder(node string) *IngestRecorder {
	RegisterMetrics()
	return &IngestRecorder{
		node:     node,
		active:   connectionsActive.WithLabelValues(node),
		bytes:    bytesReceived.WithLabelValues(node),
		frames:   framesDecoded.WithLabelValues(node),
		discard:  discardedBytes.WithLabelValues(node),
		throttle: backpressureThrottles.WithLabelValues(node),
		dErrors:  dispatchErrors.WithLabelValues(node),
		dLatency: dispatchDuration.WithLabelValues(node),
	}
}

func (r *IngestRecorder) ConnOpened() {
	r.active.Inc()
}

func (r *IngestRecorder) ConnClosed(outcome string) {
	r.active.Dec()
	connectionsClosed.WithLabelValues(r.node, outcome).Inc()
}

func (r *IngestRecorder) BytesReceived(n int) {
	r.bytes.Add(float64(n))
}

func (r *IngestRecorder) Discarded(n int) {
	r.discard.Add(float64(n))
}

func (r *IngestRecorder) Throttled() {
	r.throttle.Inc()
}

func (r *IngestRecorder) Dispatched(d time.Duration, err error) {
	r.frames.Inc()
	r.dLatency.Observe(d.Seconds())
	if err != nil {
		r.dErrors.Inc()
	}
}
