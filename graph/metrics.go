package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus instrumentation for workflow execution.
//
// Exposed metrics (all namespaced "pathweaver"):
//
//   - node_latency_seconds (histogram): node execution duration, labeled by
//     node and status (success/error).
//   - node_retries_total (counter): retry attempts, labeled by node and
//     error kind.
//   - workflows_inflight (gauge): workflows currently executing in this
//     process.
//   - fanout_inflight (gauge): concurrent content-generation calls, labeled
//     by artifact kind. Bounded by the per-kind semaphore.
//   - queue_depth (gauge): pending jobs per named queue, sampled by the
//     workers.
//
// Expose via promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	nodeLatency       *prometheus.HistogramVec
	nodeRetries       *prometheus.CounterVec
	workflowsInflight prometheus.Gauge
	fanoutInflight    *prometheus.GaugeVec
	queueDepth        *prometheus.GaugeVec
}

// NewMetrics creates and registers the workflow metrics. A nil registry
// uses the default global registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pathweaver",
			Name:      "node_latency_seconds",
			Help:      "Workflow node execution duration in seconds.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		}, []string{"node", "status"}),

		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathweaver",
			Name:      "node_retries_total",
			Help:      "Retry attempts per node and error kind.",
		}, []string{"node", "kind"}),

		workflowsInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pathweaver",
			Name:      "workflows_inflight",
			Help:      "Workflows currently executing in this process.",
		}),

		fanoutInflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pathweaver",
			Name:      "fanout_inflight",
			Help:      "Concurrent content-generation calls per artifact kind.",
		}, []string{"kind"}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pathweaver",
			Name:      "queue_depth",
			Help:      "Pending jobs per named queue.",
		}, []string{"queue"}),
	}
}

// ObserveNode records one node execution.
func (m *Metrics) ObserveNode(node string, d time.Duration, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.nodeLatency.WithLabelValues(node, status).Observe(d.Seconds())
}

// NodeRetried counts a retry attempt.
func (m *Metrics) NodeRetried(node string, kind ErrorKind) {
	m.nodeRetries.WithLabelValues(node, string(kind)).Inc()
}

// WorkflowStarted increments the inflight gauge.
func (m *Metrics) WorkflowStarted() { m.workflowsInflight.Inc() }

// WorkflowFinished decrements the inflight gauge.
func (m *Metrics) WorkflowFinished() { m.workflowsInflight.Dec() }

// FanoutStarted increments the per-kind fan-out gauge.
func (m *Metrics) FanoutStarted(kind string) { m.fanoutInflight.WithLabelValues(kind).Inc() }

// FanoutFinished decrements the per-kind fan-out gauge.
func (m *Metrics) FanoutFinished(kind string) { m.fanoutInflight.WithLabelValues(kind).Dec() }

// SetQueueDepth records the sampled depth of a named queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}
