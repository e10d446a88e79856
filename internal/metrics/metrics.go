// Package metrics exposes Prometheus instrumentation for the coordination
// substrate: broker health, RB instance churn, dispatch queue depth, and
// heartbeat liveness, alongside a gopsutil-backed system sampler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the concrete Prometheus-backed Sink.
type Metrics struct {
	// Broker
	brokerConnected  prometheus.Gauge
	brokerReconnects prometheus.Counter
	brokerMessages   prometheus.Counter
	brokerLatency    prometheus.Histogram

	// Errors
	errorsTotal  prometheus.Counter
	errorsByType *prometheus.CounterVec

	// Heartbeat
	liveNodes prometheus.Gauge

	// RB
	rbInstancesActive prometheus.Gauge
	rbAcceptedTotal   prometheus.Counter
	rbPoisonedTotal   prometheus.Counter

	// Dispatch
	dispatchQueueDepth         prometheus.Gauge
	dispatchReassignmentsTotal prometheus.Counter

	// Aggregation
	framesAggregatedTotal prometheus.Counter

	startTime time.Time
}

// New builds and registers the fleet's Prometheus metrics on the default
// registry via promauto.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		brokerConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_broker_connected",
			Help: "1 if the broker connection is currently established, 0 otherwise.",
		}),
		brokerReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_broker_reconnects_total",
			Help: "Total number of broker reconnect events.",
		}),
		brokerMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_broker_messages_total",
			Help: "Total number of broker messages delivered to subscription handlers.",
		}),
		brokerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleet_broker_latency_seconds",
			Help:    "Latency of broker publish/subscribe operations.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		errorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_errors_total",
			Help: "Total number of recovered errors across all components.",
		}),
		errorsByType: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_errors_by_type_total",
			Help: "Total number of recovered errors, labeled by type.",
		}, []string{"type"}),

		liveNodes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_heartbeat_live_nodes",
			Help: "Number of nodes present in the most recent heartbeat snapshot.",
		}),

		rbInstancesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_rb_instances_active",
			Help: "Number of reliable broadcast instances currently live in the registry.",
		}),
		rbAcceptedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_rb_accepted_total",
			Help: "Total number of reliable broadcast instances that reached accepted.",
		}),
		rbPoisonedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_rb_poisoned_total",
			Help: "Total number of reliable broadcast instances poisoned by a hash mismatch.",
		}),

		dispatchQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_dispatch_queue_depth",
			Help: "Number of frame ids currently dispatched but not yet accepted.",
		}),
		dispatchReassignmentsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_dispatch_reassignments_total",
			Help: "Total number of times the leader cleared the processing queue to permit reassignment.",
		}),

		framesAggregatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_frames_aggregated_total",
			Help: "Total number of frame results folded into a completed aggregation.",
		}),
	}
}

func (m *Metrics) SetBrokerConnected(connected bool) {
	if connected {
		m.brokerConnected.Set(1)
	} else {
		m.brokerConnected.Set(0)
	}
}

func (m *Metrics) IncrementBrokerReconnects() { m.brokerReconnects.Inc() }
func (m *Metrics) IncrementBrokerMessages()   { m.brokerMessages.Inc() }
func (m *Metrics) RecordBrokerLatency(d time.Duration) {
	m.brokerLatency.Observe(d.Seconds())
}

func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Inc()
	m.errorsByType.WithLabelValues(errorType).Inc()
}

func (m *Metrics) SetLiveNodes(n int) { m.liveNodes.Set(float64(n)) }

func (m *Metrics) SetActiveRBInstances(n int) { m.rbInstancesActive.Set(float64(n)) }
func (m *Metrics) IncrementRBAccepted()       { m.rbAcceptedTotal.Inc() }
func (m *Metrics) IncrementRBPoisoned()       { m.rbPoisonedTotal.Inc() }

func (m *Metrics) SetDispatchQueueDepth(n int)     { m.dispatchQueueDepth.Set(float64(n)) }
func (m *Metrics) IncrementDispatchReassignments() { m.dispatchReassignmentsTotal.Inc() }
func (m *Metrics) IncrementFramesAggregated(n int) { m.framesAggregatedTotal.Add(float64(n)) }

func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }
