package metrics

import "time"

// Sink is the interface the broker adapter and the coordination
// components record observations through, so they can be unit-tested
// against a fake without pulling in a live Prometheus registry.
type Sink interface {
	// Broker
	SetBrokerConnected(connected bool)
	IncrementBrokerReconnects()
	IncrementBrokerMessages()
	RecordBrokerLatency(d time.Duration)
	RecordError(errorType string)

	// Heartbeat
	SetLiveNodes(n int)

	// Reliable broadcast
	SetActiveRBInstances(n int)
	IncrementRBAccepted()
	IncrementRBPoisoned()

	// Dispatch
	SetDispatchQueueDepth(n int)
	IncrementDispatchReassignments()

	// Aggregation
	IncrementFramesAggregated(n int)
}
