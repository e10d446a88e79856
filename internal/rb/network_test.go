package rb

import (
	"github.com/rs/zerolog"

	"github.com/adred-codev/frame-fleet/internal/codec"
	"github.com/adred-codev/frame-fleet/internal/metrics"
)

// fakeBroker is a minimal in-process broker stand-in: Publish enqueues,
// drain() delivers queued messages to every registered subscriber. This
// mirrors real NATS's out-of-call-stack delivery (a Publish never
// reenters a subscriber synchronously), which matters here because
// NewInstance publishes its bootstrap echo as part of construction.
type fakeBroker struct {
	queue []string
	subs  []func(string)
}

func (b *fakeBroker) PublishString(subject, data string) error {
	b.queue = append(b.queue, data)
	return nil
}

func (b *fakeBroker) subscribe(f func(string)) {
	b.subs = append(b.subs, f)
}

// drain delivers every currently queued message (and any messages newly
// queued as a side effect of delivery) until the queue is empty.
func (b *fakeBroker) drain() {
	for len(b.queue) > 0 {
		msg := b.queue[0]
		b.queue = b.queue[1:]
		for _, sub := range b.subs {
			sub(msg)
		}
	}
}

// testSink is a single Prometheus-backed Sink shared by every test in this
// package: promauto registers each metric name once on the default
// registry, so constructing a fresh metrics.Metrics per registry (as
// production code does exactly once, at startup) would panic here on the
// second registry.
var testSink = metrics.New()

// fakeNetwork simulates nodeCount registries sharing one broadcast topic.
type fakeNetwork struct {
	broker     *fakeBroker
	registries []*Registry
	accepted   []codec.RBMessage
}

func newFakeNetwork(nodeCount int, useHash bool) *fakeNetwork {
	net := &fakeNetwork{broker: &fakeBroker{}}
	count := func() int { return nodeCount }
	for i := 0; i < nodeCount; i++ {
		reg := New(net.broker, count, useHash, zerolog.Nop(), testSink, func(msg codec.RBMessage) {
			net.accepted = append(net.accepted, msg)
		})
		net.registries = append(net.registries, reg)
		net.broker.subscribe(func(data string) {
			decoded, err := codec.DecodeRBMessage(data)
			if err != nil {
				return
			}
			reg.Handle(decoded)
		})
	}
	return net
}

// submit delivers an initial message to every registry (modeling every
// node's own /broadcast subscription receiving the leader's publish),
// letting each bootstrap its own instance and queue its own echo, then
// drains all resulting echo/ready traffic to completion.
func (net *fakeNetwork) submit(msg codec.RBMessage) {
	for _, reg := range net.registries {
		reg.Handle(msg)
	}
	net.broker.drain()
}
