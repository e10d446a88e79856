package node

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/frame-fleet/internal/codec"
	"github.com/adred-codev/frame-fleet/internal/detector"
	"github.com/adred-codev/frame-fleet/internal/metrics"
	"github.com/adred-codev/frame-fleet/internal/videoio"
)

// testSink is shared across this package's tests: promauto panics on a
// duplicate metric-name registration, and production code only ever
// builds one metrics.Metrics per process.
var testSink = metrics.New()

type busMessage struct{ topic, data string }

// fakeBus is an in-process, queue-and-drain pub/sub stand-in. Delivery
// never reenters a publisher's call stack synchronously — it is queued
// and handed out by drain — mirroring real broker semantics closely
// enough that the RB bootstrap (which publishes as a side effect of
// instance construction) cannot race its own delivery.
type fakeBus struct {
	mu    sync.Mutex
	subs  map[string][]func([]byte)
	queue []busMessage
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string][]func([]byte))}
}

func (b *fakeBus) PublishString(subject, data string) error {
	b.mu.Lock()
	b.queue = append(b.queue, busMessage{subject, data})
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) Subscribe(subject string, handler func(data []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[subject] = append(b.subs[subject], handler)
	return nil
}

func (b *fakeBus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		msg := b.queue[0]
		b.queue = b.queue[1:]
		handlers := append([]func([]byte){}, b.subs[msg.topic]...)
		b.mu.Unlock()
		for _, h := range handlers {
			h([]byte(msg.data))
		}
	}
}

func waitUntil(t *testing.T, bus *fakeBus, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		bus.drain()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestSingleNodeLoopbackEndToEnd exercises the single-node case: one node
// acts as both the sole worker and its own leader, processes every frame,
// and replies with the Kadane-selected best subclip.
func TestSingleNodeLoopbackEndToEnd(t *testing.T) {
	bus := newFakeBus()
	hits := []int{2, 5, 0} // frame 2's zero hit normalizes to -1 for aggregation
	det := detector.NewStubDetector(hits)

	nodeID := "n1"
	var mu sync.Mutex
	var replies []string
	bus.Subscribe(codec.ClientTopic, func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, string(data))
	})

	n := New(nodeID, bus, det, videoio.Container{}, zerolog.Nop(), testSink, false, func() int { return 1 })
	require.NoError(t, n.Wire())

	// Seed the heartbeat tracker so the dispatch loop sees n1 as free from
	// the start.
	n.OnHeartbeat([]byte(codec.EncodeHeartbeat(codec.Heartbeat{Node: nodeID, Status: codec.StatusFree})))
	n.Tracker().Swap()

	frames := []videoio.Frame{
		{ID: 0, Bytes: []byte("f0")},
		{ID: 1, Bytes: []byte("f1")},
		{ID: 2, Bytes: []byte("f2")},
	}
	clip, err := (videoio.Container{}).Encode(frames)
	require.NoError(t, err)

	vr := codec.VideoRequest{Video: base64.StdEncoding.EncodeToString(clip), Target: 7}
	require.NoError(t, bus.PublishString(codec.RequestInbox(nodeID), codec.EncodeVideoRequest(vr)))

	// A real node's dispatch loop only releases a busy worker once a
	// fresh heartbeat snapshot reports it free again (the tracker's
	// accumulator/snapshot discipline); replay n1's own heartbeat on a
	// tight ticker to drive that release cycle during the test.
	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.OnHeartbeat([]byte(codec.EncodeHeartbeat(n.Heartbeat())))
				n.Tracker().Swap()
			case <-stopHeartbeat:
				return
			}
		}
	}()

	waitUntil(t, bus, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(replies) == 1
	})

	mu.Lock()
	reply := replies[0]
	mu.Unlock()

	clipBytes, err := base64.StdEncoding.DecodeString(reply)
	require.NoError(t, err)
	got, err := (videoio.Container{}).Decode(clipBytes)
	require.NoError(t, err)

	// Kadane over [2, 5, -1] picks frames [0,1] (sum 7), not frame 2.
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].ID)
	assert.Equal(t, 1, got[1].ID)
	assert.True(t, n.IsLeader())
}

func TestOnlyFirstRequestElectsLeader(t *testing.T) {
	bus := newFakeBus()
	det := detector.NewStubDetector(nil)
	n := New("n1", bus, det, videoio.Container{}, zerolog.Nop(), testSink, false, func() int { return 1 })
	require.NoError(t, n.Wire())

	var broadcastCount int
	bus.Subscribe(codec.BroadcastTopic, func(data []byte) { broadcastCount++ })

	clip, err := (videoio.Container{}).Encode([]videoio.Frame{{ID: 0, Bytes: []byte("f0")}})
	require.NoError(t, err)
	vr := codec.VideoRequest{Video: base64.StdEncoding.EncodeToString(clip), Target: 1}

	require.NoError(t, bus.PublishString(codec.RequestInbox("n1"), codec.EncodeVideoRequest(vr)))
	bus.drain()
	assert.True(t, n.IsLeader())
	afterFirst := broadcastCount
	assert.Greater(t, afterFirst, 0, "the first request publishes at least the initial job message")

	// A second request on the same inbox must not re-run leader election
	// or publish a second `initial` job message onto the broadcast topic.
	require.NoError(t, bus.PublishString(codec.RequestInbox("n1"), codec.EncodeVideoRequest(vr)))
	bus.drain()
	assert.Equal(t, afterFirst, broadcastCount, "second request triggers no further broadcast traffic")
}
