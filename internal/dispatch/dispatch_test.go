package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/frame-fleet/internal/metrics"
)

// testSink is shared across this package's tests: promauto panics on a
// duplicate metric-name registration, and production code only ever
// builds one metrics.Metrics per process.
var testSink = metrics.New()

// fakePublisher records every dispatched (node, frameID) pair. A
// dispatched id is only "completed" once the test records its result via
// loop.RecordResult, which models the node's detector goroutine eventually publishing a result.
type fakePublisher struct {
	mu         sync.Mutex
	dispatched []assignment
}

type assignment struct {
	node    string
	frameID int
}

func (p *fakePublisher) Dispatch(node string, frameID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatched = append(p.dispatched, assignment{node, frameID})
	return nil
}

func (p *fakePublisher) snapshot() []assignment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]assignment, len(p.dispatched))
	copy(out, p.dispatched)
	return out
}

// fixedFreeNodes is a FreeNodeSource that never changes.
type fixedFreeNodes []string

func (f fixedFreeNodes) FreeNodes() []string { return f }

func TestDispatchCoversEveryFrameExactlyOnce(t *testing.T) {
	pub := &fakePublisher{}
	nodes := fixedFreeNodes{"node-a", "node-b"}
	loop := New(pub, nodes, 4, zerolog.Nop(), testSink)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		loop.Run(stop)
		close(done)
	}()

	// Drive the loop by completing each dispatched frame as soon as it
	// appears, until every frame has a result.
	deadline := time.After(2 * time.Second)
	completed := make(map[int]bool)
	for len(completed) < 4 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for all frames to be dispatched")
		case <-time.After(time.Millisecond):
			for _, a := range pub.snapshot() {
				if !completed[a.frameID] {
					completed[a.frameID] = true
					loop.RecordResult(a.frameID, 1)
					// A real node frees up (and is released) once its
					// detector goroutine finishes; simulate that here so
					// the worker can pick up the next frame.
					loop.ReleaseNode(a.node)
				}
			}
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not terminate after every frame completed")
	}

	results := loop.Results()
	require.Len(t, results, 4)
	for id := 0; id < 4; id++ {
		assert.Equal(t, 1, results[id])
	}
}

func TestDispatchReassignsStragglerFrameToASecondFreeNode(t *testing.T) {
	pub := &fakePublisher{}
	nodes := fixedFreeNodes{"node-a", "node-b"}
	loop := New(pub, nodes, 1, zerolog.Nop(), testSink) // a single frame, two workers

	// Tick 1: node-a claims the only frame. node-b finds no fresh work,
	// so the (already fully-assigned) processing queue is cleared to
	// permit straggler reassignment.
	loop.tick()
	first := pub.snapshot()
	require.Len(t, first, 1)
	assert.Equal(t, "node-a", first[0].node)
	assert.Equal(t, 0, first[0].frameID)

	// Tick 2: node-a is still marked busy (no result recorded, never
	// released), but frame 0 is fresh again after the clear, so node-b
	// now picks it up as a straggler reassignment.
	loop.tick()
	second := pub.snapshot()
	require.Len(t, second, 2)
	assert.Equal(t, "node-b", second[1].node)
	assert.Equal(t, 0, second[1].frameID)
}

func TestDoneOnlyWhenResultCountMatchesFrameCount(t *testing.T) {
	pub := &fakePublisher{}
	loop := New(pub, fixedFreeNodes{}, 2, zerolog.Nop(), testSink)
	assert.False(t, loop.Done())

	loop.RecordResult(0, 1)
	assert.False(t, loop.Done())

	loop.RecordResult(1, -1)
	assert.True(t, loop.Done())
}

func TestReleaseNodeAllowsRedispatch(t *testing.T) {
	pub := &fakePublisher{}
	nodes := fixedFreeNodes{"node-a"}
	loop := New(pub, nodes, 2, zerolog.Nop(), testSink)

	loop.tick()
	require.Len(t, pub.snapshot(), 1)

	// node-a is still marked dispatched; another tick must not assign it
	// a second frame until it's released.
	loop.tick()
	assert.Len(t, pub.snapshot(), 1, "busy node is not redispatched")

	loop.ReleaseNode("node-a")
	loop.tick()
	assert.Len(t, pub.snapshot(), 2, "freed node picks up the next frame")
}
