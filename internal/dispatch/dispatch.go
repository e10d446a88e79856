// Package dispatch implements the leader's frame dispatch loop: pairing
// free workers with unprocessed frame ids, tolerating stragglers via
// processing-queue clearing.
package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/frame-fleet/internal/metrics"
)

// PollInterval is the sleep between dispatch iterations.
const PollInterval = 10 * time.Millisecond

// Publisher sends a frame id to a node's command inbox.
type Publisher interface {
	Dispatch(node string, frameID int) error
}

// FreeNodeSource supplies the leader's current view of nodes reporting
// free. Implementations refresh from heartbeats; the loop itself skips
// nodes that still hold an outstanding assignment.
type FreeNodeSource interface {
	FreeNodes() []string
}

// Loop owns the shared results/processing-queue/free-list state, which is
// mutated both by the broker callback goroutine (via RecordResult) and by
// the leader's own Run loop, and so must serialize access via a single
// mutex.
type Loop struct {
	mu sync.Mutex

	totalFrames int
	results     map[int]int
	processing  map[int]struct{}
	dispatched  map[string]struct{} // nodes currently holding an outstanding assignment

	pub     Publisher
	nodes   FreeNodeSource
	logger  zerolog.Logger
	metrics metrics.Sink
}

// New creates a dispatch loop for a job with totalFrames frames.
func New(pub Publisher, nodes FreeNodeSource, totalFrames int, logger zerolog.Logger, sink metrics.Sink) *Loop {
	return &Loop{
		totalFrames: totalFrames,
		results:     make(map[int]int),
		processing:  make(map[int]struct{}),
		dispatched:  make(map[string]struct{}),
		pub:         pub,
		nodes:       nodes,
		logger:      logger,
		metrics:     sink,
	}
}

// RecordResult is called by the broker callback goroutine when a frame
// result is accepted: it records the count and removes the id from the
// processing queue. Safe to call concurrently with Run's iterations — both
// serialize through the loop's mutex.
func (l *Loop) RecordResult(frameID, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results[frameID] = count
	delete(l.processing, frameID)
}

// Done reports whether every frame has an accepted result.
func (l *Loop) Done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results) == l.totalFrames
}

// Results returns a copy of the accumulated frame_id -> count map. Only
// meaningful after Done() is true.
func (l *Loop) Results() map[int]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]int, len(l.results))
	for k, v := range l.results {
		out[k] = v
	}
	return out
}

// Run executes the dispatch loop until every frame has an accepted result.
// Intended to run on its own goroutine (the leader only).
func (l *Loop) Run(stop <-chan struct{}) {
	for {
		if l.Done() {
			return
		}

		select {
		case <-stop:
			return
		default:
		}

		l.tick()

		select {
		case <-time.After(PollInterval):
		case <-stop:
			return
		}
	}
}

func (l *Loop) tick() {
	free := l.nodes.FreeNodes()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, node := range free {
		if _, busy := l.dispatched[node]; busy {
			continue
		}

		taskID, ok := l.nextUnassigned()
		if !ok {
			if len(l.processing) > 0 {
				// No fresh work remains: permit reassignment of
				// stragglers on the next pass.
				l.processing = make(map[int]struct{})
				l.metrics.IncrementDispatchReassignments()
			}
			break
		}

		if err := l.pub.Dispatch(node, taskID); err != nil {
			l.logger.Warn().Err(err).Str("node", node).Int("frame", taskID).Msg("failed to dispatch frame")
			continue
		}
		l.processing[taskID] = struct{}{}
		l.dispatched[node] = struct{}{}
	}

	l.metrics.SetDispatchQueueDepth(len(l.processing))
}

// nextUnassigned returns the lowest frame id that is neither accepted nor
// currently dispatched. Callers must hold l.mu.
func (l *Loop) nextUnassigned() (int, bool) {
	for id := 0; id < l.totalFrames; id++ {
		if _, done := l.results[id]; done {
			continue
		}
		if _, inflight := l.processing[id]; inflight {
			continue
		}
		return id, true
	}
	return 0, false
}

// ReleaseNode marks node as no longer holding an outstanding assignment,
// so it becomes eligible for redispatch on the next free-node pass. This
// is invoked whenever a node reports free in a fresh heartbeat snapshot.
func (l *Loop) ReleaseNode(node string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.dispatched, node)
}
