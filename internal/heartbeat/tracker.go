// Package heartbeat maintains a rolling snapshot of {node -> status},
// refreshed every heartbeat window.
package heartbeat

import (
	"sync"
	"time"

	"github.com/adred-codev/frame-fleet/internal/codec"
)

// Tracker accumulates incoming heartbeats and atomically swaps them into a
// published snapshot on every tick. Readers consult the snapshot only; the
// accumulator is single-writer (the broker callback goroutine).
type Tracker struct {
	mu          sync.RWMutex
	accumulator map[string]codec.NodeStatus
	snapshot    map[string]codec.NodeStatus

	onSwap func(snapshot map[string]codec.NodeStatus)
}

// New creates an empty tracker. onSwap, if non-nil, is invoked with the
// fresh snapshot after every swap (used to refresh the leader's free list).
func New(onSwap func(map[string]codec.NodeStatus)) *Tracker {
	return &Tracker{
		accumulator: make(map[string]codec.NodeStatus),
		snapshot:    make(map[string]codec.NodeStatus),
		onSwap:      onSwap,
	}
}

// Observe records a received heartbeat into the accumulator. Safe to call
// only from the single broker dispatch goroutine.
func (t *Tracker) Observe(hb codec.Heartbeat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accumulator[hb.Node] = hb.Status
}

// Swap atomically replaces the snapshot with the current accumulator and
// resets the accumulator to empty. A node absent from two consecutive
// windows is therefore absent from the snapshot (spec invariant).
func (t *Tracker) Swap() {
	t.mu.Lock()
	next := t.accumulator
	t.accumulator = make(map[string]codec.NodeStatus)
	t.snapshot = next
	snap := cloneStatuses(next)
	t.mu.Unlock()

	if t.onSwap != nil {
		t.onSwap(snap)
	}
}

// Snapshot returns a copy of the current live-node view.
func (t *Tracker) Snapshot() map[string]codec.NodeStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneStatuses(t.snapshot)
}

// FreeNodes returns the node ids currently reporting status=free.
func (t *Tracker) FreeNodes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var free []string
	for node, status := range t.snapshot {
		if status == codec.StatusFree {
			free = append(free, node)
		}
	}
	return free
}

// Len returns the number of live nodes in the current snapshot.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.snapshot)
}

func cloneStatuses(m map[string]codec.NodeStatus) map[string]codec.NodeStatus {
	out := make(map[string]codec.NodeStatus, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RunSwapper runs the snapshot-swap ticker until stop is closed.
func (t *Tracker) RunSwapper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Swap()
		case <-stop:
			return
		}
	}
}
