// Package rb implements a Bracha-style Reliable Broadcast primitive with a
// single sender per subject, tolerating up to f = floor((n-1)/3) faulty
// nodes out of n fixed at instance creation.
package rb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/adred-codev/frame-fleet/internal/codec"
)

// Phase is the RB instance's position in the Bracha state machine.
type Phase int

const (
	PhaseWaitingEcho Phase = iota
	PhaseWaitingReady
	PhaseAccepted
	PhasePoisoned
)

// Publisher is the minimal broadcast capability an Instance needs: publish
// an RBMessage to the broadcast topic.
type Publisher interface {
	PublishString(subject, data string) error
}

// Instance is the per-subject state machine. Instances are equal iff their
// subjects are equal — the registry uses this to deduplicate.
type Instance struct {
	subject string
	nodes   int // n, frozen at construction
	f       int // floor((n-1)/3)
	useHash bool

	initial codec.RBMessage
	hash    string // sha256(initial.Data) hex, only set when useHash

	echoes  []codec.RBMessage
	readies []codec.RBMessage

	phase Phase
}

// NewInstance constructs an instance from the initial message and immediately
// bootstraps by broadcasting an echo (spec: "delivery of the initial
// message to the instance is what triggers bootstrap").
func NewInstance(pub Publisher, nodeCount int, initial codec.RBMessage, useHash bool) *Instance {
	f := (nodeCount - 1) / 3
	inst := &Instance{
		subject: initial.Subject,
		nodes:   nodeCount,
		f:       f,
		useHash: useHash,
		initial: initial,
		phase:   PhaseWaitingEcho,
	}

	echoData := initial.Data
	if useHash {
		inst.hash = hashHex(initial.Data)
		echoData = inst.hash
	}
	pub.PublishString(codec.BroadcastTopic, codec.EncodeRBMessage(codec.RBMessage{
		State:   codec.StateEcho,
		Subject: inst.subject,
		Data:    echoData,
	}))

	return inst
}

// Subject returns the agreement key of this instance.
func (i *Instance) Subject() string { return i.subject }

// Phase returns the instance's current protocol phase.
func (i *Instance) Phase() Phase { return i.phase }

// Equal reports subject equality, the registry's deduplication rule.
func (i *Instance) Equal(other *Instance) bool { return i.subject == other.subject }

func hashHex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// echoThreshold is the classical Bracha constant ceil((n+f)/2).
func (i *Instance) echoThreshold() int {
	return ceilDiv(i.nodes+i.f, 2)
}

// readyThreshold is the classical Bracha constant 2f+1.
func (i *Instance) readyThreshold() int {
	return 2*i.f + 1
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// countAlike tallies messages by Data and returns the plurality count and
// the winning message. Ties break in favor of whichever value was most
// recently incremented to the current maximum — a deterministic tie-break
// achieved by scanning in arrival order and replacing the incumbent
// whenever a value's count reaches the current maximum.
func countAlike(messages []codec.RBMessage) (int, codec.RBMessage) {
	counts := make(map[string]int)
	var maxCount int
	var maxMsg codec.RBMessage

	for _, msg := range messages {
		counts[msg.Data]++
		if counts[msg.Data] >= maxCount {
			maxCount = counts[msg.Data]
			maxMsg = msg
		}
	}
	return maxCount, maxMsg
}

// Handle feeds a received RB message (echo, ready, or a duplicate
// initial/accepted which is ignored) into the instance. It returns the
// accepted message once the ready threshold is reached, or nil otherwise.
// Duplicate messages (same state+subject+data) are intentionally counted
// again — the protocol is sender-agnostic beyond subject, and the
// thresholds are calibrated to tolerate that counting discipline.
func (i *Instance) Handle(pub Publisher, msg codec.RBMessage) (*codec.RBMessage, error) {
	if i.phase == PhaseAccepted || i.phase == PhasePoisoned {
		return nil, nil
	}

	switch msg.State {
	case codec.StateEcho:
		i.echoes = append(i.echoes, msg)
		count, winner := countAlike(i.echoes)
		if count >= i.echoThreshold() && i.phase == PhaseWaitingEcho {
			readyData := winner.Data
			pub.PublishString(codec.BroadcastTopic, codec.EncodeRBMessage(codec.RBMessage{
				State:   codec.StateReady,
				Subject: i.subject,
				Data:    readyData,
			}))
			i.phase = PhaseWaitingReady
		}

	case codec.StateReady:
		i.readies = append(i.readies, msg)
		count, winner := countAlike(i.readies)
		if count >= i.readyThreshold() {
			if i.useHash {
				if winner.Data != i.hash {
					i.phase = PhasePoisoned
					return nil, fmt.Errorf("rb: subject %q poisoned: hash mismatch", i.subject)
				}
				accepted := codec.RBMessage{State: codec.StateAccepted, Subject: i.subject, Data: i.initial.Data}
				i.phase = PhaseAccepted
				return &accepted, nil
			}
			accepted := codec.RBMessage{State: codec.StateAccepted, Subject: i.subject, Data: winner.Data}
			i.phase = PhaseAccepted
			return &accepted, nil
		}

	default:
		// initial/accepted messages arriving here are ignored; the
		// registry routes `initial` to New and never forwards `accepted`.
	}

	return nil, nil
}
