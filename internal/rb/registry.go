package rb

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/adred-codev/frame-fleet/internal/codec"
	"github.com/adred-codev/frame-fleet/internal/metrics"
)

// Registry owns the set of live RB instances keyed by subject and routes
// inbound RB messages to them. It is mutated only from the broker's
// broadcast-subscription callback goroutine.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Instance
	nodeCount func() int
	useHash   bool

	pub     Publisher
	logger  zerolog.Logger
	metrics metrics.Sink

	onAccepted func(msg codec.RBMessage)
}

// New creates an empty registry. nodeCount is called at instance creation
// time to freeze n for that instance; the node set is frozen at
// RB-instance creation and does not track later membership changes.
// onAccepted is invoked with the accepted value each time an instance
// reaches accepted, after the registry removes the completed instance.
// Completed subjects are not remembered: an initial that arrives after its
// subject's instance was removed starts a new instance, which can be
// accepted (and reported to onAccepted) again.
func New(pub Publisher, nodeCount func() int, useHash bool, logger zerolog.Logger, sink metrics.Sink, onAccepted func(codec.RBMessage)) *Registry {
	return &Registry{
		instances:  make(map[string]*Instance),
		nodeCount:  nodeCount,
		useHash:    useHash,
		pub:        pub,
		logger:     logger,
		metrics:    sink,
		onAccepted: onAccepted,
	}
}

// Handle routes one inbound RB message:
//   - state == initial, no instance for subject: create one.
//   - otherwise: look up by subject; feed if present, drop if absent.
func (r *Registry) Handle(msg codec.RBMessage) {
	if msg.State == codec.StateInitial {
		r.mu.Lock()
		_, exists := r.instances[msg.Subject]
		r.mu.Unlock()
		if exists {
			return
		}

		// Constructed without holding r.mu: NewInstance bootstraps by
		// publishing an echo, and a transport that delivered that echo
		// synchronously would re-enter Handle here. Such an echo finds no
		// stored instance yet and is dropped like any late message.
		inst := NewInstance(r.pub, r.nodeCount(), msg, r.useHash)

		r.mu.Lock()
		if _, exists := r.instances[msg.Subject]; exists {
			r.mu.Unlock()
			return
		}
		r.instances[msg.Subject] = inst
		r.metrics.SetActiveRBInstances(len(r.instances))
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	inst, exists := r.instances[msg.Subject]
	r.mu.Unlock()
	if !exists {
		// Late message for a completed (or never-started) subject.
		return
	}

	accepted, err := inst.Handle(r.pub, msg)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("rb instance poisoned")
		r.metrics.IncrementRBPoisoned()
		r.mu.Lock()
		delete(r.instances, msg.Subject)
		r.metrics.SetActiveRBInstances(len(r.instances))
		r.mu.Unlock()
		return
	}
	if accepted == nil {
		return
	}

	r.mu.Lock()
	delete(r.instances, msg.Subject)
	r.metrics.SetActiveRBInstances(len(r.instances))
	r.mu.Unlock()

	r.metrics.IncrementRBAccepted()
	if r.onAccepted != nil {
		r.onAccepted(*accepted)
	}
}

// Active returns the number of live instances, for diagnostics/tests.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}
