// Package node implements the worker core: the single Node struct every
// fleet process constructs at startup, wiring the broker, heartbeat
// tracker, RB registry, detector and video codec together behind three
// entry points (request inbox, broadcast topic, command inbox).
package node

import (
	"encoding/base64"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/frame-fleet/internal/aggregate"
	"github.com/adred-codev/frame-fleet/internal/codec"
	"github.com/adred-codev/frame-fleet/internal/detector"
	"github.com/adred-codev/frame-fleet/internal/dispatch"
	"github.com/adred-codev/frame-fleet/internal/heartbeat"
	"github.com/adred-codev/frame-fleet/internal/logging"
	"github.com/adred-codev/frame-fleet/internal/metrics"
	"github.com/adred-codev/frame-fleet/internal/rb"
	"github.com/adred-codev/frame-fleet/internal/videoio"
)

// Broker is the publish/subscribe capability Node needs from the
// transport. internal/broker.Client satisfies this.
type Broker interface {
	PublishString(subject, data string) error
	Subscribe(subject string, handler func(data []byte)) error
}

// Node is the single coordination entity each fleet process runs. All of
// its entry-point methods are invoked from broker subscription callback
// goroutines; the fields they share are protected by a single mutex over
// results, the frame set, and the active dispatch loop.
type Node struct {
	id string

	broker    Broker
	tracker   *heartbeat.Tracker
	registry  *rb.Registry
	det       detector.Detector
	container videoio.Codec
	logger    zerolog.Logger
	metrics   metrics.Sink

	leaderOnce sync.Once
	leader     atomic.Bool
	busy       atomic.Bool

	mu         sync.Mutex
	frames     map[int]videoio.Frame
	target     int
	results    map[int]int
	dispatch   *dispatch.Loop
	stopLeader chan struct{}
}

// New constructs a Node. useHash selects hashed-mode RB per config.
func New(id string, b Broker, det detector.Detector, container videoio.Codec, logger zerolog.Logger, sink metrics.Sink, useHash bool, nodeCount func() int) *Node {
	n := &Node{
		id:        id,
		broker:    b,
		det:       det,
		container: container,
		logger:    logger.With().Str("node_id", id).Logger(),
		metrics:   sink,
		frames:    make(map[int]videoio.Frame),
		results:   make(map[int]int),
	}
	n.tracker = heartbeat.New(func(snapshot map[string]codec.NodeStatus) {
		sink.SetLiveNodes(len(snapshot))
		if n.dispatchLoop() != nil {
			for node, status := range snapshot {
				if status == codec.StatusFree {
					n.dispatchLoop().ReleaseNode(node)
				}
			}
		}
	})
	n.registry = rb.New(n.broker, nodeCount, useHash, n.logger, sink, n.onAccepted)
	return n
}

// Wire subscribes to every topic this node owns: its own request/command
// inboxes and the shared broadcast topic.
func (n *Node) Wire() error {
	if err := n.broker.Subscribe(codec.RequestInbox(n.id), n.onRequest); err != nil {
		return err
	}
	if err := n.broker.Subscribe(codec.BroadcastTopic, n.onBroadcast); err != nil {
		return err
	}
	if err := n.broker.Subscribe(codec.HeartbeatTopic, n.OnHeartbeat); err != nil {
		return err
	}
	if err := n.broker.Subscribe(codec.CmdInbox(n.id), n.onCommand); err != nil {
		return err
	}
	return nil
}

// IsLeader reports whether this node became the implicit leader for the
// current job: the node that first receives a client request becomes the
// leader for that job.
func (n *Node) IsLeader() bool { return n.leader.Load() }

func (n *Node) dispatchLoop() *dispatch.Loop {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dispatch
}

// onRequest handles an inbound client job submission on this node's
// request inbox. The first request this node sees elects it leader and
// publishes the job as the RB `initial` message on the shared broadcast
// topic, so every node (including this one, via its own broadcast
// subscription) starts the same RB instance.
func (n *Node) onRequest(data []byte) {
	n.leaderOnce.Do(func() {
		vr, err := codec.DecodeVideoRequest(string(data))
		if err != nil {
			n.logger.Warn().Err(err).Msg("malformed client request, ignoring")
			return
		}
		n.leader.Store(true)
		n.logger.Info().Msg("elected leader for incoming job")

		initial := codec.RBMessage{
			State:   codec.StateInitial,
			Subject: codec.ClientSubject,
			Data:    codec.EncodeVideoRequest(vr),
		}
		_ = n.broker.PublishString(codec.BroadcastTopic, codec.EncodeRBMessage(initial))
	})
}

// onBroadcast feeds every message on the shared broadcast topic into the
// RB registry, which is the only component allowed to mutate RB state;
// single-writer discipline is enforced by routing every broadcast message
// through this one callback.
func (n *Node) onBroadcast(data []byte) {
	msg, err := codec.DecodeRBMessage(string(data))
	if err != nil {
		n.logger.Warn().Err(err).Msg("malformed broadcast envelope, ignoring")
		n.metrics.RecordError("malformed_broadcast")
		return
	}
	n.registry.Handle(msg)
}

// onAccepted is the RB registry's completion callback: once a subject's
// RB instance reaches the accepted phase, this routes the value by
// subject kind.
func (n *Node) onAccepted(msg codec.RBMessage) {
	if msg.Subject == codec.ClientSubject {
		n.onJobAccepted(msg.Data)
		return
	}
	n.onFrameResultAccepted(msg.Subject, msg.Data)
}

// onJobAccepted materializes the agreed-upon job: decode the clip into
// frames, record the target class, and — if this node is the leader —
// start the dispatch loop.
func (n *Node) onJobAccepted(data string) {
	vr, err := codec.DecodeVideoRequest(data)
	if err != nil {
		n.logger.Warn().Err(err).Msg("malformed accepted job payload")
		n.metrics.RecordError("malformed_job")
		return
	}

	clip, err := base64.StdEncoding.DecodeString(vr.Video)
	if err != nil {
		n.logger.Warn().Err(err).Msg("failed to base64-decode clip")
		n.metrics.RecordError("bad_clip_encoding")
		return
	}

	decoded, err := n.container.Decode(clip)
	if err != nil {
		n.logger.Warn().Err(err).Msg("failed to decode clip into frames")
		n.metrics.RecordError("clip_decode")
		return
	}

	n.mu.Lock()
	for _, f := range decoded {
		n.frames[f.ID] = f
	}
	n.target = vr.Target
	totalFrames := len(n.frames)
	n.mu.Unlock()

	n.logger.Info().Int("frames", totalFrames).Int("target", vr.Target).Msg("job materialized")

	if n.leader.Load() {
		n.startDispatch(totalFrames)
	}
}

func (n *Node) startDispatch(totalFrames int) {
	n.mu.Lock()
	loop := dispatch.New(&cmdPublisher{n: n}, n.tracker, totalFrames, n.logger, n.metrics)
	n.dispatch = loop
	n.stopLeader = make(chan struct{})
	stop := n.stopLeader
	n.mu.Unlock()

	go loop.Run(stop)
	go n.awaitCompletion(loop, stop)
}

// awaitCompletion polls for dispatch completion and, once every frame has
// an accepted result, aggregates and replies to the client.
func (n *Node) awaitCompletion(loop *dispatch.Loop, stop <-chan struct{}) {
	ticker := time.NewTicker(dispatch.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !loop.Done() {
				continue
			}
			n.reply(loop.Results())
			return
		}
	}
}

// onFrameResultAccepted records one frame's agreed detection count,
// normalizing a zero count to −1 before it reaches the aggregator.
func (n *Node) onFrameResultAccepted(subject, data string) {
	frameID, err := strconv.Atoi(subject)
	if err != nil {
		n.logger.Warn().Str("subject", subject).Msg("non-numeric frame result subject, ignoring")
		return
	}
	count, err := strconv.Atoi(data)
	if err != nil {
		n.logger.Warn().Str("subject", subject).Msg("non-numeric frame result data, ignoring")
		return
	}
	if count == 0 {
		count = -1
	}

	n.mu.Lock()
	n.results[frameID] = count
	loop := n.dispatch
	n.mu.Unlock()

	n.metrics.IncrementFramesAggregated(1)
	if loop != nil {
		loop.RecordResult(frameID, count)
	}
}

// reply selects the best contiguous frame range via Kadane's algorithm
// and publishes the encoded subclip to the client topic.
func (n *Node) reply(results map[int]int) {
	start, end := aggregate.Select(results)

	n.mu.Lock()
	var selected []videoio.Frame
	for id := start; id <= end; id++ {
		if f, ok := n.frames[id]; ok {
			selected = append(selected, f)
		}
	}
	n.mu.Unlock()

	clip, err := n.container.Encode(selected)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to encode reply subclip")
		n.metrics.RecordError("clip_encode")
		return
	}

	n.logger.Info().Int("start", start).Int("end", end).Msg("replying to client")
	_ = n.broker.PublishString(codec.ClientTopic, base64.StdEncoding.EncodeToString(clip))
}

// onCommand handles a dispatched frame id on this node's command inbox:
// run the detector on a panic-recovered goroutine and publish the result
// as a fresh RB initial message.
func (n *Node) onCommand(data []byte) {
	frameID, err := strconv.Atoi(string(data))
	if err != nil {
		n.logger.Warn().Str("data", string(data)).Msg("malformed command payload, ignoring")
		return
	}

	n.mu.Lock()
	frame, ok := n.frames[frameID]
	target := n.target
	n.mu.Unlock()
	if !ok {
		n.logger.Warn().Int("frame", frameID).Msg("command for unknown frame id, ignoring")
		return
	}

	n.busy.Store(true)
	go n.runDetector(frame, target)
}

func (n *Node) runDetector(frame videoio.Frame, target int) {
	defer n.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			logging.LogErrorWithStack(n.logger, r, "detector panicked, surfacing as zero hits")
			n.metrics.RecordError("detector_panic")
			n.publishFrameResult(frame.ID, 0)
		}
	}()

	hits, err := n.det.Predict(frame, target)
	if err != nil {
		n.logger.Warn().Err(err).Int("frame", frame.ID).Msg("detector failed, surfacing as zero hits")
		n.metrics.RecordError("detector_failure")
		hits = 0
	}
	n.publishFrameResult(frame.ID, hits)
}

func (n *Node) publishFrameResult(frameID, hits int) {
	initial := codec.RBMessage{
		State:   codec.StateInitial,
		Subject: strconv.Itoa(frameID),
		Data:    strconv.Itoa(hits),
	}
	_ = n.broker.PublishString(codec.BroadcastTopic, codec.EncodeRBMessage(initial))
}

// Heartbeat builds this node's current liveness/status announcement.
func (n *Node) Heartbeat() codec.Heartbeat {
	status := codec.StatusFree
	if n.busy.Load() {
		status = codec.StatusBusy
	}
	return codec.Heartbeat{Node: n.id, Status: status}
}

// PublishHeartbeat sends this node's current heartbeat on the shared
// heartbeat topic.
func (n *Node) PublishHeartbeat() {
	_ = n.broker.PublishString(codec.HeartbeatTopic, codec.EncodeHeartbeat(n.Heartbeat()))
}

// RunHeartbeatPublisher runs the publish-cadence ticker until stop is
// closed.
func (n *Node) RunHeartbeatPublisher(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.PublishHeartbeat()
		case <-stop:
			return
		}
	}
}

// OnHeartbeat feeds a received heartbeat into the tracker. Wire this as
// the /heartbeat subscription handler.
func (n *Node) OnHeartbeat(data []byte) {
	hb, err := codec.DecodeHeartbeat(string(data))
	if err != nil {
		n.logger.Warn().Err(err).Msg("malformed heartbeat, ignoring")
		return
	}
	n.tracker.Observe(hb)
}

// Tracker exposes the heartbeat tracker so the entrypoint can run its
// swap ticker alongside the publisher.
func (n *Node) Tracker() *heartbeat.Tracker { return n.tracker }

// cmdPublisher adapts Node's broker to dispatch.Publisher.
type cmdPublisher struct{ n *Node }

func (p *cmdPublisher) Dispatch(nodeID string, frameID int) error {
	return p.n.broker.PublishString(codec.CmdInbox(nodeID), strconv.Itoa(frameID))
}
