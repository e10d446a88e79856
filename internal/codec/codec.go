// Package codec defines the wire envelopes the fleet's nodes exchange over
// the broker and their symmetric encode/decode.
package codec

import (
	"encoding/json"
	"fmt"
)

// RBState is the protocol phase carried by an RBMessage.
type RBState string

const (
	StateInitial  RBState = "initial"
	StateEcho     RBState = "echo"
	StateReady    RBState = "ready"
	StateAccepted RBState = "accepted"
)

// NodeStatus is the status a node reports in its heartbeat.
type NodeStatus string

const (
	StatusFree NodeStatus = "free"
	StatusBusy NodeStatus = "busy"
)

// MalformedMessage is returned when a decoded envelope is missing a
// required field or carries the wrong scalar kind for it.
type MalformedMessage struct {
	Envelope string
	Field    string
	Reason   string
}

func (e *MalformedMessage) Error() string {
	return fmt.Sprintf("malformed %s: field %q: %s", e.Envelope, e.Field, e.Reason)
}

// Heartbeat announces a node's liveness and current status.
type Heartbeat struct {
	Node   string     `json:"node"`
	Status NodeStatus `json:"status"`
}

// EncodeHeartbeat is total: every well-formed Heartbeat encodes.
func EncodeHeartbeat(h Heartbeat) string {
	b, _ := json.Marshal(h)
	return string(b)
}

// DecodeHeartbeat validates the required fields before returning.
func DecodeHeartbeat(data string) (Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return Heartbeat{}, &MalformedMessage{Envelope: "Heartbeat", Field: "*", Reason: err.Error()}
	}
	if h.Node == "" {
		return Heartbeat{}, &MalformedMessage{Envelope: "Heartbeat", Field: "node", Reason: "missing"}
	}
	if h.Status != StatusFree && h.Status != StatusBusy {
		return Heartbeat{}, &MalformedMessage{Envelope: "Heartbeat", Field: "status", Reason: "must be free or busy"}
	}
	return h, nil
}

// RBMessage is the tuple exchanged by the reliable broadcast protocol.
// Two RBMessages are equal iff all three fields match.
type RBMessage struct {
	State   RBState `json:"state"`
	Subject string  `json:"subject"`
	Data    string  `json:"data"`
}

// Equal reports whether two RBMessages carry the same state, subject and data.
func (m RBMessage) Equal(other RBMessage) bool {
	return m.State == other.State && m.Subject == other.Subject && m.Data == other.Data
}

func EncodeRBMessage(m RBMessage) string {
	b, _ := json.Marshal(m)
	return string(b)
}

func DecodeRBMessage(data string) (RBMessage, error) {
	var m RBMessage
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return RBMessage{}, &MalformedMessage{Envelope: "RBMessage", Field: "*", Reason: err.Error()}
	}
	switch m.State {
	case StateInitial, StateEcho, StateReady, StateAccepted:
	default:
		return RBMessage{}, &MalformedMessage{Envelope: "RBMessage", Field: "state", Reason: "unrecognized state"}
	}
	if m.Subject == "" {
		return RBMessage{}, &MalformedMessage{Envelope: "RBMessage", Field: "subject", Reason: "missing"}
	}
	return m, nil
}

// VideoRequest is the client's job submission: a base64-encoded clip and
// the target object class to count.
type VideoRequest struct {
	Video  string `json:"video"`
	Target int    `json:"target"`
}

func EncodeVideoRequest(v VideoRequest) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func DecodeVideoRequest(data string) (VideoRequest, error) {
	var v VideoRequest
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return VideoRequest{}, &MalformedMessage{Envelope: "VideoRequest", Field: "*", Reason: err.Error()}
	}
	if v.Video == "" {
		return VideoRequest{}, &MalformedMessage{Envelope: "VideoRequest", Field: "video", Reason: "missing"}
	}
	if v.Target < 0 {
		return VideoRequest{}, &MalformedMessage{Envelope: "VideoRequest", Field: "target", Reason: "must be nonnegative"}
	}
	return v, nil
}
