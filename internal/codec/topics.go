package codec

import "fmt"

// Fixed topic names every node in the fleet agrees on.
const (
	HeartbeatTopic = "/heartbeat"
	BroadcastTopic = "/broadcast"
	ClientTopic    = "/client"

	requestInboxSuffix = "request_inbox"
	cmdInboxSuffix     = "cmd_inbox"
)

// RequestInbox is the topic a client publishes a VideoRequest to in order
// to pick node as the leader for a job.
func RequestInbox(node string) string {
	return fmt.Sprintf("/%s/%s", node, requestInboxSuffix)
}

// CmdInbox is the topic the leader publishes frame ids to for node.
func CmdInbox(node string) string {
	return fmt.Sprintf("/%s/%s", node, cmdInboxSuffix)
}

// ClientSubject is the RB subject used for the single job-wide agreement
// on the initial VideoRequest.
const ClientSubject = "client"
