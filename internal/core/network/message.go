// Package network models message delivery between validators: direct sends
// over topology edges, neighbor broadcast and multi-hop flooding, each
// subject to latency and packet loss.
package network

import (
	"fmt"
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// MessageType is the protocol message carried between validators.
type MessageType string

const (
	MsgProposal  MessageType = "proposal"
	MsgPrevote   MessageType = "prevote"
	MsgPrecommit MessageType = "precommit"
	MsgDecision  MessageType = "decision"
)

// DefaultTTL is the hop budget of a new message.
const DefaultTTL = 10

// Message is a single delivery between two validators.
type Message struct {
	ID        string             `json:"id"`
	Sender    consensus.NodeID   `json:"sender"`
	Receiver  consensus.NodeID   `json:"receiver"`
	Type      MessageType        `json:"type"`
	Content   any                `json:"content,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Latency   time.Duration      `json:"latency"`
	TTL       int                `json:"ttl"`
	Path      []consensus.NodeID `json:"path"`
}

// DeliveryTime returns when the message arrives.
func (m Message) DeliveryTime() time.Time {
	return m.Timestamp.Add(m.Latency)
}

func messageID(sender, receiver consensus.NodeID, t MessageType, seq uint64) string {
	return fmt.Sprintf("%d-%d-%s-%d", sender, receiver, t, seq)
}

// Ready returns the messages whose delivery time is not after now.
func Ready(messages []Message, now time.Time) []Message {
	var out []Message
	for _, m := range messages {
		if !m.DeliveryTime().After(now) {
			out = append(out, m)
		}
	}
	return out
}

// Inbox groups the messages addressed to one validator by type.
type Inbox struct {
	Processed []Message
	ByType    map[MessageType][]Message
}

// ProcessInbox collects the messages addressed to node.
func ProcessInbox(node consensus.NodeID, messages []Message) Inbox {
	in := Inbox{ByType: map[MessageType][]Message{
		MsgProposal:  nil,
		MsgPrevote:   nil,
		MsgPrecommit: nil,
		MsgDecision:  nil,
	}}
	for _, m := range messages {
		if m.Receiver != node {
			continue
		}
		in.Processed = append(in.Processed, m)
		if _, known := in.ByType[m.Type]; known {
			in.ByType[m.Type] = append(in.ByType[m.Type], m)
		}
	}
	return in
}
