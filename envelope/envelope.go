// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

// Package envelope defines the message and notification types carried over
// a session channel, and the node identities that address them.
package envelope

import (
	"strings"

	"github.com/google/uuid"
)

// ResentCountKey is the metadata key stamped on retransmitted messages with
// the current attempt number. It is overwritten, never accumulated.
const ResentCountKey = "#resentCount"

// Node identifies a party on the channel, rendered as name@domain/instance.
type Node struct {
	Name     string `json:"name,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// String renders the node address. The instance part is omitted when empty.
func (n Node) String() string {
	var sb strings.Builder
	sb.WriteString(n.Name)
	if n.Domain != "" {
		sb.WriteByte('@')
		sb.WriteString(n.Domain)
	}
	if n.Instance != "" {
		sb.WriteByte('/')
		sb.WriteString(n.Instance)
	}
	return sb.String()
}

// IsZero reports whether the node carries no identity at all.
func (n Node) IsZero() bool {
	return n.Name == "" && n.Domain == "" && n.Instance == ""
}

// Message is an outgoing or incoming content envelope. A message with an
// empty ID cannot be correlated with an acknowledgment and is never tracked.
type Message struct {
	ID       string            `json:"id,omitempty"`
	From     *Node             `json:"from,omitempty"`
	To       *Node             `json:"to,omitempty"`
	Type     string            `json:"type,omitempty"`
	Content  any               `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates a message with a generated identifier.
func NewMessage(content any) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Content: content,
	}
}

// SetMetadata sets a header field, allocating the map on first use.
// An existing value under the same key is overwritten.
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string, 1)
	}
	m.Metadata[key] = value
}

// GetMetadata returns a header field value, or "" when absent.
func (m *Message) GetMetadata(key string) string {
	return m.Metadata[key]
}

// Clone returns a copy of the message with its own metadata map. Content is
// shared, not deep-copied.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Metadata != nil {
		clone.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Event is the kind of a notification.
type Event string

// Notification events. Received and Failed acknowledge a message and stop
// any pending retransmission for it.
const (
	EventAccepted   Event = "accepted"
	EventDispatched Event = "dispatched"
	EventReceived   Event = "received"
	EventConsumed   Event = "consumed"
	EventFailed     Event = "failed"
)

// Reason describes why a notification reports failure.
type Reason struct {
	Code        int    `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Notification reports the processing state of a previously sent message,
// correlated by ID.
type Notification struct {
	ID     string  `json:"id,omitempty"`
	From   *Node   `json:"from,omitempty"`
	To     *Node   `json:"to,omitempty"`
	Event  Event   `json:"event"`
	Reason *Reason `json:"reason,omitempty"`
}

// IsAcknowledgment reports whether the notification terminates tracking of
// the message it refers to.
func (n *Notification) IsAcknowledgment() bool {
	return n.Event == EventReceived || n.Event == EventFailed
}
