// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

// Package channel defines the session channel abstraction envelopes flow
// through: its lifecycle states, its interception registries, and an
// in-memory implementation for tests and local wiring.
package channel

import (
	"context"
	"errors"

	"github.com/rivermesh/courier/envelope"
)

// Channel errors.
var (
	ErrChannelClosed  = errors.New("channel closed")
	ErrNotEstablished = errors.New("channel session not established")
)

// Channel is a bidirectional, session-oriented envelope conduit.
//
// Sending runs the corresponding outgoing registry before transmission; an
// interceptor dropping the envelope suppresses the transmission without
// error. Incoming envelopes run the incoming registries before delivery.
type Channel interface {
	// State returns the current session state.
	State() SessionState

	// RemoteNode returns the identity of the remote peer.
	RemoteNode() envelope.Node

	// SendMessage transmits a message through the channel.
	SendMessage(ctx context.Context, msg *envelope.Message) error

	// SendNotification transmits a notification through the channel.
	SendNotification(ctx context.Context, ntf *envelope.Notification) error

	// Interception registries.
	OutgoingMessages() *Registry[envelope.Message]
	IncomingMessages() *Registry[envelope.Message]
	OutgoingNotifications() *Registry[envelope.Notification]
	IncomingNotifications() *Registry[envelope.Notification]

	// StateListeners returns the session state listener registry.
	StateListeners() *Listeners
}
