// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

// Package resend is a reliability overlay for a session channel: every sent
// message carrying an identifier is retransmitted at a configurable interval
// until the peer acknowledges it or the retry budget runs out. Resends are
// globally serialized, and the whole machinery is gated on the channel
// session being established.
package resend

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/rivermesh/courier/channel"
	"github.com/rivermesh/courier/envelope"
)

// Default values.
const (
	DefaultMaxResends = 3
	DefaultInterval   = 20 * time.Second
)

// Options configures the resend module.
type Options struct {
	// MaxResends is the maximum number of transmission attempts for a
	// single tracked message. Must be positive.
	MaxResends int

	// Interval is the delay between transmission attempts. Zero means
	// retry as fast as scheduling allows. Must not be negative.
	Interval time.Duration

	// FilterByDestination makes the message destination part of the
	// tracking key, so the same id sent to two destinations is tracked
	// twice. When false, such sends collapse onto one entry.
	FilterByDestination bool

	// Logger is the structured logger (nil means slog.Default()).
	Logger *slog.Logger

	// Metrics records module activity (nil disables recording).
	Metrics *Metrics
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		MaxResends: DefaultMaxResends,
		Interval:   DefaultInterval,
	}
}

// SetMaxResends sets the retry budget.
func (o *Options) SetMaxResends(n int) *Options {
	o.MaxResends = n
	return o
}

// SetInterval sets the delay between attempts.
func (o *Options) SetInterval(d time.Duration) *Options {
	o.Interval = d
	return o
}

// SetFilterByDestination toggles destination-scoped tracking keys.
func (o *Options) SetFilterByDestination(enabled bool) *Options {
	o.FilterByDestination = enabled
	return o
}

// SetLogger sets the structured logger.
func (o *Options) SetLogger(logger *slog.Logger) *Options {
	o.Logger = logger
	return o
}

// SetMetrics sets the metrics recorder.
func (o *Options) SetMetrics(metrics *Metrics) *Options {
	o.Metrics = metrics
	return o
}

// Validate checks the options for construction-time errors.
func (o *Options) Validate() error {
	if o.MaxResends <= 0 {
		return ErrInvalidMaxResends
	}
	if o.Interval < 0 {
		return ErrInvalidInterval
	}
	return nil
}

// Module intercepts envelope traffic on a bound channel to drive message
// retransmission. At most one channel is bound at a time.
type Module struct {
	opts    *Options
	logger  *slog.Logger
	metrics *Metrics

	store    *pendingStore
	pipeline *pipeline

	// Interceptor adapters registered on the bound channel. Kept as
	// fields so deregistration removes the same identities.
	outgoing *outgoingInterceptor
	acks     *ackInterceptor
	inPass   *passthroughMessages
	ntfPass  *passthroughNotifications

	// mu guards the binding state below against races between bind,
	// unbind and session state reactions.
	mu            sync.Mutex
	channel       channel.Channel
	unbindOnClose bool
	link          *link
}

// New creates a resend module with the given options.
func New(opts *Options) (*Module, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Module{
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		store:    newPendingStore(),
		pipeline: newPipeline(opts.Interval, logger),
	}
	m.outgoing = &outgoingInterceptor{m}
	m.acks = &ackInterceptor{m}
	m.inPass = &passthroughMessages{}
	m.ntfPass = &passthroughNotifications{}
	return m, nil
}

// Bind attaches the module to a channel: it registers itself on all four
// interception flows and starts reacting to session state. Binding fails if
// the module is already bound, the channel is nil, or the session is
// already past established.
func (m *Module) Bind(ch channel.Channel, unbindOnClose bool) error {
	if ch == nil {
		return ErrNilChannel
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel != nil {
		return ErrAlreadyBound
	}
	if ch.State().Terminated() {
		return ErrChannelTerminated
	}

	m.channel = ch
	m.unbindOnClose = unbindOnClose

	ch.OutgoingMessages().Add(m.outgoing)
	ch.IncomingMessages().Add(m.inPass)
	ch.OutgoingNotifications().Add(m.ntfPass)
	ch.IncomingNotifications().Add(m.acks)
	ch.StateListeners().Add(m)

	if s := ch.State(); s != channel.StateNew {
		m.reactLocked(s)
	}

	m.logger.Debug("resend module bound",
		slog.String("remote", ch.RemoteNode().String()),
		slog.String("state", ch.State().String()),
	)
	return nil
}

// Unbind detaches the module from its channel: interception is removed and
// the resend link torn down. Entries already tracked are left untouched;
// only an acknowledgment, budget exhaustion or a later rebind moves them.
func (m *Module) Unbind() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unbindLocked()
}

func (m *Module) unbindLocked() error {
	if m.channel == nil {
		return ErrNotBound
	}

	ch := m.channel
	ch.OutgoingMessages().Remove(m.outgoing)
	ch.IncomingMessages().Remove(m.inPass)
	ch.OutgoingNotifications().Remove(m.ntfPass)
	ch.IncomingNotifications().Remove(m.acks)
	ch.StateListeners().Remove(m)

	if m.link != nil {
		m.link.close()
		m.link = nil
	}
	m.channel = nil

	m.logger.Debug("resend module unbound")
	return nil
}

// Bound reports whether the module is currently attached to a channel.
func (m *Module) Bound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel != nil
}

// PendingCount returns the number of messages awaiting acknowledgment.
func (m *Module) PendingCount() int {
	return m.store.len()
}

// OnSessionStateChanged reacts to channel session transitions: reaching
// established connects the resend stage, moving past it detaches the module
// when configured to unbind on close.
func (m *Module) OnSessionStateChanged(s channel.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channel == nil {
		return
	}
	m.reactLocked(s)
}

func (m *Module) reactLocked(s channel.SessionState) {
	switch {
	case s == channel.StateEstablished:
		if m.link == nil {
			m.link = m.pipeline.connect(m.resendEntry)
			m.logger.Debug("resend link connected")
		}
	case s.Terminated():
		if m.link != nil {
			m.link.close()
			m.link = nil
		}
		if m.unbindOnClose {
			if err := m.unbindLocked(); err != nil {
				m.logger.Error("auto-unbind failed", slog.Any("error", err))
			}
		}
	}
}

func (m *Module) boundChannel() channel.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// trackOutgoing is the outgoing-message interception: it registers or bumps
// the retry state for any message carrying an identifier, stamps the
// attempt counter on retransmissions, and admits the entry into the
// pipeline. Once the retry budget is exhausted the entry is evicted and the
// transmission suppressed.
func (m *Module) trackOutgoing(ctx context.Context, msg *envelope.Message) (*envelope.Message, error) {
	if msg == nil || msg.ID == "" {
		return msg, nil
	}

	key := m.messageKeyFor(msg)
	entry, attempts := m.store.registerOrBump(key, msg)

	if attempts > m.opts.MaxResends {
		if evicted, ok := m.store.evict(key); ok {
			evicted.cancel()
		}
		m.metrics.recordExpired(ctx)
		m.logger.Debug("resend budget exhausted",
			slog.String("key", key.String()),
			slog.Int("attempts", attempts-1),
		)
		return nil, nil
	}

	if attempts > 1 {
		msg.SetMetadata(envelope.ResentCountKey, strconv.Itoa(attempts))
		m.metrics.recordResent(ctx)
	} else {
		m.metrics.recordTracked(ctx)
	}

	m.pipeline.admit(entry)
	return msg, nil
}

// trackAck is the incoming-notification interception: a received or failed
// event evicts and cancels the matching entry, aborting any in-flight wait
// or queued resend for that message.
func (m *Module) trackAck(ctx context.Context, ntf *envelope.Notification) (*envelope.Notification, error) {
	if ntf == nil || ntf.ID == "" || !ntf.IsAcknowledgment() {
		return ntf, nil
	}

	key := m.notificationKeyFor(ntf)
	if entry, ok := m.store.evict(key); ok {
		entry.cancel()
		m.metrics.recordAcked(ctx)
		m.logger.Debug("message acknowledged",
			slog.String("key", key.String()),
			slog.String("event", string(ntf.Event)),
		)
	}
	return ntf, nil
}

// resendEntry is the resend stage: it retransmits one entry through the
// bound channel's normal send path, so the outgoing interception re-arms
// tracking for the next attempt. A transmission failure is fatal to the
// module: the failing entry is destroyed and the module detaches from the
// channel, halting all further retries.
func (m *Module) resendEntry(entry *pendingSend) {
	ch := m.boundChannel()
	if ch == nil {
		return
	}

	msg := entry.outgoing()
	if err := ch.SendMessage(context.Background(), msg); err != nil {
		m.logger.Error("resend transmission failed",
			slog.String("key", entry.key.String()),
			slog.Any("error", err),
		)
		if evicted, ok := m.store.evict(entry.key); ok {
			evicted.cancel()
		}
		entry.cancel()
		if uerr := m.Unbind(); uerr != nil && !errors.Is(uerr, ErrNotBound) {
			m.logger.Error("unbind after failed resend", slog.Any("error", uerr))
		}
		return
	}

	m.logger.Debug("message resent",
		slog.String("key", entry.key.String()),
		slog.Int("attempts", entry.attempts()),
	)
}

// messageKeyFor derives the tracking key for an outgoing message. With
// destination filtering, the destination is the explicit recipient when
// present, else the channel's remote peer.
func (m *Module) messageKeyFor(msg *envelope.Message) messageKey {
	if !m.opts.FilterByDestination {
		return newMessageKey(msg.ID, "")
	}
	var dest string
	if msg.To != nil {
		dest = msg.To.String()
	} else if ch := m.boundChannel(); ch != nil {
		dest = ch.RemoteNode().String()
	}
	return newMessageKey(msg.ID, dest)
}

// notificationKeyFor derives the tracking key for an incoming notification,
// falling back to the channel's remote peer when no sender is set.
func (m *Module) notificationKeyFor(ntf *envelope.Notification) messageKey {
	if !m.opts.FilterByDestination {
		return newMessageKey(ntf.ID, "")
	}
	var dest string
	if ntf.From != nil {
		dest = ntf.From.String()
	} else if ch := m.boundChannel(); ch != nil {
		dest = ch.RemoteNode().String()
	}
	return newMessageKey(ntf.ID, dest)
}

// outgoingInterceptor adapts the module onto the outgoing message flow.
type outgoingInterceptor struct{ m *Module }

func (i *outgoingInterceptor) Intercept(ctx context.Context, msg *envelope.Message) (*envelope.Message, error) {
	return i.m.trackOutgoing(ctx, msg)
}

// ackInterceptor adapts the module onto the incoming notification flow.
type ackInterceptor struct{ m *Module }

func (i *ackInterceptor) Intercept(ctx context.Context, ntf *envelope.Notification) (*envelope.Notification, error) {
	return i.m.trackAck(ctx, ntf)
}

// passthroughMessages is a no-op: the module does not touch incoming
// messages.
type passthroughMessages struct{}

func (*passthroughMessages) Intercept(_ context.Context, msg *envelope.Message) (*envelope.Message, error) {
	return msg, nil
}

// passthroughNotifications is a no-op: the module does not touch outgoing
// notifications.
type passthroughNotifications struct{}

func (*passthroughNotifications) Intercept(_ context.Context, ntf *envelope.Notification) (*envelope.Notification, error) {
	return ntf, nil
}
