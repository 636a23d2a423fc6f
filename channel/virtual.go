package channel

import (
	"context"
	"errors"
	"time"

	"github.com/rivermesh/courier/envelope"
)

// VirtualChannel simulates a session channel without a network. It allows
// injecting incoming envelopes (Inject*) and capturing transmitted ones
// (Capture*), and its session state is set directly by the test or caller.
type VirtualChannel struct {
	Interceptors

	state  *StateManager
	remote envelope.Node

	outMsgCh chan *envelope.Message
	outNtfCh chan *envelope.Notification
	inMsgCh  chan *envelope.Message
	inNtfCh  chan *envelope.Notification

	closed chan struct{}
}

// NewVirtualChannel creates a virtual channel whose remote peer reports the
// given identity. The channel starts in StateNew.
func NewVirtualChannel(remote envelope.Node) *VirtualChannel {
	return &VirtualChannel{
		state:    NewStateManager(),
		remote:   remote,
		outMsgCh: make(chan *envelope.Message, 32),
		outNtfCh: make(chan *envelope.Notification, 32),
		inMsgCh:  make(chan *envelope.Message, 32),
		inNtfCh:  make(chan *envelope.Notification, 32),
		closed:   make(chan struct{}),
	}
}

// State returns the current session state.
func (vc *VirtualChannel) State() SessionState {
	return vc.state.Get()
}

// SetState moves the session to the given state and notifies listeners.
func (vc *VirtualChannel) SetState(s SessionState) {
	vc.state.Set(s)
	vc.StateListeners().Notify(s)
}

// RemoteNode returns the configured remote identity.
func (vc *VirtualChannel) RemoteNode() envelope.Node {
	return vc.remote
}

func (vc *VirtualChannel) isClosed() bool {
	select {
	case <-vc.closed:
		return true
	default:
		return false
	}
}

// SendMessage runs outgoing interception and buffers the transmitted message.
func (vc *VirtualChannel) SendMessage(ctx context.Context, msg *envelope.Message) error {
	if vc.isClosed() {
		return ErrChannelClosed
	}
	out, err := vc.OutgoingMessages().Run(ctx, msg)
	if err != nil {
		return err
	}
	if out == nil {
		// Dropped by an interceptor; not an error.
		return nil
	}
	// Snapshot the message: the transmitted form must not change when the
	// sender mutates headers for a later attempt.
	select {
	case vc.outMsgCh <- out.Clone():
		return nil
	case <-vc.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendNotification runs outgoing interception and buffers the notification.
func (vc *VirtualChannel) SendNotification(ctx context.Context, ntf *envelope.Notification) error {
	if vc.isClosed() {
		return ErrChannelClosed
	}
	out, err := vc.OutgoingNotifications().Run(ctx, ntf)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	select {
	case vc.outNtfCh <- out:
		return nil
	case <-vc.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectMessage delivers a message as if received from the peer.
func (vc *VirtualChannel) InjectMessage(ctx context.Context, msg *envelope.Message) error {
	if vc.isClosed() {
		return ErrChannelClosed
	}
	in, err := vc.IncomingMessages().Run(ctx, msg)
	if err != nil {
		return err
	}
	if in == nil {
		return nil
	}
	select {
	case vc.inMsgCh <- in:
		return nil
	case <-vc.closed:
		return ErrChannelClosed
	}
}

// InjectNotification delivers a notification as if received from the peer.
func (vc *VirtualChannel) InjectNotification(ctx context.Context, ntf *envelope.Notification) error {
	if vc.isClosed() {
		return ErrChannelClosed
	}
	in, err := vc.IncomingNotifications().Run(ctx, ntf)
	if err != nil {
		return err
	}
	if in == nil {
		return nil
	}
	select {
	case vc.inNtfCh <- in:
		return nil
	case <-vc.closed:
		return ErrChannelClosed
	}
}

// CaptureMessage waits for a transmitted message.
func (vc *VirtualChannel) CaptureMessage(timeout time.Duration) (*envelope.Message, error) {
	select {
	case msg := <-vc.outMsgCh:
		return msg, nil
	case <-time.After(timeout):
		return nil, errors.New("timeout capturing message")
	case <-vc.closed:
		return nil, ErrChannelClosed
	}
}

// CaptureNotification waits for a transmitted notification.
func (vc *VirtualChannel) CaptureNotification(timeout time.Duration) (*envelope.Notification, error) {
	select {
	case ntf := <-vc.outNtfCh:
		return ntf, nil
	case <-time.After(timeout):
		return nil, errors.New("timeout capturing notification")
	case <-vc.closed:
		return nil, ErrChannelClosed
	}
}

// Messages returns the delivered incoming messages.
func (vc *VirtualChannel) Messages() <-chan *envelope.Message {
	return vc.inMsgCh
}

// Notifications returns the delivered incoming notifications.
func (vc *VirtualChannel) Notifications() <-chan *envelope.Notification {
	return vc.inNtfCh
}

// Close closes the channel. Sends and captures after Close fail with
// ErrChannelClosed.
func (vc *VirtualChannel) Close() error {
	select {
	case <-vc.closed:
		// already closed
	default:
		close(vc.closed)
	}
	return nil
}
