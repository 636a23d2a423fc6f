// Package transport provides a websocket implementation of the channel
// abstraction: JSON envelopes, one per frame, with a minimal session
// announcement handshake.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rivermesh/courier/channel"
	"github.com/rivermesh/courier/envelope"
)

// wsFrame is the wire unit: exactly one of the fields is set.
type wsFrame struct {
	Message      *envelope.Message      `json:"message,omitempty"`
	Notification *envelope.Notification `json:"notification,omitempty"`
	Session      *sessionUpdate         `json:"session,omitempty"`
}

// sessionUpdate announces a session state change to the peer.
type sessionUpdate struct {
	State string         `json:"state"`
	Node  *envelope.Node `json:"node,omitempty"`
}

// WSChannel is a session channel over a websocket connection.
type WSChannel struct {
	channel.Interceptors

	conn   *websocket.Conn
	local  envelope.Node
	logger *slog.Logger
	state  *channel.StateManager

	// gorilla allows a single concurrent writer.
	writeMu sync.Mutex

	mu     sync.Mutex
	remote envelope.Node

	inMsgCh     chan *envelope.Message
	inNtfCh     chan *envelope.Notification
	established chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once
}

func newWSChannel(conn *websocket.Conn, local envelope.Node, logger *slog.Logger) *WSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	ch := &WSChannel{
		conn:        conn,
		local:       local,
		logger:      logger,
		state:       channel.NewStateManager(),
		inMsgCh:     make(chan *envelope.Message, 32),
		inNtfCh:     make(chan *envelope.Notification, 32),
		established: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	go ch.readLoop()
	return ch
}

// Dial connects to a websocket endpoint and returns the channel in the New
// state. Call Establish to run the session handshake.
func Dial(ctx context.Context, url string, local envelope.Node, logger *slog.Logger) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newWSChannel(conn, local, logger), nil
}

// Establish announces the local identity to the peer and waits until the
// peer's announcement arrives, moving the session to Established.
func (c *WSChannel) Establish(ctx context.Context) error {
	c.state.Transition(channel.StateNew, channel.StateNegotiating)
	c.StateListeners().Notify(c.state.Get())

	local := c.local
	if err := c.writeFrame(&wsFrame{Session: &sessionUpdate{
		State: channel.StateEstablished.String(),
		Node:  &local,
	}}); err != nil {
		return err
	}

	select {
	case <-c.established:
		return nil
	case <-c.closed:
		return channel.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current session state.
func (c *WSChannel) State() channel.SessionState {
	return c.state.Get()
}

// RemoteNode returns the peer identity learned during the handshake.
func (c *WSChannel) RemoteNode() envelope.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// LocalNode returns the identity this side announced.
func (c *WSChannel) LocalNode() envelope.Node {
	return c.local
}

// SendMessage runs outgoing interception and transmits the message.
func (c *WSChannel) SendMessage(ctx context.Context, msg *envelope.Message) error {
	if !c.state.IsEstablished() {
		return channel.ErrNotEstablished
	}
	out, err := c.OutgoingMessages().Run(ctx, msg)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return c.writeFrame(&wsFrame{Message: out})
}

// SendNotification runs outgoing interception and transmits the notification.
func (c *WSChannel) SendNotification(ctx context.Context, ntf *envelope.Notification) error {
	if !c.state.IsEstablished() {
		return channel.ErrNotEstablished
	}
	out, err := c.OutgoingNotifications().Run(ctx, ntf)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return c.writeFrame(&wsFrame{Notification: out})
}

// Messages returns delivered incoming messages. Closed when the channel
// terminates.
func (c *WSChannel) Messages() <-chan *envelope.Message {
	return c.inMsgCh
}

// Notifications returns delivered incoming notifications. Closed when the
// channel terminates.
func (c *WSChannel) Notifications() <-chan *envelope.Notification {
	return c.inNtfCh
}

// Close finishes the session and closes the connection.
func (c *WSChannel) Close() error {
	// Best effort; the peer may already be gone.
	_ = c.writeFrame(&wsFrame{Session: &sessionUpdate{
		State: channel.StateFinished.String(),
	}})
	c.terminate(channel.StateFinished)
	return c.conn.Close()
}

func (c *WSChannel) writeFrame(f *wsFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return channel.ErrChannelClosed
	default:
	}
	return c.conn.WriteJSON(f)
}

func (c *WSChannel) readLoop() {
	// Delivery only happens on this goroutine, so the delivery channels are
	// safe to close once the loop exits.
	defer close(c.inMsgCh)
	defer close(c.inNtfCh)

	for {
		var f wsFrame
		if err := c.conn.ReadJSON(&f); err != nil {
			if c.state.Get() == channel.StateFinished {
				// Local close already settled the state.
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.terminate(channel.StateFinished)
			} else {
				c.logger.Debug("websocket read failed", slog.Any("error", err))
				c.terminate(channel.StateFailed)
			}
			return
		}

		switch {
		case f.Session != nil:
			c.handleSession(f.Session)
		case f.Message != nil:
			c.deliverMessage(f.Message)
		case f.Notification != nil:
			c.deliverNotification(f.Notification)
		}
	}
}

func (c *WSChannel) handleSession(u *sessionUpdate) {
	switch u.State {
	case channel.StateEstablished.String():
		if u.Node != nil {
			c.mu.Lock()
			c.remote = *u.Node
			c.mu.Unlock()
		}
		if c.state.Get() < channel.StateEstablished {
			c.state.Set(channel.StateEstablished)
			close(c.established)
			c.StateListeners().Notify(channel.StateEstablished)
		}
	case channel.StateFinishing.String(), channel.StateFinished.String():
		c.terminate(channel.StateFinished)
	case channel.StateFailed.String():
		c.terminate(channel.StateFailed)
	}
}

func (c *WSChannel) deliverMessage(msg *envelope.Message) {
	in, err := c.IncomingMessages().Run(context.Background(), msg)
	if err != nil {
		c.logger.Debug("incoming message interception failed", slog.Any("error", err))
		return
	}
	if in == nil {
		return
	}
	select {
	case c.inMsgCh <- in:
	case <-c.closed:
	}
}

func (c *WSChannel) deliverNotification(ntf *envelope.Notification) {
	in, err := c.IncomingNotifications().Run(context.Background(), ntf)
	if err != nil {
		c.logger.Debug("incoming notification interception failed", slog.Any("error", err))
		return
	}
	if in == nil {
		return
	}
	select {
	case c.inNtfCh <- in:
	case <-c.closed:
	}
}

// terminate settles the session in a terminal state exactly once.
func (c *WSChannel) terminate(s channel.SessionState) {
	c.closeOnce.Do(func() {
		c.state.Set(s)
		close(c.closed)
		c.StateListeners().Notify(s)
	})
}

// ServerConfig holds websocket server settings.
type ServerConfig struct {
	Addr            string
	Path            string
	Node            envelope.Node
	ShutdownTimeout time.Duration
}

// Server accepts websocket channels.
type Server struct {
	config   ServerConfig
	handler  func(*WSChannel)
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a websocket channel server. The handler is invoked with
// each accepted channel, before the session handshake runs.
func NewServer(cfg ServerConfig, handler func(*WSChannel), logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/courier"
	}

	s := &Server{
		config:  cfg,
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleWebSocket)
	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts accepting connections. It blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("websocket server listening",
		slog.String("addr", s.config.Addr),
		slog.String("path", s.config.Path),
	)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Any("error", err),
		)
		return
	}

	ch := newWSChannel(conn, s.config.Node, s.logger)
	s.handler(ch)
}
