// Package connection holds the transport-independent half of a client
// connection: the outbound queue and send loop, the receive loop, the message
// log, listeners, notifications and the closed event. The websocket and socket
// packages only supply a Transport.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"roboclass/pkg/interfaces"
	"roboclass/pkg/types"
)

const (
	// MessageLogSize is the number of messages kept by LogMessage.
	MessageLogSize = 100
	// NotificationLimit is the number of alerts kept by AddNotification.
	NotificationLimit = 20
	// DefaultSendTimeout bounds a single transport write.
	DefaultSendTimeout = 5 * time.Second
)

// Transport is one physical channel. ReadMessage blocks until a message
// arrives; it returns an error wrapping ErrMalformedMessage for payloads that
// should be skipped, and any other error ends the connection. Close must
// unblock a pending ReadMessage.
type Transport interface {
	ReadMessage() (*types.Message, error)
	WriteMessage(msg *types.Message, deadline time.Time) error
	Close() error
	RemoteAddress() string
}

// Config tunes a connection.
type Config struct {
	SendTimeout time.Duration
}

// Connection implements interfaces.Connection over a Transport.
// ARCHITECTURAL DISCOVERY: Writes are serialized through one send loop so the
// transport never sees concurrent writers, the same single-writer rule the
// gorilla websocket API demands.
type Connection struct {
	transport   Transport
	processor   interfaces.MessageProcessor
	logger      *slog.Logger
	sendTimeout time.Duration

	mu            sync.Mutex
	id            int64
	clientType    types.ClientType
	status        types.ClientStatus
	robotDetails  *types.RobotStatus
	user          *types.Identity
	robot         *types.Identity
	hub           interfaces.Hub
	queue         []*types.Message
	messageLog    []*types.Message
	listeners     []interfaces.Connection
	watching      map[interfaces.Connection]struct{}
	notifications []types.NotificationAlert
	closeHandlers []func(interfaces.Connection)
	closed        bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New wraps transport. processor may be nil for connections that only send.
func New(transport Transport, clientType types.ClientType, processor interfaces.MessageProcessor, cfg Config, logger *slog.Logger) *Connection {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		transport:   transport,
		processor:   processor,
		logger:      logger,
		sendTimeout: cfg.SendTimeout,
		clientType:  clientType,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Run drives the send and receive loops until the connection closes or ctx
// is cancelled. Inbound messages are processed one at a time in arrival order.
func (c *Connection) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	go c.sendLoop()

	c.receiveLoop(ctx)
}

func (c *Connection) receiveLoop(ctx context.Context) {
	defer c.Close()
	for {
		msg, err := c.transport.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				c.logger.Debug("Dropping malformed message", "client", c.ID(), "error", err)
				continue
			}
			if !c.IsClosed() {
				c.logger.Info("Connection closed by peer", "client", c.ID(), "reason", err)
			}
			return
		}

		c.LogMessage(msg)
		if !c.dispatch(ctx, msg) {
			return
		}
	}
}

// dispatch hands msg to the processor; a panic closes the connection instead
// of silently killing the receive loop.
func (c *Connection) dispatch(ctx context.Context, msg *types.Message) (ok bool) {
	if c.processor == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Unexpected failure processing message", "client", c.ID(), "type", msg.Type, "panic", r)
			ok = false
		}
	}()
	c.processor.Process(ctx, c, msg)
	return true
}

func (c *Connection) sendLoop() {
	for {
		msg, ok := c.dequeue()
		if !ok {
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}

		if err := c.transport.WriteMessage(msg, time.Now().Add(c.sendTimeout)); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				err = fmt.Errorf("%w: %v", interfaces.ErrSendTimeout, err)
			}
			if !c.IsClosed() {
				c.logger.Warn("Send failed, closing connection", "client", c.ID(), "type", msg.Type, "error", err)
			}
			c.Close()
			return
		}
	}
}

func (c *Connection) dequeue() (*types.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.queue) == 0 {
		return nil, false
	}
	msg := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return msg, true
}

// SendMessage queues msg for the send loop. It never blocks.
func (c *Connection) SendMessage(msg *types.Message) error {
	if msg == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return interfaces.ErrConnectionClosed
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Connection) PendingMessages() []*types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Message(nil), c.queue...)
}

// Close shuts the transport and runs the closed handlers. Only the first call
// does anything.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		handlers := c.closeHandlers
		c.closeHandlers = nil
		c.mu.Unlock()

		close(c.done)
		if c.transport != nil {
			err = c.transport.Close()
		}
		c.logger.Info("Connection closed", "client", c.ID(), "type", c.Type())

		for _, fn := range handlers {
			c.runCloseHandler(fn)
		}
	})
	return err
}

func (c *Connection) runCloseHandler(fn func(interfaces.Connection)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Closed handler failed", "client", c.ID(), "panic", r)
		}
	}()
	fn(c)
}

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed once the connection has closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) OnClosed(fn func(interfaces.Connection)) {
	c.mu.Lock()
	if !c.closed {
		c.closeHandlers = append(c.closeHandlers, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.runCloseHandler(fn)
}

// LogMessage keeps a copy of msg, evicting the oldest entry past MessageLogSize.
func (c *Connection) LogMessage(msg *types.Message) {
	if msg == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageLog = append(c.messageLog, msg.Clone())
	if over := len(c.messageLog) - MessageLogSize; over > 0 {
		c.messageLog = append([]*types.Message(nil), c.messageLog[over:]...)
	}
}

func (c *Connection) MessageLog() []*types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Message(nil), c.messageLog...)
}

// AddListener subscribes listener to NotifyListeners. The listener is dropped
// automatically when it closes.
func (c *Connection) AddListener(listener interfaces.Connection) {
	if listener == nil {
		return
	}
	c.mu.Lock()
	for _, l := range c.listeners {
		if l == listener {
			c.mu.Unlock()
			return
		}
	}
	c.listeners = append(c.listeners, listener)
	// One close hook per listener, however often it is removed and re-added.
	_, watched := c.watching[listener]
	if !watched {
		if c.watching == nil {
			c.watching = make(map[interfaces.Connection]struct{})
		}
		c.watching[listener] = struct{}{}
	}
	c.mu.Unlock()

	if !watched {
		listener.OnClosed(func(interfaces.Connection) { c.listenerClosed(listener) })
	}
}

// RestartSequence restarts outbound frame numbering on transports that number
// their frames. Other transports ignore it.
func (c *Connection) RestartSequence() {
	if t, ok := c.transport.(interface{ RestartSequence() }); ok {
		t.RestartSequence()
	}
}

// RemoveListener is a no-op for connections that are not listening.
func (c *Connection) RemoveListener(listener interfaces.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeListenerLocked(listener)
}

func (c *Connection) listenerClosed(listener interfaces.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeListenerLocked(listener)
	delete(c.watching, listener)
}

func (c *Connection) removeListenerLocked(listener interfaces.Connection) {
	for i, l := range c.listeners {
		if l == listener {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Connection) Listeners() []interfaces.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interfaces.Connection(nil), c.listeners...)
}

// NotifyListeners sends a copy of msg to every listener. A failing listener
// does not stop delivery to the rest.
func (c *Connection) NotifyListeners(msg *types.Message) {
	for _, listener := range c.Listeners() {
		if err := c.notify(listener, msg.Clone()); err != nil {
			c.logger.Debug("Unable to notify listener", "client", c.ID(), "listener", listener.ID(), "error", err)
		}
	}
}

func (c *Connection) notify(listener interfaces.Connection, msg *types.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return listener.SendMessage(msg)
}

// AddNotification keeps alert, evicting the oldest past NotificationLimit.
func (c *Connection) AddNotification(alert types.NotificationAlert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, alert)
	if over := len(c.notifications) - NotificationLimit; over > 0 {
		c.notifications = append([]types.NotificationAlert(nil), c.notifications[over:]...)
	}
}

func (c *Connection) Notifications() []types.NotificationAlert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.NotificationAlert(nil), c.notifications...)
}

func (c *Connection) ID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Connection) SetID(id int64) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

func (c *Connection) Type() types.ClientType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientType
}

func (c *Connection) SetType(t types.ClientType) {
	c.mu.Lock()
	c.clientType = t
	c.mu.Unlock()
}

func (c *Connection) RemoteAddress() string {
	if c.transport == nil {
		return ""
	}
	return c.transport.RemoteAddress()
}

func (c *Connection) Status() types.ClientStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) SetStatus(status types.ClientStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// TryAllocate claims an available connection. Two users racing for the same
// robot cannot both win.
func (c *Connection) TryAllocate(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.IsAvailable {
		return false
	}
	c.status.IsAvailable = false
	c.status.LastAllocatedTime = now
	return true
}

func (c *Connection) RobotDetails() *types.RobotStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.robotDetails.Clone()
}

func (c *Connection) SetRobotDetails(details *types.RobotStatus) {
	c.mu.Lock()
	c.robotDetails = details.Clone()
	c.mu.Unlock()
}

func (c *Connection) UpdateRobotDetails(fn func(details *types.RobotStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.robotDetails != nil {
		fn(c.robotDetails)
	}
}

func (c *Connection) User() *types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Connection) SetUser(user *types.Identity) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
}

func (c *Connection) Robot() *types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.robot
}

func (c *Connection) SetRobot(robot *types.Identity) {
	c.mu.Lock()
	c.robot = robot
	c.mu.Unlock()
}

func (c *Connection) Hub() interfaces.Hub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hub
}

func (c *Connection) SetHub(hub interfaces.Hub) {
	c.mu.Lock()
	c.hub = hub
	c.mu.Unlock()
}
