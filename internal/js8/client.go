package js8

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultHost and DefaultPort are where JS8Call's TCP API listens out of the box
	DefaultHost = "localhost"
	DefaultPort = 2442

	// DefaultDialTimeout bounds a single connection attempt
	DefaultDialTimeout = 10 * time.Second

	readBufferSize = 4096
)

// State is the connection lifecycle state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name for logging
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Host            string
	Port            int
	DialTimeout     time.Duration
	RequestTimeout  time.Duration
	ReconnectPolicy ReconnectPolicy
	QueueSize       int
	Logger          Logger
	Debug           bool
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// Client owns the socket to a JS8Call controller. It decodes inbound lines,
// resolves command responses and publishes notifications to subscribers.
type Client struct {
	address     string
	dialTimeout time.Duration
	policy      ReconnectPolicy
	logger      Logger
	debug       bool

	correlator *Correlator
	dispatcher *Dispatcher

	// Connection state, guarded by mu. Only this type mutates it.
	mu                  sync.Mutex
	state               State
	conn                net.Conn
	attempt             *connectAttempt
	epoch               uint64 // bumped by Disconnect; stale timers and dials check it
	reconnectTimer      *time.Timer
	reconnectAttempts   int
	reconnectsScheduled uint64

	writeMu sync.Mutex

	framesDecoded   atomic.Uint64
	framesMalformed atomic.Uint64
	eventsDropped   atomic.Uint64
}

// Stats counts inbound traffic over the life of the client
type Stats struct {
	FramesDecoded   uint64
	FramesMalformed uint64
	EventsDropped   uint64 // notifications lost because subscribers fell behind
}

// NewClient creates a disconnected client
func NewClient(opts Options) *Client {
	host := opts.Host
	if host == "" {
		host = DefaultHost
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	policy := opts.ReconnectPolicy
	if policy == nil {
		policy = FixedDelay(DefaultReconnectDelay)
	}
	logger := orDiscard(opts.Logger)

	return &Client{
		address:     net.JoinHostPort(host, strconv.Itoa(port)),
		dialTimeout: dialTimeout,
		policy:      policy,
		logger:      logger,
		debug:       opts.Debug,
		correlator:  NewCorrelator(opts.RequestTimeout),
		dispatcher:  NewDispatcher(opts.QueueSize, logger),
		state:       StateDisconnected,
	}
}

// Address returns the controller host:port
func (c *Client) Address() string {
	return c.address
}

// Connected reports whether the transport is open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a handler for one event category
func (c *Client) Subscribe(t EventType, handler Handler) func() {
	return c.dispatcher.Subscribe(t, handler)
}

// Sync waits until all events received so far have been delivered to subscribers
func (c *Client) Sync() error {
	return c.dispatcher.Sync()
}

// PendingRequests returns the number of commands awaiting a response
func (c *Client) PendingRequests() int {
	return c.correlator.PendingCount()
}

// ReconnectPending reports whether a reconnect timer is armed
func (c *Client) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTimer != nil
}

// ReconnectsScheduled returns how many reconnect timers have been armed
func (c *Client) ReconnectsScheduled() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectsScheduled
}

// Stats returns traffic counters
func (c *Client) Stats() Stats {
	return Stats{
		FramesDecoded:   c.framesDecoded.Load(),
		FramesMalformed: c.framesMalformed.Load(),
		EventsDropped:   c.eventsDropped.Load(),
	}
}

// Connect opens the transport. It returns nil if already connected and joins
// an attempt already in flight. A failure is a *ConnectionError; no retry is
// scheduled for it. After Close it returns ErrClientClosed.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	if c.dispatcher.Closed() {
		return ErrClientClosed
	}

	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		attempt := c.attempt
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	attempt := &connectAttempt{done: make(chan struct{})}
	c.attempt = attempt
	c.state = StateConnecting
	epoch := c.epoch
	c.mu.Unlock()

	if c.debug {
		c.logger.Printf("JS8: connecting to %s", c.address)
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)

	c.mu.Lock()
	if c.attempt == attempt {
		c.attempt = nil
	}
	if err == nil && c.epoch != epoch {
		// Disconnect ran while we were dialing
		conn.Close()
		err = errors.New("disconnected while connecting")
	}
	if err != nil {
		if c.epoch == epoch {
			c.state = StateDisconnected
		}
		attempt.err = &ConnectionError{Address: c.address, Cause: err}
		close(attempt.done)
		c.mu.Unlock()

		c.logger.Printf("JS8Call API connection error: %v", err)
		return attempt.err
	}

	c.conn = conn
	c.state = StateConnected
	c.reconnectAttempts = 0
	close(attempt.done)
	c.mu.Unlock()

	c.logger.Printf("Connected to JS8Call API at %s", c.address)
	c.dispatcher.Publish(Event{Type: EventConnected})

	go c.readLoop(conn)
	return nil
}

// Disconnect cancels any pending reconnect and closes the transport. The
// client stays disconnected until the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.epoch++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectAttempts = 0
	conn := c.conn
	c.conn = nil
	c.attempt = nil
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		c.logger.Printf("Disconnected from JS8Call API")
		c.dispatcher.Publish(Event{Type: EventDisconnected})
	}
}

// Close disconnects, delivers the events already queued (the final
// EventDisconnected included) and stops event delivery. The client cannot be
// reused. Must not be called from a subscriber.
func (c *Client) Close() {
	c.Disconnect()
	c.dispatcher.Sync()
	c.dispatcher.Close()
}

// readLoop owns the decode buffer for one connection
func (c *Client) readLoop(conn net.Conn) {
	decoder := NewDecoder(c.logger)
	buffer := make([]byte, readBufferSize)

	var decoded, malformed uint64
	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			for _, msg := range decoder.Feed(buffer[:n]) {
				c.handleMessage(msg)
			}
			d, m := decoder.stats()
			c.framesDecoded.Add(d - decoded)
			c.framesMalformed.Add(m - malformed)
			decoded, malformed = d, m
		}
		if err != nil {
			c.handleClosed(conn, err)
			return
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	if c.debug {
		c.logger.Printf("JS8 RX: %s", msg)
	}
	c.correlator.Resolve(msg)

	// Never wait on subscribers; a full queue drops the notification
	if err := c.dispatcher.TryPublish(Event{Type: Classify(msg), Message: msg}); errors.Is(err, ErrQueueFull) {
		if dropped := c.eventsDropped.Add(1); dropped == 1 || dropped%100 == 0 {
			c.logger.Printf("JS8 event queue full, dropped %s (%d dropped so far)", msg.Type, dropped)
		}
	}
}

// handleClosed runs when the reader sees EOF or an error
func (c *Client) handleClosed(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Disconnect already tore this connection down
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	conn.Close()

	if cause != nil && !errors.Is(cause, io.EOF) {
		c.logger.Printf("JS8Call API connection error: %v", cause)
	}
	c.logger.Printf("Disconnected from JS8Call API")
	c.dispatcher.Publish(Event{Type: EventDisconnected})
}

// scheduleReconnectLocked arms the reconnect timer unless one is already armed
func (c *Client) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		return
	}
	c.reconnectAttempts++
	c.reconnectsScheduled++
	delay := c.policy.NextDelay(c.reconnectAttempts)
	epoch := c.epoch
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.attemptReconnect(epoch)
	})
}

func (c *Client) attemptReconnect(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	c.logger.Printf("Attempting to reconnect to JS8Call...")
	if err := c.connect(context.Background()); err != nil {
		c.logger.Printf("Reconnection failed: %v", err)

		c.mu.Lock()
		if c.epoch == epoch && c.state == StateDisconnected {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
	}
}

// Send writes a command and waits for the response carrying its correlation id.
// It returns (nil, nil) when no response arrives within the request timeout,
// since many commands never answer. Errors are limited to ErrNotConnected,
// transport write failures and ctx cancellation.
func (c *Client) Send(ctx context.Context, msgType, value string, params map[string]any) (*Message, error) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}

	id, result := c.correlator.Register()
	msg := NewMessage(msgType, value, params).withID(id)

	data, err := msg.Encode()
	if err != nil {
		c.correlator.Cancel(id)
		return nil, err
	}

	if err := c.write(conn, data); err != nil {
		c.correlator.Cancel(id)
		c.logger.Printf("JS8 write error: %v", err)
		return nil, fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	if c.debug {
		c.logger.Printf("JS8 TX: %s", msg)
	}

	select {
	case resp := <-result:
		return resp, nil
	case <-ctx.Done():
		c.correlator.Cancel(id)
		return nil, ctx.Err()
	}
}

func (c *Client) write(conn net.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// A wedged socket must not hold other writers past their own timeout
	if err := conn.SetWriteDeadline(time.Now().Add(c.correlator.Timeout())); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}
