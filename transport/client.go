// Package transport wraps the server's bidirectional event stream behind a
// typed event channel consumed by one dispatch loop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

const (
	// DefaultDialTimeout bounds one websocket dial attempt.
	DefaultDialTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds each outbound frame write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultPongTimeout closes the connection when no pong arrives in time.
	DefaultPongTimeout = 60 * time.Second
	// DefaultReconnectInitialWait is the first reconnect delay.
	DefaultReconnectInitialWait = time.Second
	// DefaultReconnectMaxWait caps the reconnect delay growth.
	DefaultReconnectMaxWait = 60 * time.Second
	// DefaultEventBuffer is the inbound event channel capacity.
	DefaultEventBuffer = 128
	// DefaultMaxFrameSize caps one inbound frame (1 MB).
	DefaultMaxFrameSize = 1 * 1024 * 1024
)

// pingPeriod must be shorter than the pong timeout.
func pingPeriod(pongTimeout time.Duration) time.Duration {
	return pongTimeout * 9 / 10
}

// Options configures a Client.
type Options struct {
	// Endpoint is the websocket URL of the event stream.
	Endpoint string
	// Credential is the bearer token presented on the dial handshake.
	Credential string

	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	PongTimeout          time.Duration
	ReconnectInitialWait time.Duration
	ReconnectMaxWait     time.Duration
	EventBuffer          int
	MaxFrameSize         int64
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = DefaultPongTimeout
	}
	if o.ReconnectInitialWait <= 0 {
		o.ReconnectInitialWait = DefaultReconnectInitialWait
	}
	if o.ReconnectMaxWait <= 0 {
		o.ReconnectMaxWait = DefaultReconnectMaxWait
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	return o
}

// Client maintains one persistent authenticated event-stream connection.
//
// Reconnection is automatic: after a drop the client redials with
// exponential backoff until Disconnect is called. Lifecycle transitions and
// decoded server events are delivered in order on Events.
type Client struct {
	opts Options

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	started   bool

	writeMu sync.Mutex

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewClient creates a client with option defaults applied.
func NewClient(options Options) *Client {
	opts := options.withDefaults()
	return &Client{
		opts:   opts,
		events: make(chan Event, opts.EventBuffer),
	}
}

// Connect starts the connection loop. It is idempotent: calling Connect on
// a client that is already running returns nil.
func (c *Client) Connect() error {
	if c.opts.Endpoint == "" {
		return errors.New("transport: endpoint is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.run()
	return nil
}

// Disconnect tears the connection down. Safe to call multiple times and
// before Connect; the event channel is closed once the loop exits.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.started {
		c.started = true // block a later Connect from reusing a closed channel
		c.mu.Unlock()
		c.stopOnce.Do(func() { close(c.events) })
		return
	}
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
}

// Events returns the inbound event channel. It is closed after Disconnect.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connected reports whether the stream is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit sends one fire-and-forget named event. When the stream is down the
// frame is dropped with a logged warning; queueing and retry are the
// caller's concern.
func (c *Client) Emit(event string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		log.Printf("transport: not connected, dropping event %q", event)
		return
	}

	frame, err := EncodeEnvelope(event, payload)
	if err != nil {
		log.Printf("transport: encode event %q: %v", event, err)
		return
	}
	if err := c.writeFrame(conn, websocket.TextMessage, frame); err != nil {
		log.Printf("transport: write event %q: %v", event, err)
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, messageType int, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, frame)
}

func (c *Client) run() {
	defer c.wg.Done()
	defer c.stopOnce.Do(func() { close(c.events) })

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = c.opts.ReconnectInitialWait
	wait.MaxInterval = c.opts.ReconnectMaxWait
	wait.MaxElapsedTime = 0

	for {
		conn, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.deliver(ErrorEvent{Message: fmt.Sprintf("connection failed: %v", err)})
			if !c.sleep(wait.NextBackOff()) {
				return
			}
			continue
		}

		wait.Reset()
		c.setConn(conn)
		c.deliver(ConnectedEvent{})

		c.readLoop(conn)

		c.clearConn()
		_ = conn.Close()
		c.deliver(DisconnectedEvent{})

		if c.ctx.Err() != nil {
			return
		}
		if !c.sleep(wait.NextBackOff()) {
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	header := http.Header{}
	if c.opts.Credential != "" {
		header.Set("Authorization", "Bearer "+c.opts.Credential)
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(ctx, c.opts.Endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", c.opts.Endpoint, err)
	}
	return conn, nil
}

// readLoop decodes inbound frames until the connection fails or the client
// stops. Malformed and unknown events are dropped defensively.
func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(c.opts.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(conn, pingDone)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("transport: read error: %v", err)
			}
			return
		}

		event, err := DecodeEvent(frame)
		if err != nil {
			log.Printf("transport: dropping inbound frame: %v", err)
			continue
		}
		if !c.deliver(event) {
			return
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod(c.opts.PongTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.writeFrame(conn, websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) deliver(event Event) bool {
	select {
	case c.events <- event:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
}

func (c *Client) clearConn() {
	c.mu.Lock()
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
}
