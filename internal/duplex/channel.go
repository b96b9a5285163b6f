package duplex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/stevehaskew/live-translate/internal/resilience"
)

// closeTimeout bounds the WebSocket close handshake so shutdown never hangs
// on an unresponsive peer.
const closeTimeout = 2 * time.Second

// State describes the channel's connection lifecycle.
type State int

const (
	// StateDisconnected means no connection is open; Monitor may still
	// bring one up.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight. Further Connect calls
	// return [ErrConnecting] instead of racing it.
	StateConnecting

	// StateConnected means the WebSocket is open and the read loop is
	// running.
	StateConnected

	// StateDown is terminal: the retry budget was spent and the channel
	// will not reconnect on its own.
	StateDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDown:
		return "down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler consumes an inbound envelope. Handlers run on the read loop
// goroutine and must not block for long.
type Handler func(Message)

// Option configures a Channel.
type Option func(*Channel)

// WithBackoff overrides the reconnect backoff policy.
func WithBackoff(p resilience.Policy) Option {
	return func(c *Channel) { c.backoff = p }
}

// WithOnConnect registers a callback invoked after every successful connect,
// including reconnects. Used to replay session state the broker forgets when
// a connection drops.
func WithOnConnect(fn func()) Option {
	return func(c *Channel) { c.onConnect = fn }
}

// WithOnReconnect registers a callback invoked once per successful reconnect
// (not on the initial connect).
func WithOnReconnect(fn func()) Option {
	return func(c *Channel) { c.onReconnect = fn }
}

// Channel is a reconnecting duplex WebSocket connection to the broker.
//
// Register handlers before calling Connect; registration after the read loop
// has started is still safe but may miss frames already in flight. All
// exported methods are safe for concurrent use.
type Channel struct {
	url         string
	backoff     resilience.Policy
	onConnect   func()
	onReconnect func()

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	handlers map[MessageType]Handler

	lost      chan struct{} // signalled when the read loop detects a drop
	closed    chan struct{}
	closeOnce sync.Once
}

// TranslateScheme converts an http(s) broker URL into its ws(s) equivalent.
// URLs already carrying a ws or wss scheme pass through unchanged.
func TranslateScheme(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("duplex: parse url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("duplex: unsupported scheme %q in %q", u.Scheme, raw)
	}
	return u.String(), nil
}

// NewChannel creates a Channel targeting the given broker URL. The URL's
// scheme is translated to ws/wss up front so a bad URL fails here rather
// than on first connect.
func NewChannel(rawURL string, opts ...Option) (*Channel, error) {
	wsURL, err := TranslateScheme(rawURL)
	if err != nil {
		return nil, err
	}
	c := &Channel{
		url:      wsURL,
		backoff:  resilience.Transport,
		handlers: make(map[MessageType]Handler),
		lost:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// URL returns the translated ws/wss URL the channel dials.
func (c *Channel) URL() string { return c.url }

// RegisterHandler installs the handler for one envelope type, replacing any
// previous handler for that type.
func (c *Channel) RegisterHandler(t MessageType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the broker and starts the read loop. Calling Connect while
// already connected is a no-op; a call racing an in-flight dial returns
// [ErrConnecting] so only one connection is ever established at a time.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnecting
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, resp, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()

		ce := &ConnectError{URL: c.url, Err: err}
		if resp != nil {
			ce.Status = resp.StatusCode
			if resp.Body != nil {
				preview, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				ce.Body = string(preview)
			}
		}
		return ce
	}
	// Transcript payloads are small; the default 32 KiB read limit is kept.

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		conn.CloseNow()
		return ErrNotConnected
	default:
	}
	if prev := c.conn; prev != nil {
		// A connection installed by an earlier call must not linger once a
		// newer one takes over.
		prev.CloseNow()
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	slog.Info("broker connected", "url", c.url)

	go c.readLoop(conn)

	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// Send marshals the envelope and writes it as a text frame. It returns
// [ErrNotConnected] when no connection is open so callers can decide whether
// to trigger a connect or drop the message.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("duplex: marshal %s: %w", msg.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("duplex: write %s: %w", msg.Type, err)
	}
	return nil
}

// readLoop reads frames from one connection and dispatches them until the
// connection fails. Only the loop owning the current connection reports a
// drop; loops for superseded connections exit silently.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.connectionLost(conn, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("dropping malformed frame", "error", err)
			continue
		}
		if ParseMessageType(string(msg.Type)) == TypeUnknown {
			slog.Debug("dropping message of unknown type", "type", string(msg.Type))
			continue
		}

		c.mu.Lock()
		h := c.handlers[msg.Type]
		c.mu.Unlock()

		if h == nil {
			slog.Debug("no handler registered", "type", msg.Type)
			continue
		}
		h(msg)
	}
}

// connectionLost records the drop and wakes Monitor.
func (c *Channel) connectionLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	select {
	case <-c.closed:
		return
	default:
	}

	switch websocket.CloseStatus(cause) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Info("broker closed the connection", "status", websocket.CloseStatus(cause))
		return
	}

	slog.Warn("broker connection lost", "error", cause)

	select {
	case c.lost <- struct{}{}:
	default:
	}
}

// Monitor blocks, re-establishing the connection with capped exponential
// backoff whenever the read loop reports a drop. It returns nil when ctx is
// cancelled or the channel is closed, and [ErrConnectionLost] when the retry
// budget is spent, leaving the channel in [StateDown].
func (c *Channel) Monitor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		case <-c.lost:
		}

		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Channel) reconnect(ctx context.Context) error {
	for attempt := 0; attempt < c.backoff.Attempts(); attempt++ {
		if err := c.backoff.Wait(ctx, attempt, c.closed); err != nil {
			return nil // shutting down
		}

		slog.Info("reconnecting to broker",
			"url", c.url,
			"attempt", attempt+1,
			"max_attempts", c.backoff.Attempts(),
		)

		if err := c.Connect(ctx); err != nil {
			slog.Warn("reconnect attempt failed",
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		if c.onReconnect != nil {
			c.onReconnect()
		}
		return nil
	}

	c.mu.Lock()
	if c.state == StateConnected {
		// Another caller's dial won while we were retrying.
		c.mu.Unlock()
		return nil
	}
	c.state = StateDown
	c.mu.Unlock()

	slog.Error("broker unreachable, giving up", "url", c.url, "attempts", c.backoff.Attempts())
	return ErrConnectionLost
}

// Close tears the channel down. The close handshake is bounded by
// closeTimeout; an unresponsive peer gets the connection dropped without one.
// Safe to call multiple times.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Close(websocket.StatusNormalClosure, "client shutting down")
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(closeTimeout):
		conn.CloseNow()
		return nil
	}
}
