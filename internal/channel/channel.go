// Package channel keeps one live duplex connection per logical channel and
// recovers from any close through a single scheduled reconnect.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketvalues/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 1024 * 1024

	DefaultReconnectDelay = 3 * time.Second
)

var ErrNotOpen = errors.New("channel: connection is not open")

// ErrStop, returned (or wrapped) from OnOpen, closes the socket and settles
// the channel in Idle without scheduling a reconnect.
var ErrStop = errors.New("channel: stop reconnecting")

type State int

const (
	Idle State = iota
	Connecting
	Open
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header map[string][]string
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	conn, _, err := wd.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{Conn: conn}, nil
}

type wsConn struct {
	*websocket.Conn
}

func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

type Options struct {
	Name           string
	URL            string
	ReconnectDelay time.Duration
	Dialer         Dialer

	// OnOpen runs once per successful dial, before any message is read.
	// A non-nil error drops the socket and goes through the reconnect path,
	// unless it wraps ErrStop.
	OnOpen func(ctx context.Context, c *Connection) error
	// OnMessage receives every inbound frame in arrival order.
	OnMessage func(ctx context.Context, data []byte)
	// OnStateChange is called with the connection lock held and must not
	// call back into the Connection.
	OnStateChange func(State)
}

type stopper interface {
	Stop() bool
}

// Connection owns at most one socket and at most one reconnect timer.
// Every callback from a socket or timer carries the generation it was
// started with; callbacks from an older generation are ignored.
type Connection struct {
	opts Options

	mu     sync.Mutex
	state  State
	conn   Conn
	timer  stopper
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	afterFunc func(d time.Duration, f func()) stopper
}

func New(opts Options) *Connection {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Name == "" {
		opts.Name = opts.URL
	}
	return &Connection{
		opts: opts,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

func (c *Connection) Name() string { return c.opts.Name }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the channel. It is a no-op unless the channel is Idle, so
// calling it while open, dialing, or waiting to reconnect changes nothing.
func (c *Connection) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.gen++
	gen, runCtx := c.gen, c.ctx
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	go c.run(runCtx, gen)
}

// Disconnect cancels any pending reconnect, closes the socket and returns
// the channel to Idle. It never schedules a reconnect.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state != Idle {
		c.setStateLocked(Idle)
	}
}

// SendJSON writes v as one text frame. Only valid while Open.
func (c *Connection) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", c.opts.Name, err)
	}

	c.mu.Lock()
	conn := c.conn
	open := c.state == Open && conn != nil
	c.mu.Unlock()
	if !open {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s message: %w", c.opts.Name, err)
	}
	return nil
}

func (c *Connection) run(ctx context.Context, gen uint64) {
	conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		logger.Warn(ctx, "Channel dial failed", "channel", c.opts.Name, "url", c.opts.URL, "error", err)
		c.dropLocked(ctx, err)
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.setStateLocked(Open)
	c.mu.Unlock()

	if c.opts.OnOpen != nil {
		if err := c.opts.OnOpen(ctx, c); err != nil {
			c.handleClose(ctx, gen, conn, fmt.Errorf("on open: %w", err))
			return
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(ctx, gen, conn, err)
			return
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(ctx, data)
		}
	}
}

// handleClose is the single path for errors and server-initiated closes.
func (c *Connection) handleClose(ctx context.Context, gen uint64, conn Conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	_ = conn.Close()
	c.conn = nil
	switch {
	case errors.Is(cause, ErrStop):
		logger.Info(ctx, "Channel stopped", "channel", c.opts.Name, "reason", cause)
	case websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		logger.Warn(ctx, "Channel closed unexpectedly", "channel", c.opts.Name, "error", cause)
	default:
		logger.Info(ctx, "Channel closed", "channel", c.opts.Name, "reason", cause)
	}
	c.dropLocked(ctx, cause)
}

// dropLocked either schedules the reconnect or, once the owning context is
// gone or the cause is ErrStop, settles in Idle.
func (c *Connection) dropLocked(ctx context.Context, cause error) {
	if ctx.Err() != nil || errors.Is(cause, ErrStop) {
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.setStateLocked(Idle)
		return
	}
	if c.timer != nil {
		return
	}
	gen := c.gen
	c.setStateLocked(Reconnecting)
	c.timer = c.afterFunc(c.opts.ReconnectDelay, func() { c.fire(gen) })
}

func (c *Connection) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Reconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.gen++
	next, ctx := c.gen, c.ctx
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	c.run(ctx, next)
}

func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Connection(ctx, c.opts.Name, s.String(), "url", c.opts.URL)
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}
