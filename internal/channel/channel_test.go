package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("use of closed connection")

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.in:
		return 1, b, nil
	case <-f.closed:
		return 0, nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, b := range f.written {
		out[i] = string(b)
	}
	return out
}

type fakeDialer struct {
	mu       sync.Mutex
	failNext int
	conns    []*fakeConn
	dials    int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) live() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*fakeConn
	for _, c := range d.conns {
		if !c.isClosed() {
			out = append(out, c)
		}
	}
	return out
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
	delays []time.Duration
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// pending counts timers that were neither stopped nor fired.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) scheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fireAll runs every timer ever scheduled, stopped ones included, the way a
// timer that already fired before Stop would.
func (c *fakeClock) fireAll() {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	for _, t := range timers {
		t.fired = true
	}
	c.mu.Unlock()
	for _, t := range timers {
		go t.f()
	}
}

func newTestConnection(t *testing.T, opts Options) (*Connection, *fakeDialer, *fakeClock) {
	t.Helper()
	d := &fakeDialer{}
	clock := &fakeClock{}
	opts.Dialer = d
	if opts.Name == "" {
		opts.Name = "stocks"
	}
	c := New(opts)
	c.afterFunc = clock.AfterFunc
	t.Cleanup(c.Disconnect)
	return c, d, clock
}

func waitState(t *testing.T, c *Connection, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == s }, time.Second, time.Millisecond,
		"want state %s, have %s", s, c.State())
}

func TestConnect_DeliversMessagesInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	c, d, _ := newTestConnection(t, Options{
		OnMessage: func(_ context.Context, data []byte) {
			mu.Lock()
			got = append(got, string(data))
			mu.Unlock()
		},
	})

	c.Connect(context.Background())
	waitState(t, c, Open)

	conn := d.last()
	for _, m := range []string{"a", "b", "c"} {
		conn.in <- []byte(m)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestConnect_IsIdempotent(t *testing.T) {
	c, d, _ := newTestConnection(t, Options{})

	c.Connect(context.Background())
	waitState(t, c, Open)
	c.Connect(context.Background())
	c.Connect(context.Background())

	assert.Equal(t, 1, d.dialCount())
	assert.Len(t, d.live(), 1)
}

func TestOnOpen_SendsAuthFrame(t *testing.T) {
	c, d, _ := newTestConnection(t, Options{
		Name: "broker",
		OnOpen: func(_ context.Context, c *Connection) error {
			return c.SendJSON(map[string]string{"token": "abc"})
		},
	})

	c.Connect(context.Background())
	waitState(t, c, Open)
	require.Eventually(t, func() bool { return len(d.last().sent()) == 1 }, time.Second, time.Millisecond)
	assert.JSONEq(t, `{"token":"abc"}`, d.last().sent()[0])
}

func TestServerClose_SchedulesExactlyOneReconnect(t *testing.T) {
	c, d, clock := newTestConnection(t, Options{ReconnectDelay: 5 * time.Second})

	c.Connect(context.Background())
	waitState(t, c, Open)

	d.last().Close()
	waitState(t, c, Reconnecting)

	// Connect while a reconnect is pending must not dial or schedule again.
	c.Connect(context.Background())
	assert.Equal(t, 1, clock.scheduled())
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, []time.Duration{5 * time.Second}, clock.delays)

	clock.fireAll()
	waitState(t, c, Open)
	assert.Equal(t, 2, d.dialCount())
	assert.Len(t, d.live(), 1)
}

func TestDialFailure_UsesReconnectPath(t *testing.T) {
	c, d, clock := newTestConnection(t, Options{})
	d.failNext = 1

	c.Connect(context.Background())
	waitState(t, c, Reconnecting)
	assert.Equal(t, 1, clock.pending())

	clock.fireAll()
	waitState(t, c, Open)
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, 0, clock.pending())
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	c, d, clock := newTestConnection(t, Options{})

	c.Connect(context.Background())
	waitState(t, c, Open)
	d.last().Close()
	waitState(t, c, Reconnecting)

	c.Disconnect()
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 0, clock.pending())

	// A timer that slipped past Stop must not revive the channel.
	clock.fireAll()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, d.dialCount())
}

func TestDisconnect_WhileOpenNeverReconnects(t *testing.T) {
	c, d, clock := newTestConnection(t, Options{})

	c.Connect(context.Background())
	waitState(t, c, Open)
	conn := d.last()

	c.Disconnect()
	assert.True(t, conn.isClosed())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 0, clock.scheduled())

	// Connect after disconnect starts a fresh connection.
	c.Connect(context.Background())
	waitState(t, c, Open)
	assert.Equal(t, 2, d.dialCount())
	assert.Len(t, d.live(), 1)
}

func TestConnectDisconnectSequences_KeepOneSocket(t *testing.T) {
	c, d, clock := newTestConnection(t, Options{})

	for i := 0; i < 20; i++ {
		c.Connect(context.Background())
		if i%3 == 0 {
			c.Disconnect()
		}
		if i%5 == 0 {
			if conn := d.last(); conn != nil {
				conn.Close()
			}
		}
		assert.LessOrEqual(t, clock.pending(), 1)
	}

	// Superseded dials close their socket as soon as they return.
	require.Eventually(t, func() bool { return len(d.live()) <= 1 }, time.Second, time.Millisecond)
	assert.LessOrEqual(t, clock.pending(), 1)
}

func TestSendJSON_RequiresOpen(t *testing.T) {
	c, _, _ := newTestConnection(t, Options{})
	assert.ErrorIs(t, c.SendJSON(map[string]string{"type": "subscribe"}), ErrNotOpen)
}

func TestOnStateChange_ReportsTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	c, d, _ := newTestConnection(t, Options{
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	c.Connect(context.Background())
	waitState(t, c, Open)
	d.last().Close()
	waitState(t, c, Reconnecting)
	c.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Open, Reconnecting, Idle}, states)
}

func TestContextCancel_SettlesIdle(t *testing.T) {
	c, d, clock := newTestConnection(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	c.Connect(ctx)
	waitState(t, c, Open)
	cancel()
	d.last().Close()

	waitState(t, c, Idle)
	assert.Equal(t, 0, clock.scheduled())
}

func TestOnOpenStop_SettlesIdleWithoutReconnect(t *testing.T) {
	c, d, clock := newTestConnection(t, Options{
		OnOpen: func(context.Context, *Connection) error {
			return fmt.Errorf("%w: no session token", ErrStop)
		},
	})

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return d.dialCount() == 1 && c.State() == Idle }, time.Second, time.Millisecond)
	assert.Equal(t, 0, clock.scheduled())
	assert.Empty(t, d.live())

	// A later Connect dials again.
	c.Connect(context.Background())
	require.Eventually(t, func() bool { return d.dialCount() == 2 }, time.Second, time.Millisecond)
}
