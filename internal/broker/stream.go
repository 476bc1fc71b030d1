package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"marketvalues/internal/channel"
	"marketvalues/internal/fanout"
	"marketvalues/internal/interfaces"
	"marketvalues/internal/logger"
	"marketvalues/internal/types"
)

// OrdersFetcher is notified when the broker reports an order change.
type OrdersFetcher interface {
	FetchOrders(ctx context.Context) error
}

type subscribeMessage struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

// Stream handles the broker channel: it authenticates on open, fans out
// market data and refreshes orders on order updates.
type Stream struct {
	tokens     interfaces.TokenSource
	orders     OrdersFetcher
	marketData *fanout.Dispatcher[json.RawMessage]

	mu        sync.Mutex
	conn      *channel.Connection
	connected bool
}

func NewStream(tokens interfaces.TokenSource, orders OrdersFetcher, marketData *fanout.Dispatcher[json.RawMessage]) *Stream {
	return &Stream{tokens: tokens, orders: orders, marketData: marketData}
}

// Bind attaches the connection the stream drives.
func (s *Stream) Bind(c *channel.Connection) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *Stream) connection() *channel.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Connect opens the bound channel. Without a session token nothing is dialed
// and false is returned.
func (s *Stream) Connect(ctx context.Context) bool {
	c := s.connection()
	if c == nil {
		return false
	}
	if _, err := s.tokens.Token(ctx); err != nil {
		logger.Info(ctx, "Skipping broker channel, no session token", "error", err)
		return false
	}
	c.Connect(ctx)
	return true
}

func (s *Stream) Disconnect() {
	if c := s.connection(); c != nil {
		c.Disconnect()
	}
}

// OnOpen sends the session token as the first frame. Once the token is gone
// the channel stops instead of redialing.
func (s *Stream) OnOpen(ctx context.Context, c *channel.Connection) error {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: broker channel token: %v", channel.ErrStop, err)
	}
	return c.SendJSON(map[string]string{"token": tok})
}

func (s *Stream) HandleMessage(ctx context.Context, data []byte) {
	var ev types.BrokerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Warn(ctx, "Dropping broker channel message", "error", err, "bytes", len(data))
		return
	}
	switch ev.Type {
	case types.EventConnected:
		s.setConnected(true)
		logger.Info(ctx, "Broker stream connected", "message", ev.Message)
	case types.EventMarketData:
		if s.marketData != nil {
			s.marketData.Publish(ctx, ev.Data)
		}
	case types.EventOrderUpdate:
		if s.orders != nil {
			go func() {
				_ = s.orders.FetchOrders(context.WithoutCancel(ctx))
			}()
		}
	case types.EventError:
		logger.Warn(ctx, "Broker stream error", "message", ev.Message)
	default:
		logger.Debug(ctx, "Ignoring broker channel message", "type", ev.Type)
	}
}

// HandleState clears the stream flag whenever the socket is not open. The
// flag is only set again by the server's connected message.
func (s *Stream) HandleState(st channel.State) {
	if st != channel.Open {
		s.setConnected(false)
	}
}

func (s *Stream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Subscribe asks the broker channel for market data on instruments.
func (s *Stream) Subscribe(instruments []string) error {
	c := s.connection()
	if c == nil {
		return channel.ErrNotOpen
	}
	return c.SendJSON(subscribeMessage{Type: "subscribe", Instruments: instruments})
}
