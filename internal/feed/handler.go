package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketvalues/internal/channel"
	"marketvalues/internal/fanout"
	"marketvalues/internal/logger"
	"marketvalues/internal/types"
)

const (
	MessagePrices = "prices"
	MessageAlert  = "alert"
)

var ErrUnknownMessage = errors.New("feed: unknown message type")

// PriceMessage is one decoded frame of the price channel.
type PriceMessage struct {
	Type   string
	Quotes []types.Quote
	Alert  types.Alert
}

// DecodePriceMessage accepts {type:"prices",data:[...]}, {type:"alert",data:{...}}
// and the legacy bare quote array.
func DecodePriceMessage(data []byte) (PriceMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var quotes []types.Quote
		if err := json.Unmarshal(trimmed, &quotes); err != nil {
			return PriceMessage{}, fmt.Errorf("decode legacy snapshot: %w", err)
		}
		return PriceMessage{Type: MessagePrices, Quotes: quotes}, nil
	}

	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return PriceMessage{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case MessagePrices, MessageAlert:
		if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
			return PriceMessage{}, fmt.Errorf("%s message without data", env.Type)
		}
	default:
		return PriceMessage{}, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}

	if env.Type == MessageAlert {
		var a types.Alert
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return PriceMessage{}, fmt.Errorf("decode alert: %w", err)
		}
		return PriceMessage{Type: MessageAlert, Alert: a}, nil
	}

	var quotes []types.Quote
	if err := json.Unmarshal(env.Data, &quotes); err != nil {
		return PriceMessage{}, fmt.Errorf("decode prices: %w", err)
	}
	return PriceMessage{Type: MessagePrices, Quotes: quotes}, nil
}

// PriceHandler is the price channel's message and state sink. It is the
// only writer of the feed Store's quotes.
type PriceHandler struct {
	store  *Store
	alerts *fanout.Dispatcher[types.Alert]
}

func NewPriceHandler(store *Store, alerts *fanout.Dispatcher[types.Alert]) *PriceHandler {
	return &PriceHandler{store: store, alerts: alerts}
}

// HandleMessage applies one frame. Malformed frames are logged and dropped.
func (h *PriceHandler) HandleMessage(ctx context.Context, data []byte) {
	msg, err := DecodePriceMessage(data)
	if err != nil {
		logger.Warn(ctx, "Dropping price channel message", "error", err, "bytes", len(data))
		return
	}
	switch msg.Type {
	case MessagePrices:
		h.store.ApplySnapshot(msg.Quotes)
		logger.Debug(ctx, "Applied price snapshot", "quotes", len(msg.Quotes))
	case MessageAlert:
		if h.alerts != nil {
			h.alerts.Publish(ctx, msg.Alert)
		}
	}
}

func (h *PriceHandler) HandleState(s channel.State) {
	h.store.SetConnected(s == channel.Open)
}
