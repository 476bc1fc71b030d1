package brokerobs

import (
	"context"

	"marketvalues/internal/interfaces"
	"marketvalues/internal/logger"
	"marketvalues/internal/trace"
	"marketvalues/internal/types"
)

// observableBroker wraps a BrokerAPI with observability (logging & tracing)
type observableBroker struct {
	broker interfaces.BrokerAPI
}

// Compile-time interface check
var _ interfaces.BrokerAPI = (*observableBroker)(nil)

// Wrap wraps a broker backend with observability middleware
func Wrap(broker interfaces.BrokerAPI) interfaces.BrokerAPI {
	return &observableBroker{
		broker: broker,
	}
}

// read traces one account read. Frames: read -> method -> caller.
func read[T any](ctx context.Context, name string, call func(context.Context) (T, error), size func(T) int) (T, error) {
	ctx, span := trace.StartSpan(ctx, "broker."+name)
	defer span.End()

	logger.DebugSkip(ctx, 2, "Fetching broker data", "resource", name)

	v, err := call(ctx)
	if err != nil {
		logger.WarnSkip(ctx, 2, "Broker fetch failed", "resource", name, "error", err)
		return v, err
	}

	if size != nil {
		logger.DebugSkip(ctx, 2, "Broker data fetched", "resource", name, "count", size(v))
	} else {
		logger.DebugSkip(ctx, 2, "Broker data fetched", "resource", name)
	}
	return v, nil
}

func (ob *observableBroker) AuthURL(ctx context.Context) (string, error) {
	return read(ctx, "AuthURL", ob.broker.AuthURL, nil)
}

func (ob *observableBroker) Status(ctx context.Context) (types.LinkStatus, error) {
	return read(ctx, "Status", ob.broker.Status, nil)
}

// Unlink removes the broker link with observability
func (ob *observableBroker) Unlink(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "broker.Unlink")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Unlinking broker account")
	if err := ob.broker.Unlink(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to unlink broker account", err)
		return err
	}
	logger.InfoSkip(ctx, 1, "Broker account unlinked")
	return nil
}

func (ob *observableBroker) Profile(ctx context.Context) (types.Profile, error) {
	return read(ctx, "Profile", ob.broker.Profile, nil)
}

func (ob *observableBroker) Funds(ctx context.Context) (types.Funds, error) {
	return read(ctx, "Funds", ob.broker.Funds, nil)
}

func (ob *observableBroker) Holdings(ctx context.Context) ([]types.Holding, error) {
	return read(ctx, "Holdings", ob.broker.Holdings, func(v []types.Holding) int { return len(v) })
}

func (ob *observableBroker) Positions(ctx context.Context) ([]types.Position, error) {
	return read(ctx, "Positions", ob.broker.Positions, func(v []types.Position) int { return len(v) })
}

func (ob *observableBroker) Orders(ctx context.Context) ([]types.Order, error) {
	return read(ctx, "Orders", ob.broker.Orders, func(v []types.Order) int { return len(v) })
}

func (ob *observableBroker) Trades(ctx context.Context) ([]types.Trade, error) {
	return read(ctx, "Trades", ob.broker.Trades, func(v []types.Trade) int { return len(v) })
}

// PlaceOrder places an order with observability
func (ob *observableBroker) PlaceOrder(ctx context.Context, draft types.OrderDraft) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", draft.Symbol,
		"side", draft.TransactionType,
		"type", draft.OrderType,
		"product", draft.Product,
		"qty", draft.Qty,
	)

	res, err := ob.broker.PlaceOrder(ctx, draft)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", draft.Symbol,
			"side", draft.TransactionType,
			"qty", draft.Qty,
		)
		return res, err
	}

	logResult(ctx, "Order placed", "Order refused", res, "symbol", draft.Symbol, "order_id", res.OrderID)
	return res, nil
}

func (ob *observableBroker) ModifyOrder(ctx context.Context, orderID string, patch types.OrderPatch) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "broker.ModifyOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Modifying order", "order_id", orderID)
	res, err := ob.broker.ModifyOrder(ctx, orderID, patch)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to modify order", err, "order_id", orderID)
		return res, err
	}
	logResult(ctx, "Order modified", "Modify refused", res, "order_id", orderID)
	return res, nil
}

func (ob *observableBroker) CancelOrder(ctx context.Context, orderID string) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", orderID)
	res, err := ob.broker.CancelOrder(ctx, orderID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", orderID)
		return res, err
	}
	logResult(ctx, "Order cancelled", "Cancel refused", res, "order_id", orderID)
	return res, nil
}

func logResult(ctx context.Context, okMsg, refusedMsg string, res types.OrderResult, fields ...any) {
	fields = append(fields, "status", res.Status)
	if res.OK() {
		logger.InfoSkip(ctx, 2, okMsg, fields...)
		return
	}
	logger.WarnSkip(ctx, 2, refusedMsg, append(fields, "message", res.Message)...)
}
