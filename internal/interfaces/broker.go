package interfaces

import (
	"context"

	"marketvalues/internal/types"
)

// BrokerAPI is the broker account surface proxied through the dashboard
// backend (or reached directly through a broker SDK).
type BrokerAPI interface {
	AuthURL(ctx context.Context) (string, error)
	Status(ctx context.Context) (types.LinkStatus, error)
	Unlink(ctx context.Context) error

	Profile(ctx context.Context) (types.Profile, error)
	Funds(ctx context.Context) (types.Funds, error)
	Holdings(ctx context.Context) ([]types.Holding, error)
	Positions(ctx context.Context) ([]types.Position, error)
	Orders(ctx context.Context) ([]types.Order, error)
	Trades(ctx context.Context) ([]types.Trade, error)

	// Mutations are a single round-trip and are never retried.
	PlaceOrder(ctx context.Context, draft types.OrderDraft) (types.OrderResult, error)
	ModifyOrder(ctx context.Context, orderID string, patch types.OrderPatch) (types.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (types.OrderResult, error)
}

// OrderSession is the part of the broker session an order attempt needs.
type OrderSession interface {
	PlaceOrder(ctx context.Context, draft types.OrderDraft) (types.OrderResult, error)
	RefreshAfterOrder(ctx context.Context)
}
