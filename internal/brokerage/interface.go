package brokerage

import (
	"context"
)

// Broker is the capability set the engine requires of a broker. 404-class
// lookups return (nil, nil): "no such entity" is a result, not an error.
type Broker interface {
	// Account
	GetAccount(ctx context.Context) (*Account, error)
	GetPortfolioHistory(ctx context.Context, period, timeframe string) (*PortfolioHistory, error)

	// Positions
	GetAllPositions(ctx context.Context) ([]Position, error)
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error)

	// Orders
	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*Order, error)
	GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*Order, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	ReplaceOrder(ctx context.Context, orderID string, req ReplaceRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error

	// Activities
	GetAccountActivities(ctx context.Context, activityType, date string) ([]Activity, error)
}
