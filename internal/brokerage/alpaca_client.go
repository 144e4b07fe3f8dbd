package brokerage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/domain"
	"alpaca-signal-engine/internal/logging"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// brokerRequestsPerMinute is the broker's documented request cap. The
// limiter stays slightly under it to leave headroom for the data client.
const brokerRequestsPerMinute = 200

// AlpacaClient implements Broker against the Alpaca trading API. Typed SDK
// calls cover positions and orders; account, portfolio history and
// activities go through the raw JSON client because the engine reads fields
// the SDK does not surface (crypto_tier, non-marginable buying power).
type AlpacaClient struct {
	trading *alpaca.Client
	raw     *rawClient
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var _ Broker = (*AlpacaClient)(nil)

// NewAlpacaClient builds the broker adapter.
func NewAlpacaClient(cfg config.BrokerConfig) *AlpacaClient {
	trading := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alpaca",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &AlpacaClient{
		trading: trading,
		raw:     newRawClient(cfg),
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(float64(brokerRequestsPerMinute)/60.0), 10),
		logger:  logging.Component("brokerage"),
	}
}

// call wraps one broker RPC with pacing and the circuit breaker. A broker
// 404 passes through untouched so callers can map it to (nil, nil).
func (c *AlpacaClient) call(ctx context.Context, name string, fn func() (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.breaker.Execute(fn)
	if err != nil && !isNotFound(err) {
		c.logger.Warn().Err(err).Str("rpc", name).Msg("broker call failed")
	}
	return out, err
}

// isNotFound reports whether err is a broker 404.
func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}

func (c *AlpacaClient) GetAccount(ctx context.Context) (*Account, error) {
	out, err := c.call(ctx, "get_account", func() (interface{}, error) {
		return c.raw.getAccount(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return out.(*Account), nil
}

func (c *AlpacaClient) GetPortfolioHistory(ctx context.Context, period, timeframe string) (*PortfolioHistory, error) {
	out, err := c.call(ctx, "get_portfolio_history", func() (interface{}, error) {
		return c.raw.getPortfolioHistory(ctx, period, timeframe)
	})
	if err != nil {
		return nil, fmt.Errorf("get portfolio history: %w", err)
	}
	return out.(*PortfolioHistory), nil
}

func (c *AlpacaClient) GetAllPositions(ctx context.Context) ([]Position, error) {
	out, err := c.call(ctx, "get_all_positions", func() (interface{}, error) {
		return c.trading.GetPositions()
	})
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	raw := out.([]alpaca.Position)
	positions := make([]Position, 0, len(raw))
	for i := range raw {
		positions = append(positions, fromAlpacaPosition(&raw[i]))
	}
	return positions, nil
}

func (c *AlpacaClient) GetOpenPosition(ctx context.Context, symbol string) (*Position, error) {
	out, err := c.call(ctx, "get_open_position", func() (interface{}, error) {
		return c.trading.GetPosition(symbol)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open position %s: %w", symbol, err)
	}
	p := fromAlpacaPosition(out.(*alpaca.Position))
	return &p, nil
}

func (c *AlpacaClient) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	placeReq := toAlpacaOrderRequest(req)
	out, err := c.call(ctx, "submit_order", func() (interface{}, error) {
		return c.trading.PlaceOrder(placeReq)
	})
	if err != nil {
		return nil, fmt.Errorf("submit order %s: %w", req.Symbol, err)
	}
	order := fromAlpacaOrder(out.(*alpaca.Order))
	return &order, nil
}

func (c *AlpacaClient) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	out, err := c.call(ctx, "get_order", func() (interface{}, error) {
		return c.trading.GetOrder(orderID)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	order := fromAlpacaOrder(out.(*alpaca.Order))
	return &order, nil
}

func (c *AlpacaClient) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*Order, error) {
	out, err := c.call(ctx, "get_order_by_client_id", func() (interface{}, error) {
		return c.trading.GetOrderByClientOrderID(clientOrderID)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by client id %s: %w", clientOrderID, err)
	}
	order := fromAlpacaOrder(out.(*alpaca.Order))
	return &order, nil
}

func (c *AlpacaClient) GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	req := alpaca.GetOrdersRequest{
		Status:  filter.Status,
		Symbols: filter.Symbols,
		Limit:   filter.Limit,
		Nested:  filter.Nested,
	}
	if !filter.After.IsZero() {
		req.After = filter.After
	}
	out, err := c.call(ctx, "get_orders", func() (interface{}, error) {
		return c.trading.GetOrders(req)
	})
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	raw := out.([]alpaca.Order)
	orders := make([]Order, 0, len(raw))
	for i := range raw {
		o := fromAlpacaOrder(&raw[i])
		if filter.Side != "" && o.Side != filter.Side {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (c *AlpacaClient) ReplaceOrder(ctx context.Context, orderID string, req ReplaceRequest) (*Order, error) {
	replaceReq := alpaca.ReplaceOrderRequest{}
	if req.StopPrice > 0 {
		replaceReq.StopPrice = decimalPtr(req.StopPrice)
	}
	if req.LimitPrice > 0 {
		replaceReq.LimitPrice = decimalPtr(req.LimitPrice)
	}
	out, err := c.call(ctx, "replace_order", func() (interface{}, error) {
		return c.trading.ReplaceOrder(orderID, replaceReq)
	})
	if err != nil {
		return nil, fmt.Errorf("replace order %s: %w", orderID, err)
	}
	order := fromAlpacaOrder(out.(*alpaca.Order))
	return &order, nil
}

func (c *AlpacaClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.call(ctx, "cancel_order", func() (interface{}, error) {
		return nil, c.trading.CancelOrder(orderID)
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (c *AlpacaClient) GetAccountActivities(ctx context.Context, activityType, date string) ([]Activity, error) {
	out, err := c.call(ctx, "get_account_activities", func() (interface{}, error) {
		return c.raw.getAccountActivities(ctx, activityType, date)
	})
	if err != nil {
		return nil, fmt.Errorf("get account activities: %w", err)
	}
	return out.([]Activity), nil
}

// ===== SDK TYPE MAPPING =====

func fromAlpacaPosition(p *alpaca.Position) Position {
	pos := Position{
		Symbol:        p.Symbol,
		Qty:           p.Qty.InexactFloat64(),
		AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
		Side:          string(p.Side),
	}
	if p.MarketValue != nil {
		pos.MarketValue = p.MarketValue.InexactFloat64()
	}
	return pos
}

func fromAlpacaOrder(o *alpaca.Order) Order {
	order := Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          fromAlpacaSide(o.Side),
		Type:          string(o.Type),
		Status:        o.Status,
		FilledQty:     o.FilledQty.InexactFloat64(),
		CreatedAt:     o.CreatedAt,
		FilledAt:      o.FilledAt,
	}
	if o.Qty != nil {
		order.Qty = o.Qty.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		order.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	if o.LimitPrice != nil {
		order.LimitPrice = o.LimitPrice.InexactFloat64()
	}
	if o.StopPrice != nil {
		order.StopPrice = o.StopPrice.InexactFloat64()
	}
	for i := range o.Legs {
		order.Legs = append(order.Legs, fromAlpacaOrder(&o.Legs[i]))
	}
	return order
}

func toAlpacaOrderRequest(req OrderRequest) alpaca.PlaceOrderRequest {
	qty := decimal.NewFromFloat(req.Qty).Round(req.QtyDecimals)
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          toAlpacaSide(req.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.TimeInForce(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice > 0 {
		placeReq.Type = alpaca.Limit
		placeReq.LimitPrice = decimalPtr(req.LimitPrice)
	}
	if req.Bracket {
		placeReq.OrderClass = alpaca.Bracket
		placeReq.TakeProfit = &alpaca.TakeProfit{LimitPrice: decimalPtr(req.TakeProfitLimit)}
		placeReq.StopLoss = &alpaca.StopLoss{StopPrice: decimalPtr(req.StopLossStop)}
	}
	return placeReq
}

func toAlpacaSide(s domain.Side) alpaca.Side {
	if s == domain.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func fromAlpacaSide(s alpaca.Side) domain.Side {
	if s == alpaca.Sell {
		return domain.SideSell
	}
	return domain.SideBuy
}

func decimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}
