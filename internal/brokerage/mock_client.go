package brokerage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"alpaca-signal-engine/internal/domain"
)

// MockBroker is an in-memory Broker for tests and DEV runs. Orders fill
// immediately at their configured fill price; positions track net quantity
// per symbol. Submissions with a known client order id echo the first
// order, matching the broker's idempotency contract.
type MockBroker struct {
	mu sync.Mutex

	Account_          Account
	PortfolioHistory_ PortfolioHistory
	Positions         map[string]*Position
	Orders            map[string]*Order
	ordersByClientID  map[string]*Order
	Activities        []Activity

	// FillPrice is used for every fill when > 0; otherwise the order's
	// limit price or 100.
	FillPrice float64
	// FailSubmit forces SubmitOrder errors.
	FailSubmit bool
	// HoldFills leaves submitted orders in "new" instead of filling.
	HoldFills bool

	SubmittedOrders []OrderRequest
	CanceledOrders  []string
	ReplacedOrders  map[string]ReplaceRequest
}

var _ Broker = (*MockBroker)(nil)

// NewMockBroker returns a mock with a funded account.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		Account_: Account{
			Equity:                   100000,
			LastEquity:               100000,
			Cash:                     100000,
			RegTBuyingPower:          200000,
			NonMarginableBuyingPower: 100000,
			Status:                   "ACTIVE",
			Currency:                 "USD",
			Multiplier:               2,
		},
		Positions:        make(map[string]*Position),
		Orders:           make(map[string]*Order),
		ordersByClientID: make(map[string]*Order),
		ReplacedOrders:   make(map[string]ReplaceRequest),
	}
}

func (m *MockBroker) GetAccount(ctx context.Context) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.Account_
	return &acct, nil
}

func (m *MockBroker) GetPortfolioHistory(ctx context.Context, period, timeframe string) (*PortfolioHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.PortfolioHistory_
	return &hist, nil
}

func (m *MockBroker) GetAllPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.Positions))
	for _, p := range m.Positions {
		out = append(out, *p)
	}
	return out, nil
}

func (m *MockBroker) GetOpenPosition(ctx context.Context, symbol string) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Positions[symbol]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *MockBroker) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSubmit {
		return nil, fmt.Errorf("mock broker: submit failure")
	}
	if existing, ok := m.ordersByClientID[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		cp := *existing
		return &cp, nil
	}

	m.SubmittedOrders = append(m.SubmittedOrders, req)

	order := &Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          "market",
		Status:        OrderStatusNew,
		Qty:           req.Qty,
		CreatedAt:     time.Now().UTC(),
	}

	if req.Bracket {
		order.Legs = []Order{
			{ID: uuid.NewString(), Symbol: req.Symbol, Type: "limit", Status: OrderStatusNew, LimitPrice: req.TakeProfitLimit},
			{ID: uuid.NewString(), Symbol: req.Symbol, Type: "stop", Status: OrderStatusNew, StopPrice: req.StopLossStop},
		}
		for i := range order.Legs {
			leg := order.Legs[i]
			m.Orders[leg.ID] = &leg
		}
	}

	if !m.HoldFills {
		m.fill(order)
	}

	m.Orders[order.ID] = order
	if req.ClientOrderID != "" {
		m.ordersByClientID[req.ClientOrderID] = order
	}
	cp := *order
	return &cp, nil
}

func (m *MockBroker) fill(order *Order) {
	price := m.FillPrice
	if price <= 0 {
		price = order.LimitPrice
	}
	if price <= 0 {
		price = 100
	}
	now := time.Now().UTC()
	order.Status = OrderStatusFilled
	order.FilledQty = order.Qty
	order.FilledAvgPrice = price
	order.FilledAt = &now

	pos := m.Positions[order.Symbol]
	signed := order.Qty
	if order.Side == domain.SideSell {
		signed = -order.Qty
	}
	if pos == nil {
		if signed > 0 {
			m.Positions[order.Symbol] = &Position{Symbol: order.Symbol, Qty: signed, AvgEntryPrice: price, Side: "long"}
		}
		return
	}
	pos.Qty += signed
	if pos.Qty <= 1e-12 {
		delete(m.Positions, order.Symbol)
	}
}

func (m *MockBroker) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.Orders[orderID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (m *MockBroker) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.ordersByClientID[clientOrderID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (m *MockBroker) GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.Orders {
		if len(filter.Symbols) > 0 && !containsSymbol(filter.Symbols, o.Symbol) {
			continue
		}
		if filter.Side != "" && o.Side != filter.Side {
			continue
		}
		if filter.Status == "closed" && !o.Filled() && o.Status != OrderStatusCanceled {
			continue
		}
		if !filter.After.IsZero() && o.CreatedAt.Before(filter.After) {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *MockBroker) ReplaceOrder(ctx context.Context, orderID string, req ReplaceRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.Orders[orderID]
	if !ok {
		return nil, fmt.Errorf("mock broker: order %s not found", orderID)
	}
	m.ReplacedOrders[orderID] = req

	replacement := *old
	replacement.ID = uuid.NewString()
	if req.StopPrice > 0 {
		replacement.StopPrice = req.StopPrice
	}
	if req.LimitPrice > 0 {
		replacement.LimitPrice = req.LimitPrice
	}
	old.Status = "replaced"
	m.Orders[replacement.ID] = &replacement
	cp := replacement
	return &cp, nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CanceledOrders = append(m.CanceledOrders, orderID)
	if o, ok := m.Orders[orderID]; ok {
		o.Status = OrderStatusCanceled
	}
	return nil
}

func (m *MockBroker) GetAccountActivities(ctx context.Context, activityType, date string) ([]Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Activity
	for _, a := range m.Activities {
		if activityType != "" && a.ActivityType != activityType {
			continue
		}
		if date != "" && a.Date != date {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// FillHeldOrder fills a previously held order at the current FillPrice,
// simulating a fill that only became visible after submit.
func (m *MockBroker) FillHeldOrder(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.Orders[orderID]; ok && !o.Filled() {
		m.fill(o)
	}
}

// RemovePosition drops a broker position, simulating a manual close.
func (m *MockBroker) RemovePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Positions, symbol)
}

// AddOrder seeds a historical order.
func (m *MockBroker) AddOrder(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := o
	m.Orders[o.ID] = &cp
	if o.ClientOrderID != "" {
		m.ordersByClientID[o.ClientOrderID] = &cp
	}
}

func containsSymbol(symbols []string, s string) bool {
	for _, sym := range symbols {
		if sym == s {
			return true
		}
	}
	return false
}
