package brokerage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"alpaca-signal-engine/config"

	"github.com/go-resty/resty/v2"
)

// rawClient reads the broker endpoints whose payloads the typed SDK does
// not fully surface: the account document (crypto_tier, non-marginable
// buying power), portfolio history, and account activities.
type rawClient struct {
	http *resty.Client
}

func newRawClient(cfg config.BrokerConfig) *rawClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.APISecret).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &rawClient{http: client}
}

// accountDoc mirrors the /v2/account JSON. Numeric fields arrive as
// strings.
type accountDoc struct {
	Equity                   string `json:"equity"`
	LastEquity               string `json:"last_equity"`
	Cash                     string `json:"cash"`
	RegTBuyingPower          string `json:"regt_buying_power"`
	NonMarginableBuyingPower string `json:"non_marginable_buying_power"`
	DaytradingBuyingPower    string `json:"daytrading_buying_power"`
	Status                   string `json:"status"`
	Currency                 string `json:"currency"`
	PatternDayTrader         bool   `json:"pattern_day_trader"`
	DaytradeCount            int64  `json:"daytrade_count"`
	Multiplier               string `json:"multiplier"`
	SMA                      string `json:"sma"`
	CryptoTier               int    `json:"crypto_tier"`
}

func (c *rawClient) getAccount(ctx context.Context) (*Account, error) {
	var doc accountDoc
	resp, err := c.http.R().SetContext(ctx).SetResult(&doc).Get("/v2/account")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("account request returned %d", resp.StatusCode())
	}
	return &Account{
		Equity:                   parseFloat(doc.Equity),
		LastEquity:               parseFloat(doc.LastEquity),
		Cash:                     parseFloat(doc.Cash),
		RegTBuyingPower:          parseFloat(doc.RegTBuyingPower),
		NonMarginableBuyingPower: parseFloat(doc.NonMarginableBuyingPower),
		DaytradingBuyingPower:    parseFloat(doc.DaytradingBuyingPower),
		Status:                   doc.Status,
		Currency:                 doc.Currency,
		PatternDayTrader:         doc.PatternDayTrader,
		DaytradeCount:            doc.DaytradeCount,
		Multiplier:               parseFloat(doc.Multiplier),
		SMA:                      parseFloat(doc.SMA),
		CryptoTier:               doc.CryptoTier,
	}, nil
}

type portfolioHistoryDoc struct {
	Equity    []float64 `json:"equity"`
	Timestamp []int64   `json:"timestamp"`
}

func (c *rawClient) getPortfolioHistory(ctx context.Context, period, timeframe string) (*PortfolioHistory, error) {
	var doc portfolioHistoryDoc
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("period", period).
		SetQueryParam("timeframe", timeframe).
		SetResult(&doc).
		Get("/v2/account/portfolio/history")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("portfolio history request returned %d", resp.StatusCode())
	}
	return &PortfolioHistory{Equity: doc.Equity, Timestamp: doc.Timestamp}, nil
}

type activityDoc struct {
	ID              string `json:"id"`
	ActivityType    string `json:"activity_type"`
	Symbol          string `json:"symbol"`
	TransactionTime string `json:"transaction_time"`
	OrderID         string `json:"order_id"`
	Qty             string `json:"qty"`
	Price           string `json:"price"`
	Side            string `json:"side"`
	NetAmount       string `json:"net_amount"`
	Date            string `json:"date"`
}

// getAccountActivities lists activities of one type on one date. An empty
// result is the zero-fee fallback, never an error.
func (c *rawClient) getAccountActivities(ctx context.Context, activityType, date string) ([]Activity, error) {
	var docs []activityDoc
	req := c.http.R().SetContext(ctx).SetResult(&docs)
	if date != "" {
		req.SetQueryParam("date", date)
	}
	resp, err := req.Get("/v2/account/activities/" + activityType)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("activities request returned %d", resp.StatusCode())
	}

	activities := make([]Activity, 0, len(docs))
	for _, d := range docs {
		a := Activity{
			ID:           d.ID,
			ActivityType: d.ActivityType,
			Symbol:       d.Symbol,
			OrderID:      d.OrderID,
			Qty:          parseFloat(d.Qty),
			Price:        parseFloat(d.Price),
			Side:         d.Side,
			NetAmount:    parseFloat(d.NetAmount),
			Date:         d.Date,
		}
		if d.TransactionTime != "" {
			if ts, err := time.Parse(time.RFC3339, d.TransactionTime); err == nil {
				a.TransactionTime = ts
			}
		}
		activities = append(activities, a)
	}
	return activities, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
