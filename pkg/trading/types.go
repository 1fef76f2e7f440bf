package trading

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInput indicates trading data that is missing its identifier.
var ErrInvalidInput = errors.New("invalid trading data")

// Quote is the latest market data for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Volume    float64   `json:"volume"`
	Change24h float64   `json:"change24h,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the symbol.
func (q Quote) Validate() error {
	if strings.TrimSpace(q.Symbol) == "" {
		return fmt.Errorf("%w: quote symbol is required", ErrInvalidInput)
	}
	return nil
}

// BookLevel is one price level of an order book.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a depth snapshot for a symbol.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Sequence  int64       `json:"sequence"`
	Timestamp time.Time   `json:"timestamp"`
}

// Validate checks the symbol.
func (b OrderBook) Validate() error {
	if strings.TrimSpace(b.Symbol) == "" {
		return fmt.Errorf("%w: order book symbol is required", ErrInvalidInput)
	}
	return nil
}

// Spread returns best ask minus best bid, or 0 if a side is empty.
func (b OrderBook) Spread() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price - b.Bids[0].Price
}

// Session is an authenticated trading session.
type Session struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	StartedAt time.Time         `json:"startedAt"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks the identifiers.
func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: session id and user id are required", ErrInvalidInput)
	}
	return nil
}

// Position is a holding within a portfolio.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avgPrice"`
	MarketValue   float64 `json:"marketValue"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

// Portfolio is a user's cash and positions.
type Portfolio struct {
	UserID     string     `json:"userId"`
	Cash       float64    `json:"cash"`
	Positions  []Position `json:"positions"`
	TotalValue float64    `json:"totalValue"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Validate checks the user id.
func (p Portfolio) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: portfolio user id is required", ErrInvalidInput)
	}
	return nil
}

// Metric is a derived indicator such as a moving average or volatility.
type Metric struct {
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	Window     string    `json:"window,omitempty"`
	ComputedAt time.Time `json:"computedAt"`
}

// Key returns the cache key "<symbol>:<name>".
func (m Metric) Key() string {
	return MetricKey(m.Symbol, m.Name)
}

// MetricKey builds the cache key of a derived metric.
func MetricKey(symbol, name string) string {
	return symbol + ":" + name
}

// Validate checks the identifiers.
func (m Metric) Validate() error {
	if strings.TrimSpace(m.Symbol) == "" || strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: metric symbol and name are required", ErrInvalidInput)
	}
	return nil
}
