package core

import (
	"context"
	"slices"
	"time"
)

// OrderStatus mirrors the broker lifecycle of a submitted order.
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "PENDING"
	OrderStatusPartialFilled OrderStatus = "PARTIAL_FILLED"
	OrderStatusFilled        OrderStatus = "FILLED"
	OrderStatusCancelled     OrderStatus = "CANCELLED"
	OrderStatusRejected      OrderStatus = "REJECTED"
	OrderStatusExpired       OrderStatus = "EXPIRED"
)

// TradeDirection labels a completed round-trip.
type TradeDirection string

const (
	TradeLong  TradeDirection = "LONG"
	TradeShort TradeDirection = "SHORT"
)

// OrderRecord is the audit row written for every order submission,
// including rejected ones.
type OrderRecord struct {
	OrderID         string
	Ticket          int64
	Symbol          string
	Side            Side
	Volume          float64
	Price           float64
	Stop            float64
	Target          float64
	Status          OrderStatus
	RejectionReason string
	Magic           int64
	Comment         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FillRecord links an execution to its order.
type FillRecord struct {
	FillID   string
	OrderID  string
	Price    float64
	Volume   float64
	FilledAt time.Time
}

// PositionRecord snapshots a broker position through its life.
type PositionRecord struct {
	PositionID string
	Ticket     int64
	Symbol     string
	Side       Side
	Volume     float64
	Entry      float64
	Stop       float64
	Target     float64
	Magic      int64
	Comment    string
	Open       bool
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// TradeRecord is one closed leg with its realised result.
type TradeRecord struct {
	TradeID    string
	Symbol     string
	Strategy   string
	Direction  TradeDirection
	Leg        int
	Volume     float64
	Entry      float64
	Exit       float64
	PnL        float64
	ExitReason ExitReason
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// AccountSnapshot is a periodic equity observation.
type AccountSnapshot struct {
	Time       time.Time
	Balance    float64
	Equity     float64
	MarginFree float64
	Currency   string
}

// OrderRecordFilter selects order records in queries.
type OrderRecordFilter func(OrderRecord) bool

// WithStatus keeps orders in any of the given statuses.
func WithStatus(status ...OrderStatus) OrderRecordFilter {
	return func(o OrderRecord) bool {
		return slices.Contains(status, o.Status)
	}
}

// WithSymbol keeps orders for one symbol.
func WithSymbol(symbol string) OrderRecordFilter {
	return func(o OrderRecord) bool {
		return o.Symbol == symbol
	}
}

// WithUpdatedAtBeforeOrEqual keeps orders last touched at or before t.
func WithUpdatedAtBeforeOrEqual(t time.Time) OrderRecordFilter {
	return func(o OrderRecord) bool {
		return !o.UpdatedAt.After(t)
	}
}

// Repository is the audit sink the engine writes through. Persistence is
// optional for trading: write failures are logged by the caller and never
// block order flow.
type Repository interface {
	CreateOrder(ctx context.Context, o *OrderRecord) error
	UpdateOrder(ctx context.Context, o *OrderRecord) error
	Orders(ctx context.Context, filters ...OrderRecordFilter) ([]*OrderRecord, error)

	CreateFill(ctx context.Context, f *FillRecord) error

	CreatePosition(ctx context.Context, p *PositionRecord) error
	UpdatePosition(ctx context.Context, p *PositionRecord) error

	CreateTrade(ctx context.Context, t *TradeRecord) error
	Trades(ctx context.Context, symbol string) ([]*TradeRecord, error)

	CreateAccountSnapshot(ctx context.Context, s *AccountSnapshot) error
}
