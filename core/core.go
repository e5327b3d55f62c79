package core

import (
	"context"
	"time"
)

// Gateway abstracts the brokerage terminal: account state, symbol
// metadata, market data, and order execution. Implementations must be
// safe for concurrent callers or wrapped by a serialising adapter.
// Every call honours its context deadline.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect() error

	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	Account(ctx context.Context) (Account, error)
	Tick(ctx context.Context, symbol string) (Tick, error)

	// Bars returns the most recent count bars in chronological order.
	Bars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error)

	// OpenMarket submits a market order with attached stop and target and
	// returns the resulting position snapshot.
	OpenMarket(ctx context.Context, req OrderRequest) (Position, error)
	ModifyStop(ctx context.Context, ticket int64, stop float64) error
	ClosePosition(ctx context.Context, ticket int64) error

	// Positions lists open positions carrying the given magic number.
	// Symbol narrows the scan when non-empty.
	Positions(ctx context.Context, symbol string, magic int64) ([]Position, error)
}

// Feeder provides historical bars outside a live gateway session, for
// backtests and data downloads.
type Feeder interface {
	BarsByPeriod(ctx context.Context, symbol string, tf Timeframe, start, end time.Time) ([]Bar, error)
	BarsByLimit(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Bar, error)
}

// Strategy turns a bar history into entry signals. Implementations are
// values; the worker owns scheduling, sizing, and order placement.
type Strategy interface {
	// Name tags orders, logs, and persisted trades.
	Name() string
	// Timeframe is the bar period the strategy runs on.
	Timeframe() Timeframe
	// WarmupPeriod is the number of bars required before the first
	// evaluation, measured in the strategy's timeframe.
	WarmupPeriod() int
	// Indicators fills the dataframe's metadata columns. Called once per
	// cycle before OnBar.
	Indicators(df *Dataframe)
	// OnBar inspects the closed bar history and returns a signal, or nil
	// when no setup exists. Must not look past the last closed bar.
	OnBar(df *Dataframe) (*Signal, error)
}

// TrailingStrategy is implemented by strategies that maintain a moving
// protective level for the runner leg while a trade is open.
type TrailingStrategy interface {
	Strategy

	// TrailStop proposes a new stop for the open trade. ok is false when
	// the strategy has no opinion this bar. The manager clamps proposals
	// so the stop only ever tightens.
	TrailStop(df *Dataframe, trade *DualTrade) (stop float64, ok bool)
}

// Verdict is an observer's answer to a proposed trade. Veto is explicit
// in the value, never signalled by error.
type Verdict struct {
	Allow  bool
	Reason string
}

// Allow builds a passing verdict.
func Allow() Verdict { return Verdict{Allow: true} }

// Veto builds a blocking verdict with its reason.
func Veto(reason string) Verdict { return Verdict{Allow: false, Reason: reason} }

// Observer receives read-only lifecycle callbacks from workers. OnSignal
// runs before sizing and may veto the entry; the remaining hooks are
// advisory only.
type Observer interface {
	Name() string
	OnSignal(signal *Signal) Verdict
	OnTradeOpened(trade *DualTrade)
	OnTradeClosed(trade *DualTrade)
}

// Notifier pushes human-readable events to an external sink.
type Notifier interface {
	Notify(text string)
	OnTrade(trade *DualTrade)
	OnError(err error)
}

// NotifierWithStart is a notifier that runs its own receive loop.
type NotifierWithStart interface {
	Notifier
	Start()
}
