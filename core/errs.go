package core

import (
	"errors"
	"fmt"
)

var (
	ErrSymbolEmpty         = errors.New("empty symbol name")
	ErrInvalidPoint        = errors.New("invalid point or tick size")
	ErrInvalidVolumeBounds = errors.New("invalid volume bounds")
	ErrInvalidContractSize = errors.New("invalid contract size")

	// ErrDataStale marks a cycle whose newest bar is older than the
	// timeframe allows. The worker skips the cycle and keeps running.
	ErrDataStale = errors.New("bar data is stale")

	// ErrTradeOpen rejects a second entry while a dual trade still has a
	// live leg on the symbol.
	ErrTradeOpen = errors.New("dual trade already open for symbol")
)

// GatewayErrKind classifies a gateway failure so callers can branch on
// the class instead of matching broker message strings.
type GatewayErrKind string

const (
	GatewayNotConnected       GatewayErrKind = "NOT_CONNECTED"
	GatewayInvalidVolume      GatewayErrKind = "INVALID_VOLUME"
	GatewayInsufficientMargin GatewayErrKind = "INSUFFICIENT_MARGIN"
	GatewayInvalidStops       GatewayErrKind = "INVALID_STOPS"
	GatewayRejected           GatewayErrKind = "REJECTED"
	GatewayTransient          GatewayErrKind = "TRANSIENT"
	GatewayUnknown            GatewayErrKind = "UNKNOWN"
)

// GatewayError wraps a broker failure with its classification and the
// operation that produced it.
type GatewayError struct {
	Kind   GatewayErrKind
	Op     string
	Symbol string
	Err    error
}

// NewGatewayError builds a classified gateway error.
func NewGatewayError(kind GatewayErrKind, op, symbol string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, Symbol: symbol, Err: err}
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s %s: %s", e.Op, e.Symbol, e.Kind)
	}
	return fmt.Sprintf("gateway %s %s: %s: %v", e.Op, e.Symbol, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may clear on its own.
func (e *GatewayError) Retryable() bool { return e.Kind == GatewayTransient }

// GatewayKindOf extracts the classification from an error chain.
// Non-gateway errors report GatewayUnknown.
func GatewayKindOf(err error) GatewayErrKind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return GatewayUnknown
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.Retryable()
}

// IsRejection reports whether the broker refused the request outright.
// Rejections are surfaced without retry and drop the pending signal.
func IsRejection(err error) bool {
	switch GatewayKindOf(err) {
	case GatewayRejected, GatewayInvalidStops, GatewayInvalidVolume, GatewayInsufficientMargin:
		return true
	}
	return false
}

// SizingError rejects a signal whose stop distance cannot be funded at
// the broker's volume constraints.
type SizingError struct {
	Symbol string
	Reason string
	Lot    float64
	Risk   float64
}

// SizingReasonBalanceTooSmall marks accounts too small to fund even the
// minimum lot inside the risk budget.
const SizingReasonBalanceTooSmall = "BalanceTooSmall"

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing %s: %s (lot=%.2f risk=%.2f)", e.Symbol, e.Reason, e.Lot, e.Risk)
}

// InvariantError reports a state the engine must never reach, such as a
// dual trade observed with mismatched stops across legs. The worker
// force-closes the trade and halts the symbol.
type InvariantError struct {
	Symbol string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated on %s: %s", e.Symbol, e.Detail)
}

// ConfigError is a startup-fatal configuration problem.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Detail)
}
