// Package gateway decorates broker gateway implementations with the
// retry and deadline discipline the engine relies on. Sub-packages hold
// the synthetic gateway used by backtests and the scripted fake used by
// tests.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/logger"
)

const (
	// ReadDeadline bounds market-data and account reads.
	ReadDeadline = 5 * time.Second
	// WriteDeadline bounds order submissions and modifications.
	WriteDeadline = 10 * time.Second

	// maxAttempts bounds the retries of a transient failure within one
	// logical operation.
	maxAttempts = 3
)

// WithRetry wraps a gateway so that write operations retry transient
// failures with exponential backoff and every call carries a deadline.
// Rejections and invalid-stop errors pass through untouched on the first
// attempt; retrying them would just repeat the refusal.
func WithRetry(inner core.Gateway, log logger.Logger) core.Gateway {
	return &retryGateway{inner: inner, log: log}
}

type retryGateway struct {
	inner core.Gateway
	log   logger.Logger
}

func newBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min: 100 * time.Millisecond,
		Max: 1 * time.Second,
	}
}

// retry runs op up to maxAttempts times, sleeping the backoff between
// transient failures. A context cancellation ends the loop immediately.
// The first deadline expiry of an operation is retried as transient; a
// second expiry returns an unknown-kind error.
func (g *retryGateway) retry(ctx context.Context, name string, op func(context.Context) error) error {
	b := newBackoff()
	var err error
	deadlineSeen := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, WriteDeadline)
		err = op(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			if deadlineSeen {
				return core.NewGatewayError(core.GatewayUnknown, name, "", err)
			}
			deadlineSeen = true
			err = core.NewGatewayError(core.GatewayTransient, name, "", err)
		}
		if !core.IsTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		wait := b.Duration()
		g.log.WithField("op", name).WithError(err).
			Warnf("transient gateway failure, retrying in %s (attempt %d/%d)", wait, attempt, maxAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func (g *retryGateway) Connect(ctx context.Context) error {
	return g.inner.Connect(ctx)
}

func (g *retryGateway) Disconnect() error { return g.inner.Disconnect() }

func (g *retryGateway) SymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, ReadDeadline)
	defer cancel()
	return g.inner.SymbolInfo(ctx, symbol)
}

func (g *retryGateway) Account(ctx context.Context) (core.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, ReadDeadline)
	defer cancel()
	return g.inner.Account(ctx)
}

func (g *retryGateway) Tick(ctx context.Context, symbol string) (core.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, ReadDeadline)
	defer cancel()
	return g.inner.Tick(ctx, symbol)
}

func (g *retryGateway) Bars(ctx context.Context, symbol string, tf core.Timeframe, count int) ([]core.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, ReadDeadline)
	defer cancel()
	return g.inner.Bars(ctx, symbol, tf, count)
}

// OpenMarket is deliberately not retried: a transient failure after
// submission could mean a filled order the engine did not see, and a
// duplicate entry is worse than a missed one.
func (g *retryGateway) OpenMarket(ctx context.Context, req core.OrderRequest) (core.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, WriteDeadline)
	defer cancel()
	return g.inner.OpenMarket(ctx, req)
}

func (g *retryGateway) ModifyStop(ctx context.Context, ticket int64, stop float64) error {
	return g.retry(ctx, "modify_stop", func(ctx context.Context) error {
		return g.inner.ModifyStop(ctx, ticket, stop)
	})
}

func (g *retryGateway) ClosePosition(ctx context.Context, ticket int64) error {
	return g.retry(ctx, "close_position", func(ctx context.Context) error {
		return g.inner.ClosePosition(ctx, ticket)
	})
}

func (g *retryGateway) Positions(ctx context.Context, symbol string, magic int64) ([]core.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, ReadDeadline)
	defer cancel()
	return g.inner.Positions(ctx, symbol, magic)
}
