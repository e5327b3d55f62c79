package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/StudioSol/set"
	"github.com/raykavin/duotrade/logger"
	"github.com/raykavin/duotrade/order"
)

// shutdownGrace bounds how long flattening may take once the run
// context is cancelled.
const shutdownGrace = 15 * time.Second

// Supervisor owns the worker goroutines: one per registered symbol,
// started together, cancelled together. Registration order is
// preserved so startup logs and shutdown flattening are deterministic.
type Supervisor struct {
	mu      sync.Mutex
	symbols *set.LinkedHashSetString
	workers map[string]*Worker

	manager *order.Manager
	log     logger.Logger

	flattenOnShutdown bool
}

// NewSupervisor builds an empty supervisor. flattenOnShutdown makes
// cancellation force-close every open dual trade; otherwise positions
// stay at the broker and are adopted on the next start.
func NewSupervisor(manager *order.Manager, log logger.Logger, flattenOnShutdown bool) *Supervisor {
	return &Supervisor{
		symbols:           set.NewLinkedHashSetString(),
		workers:           make(map[string]*Worker),
		manager:           manager,
		log:               log.WithField("component", "supervisor"),
		flattenOnShutdown: flattenOnShutdown,
	}
}

// Add registers a worker. Duplicate symbols are a configuration error.
func (s *Supervisor) Add(w *Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol := w.cfg.Symbol
	if s.symbols.InArray(symbol) {
		return fmt.Errorf("symbol %s registered twice", symbol)
	}
	s.symbols.Add(symbol)
	s.workers[symbol] = w
	return nil
}

// Symbols returns the registered symbols in registration order.
func (s *Supervisor) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for symbol := range s.symbols.Iter() {
		out = append(out, symbol)
	}
	return out
}

// Run starts every worker and blocks until the context is cancelled and
// all workers have exited. With flattening enabled, open trades are
// force-closed under a fresh deadline before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	symbols := make([]string, 0, s.symbols.Length())
	for symbol := range s.symbols.Iter() {
		symbols = append(symbols, symbol)
	}
	s.mu.Unlock()

	if len(symbols) == 0 {
		return fmt.Errorf("no symbols registered")
	}

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		w := s.workers[symbol]
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
		s.log.WithField("symbol", symbol).Info("worker started")
	}

	<-ctx.Done()
	wg.Wait()

	if s.flattenOnShutdown {
		s.flatten(symbols)
	} else {
		s.reportOpen(symbols)
	}
	return nil
}

// flatten closes whatever is still open. The run context is already
// dead, so the close calls run under their own deadline.
func (s *Supervisor) flatten(symbols []string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	for _, symbol := range symbols {
		if s.manager.Trade(symbol) == nil {
			continue
		}
		if err := s.manager.ForceClose(ctx, symbol); err != nil {
			s.log.WithError(err).WithField("symbol", symbol).Error("shutdown flatten failed")
			continue
		}
		s.log.WithField("symbol", symbol).Info("flattened on shutdown")
	}
}

// reportOpen logs the trades deliberately left at the broker so the
// operator knows what the next session will adopt.
func (s *Supervisor) reportOpen(symbols []string) {
	for _, symbol := range symbols {
		if trade := s.manager.Trade(symbol); trade != nil {
			s.log.WithField("symbol", symbol).Infof("leaving open trade at broker: %s", trade)
		}
	}
}
