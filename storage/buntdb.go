package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/raykavin/duotrade/core"
	"github.com/tidwall/buntdb"
)

// Key prefixes partition the single buntdb keyspace per record type.
const (
	orderPrefix    = "order:"
	fillPrefix     = "fill:"
	positionPrefix = "position:"
	tradePrefix    = "trade:"
	snapshotPrefix = "snapshot:"

	orderIndex = "orders_by_update"
	tradeIndex = "trades_by_close"
)

// BuntRepository implements core.Repository on an embedded BuntDB
// store. Records are JSON documents keyed by their business key.
type BuntRepository struct {
	snapshotSeq int64
	db          *buntdb.DB
}

// BuntConfig holds configuration options for BuntDB.
type BuntConfig struct {
	SyncPolicy buntdb.SyncPolicy
}

// DefaultBuntConfig returns the default BuntDB configuration.
func DefaultBuntConfig() BuntConfig {
	return BuntConfig{SyncPolicy: buntdb.EverySecond}
}

// NewFromMemory creates an in-memory repository, used by tests and
// dry runs.
func NewFromMemory() (*BuntRepository, error) {
	return NewBuntRepository(":memory:", BuntConfig{SyncPolicy: buntdb.Never})
}

// NewFromFile creates a file-backed repository with the default
// configuration.
func NewFromFile(file string) (*BuntRepository, error) {
	return NewBuntRepository(file, DefaultBuntConfig())
}

// NewBuntRepository opens the store and builds the iteration indexes.
// Documents marshal with Go field names, so the JSON index paths use
// the exported names.
func NewBuntRepository(sourceFile string, config BuntConfig) (*BuntRepository, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{SyncPolicy: config.SyncPolicy}); err != nil {
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}

	if err := db.CreateIndex(orderIndex, orderPrefix+"*", buntdb.IndexJSON("UpdatedAt")); err != nil {
		return nil, fmt.Errorf("failed to create order index: %w", err)
	}
	if err := db.CreateIndex(tradeIndex, tradePrefix+"*", buntdb.IndexJSON("ClosedAt")); err != nil {
		return nil, fmt.Errorf("failed to create trade index: %w", err)
	}

	return &BuntRepository{db: db}, nil
}

func (b *BuntRepository) set(key string, doc any) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		content, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		_, _, err = tx.Set(key, string(content), nil)
		return err
	})
}

// CreateOrder stores a new order document keyed by its business key.
func (b *BuntRepository) CreateOrder(_ context.Context, o *core.OrderRecord) error {
	return b.set(orderPrefix+o.OrderID, o)
}

// UpdateOrder replaces an existing order document.
func (b *BuntRepository) UpdateOrder(_ context.Context, o *core.OrderRecord) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		key := orderPrefix + o.OrderID
		if _, err := tx.Get(key); err != nil {
			return fmt.Errorf("order %s not found: %w", o.OrderID, err)
		}
		content, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		_, _, err = tx.Set(key, string(content), nil)
		return err
	})
}

// Orders returns order records matching every given filter, in
// update-time order.
func (b *BuntRepository) Orders(_ context.Context, filters ...core.OrderRecordFilter) ([]*core.OrderRecord, error) {
	orders := make([]*core.OrderRecord, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.Ascend(orderIndex, func(key, value string) bool {
			var order core.OrderRecord
			if iterErr = json.Unmarshal([]byte(value), &order); iterErr != nil {
				iterErr = fmt.Errorf("failed to unmarshal %s: %w", key, iterErr)
				return false
			}
			for _, filter := range filters {
				if !filter(order) {
					return true
				}
			}
			orders = append(orders, &order)
			return true
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	return orders, nil
}

// CreateFill stores an execution document keyed by its fill ID.
func (b *BuntRepository) CreateFill(_ context.Context, f *core.FillRecord) error {
	return b.set(fillPrefix+f.FillID, f)
}

// CreatePosition stores a position snapshot keyed by its position ID.
func (b *BuntRepository) CreatePosition(_ context.Context, p *core.PositionRecord) error {
	return b.set(positionPrefix+p.PositionID, p)
}

// UpdatePosition replaces an existing position document.
func (b *BuntRepository) UpdatePosition(_ context.Context, p *core.PositionRecord) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		key := positionPrefix + p.PositionID
		if _, err := tx.Get(key); err != nil {
			return fmt.Errorf("position %s not found: %w", p.PositionID, err)
		}
		content, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal position: %w", err)
		}
		_, _, err = tx.Set(key, string(content), nil)
		return err
	})
}

// CreateTrade stores one closed leg keyed by its trade ID.
func (b *BuntRepository) CreateTrade(_ context.Context, t *core.TradeRecord) error {
	return b.set(tradePrefix+t.TradeID, t)
}

// Trades returns the closed legs for one symbol in close-time order.
func (b *BuntRepository) Trades(_ context.Context, symbol string) ([]*core.TradeRecord, error) {
	trades := make([]*core.TradeRecord, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.Ascend(tradeIndex, func(key, value string) bool {
			var trade core.TradeRecord
			if iterErr = json.Unmarshal([]byte(value), &trade); iterErr != nil {
				iterErr = fmt.Errorf("failed to unmarshal %s: %w", key, iterErr)
				return false
			}
			if trade.Symbol == symbol {
				trades = append(trades, &trade)
			}
			return true
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}

	return trades, nil
}

// CreateAccountSnapshot appends an equity observation under a
// monotonic sequence key.
func (b *BuntRepository) CreateAccountSnapshot(_ context.Context, s *core.AccountSnapshot) error {
	seq := atomic.AddInt64(&b.snapshotSeq, 1)
	return b.set(snapshotPrefix+strconv.FormatInt(seq, 10), s)
}

// Close closes the underlying store.
func (b *BuntRepository) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
