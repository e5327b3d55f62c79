// Package storage provides the audit repositories the order manager
// writes through: a gorm/sqlite implementation for relational audit
// and reporting, and an embedded buntdb implementation for setups
// without a SQL database.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Prices and volumes carry 8 fractional digits. Timestamps are
// stored in UTC.
const moneyPlaces = 8

// SQLRepository implements core.Repository on a SQL database via GORM.
type SQLRepository struct {
	db *gorm.DB
}

// Config holds the connection pool settings for SQL repositories.
type Config struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:    5,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// orderModel is the orders table row. OrderID is the unique business
// key; the integer primary key stays internal.
type orderModel struct {
	ID              uint   `gorm:"primaryKey"`
	OrderID         string `gorm:"size:64;uniqueIndex"`
	Ticket          int64
	Symbol          string          `gorm:"size:32;index"`
	Side            string          `gorm:"size:8"`
	Volume          decimal.Decimal `gorm:"type:decimal(18,8)"`
	Price           decimal.Decimal `gorm:"type:decimal(18,8)"`
	Stop            decimal.Decimal `gorm:"type:decimal(18,8)"`
	Target          decimal.Decimal `gorm:"type:decimal(18,8)"`
	Status          string          `gorm:"size:16;index"`
	RejectionReason string
	Magic           int64
	Comment         string
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
}

func (orderModel) TableName() string { return "orders" }

// fillModel links an execution to its order. The Order association
// gives AutoMigrate the cascading foreign key on order_id.
type fillModel struct {
	ID       uint   `gorm:"primaryKey"`
	FillID   string `gorm:"size:64;uniqueIndex"`
	OrderID  string `gorm:"size:64;index"`
	Price    decimal.Decimal `gorm:"type:decimal(18,8)"`
	Volume   decimal.Decimal `gorm:"type:decimal(18,8)"`
	FilledAt time.Time       `gorm:"index"`

	Order orderModel `gorm:"foreignKey:OrderID;references:OrderID;constraint:OnDelete:CASCADE"`
}

func (fillModel) TableName() string { return "fills" }

type positionModel struct {
	ID         uint   `gorm:"primaryKey"`
	PositionID string `gorm:"size:64;uniqueIndex"`
	Ticket     int64
	Symbol     string          `gorm:"size:32;index"`
	Side       string          `gorm:"size:8"`
	Volume     decimal.Decimal `gorm:"type:decimal(18,8)"`
	Entry      decimal.Decimal `gorm:"type:decimal(18,8)"`
	Stop       decimal.Decimal `gorm:"type:decimal(18,8)"`
	Target     decimal.Decimal `gorm:"type:decimal(18,8)"`
	Magic      int64
	Comment    string
	Open       bool
	OpenedAt   time.Time `gorm:"index"`
	ClosedAt   time.Time
}

func (positionModel) TableName() string { return "positions" }

type tradeModel struct {
	ID         uint   `gorm:"primaryKey"`
	TradeID    string `gorm:"size:64;uniqueIndex"`
	Symbol     string `gorm:"size:32;index"`
	Strategy   string `gorm:"size:32"`
	Direction  string `gorm:"size:8"`
	Leg        int
	Volume     decimal.Decimal `gorm:"type:decimal(18,8)"`
	Entry      decimal.Decimal `gorm:"type:decimal(18,8)"`
	Exit       decimal.Decimal `gorm:"type:decimal(18,8)"`
	PnL        decimal.Decimal `gorm:"column:pnl;type:decimal(18,8)"`
	ExitReason string          `gorm:"size:16"`
	OpenedAt   time.Time       `gorm:"index"`
	ClosedAt   time.Time       `gorm:"index"`
}

func (tradeModel) TableName() string { return "trades" }

type accountModel struct {
	ID         uint            `gorm:"primaryKey"`
	Time       time.Time       `gorm:"index"`
	Balance    decimal.Decimal `gorm:"type:decimal(18,8)"`
	Equity     decimal.Decimal `gorm:"type:decimal(18,8)"`
	MarginFree decimal.Decimal `gorm:"type:decimal(18,8)"`
	Currency   string          `gorm:"size:8"`
}

func (accountModel) TableName() string { return "account_history" }

// NewFromSQLite opens (or creates) a SQLite database at dbPath and
// migrates the five audit tables.
func NewFromSQLite(dbPath string, config Config, opts ...gorm.Option) (*SQLRepository, error) {
	return newFromSQL(sqlite.Open(dbPath), config, opts...)
}

func newFromSQL(dialect gorm.Dialector, config Config, opts ...gorm.Option) (*SQLRepository, error) {
	db, err := gorm.Open(dialect, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err = db.AutoMigrate(
		&orderModel{},
		&fillModel{},
		&positionModel{},
		&tradeModel{},
		&accountModel{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLRepository{db: db}, nil
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(moneyPlaces)
}

func toOrderModel(o *core.OrderRecord) orderModel {
	return orderModel{
		OrderID:         o.OrderID,
		Ticket:          o.Ticket,
		Symbol:          o.Symbol,
		Side:            string(o.Side),
		Volume:          money(o.Volume),
		Price:           money(o.Price),
		Stop:            money(o.Stop),
		Target:          money(o.Target),
		Status:          string(o.Status),
		RejectionReason: o.RejectionReason,
		Magic:           o.Magic,
		Comment:         o.Comment,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
}

func fromOrderModel(m *orderModel) *core.OrderRecord {
	return &core.OrderRecord{
		OrderID:         m.OrderID,
		Ticket:          m.Ticket,
		Symbol:          m.Symbol,
		Side:            core.Side(m.Side),
		Volume:          m.Volume.InexactFloat64(),
		Price:           m.Price.InexactFloat64(),
		Stop:            m.Stop.InexactFloat64(),
		Target:          m.Target.InexactFloat64(),
		Status:          core.OrderStatus(m.Status),
		RejectionReason: m.RejectionReason,
		Magic:           m.Magic,
		Comment:         m.Comment,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// CreateOrder inserts a new audit row for a submitted order.
func (s *SQLRepository) CreateOrder(ctx context.Context, o *core.OrderRecord) error {
	row := toOrderModel(o)
	if result := s.db.WithContext(ctx).Create(&row); result.Error != nil {
		return fmt.Errorf("failed to create order: %w", result.Error)
	}
	return nil
}

// UpdateOrder rewrites the row identified by the order's business key.
func (s *SQLRepository) UpdateOrder(ctx context.Context, o *core.OrderRecord) error {
	tx := s.db.WithContext(ctx)

	var existing orderModel
	if result := tx.Where("order_id = ?", o.OrderID).First(&existing); result.Error != nil {
		return fmt.Errorf("order %s not found: %w", o.OrderID, result.Error)
	}

	row := toOrderModel(o)
	row.ID = existing.ID
	if result := tx.Save(&row); result.Error != nil {
		return fmt.Errorf("failed to update order: %w", result.Error)
	}
	return nil
}

// Orders returns all order records matching every given filter.
func (s *SQLRepository) Orders(ctx context.Context, filters ...core.OrderRecordFilter) ([]*core.OrderRecord, error) {
	var rows []*orderModel
	result := s.db.WithContext(ctx).Order("created_at").Find(&rows)
	if result.Error != nil && result.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to fetch orders: %w", result.Error)
	}

	orders := lo.Map(rows, func(m *orderModel, _ int) *core.OrderRecord {
		return fromOrderModel(m)
	})
	if len(filters) > 0 {
		orders = lo.Filter(orders, func(o *core.OrderRecord, _ int) bool {
			for _, filter := range filters {
				if !filter(*o) {
					return false
				}
			}
			return true
		})
	}
	return orders, nil
}

// CreateFill records an execution against an existing order.
func (s *SQLRepository) CreateFill(ctx context.Context, f *core.FillRecord) error {
	row := fillModel{
		FillID:   f.FillID,
		OrderID:  f.OrderID,
		Price:    money(f.Price),
		Volume:   money(f.Volume),
		FilledAt: f.FilledAt.UTC(),
	}
	if result := s.db.WithContext(ctx).Omit("Order").Create(&row); result.Error != nil {
		return fmt.Errorf("failed to create fill: %w", result.Error)
	}
	return nil
}

// CreatePosition snapshots a freshly opened broker position.
func (s *SQLRepository) CreatePosition(ctx context.Context, p *core.PositionRecord) error {
	row := toPositionModel(p)
	if result := s.db.WithContext(ctx).Create(&row); result.Error != nil {
		return fmt.Errorf("failed to create position: %w", result.Error)
	}
	return nil
}

// UpdatePosition rewrites the position row identified by its business key.
func (s *SQLRepository) UpdatePosition(ctx context.Context, p *core.PositionRecord) error {
	tx := s.db.WithContext(ctx)

	var existing positionModel
	if result := tx.Where("position_id = ?", p.PositionID).First(&existing); result.Error != nil {
		return fmt.Errorf("position %s not found: %w", p.PositionID, result.Error)
	}

	row := toPositionModel(p)
	row.ID = existing.ID
	if result := tx.Save(&row); result.Error != nil {
		return fmt.Errorf("failed to update position: %w", result.Error)
	}
	return nil
}

func toPositionModel(p *core.PositionRecord) positionModel {
	return positionModel{
		PositionID: p.PositionID,
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		Volume:     money(p.Volume),
		Entry:      money(p.Entry),
		Stop:       money(p.Stop),
		Target:     money(p.Target),
		Magic:      p.Magic,
		Comment:    p.Comment,
		Open:       p.Open,
		OpenedAt:   p.OpenedAt.UTC(),
		ClosedAt:   p.ClosedAt.UTC(),
	}
}

// CreateTrade records one closed leg with its realised result.
func (s *SQLRepository) CreateTrade(ctx context.Context, t *core.TradeRecord) error {
	row := tradeModel{
		TradeID:    t.TradeID,
		Symbol:     t.Symbol,
		Strategy:   t.Strategy,
		Direction:  string(t.Direction),
		Leg:        t.Leg,
		Volume:     money(t.Volume),
		Entry:      money(t.Entry),
		Exit:       money(t.Exit),
		PnL:        money(t.PnL),
		ExitReason: string(t.ExitReason),
		OpenedAt:   t.OpenedAt.UTC(),
		ClosedAt:   t.ClosedAt.UTC(),
	}
	if result := s.db.WithContext(ctx).Create(&row); result.Error != nil {
		return fmt.Errorf("failed to create trade: %w", result.Error)
	}
	return nil
}

// Trades returns the closed legs for one symbol, oldest first.
func (s *SQLRepository) Trades(ctx context.Context, symbol string) ([]*core.TradeRecord, error) {
	var rows []*tradeModel
	result := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("closed_at").
		Find(&rows)
	if result.Error != nil && result.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to fetch trades: %w", result.Error)
	}

	return lo.Map(rows, func(m *tradeModel, _ int) *core.TradeRecord {
		return &core.TradeRecord{
			TradeID:    m.TradeID,
			Symbol:     m.Symbol,
			Strategy:   m.Strategy,
			Direction:  core.TradeDirection(m.Direction),
			Leg:        m.Leg,
			Volume:     m.Volume.InexactFloat64(),
			Entry:      m.Entry.InexactFloat64(),
			Exit:       m.Exit.InexactFloat64(),
			PnL:        m.PnL.InexactFloat64(),
			ExitReason: core.ExitReason(m.ExitReason),
			OpenedAt:   m.OpenedAt,
			ClosedAt:   m.ClosedAt,
		}
	}), nil
}

// CreateAccountSnapshot appends a periodic equity observation.
func (s *SQLRepository) CreateAccountSnapshot(ctx context.Context, snap *core.AccountSnapshot) error {
	row := accountModel{
		Time:       snap.Time.UTC(),
		Balance:    money(snap.Balance),
		Equity:     money(snap.Equity),
		MarginFree: money(snap.MarginFree),
		Currency:   snap.Currency,
	}
	if result := s.db.WithContext(ctx).Create(&row); result.Error != nil {
		return fmt.Errorf("failed to create account snapshot: %w", result.Error)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLRepository) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
