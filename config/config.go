// Package config loads the engine configuration from a YAML file.
// The telegram token may be supplied via the DUOTRADE_TELEGRAM_TOKEN
// environment variable instead of the file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/raykavin/duotrade/core"
	"github.com/spf13/viper"
)

// Account profiles accepted by the loader.
const (
	ProfileDemo = "demo"
	ProfileLive = "live"
)

// Strategy names accepted per symbol.
const (
	StrategyAdaptiveTrend = "adaptive_trend"
	StrategyStructural    = "structural"
)

// Storage drivers accepted by the loader.
const (
	StorageNone   = "none"
	StorageBuntDB = "buntdb"
	StorageSQLite = "sqlite"
)

// Config is the top-level configuration. Maps directly to the YAML
// file structure.
type Config struct {
	MaxDailyLossPercent   float64 `mapstructure:"max_daily_loss_percent"`
	MaxPositionsPerSymbol int     `mapstructure:"max_positions_per_symbol"`
	MaxTotalPositions     int     `mapstructure:"max_total_positions"`
	AccountProfile        string  `mapstructure:"account_profile"`
	FlattenOnShutdown     bool    `mapstructure:"flatten_on_shutdown"`

	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	Symbols map[string]SymbolConfig `mapstructure:"symbols"`
}

// StorageConfig selects the audit repository backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// TelegramConfig wires the operator console.
type TelegramConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Token   string  `mapstructure:"token"`
	Users   []int64 `mapstructure:"users"`
}

// MetricsConfig controls the prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// SymbolConfig is one tradeable instrument's full setup: which
// strategy runs it, its parameters, and the risk knobs.
type SymbolConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	Timeframe           string  `mapstructure:"timeframe"`
	Strategy            string  `mapstructure:"strategy"`
	RiskPercent         float64 `mapstructure:"risk_percent"`
	RRRatio             float64 `mapstructure:"rr_ratio"`
	SLMultiplier        float64 `mapstructure:"sl_multiplier"`
	MoveSLToBreakeven   bool    `mapstructure:"move_sl_to_breakeven"`
	UseTrailing         bool    `mapstructure:"use_trailing"`
	MagicNumber         int64   `mapstructure:"magic_number"`
	CycleSeconds        int     `mapstructure:"cycle_seconds"`
	AllowMinLotOverride bool    `mapstructure:"allow_min_lot_override"`
	BarCount            int     `mapstructure:"bar_count"`

	AdaptiveTrend AdaptiveTrendParams `mapstructure:"adaptive_trend"`
	Structural    StructuralParams    `mapstructure:"structural"`

	Contract ContractParams `mapstructure:"contract"`
}

// ContractParams describes the instrument for profiles without a
// broker to ask: the sim gateway and the backtester. Zero fields fall
// back to five-digit forex conventions.
type ContractParams struct {
	Digits       int     `mapstructure:"digits"`
	Point        float64 `mapstructure:"point"`
	ContractSize float64 `mapstructure:"contract_size"`
	VolumeMin    float64 `mapstructure:"volume_min"`
	VolumeMax    float64 `mapstructure:"volume_max"`
	VolumeStep   float64 `mapstructure:"volume_step"`
	TickSize     float64 `mapstructure:"tick_size"`
	TickValue    float64 `mapstructure:"tick_value"`
	CurrencyPair bool    `mapstructure:"currency_pair"`
}

// SymbolInfo materialises the contract description, filling unset
// fields with forex defaults.
func (cp ContractParams) SymbolInfo(name string) core.SymbolInfo {
	info := core.SymbolInfo{
		Name:         name,
		Digits:       cp.Digits,
		Point:        cp.Point,
		ContractSize: cp.ContractSize,
		VolumeMin:    cp.VolumeMin,
		VolumeMax:    cp.VolumeMax,
		VolumeStep:   cp.VolumeStep,
		TickSize:     cp.TickSize,
		TickValue:    cp.TickValue,
		CurrencyPair: cp.CurrencyPair,
	}
	if info.Digits == 0 {
		info.Digits = 5
	}
	if info.Point == 0 {
		info.Point = 0.00001
	}
	if info.ContractSize == 0 {
		info.ContractSize = 100000
	}
	if info.VolumeMin == 0 {
		info.VolumeMin = 0.01
	}
	if info.VolumeMax == 0 {
		info.VolumeMax = 100
	}
	if info.VolumeStep == 0 {
		info.VolumeStep = 0.01
	}
	if info.TickSize == 0 {
		info.TickSize = info.Point
	}
	if info.TickValue == 0 {
		info.TickValue = 1
	}
	return info
}

// AdaptiveTrendParams tunes the SuperTrend factor sweep (see strategy
// package AdaptiveTrendConfig).
type AdaptiveTrendParams struct {
	MinFactor        float64 `mapstructure:"min_factor"`
	MaxFactor        float64 `mapstructure:"max_factor"`
	FactorStep       float64 `mapstructure:"factor_step"`
	ATRPeriod        int     `mapstructure:"atr_period"`
	PerfAlpha        float64 `mapstructure:"perf_alpha"`
	ClusterChoice    string  `mapstructure:"cluster_choice"`
	VolumeMAPeriod   int     `mapstructure:"volume_ma_period"`
	VolumeMultiplier float64 `mapstructure:"volume_multiplier"`
	TrailActivation  float64 `mapstructure:"trail_activation"`
}

// StructuralParams tunes the market-structure strategy.
type StructuralParams struct {
	LookbackCandles    int     `mapstructure:"lookback_candles"`
	Fractal            int     `mapstructure:"fractal"`
	ATRPeriod          int     `mapstructure:"atr_period"`
	FVGMinSize         float64 `mapstructure:"fvg_min_size"`
	LiquiditySweepPips float64 `mapstructure:"liquidity_sweep_pips"`
	UseMarketStructure bool    `mapstructure:"use_market_structure"`
	UseOrderBlocks     bool    `mapstructure:"use_order_blocks"`
	UseFVG             bool    `mapstructure:"use_fvg"`
	UseLiquiditySweeps bool    `mapstructure:"use_liquidity_sweeps"`
	MinConfluence      int     `mapstructure:"min_confluence"`
}

// Load reads the YAML file at path and applies defaults and env
// overrides. It does not validate; call Validate on the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DUOTRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("max_positions_per_symbol", 1)
	v.SetDefault("account_profile", ProfileDemo)
	v.SetDefault("flatten_on_shutdown", false)
	v.SetDefault("storage.driver", StorageNone)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, &core.ConfigError{Field: "file", Detail: err.Error()}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &core.ConfigError{Field: "file", Detail: err.Error()}
	}

	if token := os.Getenv("DUOTRADE_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}

	return &cfg, nil
}

// Validate checks the global section and every enabled symbol.
func (c *Config) Validate() error {
	if c.MaxDailyLossPercent < 0 || c.MaxDailyLossPercent > 100 {
		return &core.ConfigError{Field: "max_daily_loss_percent", Detail: "must be between 0 and 100"}
	}
	if c.MaxPositionsPerSymbol < 1 {
		return &core.ConfigError{Field: "max_positions_per_symbol", Detail: "must be at least 1"}
	}
	if c.MaxTotalPositions < 0 {
		return &core.ConfigError{Field: "max_total_positions", Detail: "must not be negative"}
	}
	if c.AccountProfile != ProfileDemo && c.AccountProfile != ProfileLive {
		return &core.ConfigError{Field: "account_profile", Detail: fmt.Sprintf("unknown profile %q", c.AccountProfile)}
	}

	switch c.Storage.Driver {
	case StorageNone:
	case StorageBuntDB, StorageSQLite:
		if c.Storage.Path == "" {
			return &core.ConfigError{Field: "storage.path", Detail: "path is required for " + c.Storage.Driver}
		}
	default:
		return &core.ConfigError{Field: "storage.driver", Detail: fmt.Sprintf("unknown driver %q", c.Storage.Driver)}
	}

	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return &core.ConfigError{Field: "telegram.token", Detail: "token is required (set DUOTRADE_TELEGRAM_TOKEN)"}
		}
		if len(c.Telegram.Users) == 0 {
			return &core.ConfigError{Field: "telegram.users", Detail: "at least one authorized user is required"}
		}
	}

	if len(c.EnabledSymbols()) == 0 {
		return &core.ConfigError{Field: "symbols", Detail: "no enabled symbols"}
	}
	for symbol, sc := range c.Symbols {
		if !sc.Enabled {
			continue
		}
		if err := sc.Validate(symbol); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks one symbol section. The symbol name prefixes the
// field in any reported error.
func (sc SymbolConfig) Validate(symbol string) error {
	field := func(name string) string { return symbol + "." + name }

	if _, err := core.ParseTimeframe(sc.Timeframe); err != nil {
		return &core.ConfigError{Field: field("timeframe"), Detail: err.Error()}
	}
	if sc.Strategy != StrategyAdaptiveTrend && sc.Strategy != StrategyStructural {
		return &core.ConfigError{Field: field("strategy"), Detail: fmt.Sprintf("unknown strategy %q", sc.Strategy)}
	}
	if sc.RiskPercent <= 0 || sc.RiskPercent > 10 {
		return &core.ConfigError{Field: field("risk_percent"), Detail: "must be above 0 and at most 10"}
	}
	if sc.RRRatio < 1 {
		return &core.ConfigError{Field: field("rr_ratio"), Detail: "must be at least 1"}
	}
	if sc.SLMultiplier <= 0 {
		return &core.ConfigError{Field: field("sl_multiplier"), Detail: "must be above 0"}
	}
	if sc.MagicNumber <= 0 {
		return &core.ConfigError{Field: field("magic_number"), Detail: "must be above 0"}
	}
	if sc.CycleSeconds <= 0 {
		return &core.ConfigError{Field: field("cycle_seconds"), Detail: "must be above 0"}
	}
	return nil
}

// EnabledSymbols returns the names of the symbols marked enabled, in
// no particular order.
func (c *Config) EnabledSymbols() []string {
	var symbols []string
	for symbol, sc := range c.Symbols {
		if sc.Enabled {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

// ParsedTimeframe returns the symbol's timeframe. Call only after
// Validate has passed.
func (sc SymbolConfig) ParsedTimeframe() core.Timeframe {
	tf, _ := core.ParseTimeframe(sc.Timeframe)
	return tf
}
