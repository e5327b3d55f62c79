package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raykavin/duotrade/backtest"
	"github.com/raykavin/duotrade/config"
	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/feed"
	"github.com/raykavin/duotrade/gateway"
	"github.com/raykavin/duotrade/gateway/sim"
	"github.com/raykavin/duotrade/logger"
	"github.com/raykavin/duotrade/logger/zerolog"
	"github.com/raykavin/duotrade/metric"
	"github.com/raykavin/duotrade/notification"
	"github.com/raykavin/duotrade/order"
	"github.com/raykavin/duotrade/risk"
	"github.com/raykavin/duotrade/storage"
	"github.com/raykavin/duotrade/strategy"
	"github.com/raykavin/duotrade/worker"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02 15:04:05"

	// defaultHistoryBars seeds the demo gateway when the symbol section
	// does not set bar_count.
	defaultHistoryBars = 500

	// pumpEvery is how often the demo feed polls for freshly closed bars.
	pumpEvery = 15 * time.Second
)

// Exit codes: 1 configuration, 2 gateway connect, 3 fatal runtime.
const (
	exitConfig  = 1
	exitGateway = 2
	exitRuntime = 3
)

// Command line flags
var (
	// run command flags
	configPath  string
	account     string
	runSymbol   string
	intervalSec int
	dryRun      bool
	logLevel    string

	// backtest command flags
	btData    string
	btSymbol  string
	btFrom    string
	btTo      string
	btOutput  string
	btBalance float64

	// download command flags
	dlSymbol    string
	dlTimeframe string
	dlDays      int
	dlStart     string
	dlEnd       string
	dlOutput    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "duotrade",
		Short:   "Dual-order trading engine",
		Version: "1.0.0",
	}

	rootCmd.AddCommand(buildRunCmd())
	rootCmd.AddCommand(buildBacktestCmd())
	rootCmd.AddCommand(buildDownloadCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var cfgErr *core.ConfigError
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	if core.GatewayKindOf(err) == core.GatewayNotConnected {
		return exitGateway
	}
	return exitRuntime
}

func buildRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine against a broker account",
		RunE:  runEngine,
	}

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path (e.g. ./duotrade.yml)")
	runCmd.Flags().StringVarP(&account, "account", "a", "", "Account profile override (demo or live)")
	runCmd.Flags().StringVarP(&runSymbol, "symbol", "s", "", "Trade only this symbol")
	runCmd.Flags().IntVarP(&intervalSec, "interval", "i", 0, "Cycle period override in seconds")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate signals without sending orders")
	runCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level override (trace, debug, info, warn, error)")

	runCmd.MarkFlagRequired("config")

	return runCmd
}

func buildBacktestCmd() *cobra.Command {
	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a strategy over historical CSV data",
		RunE:  runBacktest,
	}

	backtestCmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	backtestCmd.Flags().StringVarP(&btData, "data", "d", "", "Historical bars CSV path")
	backtestCmd.Flags().StringVarP(&btSymbol, "symbol", "s", "", "Symbol to replay")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "Replay start date (e.g. 2024-01-01)")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "Replay end date (e.g. 2024-12-31)")
	backtestCmd.Flags().StringVarP(&btOutput, "output", "o", "", "Prefix for equity and trade CSV reports")
	backtestCmd.Flags().Float64Var(&btBalance, "balance", 10000, "Starting balance")

	backtestCmd.MarkFlagRequired("config")
	backtestCmd.MarkFlagRequired("data")
	backtestCmd.MarkFlagRequired("symbol")

	return backtestCmd
}

func buildDownloadCmd() *cobra.Command {
	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: "Download historical bars to CSV",
		RunE:  runDownload,
	}

	downloadCmd.Flags().StringVarP(&dlSymbol, "symbol", "s", "", "Symbol (e.g. BTCUSDT)")
	downloadCmd.Flags().StringVarP(&dlTimeframe, "timeframe", "t", "", "Timeframe (e.g. M15)")
	downloadCmd.Flags().IntVarP(&dlDays, "days", "d", 0, "Number of days to download (default 30)")
	downloadCmd.Flags().StringVar(&dlStart, "start", "", "Start date (e.g. 2024-01-01)")
	downloadCmd.Flags().StringVar(&dlEnd, "end", "", "End date (e.g. 2024-12-31)")
	downloadCmd.Flags().StringVarP(&dlOutput, "output", "o", "", "Output file path (e.g. ./eurusd_m15.csv)")

	downloadCmd.MarkFlagRequired("symbol")
	downloadCmd.MarkFlagRequired("timeframe")
	downloadCmd.MarkFlagRequired("output")

	return downloadCmd
}

func runEngine(cmd *cobra.Command, _ []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := zerolog.New(level, timeLayout, true, false)
	if err != nil {
		return &core.ConfigError{Field: "logging.level", Detail: err.Error()}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AccountProfile == config.ProfileLive {
		return core.NewGatewayError(core.GatewayNotConnected, "connect", "",
			errors.New("no live terminal bridge configured, use the demo profile"))
	}

	feeder := feed.NewBinance("", "")
	simGW, err := buildSimGateway(ctx, cfg, feeder)
	if err != nil {
		return err
	}
	gw := gateway.WithRetry(simGW, log)
	if err := gw.Connect(ctx); err != nil {
		return err
	}
	defer gw.Disconnect()

	repo, closeRepo, err := buildRepository(cfg)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		defer closeRepo()
	}

	governor := risk.NewGovernor(risk.GovernorConfig{
		MaxDailyLossPercent:   cfg.MaxDailyLossPercent,
		MaxPositionsPerSymbol: cfg.MaxPositionsPerSymbol,
		MaxTotalPositions:     cfg.MaxTotalPositions,
	})

	managerOpts := []order.Option{order.WithDryRun(dryRun)}
	if repo != nil {
		managerOpts = append(managerOpts, order.WithRepository(repo))
	}
	manager := order.NewManager(gw, log, managerOpts...)

	if cfg.Telegram.Enabled {
		notifier, err := notification.NewTelegram(manager, governor, gw, notification.Settings{
			Token: cfg.Telegram.Token,
			Users: cfg.Telegram.Users,
		}, log)
		if err != nil {
			return fmt.Errorf("telegram notifier: %w", err)
		}
		manager.SetNotifier(notifier)
		notifier.Start()
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metric.Serve(cfg.Metrics.Listen); err != nil {
				log.WithError(err).Error("metrics listener stopped")
			}
		}()
	}

	supervisor := worker.NewSupervisor(manager, log, cfg.FlattenOnShutdown)
	for _, symbol := range cfg.EnabledSymbols() {
		sc := cfg.Symbols[symbol]
		info := sc.Contract.SymbolInfo(symbol)

		strat, err := buildStrategy(symbol, cfg, sc, info)
		if err != nil {
			return err
		}
		manager.Register(symbol, order.Params{
			Strategy:          strat.Name(),
			Magic:             sc.MagicNumber,
			MoveSLToBreakeven: sc.MoveSLToBreakeven,
		}, info)

		cycle := time.Duration(sc.CycleSeconds) * time.Second
		if intervalSec > 0 {
			cycle = time.Duration(intervalSec) * time.Second
		}
		wcfg := worker.Config{
			Symbol:      symbol,
			Timeframe:   sc.ParsedTimeframe(),
			CyclePeriod: cycle,
			RiskPercent: sc.RiskPercent,
			MagicNumber: sc.MagicNumber,
			BarCount:    sc.BarCount,
		}
		if err := wcfg.Validate(); err != nil {
			return err
		}
		w := worker.New(wcfg, gw, strat, manager, risk.Sizer{AllowMinLotOverride: sc.AllowMinLotOverride}, governor, log)
		if err := supervisor.Add(w); err != nil {
			return err
		}

		go pumpBars(ctx, simGW, feeder, symbol, sc.ParsedTimeframe(), log)
	}

	log.WithFields(map[string]any{
		"profile": cfg.AccountProfile,
		"symbols": supervisor.Symbols(),
		"dry_run": dryRun,
	}).Info("engine starting")

	return supervisor.Run(ctx)
}

// loadRunConfig reads the config file and applies the run command's
// flag overrides before validation.
func loadRunConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if account != "" {
		cfg.AccountProfile = account
	}
	if runSymbol != "" {
		symbol := strings.ToUpper(runSymbol)
		if _, ok := cfg.Symbols[symbol]; !ok {
			return nil, &core.ConfigError{Field: "symbols", Detail: fmt.Sprintf("symbol %s not configured", symbol)}
		}
		for name, sc := range cfg.Symbols {
			sc.Enabled = name == symbol
			cfg.Symbols[name] = sc
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildSimGateway seeds the demo gateway with recent exchange history
// for every enabled symbol and advances its replay cursor to the
// present so the first worker cycle sees a current bar.
func buildSimGateway(ctx context.Context, cfg *config.Config, feeder *feed.Binance) (*sim.Gateway, error) {
	var opts []sim.Option
	for _, symbol := range cfg.EnabledSymbols() {
		sc := cfg.Symbols[symbol]
		count := sc.BarCount
		if count <= 0 {
			count = defaultHistoryBars
		}
		bars, err := feeder.BarsByLimit(ctx, symbol, sc.ParsedTimeframe(), count)
		if err != nil {
			return nil, core.NewGatewayError(core.GatewayNotConnected, "bars", symbol, err)
		}
		if len(bars) == 0 {
			return nil, core.NewGatewayError(core.GatewayNotConnected, "bars", symbol, errors.New("empty history"))
		}
		opts = append(opts, sim.WithSymbol(sc.Contract.SymbolInfo(symbol), bars))
	}

	gw := sim.New(opts...)
	for _, symbol := range cfg.EnabledSymbols() {
		for {
			if _, ok := gw.Advance(symbol); !ok {
				break
			}
		}
	}
	return gw, nil
}

// pumpBars polls the exchange feed for freshly closed bars, appends
// them to the demo gateway and advances it so open positions settle
// against real market movement.
func pumpBars(ctx context.Context, gw *sim.Gateway, feeder *feed.Binance, symbol string, tf core.Timeframe, log logger.Logger) {
	ticker := time.NewTicker(pumpEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		bars, err := feeder.BarsByLimit(ctx, symbol, tf, 3)
		if err != nil {
			log.WithError(err).WithField("symbol", symbol).Warn("bar feed poll failed")
			continue
		}
		if gw.Append(symbol, bars) == 0 {
			continue
		}
		for {
			if _, ok := gw.Advance(symbol); !ok {
				break
			}
		}
	}
}

func buildRepository(cfg *config.Config) (core.Repository, func() error, error) {
	switch cfg.Storage.Driver {
	case config.StorageBuntDB:
		repo, err := storage.NewFromFile(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case config.StorageSQLite:
		repo, err := storage.NewFromSQLite(cfg.Storage.Path, storage.DefaultConfig())
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	}
	return nil, nil, nil
}

func buildStrategy(symbol string, cfg *config.Config, sc config.SymbolConfig, info core.SymbolInfo) (core.Strategy, error) {
	base := strategy.Base{
		Symbol:            symbol,
		Timeframe:         sc.ParsedTimeframe(),
		RiskPercent:       sc.RiskPercent,
		RRRatio:           sc.RRRatio,
		SLMultiplier:      sc.SLMultiplier,
		MoveSLToBreakeven: sc.MoveSLToBreakeven,
		UseTrailing:       sc.UseTrailing,
		MagicNumber:       sc.MagicNumber,
		MaxPositions:      cfg.MaxPositionsPerSymbol,
	}

	switch sc.Strategy {
	case config.StrategyAdaptiveTrend:
		p := sc.AdaptiveTrend
		s, err := strategy.NewAdaptiveTrend(strategy.AdaptiveTrendConfig{
			Base:             base,
			MinFactor:        p.MinFactor,
			MaxFactor:        p.MaxFactor,
			FactorStep:       p.FactorStep,
			ATRPeriod:        p.ATRPeriod,
			PerfAlpha:        p.PerfAlpha,
			ClusterChoice:    strategy.Cluster(p.ClusterChoice),
			VolumeMAPeriod:   p.VolumeMAPeriod,
			VolumeMultiplier: p.VolumeMultiplier,
			TrailActivation:  p.TrailActivation,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StrategyStructural:
		p := sc.Structural
		s, err := strategy.NewStructural(strategy.StructuralConfig{
			Base:               base,
			LookbackCandles:    p.LookbackCandles,
			Fractal:            p.Fractal,
			ATRPeriod:          p.ATRPeriod,
			FVGMinSize:         p.FVGMinSize,
			LiquiditySweepPips: p.LiquiditySweepPips,
			PipSize:            pipSize(info),
			UseMarketStructure: p.UseMarketStructure,
			UseOrderBlocks:     p.UseOrderBlocks,
			UseFVG:             p.UseFVG,
			UseLiquiditySweeps: p.UseLiquiditySweeps,
			MinConfluence:      p.MinConfluence,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, &core.ConfigError{Field: symbol + ".strategy", Detail: fmt.Sprintf("unknown strategy %q", sc.Strategy)}
}

// pipSize derives the conventional pip from the quote precision: one
// point on 2/4-digit symbols, ten points on 3/5-digit ones.
func pipSize(info core.SymbolInfo) float64 {
	if info.Digits == 3 || info.Digits == 5 {
		return info.Point * 10
	}
	return info.Point
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	symbol := strings.ToUpper(btSymbol)
	sc, ok := cfg.Symbols[symbol]
	if !ok {
		return &core.ConfigError{Field: "symbols", Detail: fmt.Sprintf("symbol %s not configured", symbol)}
	}
	if err := sc.Validate(symbol); err != nil {
		return err
	}
	tf := sc.ParsedTimeframe()

	log, err := zerolog.New(cfg.Logging.Level, timeLayout, true, false)
	if err != nil {
		return &core.ConfigError{Field: "logging.level", Detail: err.Error()}
	}

	start, end, err := replayWindow()
	if err != nil {
		return err
	}

	csvFeed, err := feed.NewCSVFeed(tf, feed.SymbolFile{Symbol: symbol, Path: btData, Timeframe: tf})
	if err != nil {
		return err
	}
	bars, err := csvFeed.BarsByPeriod(cmd.Context(), symbol, tf, start, end)
	if err != nil {
		return err
	}

	info := sc.Contract.SymbolInfo(symbol)
	strat, err := buildStrategy(symbol, cfg, sc, info)
	if err != nil {
		return err
	}

	executor, err := backtest.New(backtest.Config{
		Symbol:       symbol,
		Timeframe:    tf,
		RiskPercent:  sc.RiskPercent,
		Balance:      btBalance,
		MagicNumber:  sc.MagicNumber,
		MoveSLToBE:   sc.MoveSLToBreakeven,
		ShowProgress: true,
	}, info, strat, bars, log)
	if err != nil {
		return err
	}

	result, err := executor.Run(cmd.Context())
	if err != nil {
		return err
	}

	period, err := tf.Duration()
	if err != nil {
		return err
	}
	backtest.Report(os.Stdout, result, float64(365*24*time.Hour)/float64(period))

	if btOutput != "" {
		if err := result.SaveEquityCSV(btOutput + "_equity.csv"); err != nil {
			return err
		}
		if err := result.SaveTradesCSV(btOutput + "_trades.csv"); err != nil {
			return err
		}
	}
	return nil
}

func replayWindow() (time.Time, time.Time, error) {
	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC()
	if btFrom != "" {
		t, err := time.Parse(dateLayout, btFrom)
		if err != nil {
			return start, end, fmt.Errorf("invalid from date: %w", err)
		}
		start = t
	}
	if btTo != "" {
		t, err := time.Parse(dateLayout, btTo)
		if err != nil {
			return start, end, fmt.Errorf("invalid to date: %w", err)
		}
		// Include the whole closing day.
		end = t.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, nil
}

func runDownload(cmd *cobra.Command, _ []string) error {
	tf, err := core.ParseTimeframe(dlTimeframe)
	if err != nil {
		return err
	}
	options, err := buildDownloadOptions()
	if err != nil {
		return err
	}

	log, err := zerolog.New("info", timeLayout, true, false)
	if err != nil {
		return err
	}

	feeder := feed.NewBinance("", "")
	return feed.NewDownloader(feeder, log).Download(
		cmd.Context(),
		strings.ToUpper(dlSymbol),
		tf,
		dlOutput,
		options...,
	)
}

func buildDownloadOptions() ([]feed.Option, error) {
	var options []feed.Option

	if dlDays > 0 {
		options = append(options, feed.WithDays(dlDays))
	}

	if dlStart != "" || dlEnd != "" {
		if dlStart == "" || dlEnd == "" {
			return nil, errors.New("start and end dates must be provided together")
		}
		start, err := time.Parse(dateLayout, dlStart)
		if err != nil {
			return nil, fmt.Errorf("invalid start date format: %w", err)
		}
		end, err := time.Parse(dateLayout, dlEnd)
		if err != nil {
			return nil, fmt.Errorf("invalid end date format: %w", err)
		}
		options = append(options, feed.WithInterval(start, end))
	}

	return options, nil
}
