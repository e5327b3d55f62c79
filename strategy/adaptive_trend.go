package strategy

import (
	"fmt"
	"math"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/indicator"
)

// Cluster selects which performance cluster drives factor selection.
type Cluster string

const (
	ClusterWorst   Cluster = "worst"
	ClusterAverage Cluster = "average"
	ClusterBest    Cluster = "best"
)

func (c Cluster) index() int {
	switch c {
	case ClusterWorst:
		return 0
	case ClusterAverage:
		return 1
	default:
		return 2
	}
}

// volatilityWindow is the rolling deviation window feeding the
// normalised volatility adjustment of the performance scores.
const volatilityWindow = 20

// normVolFloor guards the performance proxy against division by a
// near-zero volatility reading.
const normVolFloor = 0.1

// AdaptiveTrendConfig parametrises the factor sweep and the clustering
// step of the adaptive-trend strategy.
type AdaptiveTrendConfig struct {
	Base

	MinFactor  float64
	MaxFactor  float64
	FactorStep float64
	ATRPeriod  int

	// PerfAlpha is the EMA span smoothing the per-factor performance
	// scores; the smoothing constant is 2/(PerfAlpha+1).
	PerfAlpha float64

	ClusterChoice    Cluster
	VolumeMAPeriod   int
	VolumeMultiplier float64

	// TrailActivation is how many ATRs price must advance in favour
	// before the trailing stop arms.
	TrailActivation float64
}

// Validate extends the base checks with sweep sanity.
func (c AdaptiveTrendConfig) Validate() error {
	if err := c.Base.Validate(); err != nil {
		return err
	}
	if c.MinFactor <= 0 || c.MaxFactor < c.MinFactor || c.FactorStep <= 0 {
		return &core.ConfigError{Field: "factor", Detail: fmt.Sprintf("bad sweep [%.2f, %.2f] step %.2f", c.MinFactor, c.MaxFactor, c.FactorStep)}
	}
	if c.ATRPeriod < 2 {
		return &core.ConfigError{Field: "atr_period", Detail: "atr_period below 2"}
	}
	if c.PerfAlpha <= 0 {
		return &core.ConfigError{Field: "perf_alpha", Detail: "perf_alpha must be positive"}
	}
	switch c.ClusterChoice {
	case ClusterWorst, ClusterAverage, ClusterBest:
	default:
		return &core.ConfigError{Field: "cluster_choice", Detail: fmt.Sprintf("unknown cluster %q", c.ClusterChoice)}
	}
	if c.VolumeMAPeriod < 1 {
		return &core.ConfigError{Field: "volume_ma_period", Detail: "volume_ma_period below 1"}
	}
	return nil
}

// AdaptiveTrend runs a SuperTrend factor sweep, scores every factor by a
// volume-and-volatility adjusted EMA of its per-bar performance, groups
// the scores by 1-D k-means into worst, average, and best clusters, and
// trades direction flips of the factor representing the chosen cluster.
//
// The whole evaluation is a pure recomputation over the bar window, so a
// backtest replay and a live session reading the same bars choose the
// same factor on every bar.
type AdaptiveTrend struct {
	cfg     AdaptiveTrendConfig
	factors []float64
	eval    *adaptiveEval
}

// adaptiveEval is the per-cycle snapshot Indicators leaves for OnBar.
type adaptiveEval struct {
	barTime    int64
	chosen     indicator.SuperTrendResult
	factor     float64
	perf       float64
	centroids  []float64
	volumeOK   bool
	atrLast    float64
	sufficient bool
}

// NewAdaptiveTrend builds the strategy after validating its parameters.
func NewAdaptiveTrend(cfg AdaptiveTrendConfig) (*AdaptiveTrend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var factors []float64
	for f := cfg.MinFactor; f <= cfg.MaxFactor+cfg.FactorStep/2; f += cfg.FactorStep {
		factors = append(factors, f)
	}
	return &AdaptiveTrend{cfg: cfg, factors: factors}, nil
}

// Name implements core.Strategy.
func (s *AdaptiveTrend) Name() string { return "ADAPTIVE" }

// Timeframe implements core.Strategy.
func (s *AdaptiveTrend) Timeframe() core.Timeframe { return s.cfg.Timeframe }

// WarmupPeriod covers the volatility normalisation windows plus the ATR
// and volume averages, with margin for the band locking to settle.
func (s *AdaptiveTrend) WarmupPeriod() int {
	base := volatilityWindow + 50
	if s.cfg.ATRPeriod > base {
		base = s.cfg.ATRPeriod
	}
	if s.cfg.VolumeMAPeriod > base {
		base = s.cfg.VolumeMAPeriod
	}
	return base + 20
}

// Indicators runs the sweep, scoring, and clustering for the current
// window and publishes the chosen factor's line for charts and trailing.
func (s *AdaptiveTrend) Indicators(df *core.Dataframe) {
	s.eval = s.evaluate(df)
	if !s.eval.sufficient {
		return
	}

	df.Metadata["supertrend"] = s.eval.chosen.Line
	trend := make(core.Series[float64], len(s.eval.chosen.Trend))
	for i, t := range s.eval.chosen.Trend {
		trend[i] = float64(t)
	}
	df.Metadata["supertrend_dir"] = trend
}

// OnBar emits a signal when the chosen factor's SuperTrend flipped on
// the last closed bar and the volume filter passes.
func (s *AdaptiveTrend) OnBar(df *core.Dataframe) (*core.Signal, error) {
	ev := s.eval
	if ev == nil || ev.barTime != df.LastUpdate.Unix() {
		ev = s.evaluate(df)
		s.eval = ev
	}
	if !ev.sufficient {
		return nil, nil
	}

	var side core.Side
	switch {
	case ev.chosen.FlippedUp():
		side = core.SideBuy
	case ev.chosen.FlippedDown():
		side = core.SideSell
	default:
		return nil, nil
	}

	// A flip on thin volume is noise until participation confirms it.
	if !ev.volumeOK {
		return nil, nil
	}

	stop := ev.chosen.Line[len(ev.chosen.Line)-1]
	metadata := map[string]float64{
		"factor":         ev.factor,
		"perf":           ev.perf,
		"centroid_worst": ev.centroids[0],
		"centroid_avg":   ev.centroids[1],
		"centroid_best":  ev.centroids[2],
	}
	reason := fmt.Sprintf("supertrend flip f=%.2f perf=%.3f", ev.factor, ev.perf)

	return buildSignal(s.cfg.Base, s.Name(), df, side, stop, clampConfidence(ev.perf), reason, metadata), nil
}

// TrailStop follows the active band with the runner leg once price has
// advanced TrailActivation ATRs past entry. The manager clamps the
// proposal so the stop only tightens and never retreats behind a
// promoted breakeven level.
func (s *AdaptiveTrend) TrailStop(df *core.Dataframe, trade *core.DualTrade) (float64, bool) {
	if !s.cfg.UseTrailing {
		return 0, false
	}
	ev := s.eval
	if ev == nil || !ev.sufficient || ev.barTime != df.LastUpdate.Unix() {
		ev = s.evaluate(df)
		s.eval = ev
	}
	if !ev.sufficient || math.IsNaN(ev.atrLast) {
		return 0, false
	}

	price := df.Close.Last(0)
	activation := s.cfg.TrailActivation * ev.atrLast

	line := ev.chosen.Line[len(ev.chosen.Line)-1]
	switch trade.Side {
	case core.SideBuy:
		if price-trade.Entry < activation {
			return 0, false
		}
		if line <= trade.SharedStop || line >= price {
			return 0, false
		}
	case core.SideSell:
		if trade.Entry-price < activation {
			return 0, false
		}
		if line >= trade.SharedStop || line <= price {
			return 0, false
		}
	}
	return line, true
}

func (s *AdaptiveTrend) evaluate(df *core.Dataframe) *adaptiveEval {
	ev := &adaptiveEval{barTime: df.LastUpdate.Unix()}
	n := df.Len()
	if n < s.WarmupPeriod() {
		return ev
	}

	atr := indicator.ATR(df.High, df.Low, df.Close, s.cfg.ATRPeriod)
	volumeMA := indicator.SMA(df.TickVolume, s.cfg.VolumeMAPeriod)
	normVol := indicator.NormalizedVolatility(df.Close, volatilityWindow)

	alpha := 2.0 / (s.cfg.PerfAlpha + 1.0)
	scores := make([]float64, len(s.factors))
	results := make([]indicator.SuperTrendResult, len(s.factors))

	for fi, factor := range s.factors {
		st := indicator.SuperTrend(df.High, df.Low, df.Close, s.cfg.ATRPeriod, factor)
		results[fi] = st

		// EMA of the per-bar PnL a holder of the previous bar's trend
		// would have captured, scaled up by participation and down by
		// the volatility regime.
		var score float64
		for i := 1; i < n; i++ {
			if st.Trend[i-1] == 0 {
				continue
			}
			if math.IsNaN(volumeMA[i]) || volumeMA[i] <= 0 || math.IsNaN(normVol[i]) {
				continue
			}
			vol := math.Max(normVol[i], normVolFloor)
			proxy := float64(st.Trend[i-1]) * (df.Close[i] - df.Close[i-1]) * (df.TickVolume[i] / volumeMA[i]) / vol
			score = alpha*proxy + (1-alpha)*score
		}
		scores[fi] = score
	}

	centroids, assignment := kmeans1D(scores, 3)
	if len(centroids) < 3 {
		return ev
	}

	cluster := s.cfg.ClusterChoice.index()
	rep := chooseRepresentative(scores, assignment, cluster, centroids[cluster])
	if rep < 0 {
		return ev
	}

	ev.sufficient = true
	ev.chosen = results[rep]
	ev.factor = s.factors[rep]
	ev.perf = scores[rep]
	ev.centroids = centroids
	ev.atrLast = atr[n-1]
	ev.volumeOK = !math.IsNaN(volumeMA[n-1]) && volumeMA[n-1] > 0 &&
		df.TickVolume[n-1] >= s.cfg.VolumeMultiplier*volumeMA[n-1]
	return ev
}
