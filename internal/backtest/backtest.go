// Package backtest replays a daily bar series through a strategy and a
// position-sizing policy, simulating fills against an in-memory broker and
// summarising the outcome.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"meridian/internal/broker"
	"meridian/internal/domain"
	"meridian/internal/policy"
	"meridian/internal/strategy"
)

// DefaultPeriodsPerYear is the number of daily bars in a trading year.
const DefaultPeriodsPerYear = 252

// Config holds the run-level settings of a Backtester.
type Config struct {
	// InitialCash is the starting cash balance. Must be positive.
	InitialCash float64
	// ExecutionPrice selects the fill price on the bar after a signal.
	// Empty means open.
	ExecutionPrice domain.ExecutionPrice
	// PeriodsPerYear annualises returns and volatility. Zero means 252.
	PeriodsPerYear int
	// RebalanceBand skips adjustments to an existing position whose notional
	// is below this fraction of equity. Entries and full exits always trade.
	RebalanceBand float64
}

// Backtester runs single-instrument simulations. It holds no per-run state,
// so one Backtester may serve concurrent runs.
type Backtester struct {
	cfg Config
	log *slog.Logger
}

// New validates cfg, applies defaults and creates a Backtester.
func New(cfg Config) (*Backtester, error) {
	if !(cfg.InitialCash > 0) || math.IsInf(cfg.InitialCash, 0) {
		return nil, fmt.Errorf("%w: initial cash must be positive, got %v", domain.ErrConfig, cfg.InitialCash)
	}
	switch cfg.ExecutionPrice {
	case "":
		cfg.ExecutionPrice = domain.ExecuteAtOpen
	case domain.ExecuteAtOpen, domain.ExecuteAtClose:
	default:
		return nil, fmt.Errorf("%w: execution price must be open or close, got %q", domain.ErrConfig, cfg.ExecutionPrice)
	}
	if cfg.PeriodsPerYear == 0 {
		cfg.PeriodsPerYear = DefaultPeriodsPerYear
	}
	if cfg.PeriodsPerYear < 0 {
		return nil, fmt.Errorf("%w: periods per year must be positive, got %d", domain.ErrConfig, cfg.PeriodsPerYear)
	}
	if !(cfg.RebalanceBand >= 0 && cfg.RebalanceBand < 1) {
		return nil, fmt.Errorf("%w: rebalance band must be in [0, 1), got %v", domain.ErrConfig, cfg.RebalanceBand)
	}
	return &Backtester{cfg: cfg, log: slog.Default().With("component", "backtest")}, nil
}

// Config returns the effective configuration.
func (bt *Backtester) Config() Config { return bt.cfg }

// WithLogger returns a copy of bt that logs to log.
func (bt *Backtester) WithLogger(log *slog.Logger) *Backtester {
	cp := *bt
	cp.log = log.With("component", "backtest")
	return &cp
}

// Run simulates strat and pol over bars. The signal of bar t-1 drives the
// trade filled at bar t's execution price; bar 0 records the initial equity.
// Identical inputs always produce identical results.
func (bt *Backtester) Run(
	ctx context.Context,
	symbol string,
	bars []domain.Bar,
	strat strategy.Strategy,
	pol policy.Policy,
) (*domain.BacktestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := domain.ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("validating bars for %s: %w", symbol, err)
	}
	if strat == nil || pol == nil {
		return nil, fmt.Errorf("%w: strategy and policy are required", domain.ErrConfig)
	}

	series, err := strat.GenerateSignals(bars)
	if err != nil {
		return nil, fmt.Errorf("generating %s signals for %s: %w", strat.Name(), symbol, err)
	}
	if len(series.Signals) != len(bars) {
		return nil, fmt.Errorf("strategy %s returned %d signals for %d bars", strat.Name(), len(series.Signals), len(bars))
	}

	bt.log.Debug("run started", "symbol", symbol, "strategy", strat.Name(), "policy", pol.Name(), "bars", len(bars), "crosses", len(series.Crosses()))

	sim := broker.NewSimulatorBroker(bt.cfg.InitialCash)
	curve := make([]domain.EquityPoint, 0, len(bars))
	var trades []domain.Trade

	curve = append(curve, domain.EquityPoint{Date: bars[0].Timestamp, Equity: sim.State(bars[0].Close).Equity()})

	for t := 1; t < len(bars); t++ {
		if t%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		sig := series.Signals[t-1]
		if sig.Defined() {
			trade, ok, err := bt.step(sim, symbol, sig, bars[t-1], bars[t], pol)
			if err != nil {
				return nil, err
			}
			if ok {
				trades = append(trades, trade)
			}
		}

		curve = append(curve, domain.EquityPoint{Date: bars[t].Timestamp, Equity: sim.State(bars[t].Close).Equity()})
	}

	result := &domain.BacktestResult{
		Symbol:         symbol,
		Strategy:       strat.Name(),
		Policy:         pol.Name(),
		InitialCash:    bt.cfg.InitialCash,
		ExecutionPrice: bt.cfg.ExecutionPrice,
		Trades:         trades,
		EquityCurve:    curve,
		Metrics:        ComputeMetrics(curve, trades, bt.cfg.PeriodsPerYear),
	}

	bt.log.Debug("run finished", "symbol", symbol, "trades", len(trades), "final_equity", result.FinalEquity())
	return result, nil
}

// step asks the policy for a target on the signal of prev and fills the
// difference on next. It reports whether a trade was made.
func (bt *Backtester) step(
	sim *broker.SimulatorBroker,
	symbol string,
	sig domain.Signal,
	prev, next domain.Bar,
	pol policy.Policy,
) (domain.Trade, bool, error) {
	frac, err := pol.Decide(sig, sim.State(prev.Close))
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("policy %s on %s: %w", pol.Name(), prev.Timestamp.Format("2006-01-02"), err)
	}
	if math.IsNaN(frac) || frac < 0 || frac > 1 {
		return domain.Trade{}, false, fmt.Errorf("%w: policy %s returned fraction %v on %s",
			domain.ErrConfig, pol.Name(), frac, prev.Timestamp.Format("2006-01-02"))
	}

	price := bt.cfg.ExecutionPrice.PriceOf(next)
	held := sim.Shares()
	target := sim.TargetShares(frac, price)
	delta := target - held
	if delta == 0 {
		return domain.Trade{}, false, nil
	}

	if bt.cfg.RebalanceBand > 0 && held != 0 && target != 0 {
		equity := sim.State(price).Equity()
		if math.Abs(float64(delta))*price < bt.cfg.RebalanceBand*equity {
			return domain.Trade{}, false, nil
		}
	}

	side, qty := domain.SideBuy, delta
	if delta < 0 {
		side, qty = domain.SideSell, -delta
	}
	trade, err := sim.Execute(symbol, next.Timestamp, side, qty, price)
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("filling %s on %s: %w", side, next.Timestamp.Format("2006-01-02"), err)
	}
	return trade, true, nil
}
