// Package domain defines the core value types shared across meridian: bars,
// signals, portfolio state, trades, equity points and backtest results.
package domain

import "time"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one daily OHLCV summary for a symbol.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Closes returns the close prices of bars in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalType is the direction a strategy recommends.
type SignalType string

const (
	// SignalNone marks bars inside a strategy's warm-up window. No trading
	// decision may be taken on it.
	SignalNone  SignalType = ""
	SignalLong  SignalType = "long"
	SignalFlat  SignalType = "flat"
	SignalShort SignalType = "short"
)

// Signal is a strategy's recommendation as of the close of Date.
type Signal struct {
	Date     time.Time  `json:"date"`
	Type     SignalType `json:"type"`
	Strength float64    `json:"strength"`
	// Cross is true on the bar where the recommended direction changed.
	Cross bool `json:"cross,omitempty"`
}

// Defined reports whether the signal carries a direction.
func (s Signal) Defined() bool { return s.Type != SignalNone }

// SignalSeries holds one signal per input bar, aligned by index.
type SignalSeries struct {
	Strategy string   `json:"strategy"`
	Signals  []Signal `json:"signals"`
}

// Crosses returns the signals whose direction changed.
func (s SignalSeries) Crosses() []Signal {
	var out []Signal
	for _, sig := range s.Signals {
		if sig.Cross {
			out = append(out, sig)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// PortfolioState is the holdings of a single-instrument portfolio.
type PortfolioState struct {
	Cash      float64 `json:"cash"`
	Shares    int64   `json:"shares"`
	LastPrice float64 `json:"last_price"`
}

// Equity values the portfolio at LastPrice.
func (p PortfolioState) Equity() float64 {
	return p.Cash + float64(p.Shares)*p.LastPrice
}

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is one executed ledger entry. Trades are appended in order and never
// rewritten.
type Trade struct {
	Symbol      string    `json:"symbol"`
	Date        time.Time `json:"date"`
	Side        Side      `json:"side"`
	Price       float64   `json:"price"`
	Quantity    int64     `json:"quantity"`
	CashAfter   float64   `json:"cash_after"`
	SharesAfter int64     `json:"shares_after"`
}

// Notional returns price × quantity.
func (t Trade) Notional() float64 { return t.Price * float64(t.Quantity) }

// EquityPoint is the portfolio value at the close of Date.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// ExecutionPrice selects which price of the bar after a signal fills trades.
type ExecutionPrice string

const (
	ExecuteAtOpen  ExecutionPrice = "open"
	ExecuteAtClose ExecutionPrice = "close"
)

// PriceOf returns the execution price of bar b.
func (e ExecutionPrice) PriceOf(b Bar) float64 {
	if e == ExecuteAtClose {
		return b.Close
	}
	return b.Open
}

// Metrics summarises a backtest. Pointer fields are nil when the statistic is
// undefined for the input (for example a Sharpe ratio on a flat curve) and
// are then omitted from JSON.
type Metrics struct {
	TotalReturn      float64  `json:"total_return"`
	AnnualizedReturn float64  `json:"annualized_return"`
	MaxDrawdown      float64  `json:"max_drawdown"`
	SharpeRatio      *float64 `json:"sharpe_ratio,omitempty"`
	Volatility       float64  `json:"volatility"`
	WinRate          *float64 `json:"win_rate,omitempty"`
	ProfitFactor     *float64 `json:"profit_factor,omitempty"`
	TotalTrades      int      `json:"total_trades"`
	RoundTrips       int      `json:"round_trips"`
}

// BacktestResult is the output of one backtest run. It is never mutated after
// it is returned.
type BacktestResult struct {
	Symbol         string         `json:"symbol"`
	Strategy       string         `json:"strategy"`
	Policy         string         `json:"policy"`
	InitialCash    float64        `json:"initial_cash"`
	ExecutionPrice ExecutionPrice `json:"execution_price"`
	Trades         []Trade        `json:"trades"`
	EquityCurve    []EquityPoint  `json:"equity_curve"`
	Metrics        Metrics        `json:"metrics"`
}

// FinalEquity returns the last point of the equity curve, or zero.
func (r *BacktestResult) FinalEquity() float64 {
	if len(r.EquityCurve) == 0 {
		return 0
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Equity
}

// BacktestRun is a persisted backtest: the deterministic result plus the
// identity and parameters it was requested with.
type BacktestRun struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	StrategyParams map[string]any `json:"strategy_params,omitempty"`
	PolicyParams   map[string]any `json:"policy_params,omitempty"`
	Result         BacktestResult `json:"result"`
}
