package backtest

import (
	"math"

	"meridian/internal/domain"
)

// ComputeMetrics summarises an equity curve and its trade ledger. It is a
// pure function of its inputs. Statistics that are undefined for the input
// are left nil.
func ComputeMetrics(curve []domain.EquityPoint, trades []domain.Trade, periodsPerYear int) domain.Metrics {
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	m := domain.Metrics{TotalTrades: len(trades)}
	if len(curve) == 0 {
		return m
	}

	first, last := curve[0].Equity, curve[len(curve)-1].Equity
	if first > 0 {
		m.TotalReturn = last/first - 1
		if n := len(curve) - 1; n > 0 && last > 0 {
			m.AnnualizedReturn = math.Pow(last/first, float64(periodsPerYear)/float64(n)) - 1
		}
	}
	m.MaxDrawdown = maxDrawdown(curve)

	returns := periodReturns(curve)
	if len(returns) >= 2 {
		mean, sd := meanStdDev(returns)
		annual := math.Sqrt(float64(periodsPerYear))
		m.Volatility = sd * annual
		if sd > 0 {
			sharpe := mean / sd * annual
			m.SharpeRatio = &sharpe
		}
	}

	trips := roundTrips(trades)
	m.RoundTrips = len(trips)
	if len(trips) > 0 {
		var wins int
		var grossWin, grossLoss float64
		for _, pnl := range trips {
			switch {
			case pnl > 0:
				wins++
				grossWin += pnl
			case pnl < 0:
				grossLoss -= pnl
			}
		}
		winRate := float64(wins) / float64(len(trips))
		m.WinRate = &winRate
		if grossLoss > 0 {
			pf := grossWin / grossLoss
			m.ProfitFactor = &pf
		}
	}
	return m
}

// maxDrawdown returns the largest peak-to-trough decline as a non-positive
// fraction of the peak.
func maxDrawdown(curve []domain.EquityPoint) float64 {
	peak := curve[0].Equity
	worst := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := p.Equity/peak - 1; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

func periodReturns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// meanStdDev returns the mean and sample standard deviation of xs.
func meanStdDev(xs []float64) (mean, sd float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

// roundTrips matches sells against earlier buys first-in first-out and
// returns the realised P&L of every flat-to-flat round trip. A position still
// open at the end of the ledger is not counted.
func roundTrips(trades []domain.Trade) []float64 {
	type lot struct {
		qty   int64
		price float64
	}
	var (
		lots []lot
		held int64
		pnl  float64
		out  []float64
	)
	for _, tr := range trades {
		switch tr.Side {
		case domain.SideBuy:
			lots = append(lots, lot{qty: tr.Quantity, price: tr.Price})
			held += tr.Quantity
		case domain.SideSell:
			remaining := tr.Quantity
			for remaining > 0 && len(lots) > 0 {
				n := min(remaining, lots[0].qty)
				pnl += float64(n) * (tr.Price - lots[0].price)
				lots[0].qty -= n
				remaining -= n
				held -= n
				if lots[0].qty == 0 {
					lots = lots[1:]
				}
			}
			if held == 0 {
				out = append(out, pnl)
				pnl = 0
			}
		}
	}
	return out
}
