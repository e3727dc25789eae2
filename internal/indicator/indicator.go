// Package indicator computes technical indicator series over closing prices.
// Every output is aligned 1:1 with its input; positions inside an
// indicator's lookback window are NaN.
package indicator

import (
	"fmt"
	"math"
	"strings"

	talib "github.com/markcheno/go-talib"

	"meridian/internal/domain"
)

// MAType selects the moving-average flavour.
type MAType string

const (
	SMA MAType = "sma"
	EMA MAType = "ema"
)

// ParseMAType parses "sma" or "ema" (case-insensitive). The empty string
// selects SMA.
func ParseMAType(s string) (MAType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sma":
		return SMA, nil
	case "ema":
		return EMA, nil
	}
	return "", fmt.Errorf("%w: unknown moving average type %q", domain.ErrConfig, s)
}

// MovingAverage returns the moving average of in over window bars.
func MovingAverage(in []float64, window int, typ MAType) []float64 {
	if typ == EMA {
		return ExponentialMA(in, window)
	}
	return SimpleMA(in, window)
}

// SimpleMA returns the window-bar simple moving average. The first window-1
// values are NaN.
func SimpleMA(in []float64, window int) []float64 {
	if window < 1 || len(in) < window {
		return nanSeries(len(in))
	}
	return maskLookback(talib.Sma(in, window), window-1)
}

// ExponentialMA returns the window-bar exponential moving average seeded
// with the simple average of the first window values.
func ExponentialMA(in []float64, window int) []float64 {
	if window < 1 || len(in) < window {
		return nanSeries(len(in))
	}
	return maskLookback(talib.Ema(in, window), window-1)
}

// MACDSeries holds the three MACD outputs.
type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD returns the moving average convergence/divergence of in using the
// conventional fast, slow and signal EMA periods (12, 26, 9 by default when
// zero is passed).
func MACD(in []float64, fast, slow, signal int) MACDSeries {
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if signal <= 0 {
		signal = 9
	}
	if fast > slow {
		fast, slow = slow, fast
	}
	lookback := (slow - 1) + (signal - 1)
	if len(in) <= lookback {
		n := len(in)
		return MACDSeries{MACD: nanSeries(n), Signal: nanSeries(n), Histogram: nanSeries(n)}
	}
	m, s, h := talib.Macd(in, fast, slow, signal)
	return MACDSeries{
		MACD:      maskLookback(m, lookback),
		Signal:    maskLookback(s, lookback),
		Histogram: maskLookback(h, lookback),
	}
}

// RSI returns the Wilder relative strength index over window bars (14 by
// default when zero is passed). The first window values are NaN.
func RSI(in []float64, window int) []float64 {
	if window <= 0 {
		window = 14
	}
	if len(in) <= window {
		return nanSeries(len(in))
	}
	return maskLookback(talib.Rsi(in, window), window)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// maskLookback replaces the leading lookback values (talib leaves zeros
// there) with NaN.
func maskLookback(out []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out
}
