package indicator

import (
	"fmt"
	"strconv"
	"strings"

	"meridian/internal/domain"
)

// Compute evaluates an indicator expression over closes and returns its
// output series keyed by name. Expressions take the form name[:arg...]:
//
//	sma:N, ema:N      -> "sma:N" / "ema:N"
//	rsi[:N]           -> "rsi"
//	macd[:F:S:SIG]    -> "macd", "macd_signal", "macd_hist"
//
// Omitted rsi and macd arguments take the conventional periods. Malformed
// expressions wrap domain.ErrInput.
func Compute(expr string, closes []float64) (map[string][]float64, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	name, rest, _ := strings.Cut(expr, ":")
	var args []int
	if rest != "" {
		for _, a := range strings.Split(rest, ":") {
			n, err := strconv.Atoi(a)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: indicator %q: bad period %q", domain.ErrInput, expr, a)
			}
			args = append(args, n)
		}
	}

	switch name {
	case "sma", "ema":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: indicator %q needs one window, e.g. %s:20", domain.ErrInput, expr, name)
		}
		return map[string][]float64{expr: MovingAverage(closes, args[0], MAType(name))}, nil
	case "rsi":
		if len(args) > 1 {
			return nil, fmt.Errorf("%w: indicator %q takes at most one window", domain.ErrInput, expr)
		}
		window := 0
		if len(args) == 1 {
			window = args[0]
		}
		return map[string][]float64{"rsi": RSI(closes, window)}, nil
	case "macd":
		if len(args) != 0 && len(args) != 3 {
			return nil, fmt.Errorf("%w: indicator %q takes fast, slow and signal periods", domain.ErrInput, expr)
		}
		var fast, slow, signal int
		if len(args) == 3 {
			fast, slow, signal = args[0], args[1], args[2]
		}
		m := MACD(closes, fast, slow, signal)
		return map[string][]float64{
			"macd":        m.MACD,
			"macd_signal": m.Signal,
			"macd_hist":   m.Histogram,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown indicator %q", domain.ErrInput, expr)
}
