package domain

import (
	"fmt"
	"math"
)

// ValidateBars checks that bars form a usable daily series: non-empty,
// strictly increasing timestamps, positive finite prices and non-negative
// volume. Errors wrap ErrInput.
func ValidateBars(bars []Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty bar series", ErrInput)
	}
	for i := range bars {
		b := &bars[i]
		if b.Timestamp.IsZero() {
			return fmt.Errorf("%w: bar %d has no timestamp", ErrInput, i)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bar %d (%s) is not after bar %d (%s)", ErrInput,
				i, b.Timestamp.Format("2006-01-02"), i-1, bars[i-1].Timestamp.Format("2006-01-02"))
		}
		for _, p := range [...]struct {
			name  string
			value float64
		}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}} {
			if !(p.value > 0) || math.IsInf(p.value, 0) {
				return fmt.Errorf("%w: bar %d (%s) has non-positive %s %v", ErrInput,
					i, b.Timestamp.Format("2006-01-02"), p.name, p.value)
			}
		}
		if b.Volume < 0 {
			return fmt.Errorf("%w: bar %d (%s) has negative volume %d", ErrInput,
				i, b.Timestamp.Format("2006-01-02"), b.Volume)
		}
	}
	return nil
}
