// Package report renders backtest runs, run listings and sweep results as
// plain-text tables for the command-line tools.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) > 3 {
		var b strings.Builder
		start := len(s) % 3
		if start > 0 {
			b.WriteString(s[:start])
		}
		for i := start; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatMoney formats a cash amount with comma separators and two decimals.
func FormatMoney(v float64) string {
	cents := int64(math.Round(math.Abs(v) * 100))
	s := fmt.Sprintf("%s.%02d", FormatInt(cents/100), cents%100)
	if v < 0 && cents != 0 {
		return "-" + s
	}
	return s
}

// FormatPct formats a fraction as a signed percentage, "+12.34%".
func FormatPct(f float64) string {
	return fmt.Sprintf("%+.2f%%", f*100)
}

// FormatOptPct formats an optional fraction as a percentage, or "-" when it
// is undefined.
func FormatOptPct(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *f*100)
}

// FormatRatio formats an optional ratio to two decimals, or "-" when it is
// undefined.
func FormatRatio(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *f)
}

// FormatParams renders parameters as sorted key=value pairs.
func FormatParams(p map[string]any) string {
	if len(p) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return strings.Join(parts, " ")
}
