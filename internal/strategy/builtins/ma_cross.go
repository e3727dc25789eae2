// Package builtins provides built-in strategy implementations that ship with
// the meridian platform.
package builtins

import (
	"fmt"
	"math"

	"meridian/internal/domain"
	"meridian/internal/indicator"
	"meridian/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MACross)(nil)

// MACrossName is the registry name of the moving-average crossover strategy.
const MACrossName = "ma-cross"

// CrossMode selects what a downward cross recommends.
type CrossMode string

const (
	// ModeLongFlat emits FLAT when the fast average falls below the slow one.
	ModeLongFlat CrossMode = "long-flat"
	// ModeLongShort emits SHORT when the fast average falls below the slow one.
	ModeLongShort CrossMode = "long-short"
)

// DefaultStrengthScale is the relative fast/slow gap that maps to a strength
// of roughly 0.76 (tanh(1)).
const DefaultStrengthScale = 0.02

// MACrossParams configures an MACross strategy.
type MACrossParams struct {
	FastWindow    int
	SlowWindow    int
	MAType        indicator.MAType
	Mode          CrossMode
	StrengthScale float64
}

// MACross implements a moving average crossover strategy. It recommends LONG
// once the fast average rises above the slow average and FLAT (or SHORT)
// once it falls below. Equal averages keep the previous recommendation.
type MACross struct {
	params MACrossParams
}

// NewMACross validates params and creates the strategy. Zero values for
// MAType, Mode and StrengthScale select SMA, long-flat and
// DefaultStrengthScale.
func NewMACross(p MACrossParams) (*MACross, error) {
	if p.FastWindow < 1 || p.SlowWindow < 1 {
		return nil, fmt.Errorf("%w: ma-cross windows must be >= 1 (fast=%d, slow=%d)",
			domain.ErrConfig, p.FastWindow, p.SlowWindow)
	}
	if p.FastWindow >= p.SlowWindow {
		return nil, fmt.Errorf("%w: ma-cross fast window %d must be less than slow window %d",
			domain.ErrConfig, p.FastWindow, p.SlowWindow)
	}
	if p.MAType == "" {
		p.MAType = indicator.SMA
	}
	if p.MAType != indicator.SMA && p.MAType != indicator.EMA {
		return nil, fmt.Errorf("%w: ma-cross unknown ma type %q", domain.ErrConfig, p.MAType)
	}
	switch p.Mode {
	case "":
		p.Mode = ModeLongFlat
	case ModeLongFlat, ModeLongShort:
	default:
		return nil, fmt.Errorf("%w: ma-cross unknown mode %q", domain.ErrConfig, p.Mode)
	}
	if p.StrengthScale == 0 {
		p.StrengthScale = DefaultStrengthScale
	}
	if !(p.StrengthScale > 0) || math.IsInf(p.StrengthScale, 0) {
		return nil, fmt.Errorf("%w: ma-cross strength scale must be positive, got %v",
			domain.ErrConfig, p.StrengthScale)
	}
	return &MACross{params: p}, nil
}

// NewMACrossFromParams is the registry factory for MACross. Recognised keys:
// fast_window, slow_window, ma_type, mode, strength_scale.
func NewMACrossFromParams(params domain.Params) (strategy.Strategy, error) {
	fast, err := params.Int("fast_window", 0)
	if err != nil {
		return nil, err
	}
	slow, err := params.Int("slow_window", 0)
	if err != nil {
		return nil, err
	}
	maType, err := params.String("ma_type", "")
	if err != nil {
		return nil, err
	}
	typ, err := indicator.ParseMAType(maType)
	if err != nil {
		return nil, err
	}
	mode, err := params.String("mode", "")
	if err != nil {
		return nil, err
	}
	scale, err := params.Float("strength_scale", 0)
	if err != nil {
		return nil, err
	}
	return NewMACross(MACrossParams{
		FastWindow:    fast,
		SlowWindow:    slow,
		MAType:        typ,
		Mode:          CrossMode(mode),
		StrengthScale: scale,
	})
}

// Name returns "ma-cross".
func (s *MACross) Name() string {
	return MACrossName
}

// Params returns the validated configuration.
func (s *MACross) Params() MACrossParams {
	return s.params
}

// GenerateSignals computes both averages over closing prices and emits one
// signal per bar. Bars before the slow average is defined carry SignalNone.
func (s *MACross) GenerateSignals(bars []domain.Bar) (domain.SignalSeries, error) {
	closes := domain.Closes(bars)
	fast := indicator.MovingAverage(closes, s.params.FastWindow, s.params.MAType)
	slow := indicator.MovingAverage(closes, s.params.SlowWindow, s.params.MAType)

	down := domain.SignalFlat
	if s.params.Mode == ModeLongShort {
		down = domain.SignalShort
	}

	out := domain.SignalSeries{
		Strategy: s.Name(),
		Signals:  make([]domain.Signal, len(bars)),
	}
	// The regime starts flat: the first defined bar with fast above slow
	// counts as an upward cross.
	regime := domain.SignalFlat
	for i := range bars {
		sig := domain.Signal{Date: bars[i].Timestamp}
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			out.Signals[i] = sig
			continue
		}

		diff := fast[i] - slow[i]
		next := regime
		switch {
		case diff > 0:
			next = domain.SignalLong
		case diff < 0:
			next = down
		}

		sig.Type = next
		sig.Cross = next != regime
		sig.Strength = s.strength(diff, slow[i])
		regime = next
		out.Signals[i] = sig
	}
	return out, nil
}

// strength maps the size of the relative gap |fast-slow|/slow monotonically
// into [0, 1]. The sign of the gap is carried by the regime, so a deep
// downward gap is a strong FLAT (or SHORT). Equal averages give 0.
func (s *MACross) strength(diff, slow float64) float64 {
	if slow == 0 {
		return 0
	}
	v := math.Tanh(math.Abs(diff/slow) / s.params.StrengthScale)
	return math.Min(1, v)
}

// Register adds the built-in strategies to r.
func Register(r *strategy.Registry) {
	r.Register(MACrossName, NewMACrossFromParams)
}
