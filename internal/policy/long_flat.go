package policy

import (
	"fmt"

	"meridian/internal/domain"
)

// Compile-time interface check.
var _ Policy = (*LongFlatAllIn)(nil)

// LongFlatAllInName is the registry name of LongFlatAllIn.
const LongFlatAllInName = "long-flat-all-in"

// LongFlatAllInConfig configures LongFlatAllIn.
//
//   - MaxLongPct: fraction of equity held while long, in (0, 1].
//   - MinStrength: weakest LONG signal still acted upon, in [0, 1].
type LongFlatAllInConfig struct {
	MaxLongPct  float64
	MinStrength float64
}

// LongFlatAllIn holds MaxLongPct of equity on a sufficiently strong LONG
// signal and nothing otherwise. It never shorts: a SHORT signal is rejected
// with domain.ErrUnsupportedSignal rather than reinterpreted.
type LongFlatAllIn struct {
	cfg LongFlatAllInConfig
}

// NewLongFlatAllIn validates cfg and creates the policy.
func NewLongFlatAllIn(cfg LongFlatAllInConfig) (*LongFlatAllIn, error) {
	if !(cfg.MaxLongPct > 0 && cfg.MaxLongPct <= 1) {
		return nil, fmt.Errorf("%w: max_long_pct must be in (0, 1], got %v", domain.ErrConfig, cfg.MaxLongPct)
	}
	if !(cfg.MinStrength >= 0 && cfg.MinStrength <= 1) {
		return nil, fmt.Errorf("%w: min_strength must be in [0, 1], got %v", domain.ErrConfig, cfg.MinStrength)
	}
	return &LongFlatAllIn{cfg: cfg}, nil
}

// NewLongFlatAllInFromParams is the registry factory. Recognised keys:
// max_long_pct (default 1) and min_strength (default 0).
func NewLongFlatAllInFromParams(params domain.Params) (Policy, error) {
	maxLong, err := params.Float("max_long_pct", 1)
	if err != nil {
		return nil, err
	}
	minStrength, err := params.Float("min_strength", 0)
	if err != nil {
		return nil, err
	}
	return NewLongFlatAllIn(LongFlatAllInConfig{MaxLongPct: maxLong, MinStrength: minStrength})
}

// Name returns "long-flat-all-in".
func (p *LongFlatAllIn) Name() string { return LongFlatAllInName }

// Config returns the validated configuration.
func (p *LongFlatAllIn) Config() LongFlatAllInConfig { return p.cfg }

// Decide returns MaxLongPct for a LONG signal at or above MinStrength and 0
// for FLAT or weaker LONG signals.
func (p *LongFlatAllIn) Decide(sig domain.Signal, _ domain.PortfolioState) (float64, error) {
	switch sig.Type {
	case domain.SignalLong:
		if sig.Strength >= p.cfg.MinStrength {
			return p.cfg.MaxLongPct, nil
		}
		return 0, nil
	case domain.SignalFlat:
		return 0, nil
	case domain.SignalShort:
		return 0, fmt.Errorf("%w: %s does not take short positions (signal on %s)",
			domain.ErrUnsupportedSignal, p.Name(), sig.Date.Format("2006-01-02"))
	default:
		return 0, fmt.Errorf("%w: %s received an undefined signal on %s",
			domain.ErrUnsupportedSignal, p.Name(), sig.Date.Format("2006-01-02"))
	}
}
