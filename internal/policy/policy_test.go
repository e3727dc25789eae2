package policy

import (
	"errors"
	"testing"

	"meridian/internal/domain"
)

func TestNewLongFlatAllInValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  LongFlatAllInConfig
		ok   bool
	}{
		{"full", LongFlatAllInConfig{MaxLongPct: 1, MinStrength: 0.5}, true},
		{"bounds", LongFlatAllInConfig{MaxLongPct: 0.01, MinStrength: 1}, true},
		{"zero max", LongFlatAllInConfig{MaxLongPct: 0}, false},
		{"max above one", LongFlatAllInConfig{MaxLongPct: 1.5}, false},
		{"negative strength", LongFlatAllInConfig{MaxLongPct: 1, MinStrength: -0.1}, false},
		{"strength above one", LongFlatAllInConfig{MaxLongPct: 1, MinStrength: 1.1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLongFlatAllIn(tt.cfg)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrConfig) {
				t.Fatalf("error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestLongFlatAllInDecide(t *testing.T) {
	p, err := NewLongFlatAllIn(LongFlatAllInConfig{MaxLongPct: 0.8, MinStrength: 0.6})
	if err != nil {
		t.Fatal(err)
	}
	state := domain.PortfolioState{Cash: 1000}

	tests := []struct {
		sig  domain.Signal
		want float64
	}{
		{domain.Signal{Type: domain.SignalLong, Strength: 0.9}, 0.8},
		{domain.Signal{Type: domain.SignalLong, Strength: 0.6}, 0.8},
		{domain.Signal{Type: domain.SignalLong, Strength: 0.59}, 0},
		{domain.Signal{Type: domain.SignalFlat, Strength: 0.1}, 0},
	}
	for _, tt := range tests {
		got, err := p.Decide(tt.sig, state)
		if err != nil {
			t.Fatalf("Decide(%+v) returned error: %v", tt.sig, err)
		}
		if got != tt.want {
			t.Errorf("Decide(%+v) = %v, want %v", tt.sig, got, tt.want)
		}
	}
}

func TestLongFlatAllInRejectsShortAndWarmUp(t *testing.T) {
	p, _ := NewLongFlatAllIn(LongFlatAllInConfig{MaxLongPct: 1})

	if _, err := p.Decide(domain.Signal{Type: domain.SignalShort, Strength: 0.1}, domain.PortfolioState{}); !errors.Is(err, domain.ErrUnsupportedSignal) {
		t.Errorf("Decide(SHORT) error = %v, want ErrUnsupportedSignal", err)
	}
	if _, err := p.Decide(domain.Signal{}, domain.PortfolioState{}); !errors.Is(err, domain.ErrUnsupportedSignal) {
		t.Errorf("Decide(undefined) error = %v, want ErrUnsupportedSignal", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if names := r.List(); len(names) != 1 || names[0] != LongFlatAllInName {
		t.Fatalf("List() = %v", names)
	}

	p, err := r.New(LongFlatAllInName, domain.Params{"min_strength": 0.5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := p.(*LongFlatAllIn).Config()
	if cfg.MaxLongPct != 1 || cfg.MinStrength != 0.5 {
		t.Errorf("config = %+v, want defaults with min_strength 0.5", cfg)
	}

	if _, err := r.New(LongFlatAllInName, domain.Params{"max_long_pct": 2}); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("New(max_long_pct=2) error = %v, want ErrConfig", err)
	}
	if _, err := r.New("kelly", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("New(kelly) error = %v, want ErrNotFound", err)
	}
}
