package builtins

import (
	"errors"
	"math"
	"testing"
	"time"

	"meridian/internal/domain"
	"meridian/internal/indicator"
	"meridian/internal/strategy"
)

func barsFromCloses(closes []float64) []domain.Bar {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func mustMACross(t *testing.T, fast, slow int) *MACross {
	t.Helper()
	s, err := NewMACross(MACrossParams{FastWindow: fast, SlowWindow: slow})
	if err != nil {
		t.Fatalf("NewMACross(%d, %d): %v", fast, slow, err)
	}
	return s
}

func TestNewMACrossValidation(t *testing.T) {
	tests := []struct {
		name string
		p    MACrossParams
	}{
		{"fast equals slow", MACrossParams{FastWindow: 20, SlowWindow: 20}},
		{"fast above slow", MACrossParams{FastWindow: 30, SlowWindow: 20}},
		{"zero fast", MACrossParams{FastWindow: 0, SlowWindow: 20}},
		{"negative slow", MACrossParams{FastWindow: 5, SlowWindow: -1}},
		{"unknown ma type", MACrossParams{FastWindow: 5, SlowWindow: 20, MAType: "wma"}},
		{"unknown mode", MACrossParams{FastWindow: 5, SlowWindow: 20, Mode: "short-only"}},
		{"negative scale", MACrossParams{FastWindow: 5, SlowWindow: 20, StrengthScale: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMACross(tt.p)
			if !errors.Is(err, domain.ErrConfig) {
				t.Errorf("NewMACross error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestNewMACrossDefaults(t *testing.T) {
	s := mustMACross(t, 5, 20)
	p := s.Params()
	if p.MAType != indicator.SMA || p.Mode != ModeLongFlat || p.StrengthScale != DefaultStrengthScale {
		t.Errorf("defaults = %+v", p)
	}
	if s.Name() != "ma-cross" {
		t.Errorf("Name() = %q, want ma-cross", s.Name())
	}
}

func TestRegisterAndFactory(t *testing.T) {
	r := strategy.NewRegistry()
	Register(r)

	s, err := r.New(MACrossName, domain.Params{"fast_window": 5, "slow_window": float64(20), "ma_type": "ema"})
	if err != nil {
		t.Fatalf("New(ma-cross): %v", err)
	}
	mc := s.(*MACross)
	if mc.Params().FastWindow != 5 || mc.Params().SlowWindow != 20 || mc.Params().MAType != indicator.EMA {
		t.Errorf("factory params = %+v", mc.Params())
	}

	if _, err := r.New(MACrossName, domain.Params{"fast_window": 20, "slow_window": 5}); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("New with inverted windows error = %v, want ErrConfig", err)
	}
	if _, err := r.New(MACrossName, domain.Params{"fast_window": "five", "slow_window": 20}); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("New with text window error = %v, want ErrConfig", err)
	}
}

func TestGenerateSignalsWarmUp(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	s := mustMACross(t, 5, 20)
	series, err := s.GenerateSignals(barsFromCloses(closes))
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	if len(series.Signals) != len(closes) {
		t.Fatalf("got %d signals, want %d", len(series.Signals), len(closes))
	}
	for i := 0; i < 19; i++ {
		if series.Signals[i].Defined() {
			t.Errorf("signal %d defined during warm-up: %+v", i, series.Signals[i])
		}
	}
	first := series.Signals[19]
	if first.Type != domain.SignalLong || !first.Cross {
		t.Errorf("first defined signal = %+v, want LONG cross", first)
	}
	if first.Strength <= 0 || first.Strength > 1 {
		t.Errorf("LONG strength = %v, want in (0, 1]", first.Strength)
	}
	if got := len(series.Crosses()); got != 1 {
		t.Errorf("uptrend produced %d crosses, want 1", got)
	}
}

func TestGenerateSignalsShortSeries(t *testing.T) {
	s := mustMACross(t, 5, 20)
	series, err := s.GenerateSignals(barsFromCloses([]float64{1, 2, 3}))
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	for i, sig := range series.Signals {
		if sig.Defined() {
			t.Errorf("signal %d defined on a series shorter than the slow window", i)
		}
	}
}

func TestGenerateSignalsTieDoesNotCross(t *testing.T) {
	// Rise, plateau long enough for both averages to coincide, rise again.
	var closes []float64
	for i := 0; i < 25; i++ {
		closes = append(closes, float64(100+i))
	}
	for i := 0; i < 30; i++ {
		closes = append(closes, 124)
	}
	for i := 0; i < 10; i++ {
		closes = append(closes, float64(125+i))
	}

	s := mustMACross(t, 5, 20)
	series, err := s.GenerateSignals(barsFromCloses(closes))
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}

	sawTie := false
	for i := 19; i < len(closes); i++ {
		sig := series.Signals[i]
		if sig.Type != domain.SignalLong {
			t.Fatalf("signal %d = %+v, want LONG throughout", i, sig)
		}
		if sig.Strength == 0 {
			sawTie = true
		}
	}
	if !sawTie {
		t.Fatal("expected at least one bar with equal averages")
	}
	if got := len(series.Crosses()); got != 1 {
		t.Errorf("got %d crosses, want only the initial one", got)
	}
}

func TestGenerateSignalsFlatStartThenRise(t *testing.T) {
	var closes []float64
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	for i := 1; i <= 10; i++ {
		closes = append(closes, float64(100+i))
	}

	s := mustMACross(t, 5, 20)
	series, err := s.GenerateSignals(barsFromCloses(closes))
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	for i := 19; i < 30; i++ {
		sig := series.Signals[i]
		if sig.Type != domain.SignalFlat || sig.Cross || sig.Strength != 0 {
			t.Errorf("signal %d = %+v, want FLAT tie without cross", i, sig)
		}
	}
	crosses := series.Crosses()
	if len(crosses) != 1 {
		t.Fatalf("got %d crosses, want 1", len(crosses))
	}
	if !crosses[0].Date.Equal(series.Signals[30].Date) || crosses[0].Type != domain.SignalLong {
		t.Errorf("cross = %+v, want LONG on bar 30", crosses[0])
	}
}

func vShape(n, turn int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		if i < turn {
			closes[i] = 200 - float64(i)
		} else {
			closes[i] = 200 - float64(turn) + float64(i-turn)
		}
	}
	return closes
}

func TestGenerateSignalsModes(t *testing.T) {
	// Down first, then up, then down again.
	var closes []float64
	for i := 0; i < 40; i++ {
		closes = append(closes, 200-float64(i))
	}
	for i := 0; i < 40; i++ {
		closes = append(closes, 160+float64(i))
	}
	for i := 0; i < 40; i++ {
		closes = append(closes, 200-float64(i))
	}
	bars := barsFromCloses(closes)

	flat := mustMACross(t, 5, 20)
	fs, _ := flat.GenerateSignals(bars)
	for _, sig := range fs.Signals {
		if sig.Type == domain.SignalShort {
			t.Fatal("long-flat mode emitted SHORT")
		}
	}
	fc := fs.Crosses()
	if len(fc) != 2 || fc[0].Type != domain.SignalLong || fc[1].Type != domain.SignalFlat {
		t.Errorf("long-flat crosses = %+v, want [LONG FLAT]", fc)
	}

	short, err := NewMACross(MACrossParams{FastWindow: 5, SlowWindow: 20, Mode: ModeLongShort})
	if err != nil {
		t.Fatal(err)
	}
	ss, _ := short.GenerateSignals(bars)
	sc := ss.Crosses()
	if len(sc) != 3 || sc[0].Type != domain.SignalShort || sc[1].Type != domain.SignalLong || sc[2].Type != domain.SignalShort {
		t.Errorf("long-short crosses = %+v, want [SHORT LONG SHORT]", sc)
	}
	for _, sig := range ss.Signals {
		if sig.Type == domain.SignalFlat {
			t.Fatal("long-short mode emitted FLAT")
		}
	}
}

func TestGenerateSignalsStrengthMonotone(t *testing.T) {
	s := mustMACross(t, 5, 20)
	prev := -1.0
	for _, diff := range []float64{0, 0.5, 1, 5, 50} {
		v := s.strength(diff, 100)
		if v < 0 || v > 1 {
			t.Errorf("strength(%v) = %v out of [0,1]", diff, v)
		}
		if v <= prev {
			t.Errorf("strength(%v) = %v not above previous %v", diff, v, prev)
		}
		if down := s.strength(-diff, 100); down != v {
			t.Errorf("strength(%v) = %v, want %v (same gap size)", -diff, down, v)
		}
		prev = v
	}
	if s.strength(0, 100) != 0 {
		t.Error("strength at equal averages should be 0")
	}
	if s.strength(5, 0) != 0 {
		t.Error("strength with a zero slow average should be 0")
	}
}

func TestGenerateSignalsStrongFlat(t *testing.T) {
	// A sharp decline opens a wide downward gap.
	closes := vShape(60, 60)
	s := mustMACross(t, 5, 20)
	series, err := s.GenerateSignals(barsFromCloses(closes))
	if err != nil {
		t.Fatalf("GenerateSignals: %v", err)
	}
	strong := 0
	for _, sig := range series.Signals {
		if sig.Type == domain.SignalLong {
			t.Fatalf("decline produced LONG signal %+v", sig)
		}
		if sig.Type == domain.SignalFlat && sig.Strength > 0.9 {
			strong++
		}
	}
	if strong == 0 {
		t.Error("no FLAT signal with strength above 0.9 on a steep decline")
	}
}

func TestGenerateSignalsUsesOnlyPastBars(t *testing.T) {
	closes := vShape(80, 40)
	bars := barsFromCloses(closes)
	s := mustMACross(t, 5, 20)
	base, _ := s.GenerateSignals(bars)

	const cut = 50
	perturbed := barsFromCloses(closes)
	for i := cut + 1; i < len(perturbed); i++ {
		perturbed[i].Close *= 3
	}
	got, _ := s.GenerateSignals(perturbed)
	for i := 0; i <= cut; i++ {
		a, b := base.Signals[i], got.Signals[i]
		if a.Type != b.Type || a.Cross != b.Cross || math.Abs(a.Strength-b.Strength) > 1e-12 {
			t.Fatalf("signal %d changed after perturbing later bars: %+v vs %+v", i, a, b)
		}
	}
}
