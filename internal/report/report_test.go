package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"meridian/internal/domain"
	"meridian/internal/engine"
)

func TestFormatters(t *testing.T) {
	half := 0.5
	tests := []struct {
		got, want string
	}{
		{FormatInt(0), "0"},
		{FormatInt(999), "999"},
		{FormatInt(1234567), "1,234,567"},
		{FormatInt(-1000), "-1,000"},
		{FormatMoney(100000), "100,000.00"},
		{FormatMoney(17.756), "17.76"},
		{FormatMoney(-1234.5), "-1,234.50"},
		{FormatPct(0.1234), "+12.34%"},
		{FormatPct(-0.05), "-5.00%"},
		{FormatOptPct(nil), "-"},
		{FormatOptPct(&half), "50.00%"},
		{FormatRatio(nil), "-"},
		{FormatRatio(&half), "0.50"},
		{FormatParams(nil), "-"},
		{FormatParams(map[string]any{"slow_window": 20, "fast_window": 5}), "fast_window=5 slow_window=20"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func sampleRun() *domain.BacktestRun {
	d := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	sharpe := 1.25
	return &domain.BacktestRun{
		ID:             "run-1",
		CreatedAt:      d,
		Start:          d,
		End:            d.AddDate(0, 0, 2),
		StrategyParams: map[string]any{"fast_window": 5, "slow_window": 20},
		Result: domain.BacktestResult{
			Symbol:         "SPY",
			Strategy:       "ma-cross",
			Policy:         "long-flat-all-in",
			InitialCash:    100000,
			ExecutionPrice: domain.ExecuteAtOpen,
			Trades: []domain.Trade{
				{Symbol: "SPY", Date: d.AddDate(0, 0, 1), Side: domain.SideBuy, Price: 100, Quantity: 1000, CashAfter: 0, SharesAfter: 1000},
			},
			EquityCurve: []domain.EquityPoint{{Date: d, Equity: 100000}, {Date: d.AddDate(0, 0, 1), Equity: 101000}, {Date: d.AddDate(0, 0, 2), Equity: 102000}},
			Metrics:     domain.Metrics{TotalReturn: 0.02, SharpeRatio: &sharpe, TotalTrades: 1},
		},
	}
}

func TestWriteRun(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRun(&buf, sampleRun(), true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"run-1", "2023-01-02 .. 2023-01-04 (3 bars)", "fast_window=5 slow_window=20",
		"102,000.00", "+2.00%", "1.25", "Win rate", "DATE", "100,000.00", "1,000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	WriteRun(&buf, sampleRun(), false)
	if strings.Contains(buf.String(), "DATE") {
		t.Error("ledger printed without trades flag")
	}
}

func TestWriteRunsAndSweep(t *testing.T) {
	run := sampleRun()
	var buf bytes.Buffer
	if err := WriteRuns(&buf, []domain.BacktestRun{*run}); err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(strings.TrimSpace(buf.String()), "\n"); len(lines) != 2 || !strings.Contains(lines[1], "run-1") {
		t.Errorf("runs table = %q", buf.String())
	}

	buf.Reset()
	err := WriteSweep(&buf, []engine.SweepEntry{
		{Params: map[string]any{"fast_window": 5}, Run: run},
		{Params: map[string]any{"fast_window": 20}, Error: "fast window must be less than slow window"},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "+2.00%") || !strings.Contains(out, "error: fast window") {
		t.Errorf("sweep table = %q", out)
	}
}
