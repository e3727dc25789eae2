package api

import (
	"fmt"
	"math"
	"strings"
	"time"

	"meridian/internal/domain"
	"meridian/internal/engine"
	"meridian/internal/indicator"
	"meridian/internal/live"
	"meridian/internal/store"
)

// BacktestRequest is the body of POST /api/v1/backtests and the RunBacktest
// RPC. Dates are YYYY-MM-DD or RFC 3339; empty fields take server defaults.
type BacktestRequest struct {
	Symbol string `json:"symbol"`
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`

	Strategy       string         `json:"strategy,omitempty"`
	StrategyParams map[string]any `json:"strategy_params,omitempty"`
	Policy         string         `json:"policy,omitempty"`
	PolicyParams   map[string]any `json:"policy_params,omitempty"`

	InitialCash    float64 `json:"initial_cash,omitempty"`
	ExecutionPrice string  `json:"execution_price,omitempty"`
	RebalanceBand  float64 `json:"rebalance_band,omitempty"`
	Refresh        bool    `json:"refresh,omitempty"`
}

// SweepRequest is the body of POST /api/v1/sweeps.
type SweepRequest struct {
	BacktestRequest
	Grid map[string][]any `json:"grid"`
}

// ListRunsRequest filters GET /api/v1/backtests and the ListRuns RPC.
type ListRunsRequest struct {
	Symbol   string `json:"symbol,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// GetRunRequest is the GetRun RPC input.
type GetRunRequest struct {
	ID string `json:"id"`
}

// RunsResponse lists runs.
type RunsResponse struct {
	Runs []domain.BacktestRun `json:"runs"`
}

// SweepResponse lists sweep outcomes in grid order.
type SweepResponse struct {
	Entries []engine.SweepEntry `json:"entries"`
}

// ComponentsResponse lists the registered strategies and policies.
type ComponentsResponse struct {
	Strategies []string `json:"strategies"`
	Policies   []string `json:"policies"`
}

// BarsResponse carries daily bars for one symbol and any requested
// indicator series, aligned with Bars. Warm-up positions are null.
type BarsResponse struct {
	Symbol     string                `json:"symbol"`
	Bars       []domain.Bar          `json:"bars"`
	Indicators map[string][]*float64 `json:"indicators,omitempty"`
}

// indicatorSeries evaluates each comma-separated expression in list over the
// closes of bars.
func indicatorSeries(list string, bars []domain.Bar) (map[string][]*float64, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	closes := domain.Closes(bars)
	out := make(map[string][]*float64)
	for _, expr := range strings.Split(list, ",") {
		series, err := indicator.Compute(expr, closes)
		if err != nil {
			return nil, err
		}
		for name, values := range series {
			col := make([]*float64, len(values))
			for i, v := range values {
				if !math.IsNaN(v) {
					col[i] = &v
				}
			}
			out[name] = col
		}
	}
	return out, nil
}

// RecentResponse carries the retained run events.
type RecentResponse struct {
	Runs []live.RunEvent `json:"runs"`
}

// Message is the envelope pushed to WebSocket clients.
type Message struct {
	Type string        `json:"type"`
	Run  live.RunEvent `json:"run"`
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func (r BacktestRequest) toEngine() (engine.Request, error) {
	start, err := parseDate("start", r.Start)
	if err != nil {
		return engine.Request{}, err
	}
	end, err := parseDate("end", r.End)
	if err != nil {
		return engine.Request{}, err
	}
	return engine.Request{
		Symbol:         r.Symbol,
		Start:          start,
		End:            end,
		Strategy:       r.Strategy,
		StrategyParams: r.StrategyParams,
		Policy:         r.Policy,
		PolicyParams:   r.PolicyParams,
		InitialCash:    r.InitialCash,
		ExecutionPrice: r.ExecutionPrice,
		RebalanceBand:  r.RebalanceBand,
		Refresh:        r.Refresh,
	}, nil
}

func (r ListRunsRequest) filter() store.RunFilter {
	return store.RunFilter{Symbol: r.Symbol, Strategy: r.Strategy, Limit: r.Limit}
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty yields the zero time.
func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not a date", domain.ErrInput, field, s)
	}
	return t.UTC(), nil
}
