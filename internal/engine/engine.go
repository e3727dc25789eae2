// Package engine coordinates bar loading, strategy and policy construction,
// simulation, persistence and notification of backtest runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"meridian/internal/backtest"
	"meridian/internal/domain"
	"meridian/internal/feed"
	"meridian/internal/policy"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
)

// BarFetcher retrieves bars from a remote source.
type BarFetcher interface {
	FetchDaily(ctx context.Context, symbol string, r feed.DateRange) ([]domain.Bar, error)
}

// Notifier is told about every persisted run.
type Notifier interface {
	NotifyRun(run *domain.BacktestRun)
}

// Component names a registered strategy or policy and its parameters.
type Component struct {
	Name   string
	Params map[string]any
}

// Config wires an Engine. Bars and Runs are required; the rest are optional.
type Config struct {
	Bars     store.BarStore
	Runs     store.RunStore
	Exporter store.RunExporter
	Feed     BarFetcher

	Backtest        backtest.Config
	DefaultStrategy Component
	DefaultPolicy   Component
	Workers         int

	Logger *slog.Logger
}

// Engine runs and records backtests. It is safe for concurrent use.
type Engine struct {
	cfg        Config
	strategies *strategy.Registry
	policies   *policy.Registry
	now        func() time.Time
	newID      func() string
	log        *slog.Logger

	mu        sync.RWMutex
	notifiers []Notifier
}

// NewEngine creates an Engine with the built-in strategies and policies
// registered.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Bars == nil || cfg.Runs == nil {
		return nil, fmt.Errorf("%w: engine needs a bar store and a run store", domain.ErrConfig)
	}
	if _, err := backtest.New(cfg.Backtest); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	strategies := strategy.NewRegistry()
	builtins.Register(strategies)

	return &Engine{
		cfg:        cfg,
		strategies: strategies,
		policies:   policy.NewRegistry(),
		now:        time.Now,
		newID:      uuid.NewString,
		log:        cfg.Logger.With("component", "engine"),
	}, nil
}

// Subscribe registers n to be told about every new run.
func (e *Engine) Subscribe(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// Strategies returns the registered strategy names.
func (e *Engine) Strategies() []string { return e.strategies.List() }

// Policies returns the registered policy names.
func (e *Engine) Policies() []string { return e.policies.List() }

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// Request describes one backtest. Zero fields take the engine defaults.
type Request struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start,omitempty"`
	End    time.Time `json:"end,omitempty"`

	Strategy       string         `json:"strategy,omitempty"`
	StrategyParams map[string]any `json:"strategy_params,omitempty"`
	Policy         string         `json:"policy,omitempty"`
	PolicyParams   map[string]any `json:"policy_params,omitempty"`

	InitialCash    float64 `json:"initial_cash,omitempty"`
	ExecutionPrice string  `json:"execution_price,omitempty"`
	RebalanceBand  float64 `json:"rebalance_band,omitempty"`

	// Refresh bypasses the bar cache and fetches from the feed.
	Refresh bool `json:"refresh,omitempty"`
	// Bars, when set, are used as-is instead of loading by symbol and range.
	Bars []domain.Bar `json:"-"`
}

// resolved is a Request with defaults applied and components built.
type resolved struct {
	symbol         string
	strategyParams map[string]any
	policyParams   map[string]any
	strat          strategy.Strategy
	pol            policy.Policy
	bt             *backtest.Backtester
}

func (e *Engine) resolve(req Request) (*resolved, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrInput)
	}

	stratName, stratParams := pick(req.Strategy, req.StrategyParams, e.cfg.DefaultStrategy)
	polName, polParams := pick(req.Policy, req.PolicyParams, e.cfg.DefaultPolicy)

	strat, err := e.strategies.New(stratName, stratParams)
	if err != nil {
		return nil, err
	}
	pol, err := e.policies.New(polName, polParams)
	if err != nil {
		return nil, err
	}

	btCfg := e.cfg.Backtest
	if req.InitialCash != 0 {
		btCfg.InitialCash = req.InitialCash
	}
	if req.ExecutionPrice != "" {
		btCfg.ExecutionPrice = domain.ExecutionPrice(req.ExecutionPrice)
	}
	if req.RebalanceBand != 0 {
		btCfg.RebalanceBand = req.RebalanceBand
	}
	bt, err := backtest.New(btCfg)
	if err != nil {
		return nil, err
	}

	return &resolved{
		symbol:         symbol,
		strategyParams: stratParams,
		policyParams:   polParams,
		strat:          strat,
		pol:            pol,
		bt:             bt.WithLogger(e.log),
	}, nil
}

// pick returns the requested component, falling back to def. Default
// parameters apply only when the default component is used without
// parameters of its own.
func pick(name string, params map[string]any, def Component) (string, domain.Params) {
	if name == "" {
		name = def.Name
	}
	if params == nil && name == def.Name {
		params = def.Params
	}
	return name, domain.Params(maps.Clone(params))
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// RunBacktest loads bars, simulates the request, persists the run and
// notifies subscribers.
func (e *Engine) RunBacktest(ctx context.Context, req Request) (*domain.BacktestRun, error) {
	r, err := e.resolve(req)
	if err != nil {
		return nil, err
	}

	bars := req.Bars
	if bars == nil {
		bars, err = e.LoadBars(ctx, r.symbol, feed.DateRange{Start: req.Start, End: req.End}, req.Refresh)
		if err != nil {
			return nil, err
		}
	}

	result, err := r.bt.Run(ctx, r.symbol, bars, r.strat, r.pol)
	if err != nil {
		return nil, err
	}

	run := e.newRun(r, bars, result)
	if err := e.record(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (e *Engine) newRun(r *resolved, bars []domain.Bar, result *domain.BacktestResult) *domain.BacktestRun {
	return &domain.BacktestRun{
		ID:             e.newID(),
		CreatedAt:      e.now().UTC().Truncate(time.Millisecond),
		Start:          bars[0].Timestamp,
		End:            bars[len(bars)-1].Timestamp,
		StrategyParams: r.strategyParams,
		PolicyParams:   r.policyParams,
		Result:         *result,
	}
}

// record persists run, exports its files and notifies subscribers.
func (e *Engine) record(ctx context.Context, run *domain.BacktestRun) error {
	if err := e.cfg.Runs.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	if e.cfg.Exporter != nil {
		if _, err := e.cfg.Exporter.ExportRun(ctx, run); err != nil {
			e.log.Warn("exporting run failed", "run", run.ID, "err", err)
		}
	}

	e.log.Info("run recorded",
		"run", run.ID,
		"symbol", run.Result.Symbol,
		"strategy", run.Result.Strategy,
		"trades", len(run.Result.Trades),
		"total_return", run.Result.Metrics.TotalReturn,
	)

	e.mu.RLock()
	notifiers := e.notifiers
	e.mu.RUnlock()
	for _, n := range notifiers {
		n.NotifyRun(run)
	}
	return nil
}

// GetRun returns a persisted run by ID.
func (e *Engine) GetRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	return e.cfg.Runs.GetRun(ctx, id)
}

// ExportedLedger reads the trades and equity curve of a run back from its
// file export.
func (e *Engine) ExportedLedger(id string) ([]domain.Trade, []domain.EquityPoint, error) {
	r, ok := e.cfg.Exporter.(store.RunExportReader)
	if !ok {
		return nil, nil, fmt.Errorf("%w: run exports are not readable", domain.ErrNotFound)
	}
	trades, err := r.ReadRunTrades(id)
	if err != nil {
		return nil, nil, err
	}
	equity, err := r.ReadRunEquity(id)
	if err != nil {
		return nil, nil, err
	}
	return trades, equity, nil
}

// ListRuns returns persisted run summaries, newest first.
func (e *Engine) ListRuns(ctx context.Context, filter store.RunFilter) ([]domain.BacktestRun, error) {
	return e.cfg.Runs.ListRuns(ctx, filter)
}

// cacheSlack is how far the cached bars may stop short of either end of a
// requested range, or gap internally, before the cache counts as incomplete.
// It absorbs weekends and exchange holidays.
const cacheSlack = 7 * 24 * time.Hour

// LoadBars returns daily bars for symbol within r. The bar cache is served
// when it spans r; otherwise (or when refresh is set) the feed is queried,
// its bars are merged over the cached ones and written back. Without a feed
// a partial cache is served as is.
func (e *Engine) LoadBars(ctx context.Context, symbol string, r feed.DateRange, refresh bool) ([]domain.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r, err := r.Resolve(e.now())
	if err != nil {
		return nil, err
	}
	market := store.MarketDir(symbol)

	var cached []domain.Bar
	if !refresh {
		cached, err = e.cfg.Bars.ReadBars(ctx, symbol, market, r.Start, r.End)
		if err != nil {
			return nil, fmt.Errorf("reading cached bars for %s: %w", symbol, err)
		}
		if spans(cached, r) {
			return cached, nil
		}
	}

	if e.cfg.Feed == nil {
		if len(cached) > 0 {
			e.log.Warn("serving partial cache, no feed configured", "symbol", symbol,
				"bars", len(cached), "first", cached[0].Timestamp, "last", cached[len(cached)-1].Timestamp)
			return cached, nil
		}
		return nil, fmt.Errorf("%w: no cached bars for %s and no feed configured", domain.ErrNotFound, symbol)
	}
	fetched, err := e.cfg.Feed.FetchDaily(ctx, symbol, r)
	if err != nil {
		return nil, err
	}
	if err := e.cfg.Bars.WriteBars(ctx, fetched); err != nil {
		e.log.Warn("caching bars failed", "symbol", symbol, "err", err)
	}
	return mergeBars(cached, fetched), nil
}

// spans reports whether bars cover r up to cacheSlack at both ends and
// between consecutive bars.
func spans(bars []domain.Bar, r feed.DateRange) bool {
	if len(bars) == 0 {
		return false
	}
	if bars[0].Timestamp.Sub(r.Start) > cacheSlack || r.End.Sub(bars[len(bars)-1].Timestamp) > cacheSlack {
		return false
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Sub(bars[i-1].Timestamp) > cacheSlack {
			return false
		}
	}
	return true
}

// mergeBars combines two date-ordered series, preferring fresh on equal
// timestamps.
func mergeBars(cached, fresh []domain.Bar) []domain.Bar {
	if len(cached) == 0 {
		return fresh
	}
	byDay := make(map[int64]domain.Bar, len(cached)+len(fresh))
	for _, b := range cached {
		byDay[b.Timestamp.UnixMilli()] = b
	}
	for _, b := range fresh {
		byDay[b.Timestamp.UnixMilli()] = b
	}
	out := make([]domain.Bar, 0, len(byDay))
	for _, b := range byDay {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b domain.Bar) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// ---------------------------------------------------------------------------
// Parameter sweeps
// ---------------------------------------------------------------------------

// SweepRequest runs Request once per strategy parameter set in Grid. Each
// grid key lists candidate values; every combination is merged over the
// request's strategy parameters.
type SweepRequest struct {
	Request
	Grid map[string][]any `json:"grid"`
}

// SweepEntry is the outcome of one parameter combination.
type SweepEntry struct {
	Params map[string]any      `json:"params"`
	Run    *domain.BacktestRun `json:"run,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Sweep loads bars once and runs every grid combination in parallel.
// Combinations the strategy rejects are reported with their error; other
// failures abort the sweep. Successful runs are persisted like single runs.
func (e *Engine) Sweep(ctx context.Context, req SweepRequest) ([]SweepEntry, error) {
	base, err := e.resolve(req.Request)
	if err != nil {
		return nil, err
	}
	combos := expandGrid(req.Grid)
	if len(combos) == 0 {
		return nil, fmt.Errorf("%w: sweep grid is empty", domain.ErrInput)
	}

	bars := req.Bars
	if bars == nil {
		bars, err = e.LoadBars(ctx, base.symbol, feed.DateRange{Start: req.Start, End: req.End}, req.Refresh)
		if err != nil {
			return nil, err
		}
	}

	entries := make([]SweepEntry, len(combos))
	var (
		jobs     []backtest.Job
		jobEntry []int
		resolves []*resolved
	)
	for i, combo := range combos {
		params := maps.Clone(base.strategyParams)
		if params == nil {
			params = domain.Params{}
		}
		maps.Copy(params, combo)
		entries[i].Params = params

		stratName := base.strat.Name()
		strat, err := e.strategies.New(stratName, params)
		if err != nil {
			if errors.Is(err, domain.ErrConfig) {
				entries[i].Error = err.Error()
				continue
			}
			return nil, err
		}
		pol, err := e.policies.New(base.pol.Name(), base.policyParams)
		if err != nil {
			return nil, err
		}

		r := *base
		r.strategyParams = params
		r.strat, r.pol = strat, pol
		resolves = append(resolves, &r)
		jobs = append(jobs, backtest.Job{Symbol: base.symbol, Bars: bars, Strategy: strat, Policy: pol})
		jobEntry = append(jobEntry, i)
	}

	results := base.bt.RunBatch(ctx, jobs, e.cfg.Workers)
	for j, res := range results {
		i := jobEntry[j]
		if res.Err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			entries[i].Error = res.Err.Error()
			continue
		}
		run := e.newRun(resolves[j], bars, res.Result)
		if err := e.record(ctx, run); err != nil {
			return nil, err
		}
		entries[i].Run = run
	}
	return entries, nil
}

// expandGrid returns the cartesian product of grid in sorted key order.
func expandGrid(grid map[string][]any) []map[string]any {
	keys := make([]string, 0, len(grid))
	for k, vs := range grid {
		if len(vs) == 0 {
			return nil
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil
	}
	slices.Sort(keys)

	combos := []map[string]any{{}}
	for _, k := range keys {
		var next []map[string]any
		for _, c := range combos {
			for _, v := range grid[k] {
				m := maps.Clone(c)
				m[k] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}
