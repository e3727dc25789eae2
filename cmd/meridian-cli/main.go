package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"meridian/internal/api"
	"meridian/internal/config"
	"meridian/internal/domain"
	"meridian/internal/engine"
	"meridian/internal/feed"
	"meridian/internal/live"
	"meridian/internal/report"
	"meridian/internal/store"
	"meridian/internal/util"
	"meridian/pkg/meridian"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: meridian-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  run          Run one backtest and print the report\n")
	fmt.Fprintf(os.Stderr, "  sweep        Run a strategy parameter grid\n")
	fmt.Fprintf(os.Stderr, "  runs         List recorded runs\n")
	fmt.Fprintf(os.Stderr, "  show         Print a recorded run\n")
	fmt.Fprintf(os.Stderr, "  components   List strategies and policies\n")
	fmt.Fprintf(os.Stderr, "  watch        Stream finished runs from a server\n")
	fmt.Fprintf(os.Stderr, "\nRun 'meridian-cli <command> -h' for command options.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "version":
		fmt.Printf("meridian-cli %s\n", version)
	case "run":
		err = runCmd(ctx, args)
	case "sweep":
		err = sweepCmd(ctx, args)
	case "runs":
		err = runsCmd(ctx, args)
	case "show":
		err = showCmd(ctx, args)
	case "components":
		err = componentsCmd(ctx, args)
	case "watch":
		err = watchCmd(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Backend selection
// ---------------------------------------------------------------------------

// backend runs commands either in-process or against a meridian-server.
type backend struct {
	eng    *engine.Engine
	client *meridian.Client
	close  func() error
}

func openBackend(server string) (*backend, error) {
	if server != "" {
		return &backend{client: meridian.NewClient(server), close: func() error { return nil }}, nil
	}
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// Keep the report readable unless debugging.
	level := cfg.Logging.Level
	if !strings.EqualFold(level, "debug") {
		level = "warn"
	}
	logger := util.NewLogger(level, cfg.Logging.Format)
	util.SetDefault(logger)

	eng, closeStore, err := engine.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &backend{eng: eng, close: closeStore}, nil
}

// requestFlags are shared by run and sweep.
type requestFlags struct {
	server, symbol, csvPath, start, end string
	strategy, params, policy, polParams string
	cash, band                          float64
	exec                                string
	refresh, asJSON                     bool
}

func (f *requestFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.server, "server", "", "meridian-server base URL; empty runs locally")
	fs.StringVar(&f.symbol, "symbol", "", "instrument symbol")
	fs.StringVar(&f.csvPath, "csv", "", "read bars from this CSV file instead of the cache or feeds (local only)")
	fs.StringVar(&f.start, "start", "", "first date, YYYY-MM-DD")
	fs.StringVar(&f.end, "end", "", "last date, YYYY-MM-DD")
	fs.StringVar(&f.strategy, "strategy", "", "strategy name (default from config)")
	fs.StringVar(&f.params, "params", "", "strategy parameters, k=v,k=v")
	fs.StringVar(&f.policy, "policy", "", "policy name (default from config)")
	fs.StringVar(&f.polParams, "policy-params", "", "policy parameters, k=v,k=v")
	fs.Float64Var(&f.cash, "cash", 0, "initial cash (default from config)")
	fs.Float64Var(&f.band, "band", 0, "rebalance band as a fraction of equity")
	fs.StringVar(&f.exec, "exec", "", "execution price: open or close")
	fs.BoolVar(&f.refresh, "refresh", false, "bypass the bar cache")
	fs.BoolVar(&f.asJSON, "json", false, "print JSON instead of a table")
}

func (f *requestFlags) request() (api.BacktestRequest, error) {
	sp, err := parseParams(f.params)
	if err != nil {
		return api.BacktestRequest{}, err
	}
	pp, err := parseParams(f.polParams)
	if err != nil {
		return api.BacktestRequest{}, err
	}
	symbol := f.symbol
	if symbol == "" && f.csvPath != "" {
		symbol = strings.TrimSuffix(filepath.Base(f.csvPath), filepath.Ext(f.csvPath))
	}
	if symbol == "" {
		return api.BacktestRequest{}, fmt.Errorf("-symbol is required")
	}
	return api.BacktestRequest{
		Symbol:         symbol,
		Start:          f.start,
		End:            f.end,
		Strategy:       f.strategy,
		StrategyParams: sp,
		Policy:         f.policy,
		PolicyParams:   pp,
		InitialCash:    f.cash,
		ExecutionPrice: f.exec,
		RebalanceBand:  f.band,
		Refresh:        f.refresh,
	}, nil
}

// engineRequest converts req for in-process use, loading CSV bars if set.
func (f *requestFlags) engineRequest(req api.BacktestRequest) (engine.Request, error) {
	var start, end time.Time
	var err error
	if req.Start != "" {
		if start, err = time.Parse(time.DateOnly, req.Start); err != nil {
			return engine.Request{}, fmt.Errorf("invalid -start: %w", err)
		}
	}
	if req.End != "" {
		if end, err = time.Parse(time.DateOnly, req.End); err != nil {
			return engine.Request{}, fmt.Errorf("invalid -end: %w", err)
		}
	}
	ereq := engine.Request{
		Symbol:         req.Symbol,
		Start:          start,
		End:            end,
		Strategy:       req.Strategy,
		StrategyParams: req.StrategyParams,
		Policy:         req.Policy,
		PolicyParams:   req.PolicyParams,
		InitialCash:    req.InitialCash,
		ExecutionPrice: req.ExecutionPrice,
		RebalanceBand:  req.RebalanceBand,
		Refresh:        req.Refresh,
	}
	if f.csvPath != "" {
		ereq.Bars, err = readCSVBars(f.csvPath, strings.ToUpper(req.Symbol), start, end)
		if err != nil {
			return engine.Request{}, err
		}
	}
	return ereq, nil
}

func readCSVBars(path, symbol string, start, end time.Time) ([]domain.Bar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	bars, err := feed.ReadCSV(file, symbol)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out := bars[:0]
	for _, b := range bars {
		if (start.IsZero() || !b.Timestamp.Before(start)) && (end.IsZero() || !b.Timestamp.After(end)) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var f requestFlags
	f.register(fs)
	trades := fs.Bool("trades", false, "print the trade ledger")
	fs.Parse(args)

	req, err := f.request()
	if err != nil {
		return err
	}
	b, err := openBackend(f.server)
	if err != nil {
		return err
	}
	defer b.close()

	var run *domain.BacktestRun
	if b.client != nil {
		run, err = b.client.RunBacktest(ctx, req)
	} else {
		var ereq engine.Request
		if ereq, err = f.engineRequest(req); err == nil {
			run, err = b.eng.RunBacktest(ctx, ereq)
		}
	}
	if err != nil {
		return err
	}
	if f.asJSON {
		return printJSON(run)
	}
	return report.WriteRun(os.Stdout, run, *trades)
}

func sweepCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	var f requestFlags
	f.register(fs)
	var axes gridFlag
	fs.Var(&axes, "axis", "grid axis key=v1,v2,... (repeatable)")
	fs.Parse(args)

	req, err := f.request()
	if err != nil {
		return err
	}
	if len(axes) == 0 {
		return fmt.Errorf("at least one -axis is required")
	}
	b, err := openBackend(f.server)
	if err != nil {
		return err
	}
	defer b.close()

	var entries []engine.SweepEntry
	if b.client != nil {
		var resp *meridian.SweepResponse
		resp, err = b.client.Sweep(ctx, api.SweepRequest{BacktestRequest: req, Grid: axes})
		if resp != nil {
			entries = resp.Entries
		}
	} else {
		var ereq engine.Request
		if ereq, err = f.engineRequest(req); err == nil {
			entries, err = b.eng.Sweep(ctx, engine.SweepRequest{Request: ereq, Grid: axes})
		}
	}
	if err != nil {
		return err
	}
	if f.asJSON {
		return printJSON(entries)
	}
	return report.WriteSweep(os.Stdout, entries)
}

func runsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	server := fs.String("server", "", "meridian-server base URL; empty reads the local store")
	symbol := fs.String("symbol", "", "only runs for this symbol")
	strategy := fs.String("strategy", "", "only runs of this strategy")
	limit := fs.Int("limit", 20, "maximum runs to list")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	fs.Parse(args)

	b, err := openBackend(*server)
	if err != nil {
		return err
	}
	defer b.close()

	var runs []domain.BacktestRun
	if b.client != nil {
		runs, err = b.client.ListRuns(ctx, api.ListRunsRequest{Symbol: *symbol, Strategy: *strategy, Limit: *limit})
	} else {
		runs, err = b.eng.ListRuns(ctx, store.RunFilter{Symbol: *symbol, Strategy: *strategy, Limit: *limit})
	}
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(runs)
	}
	return report.WriteRuns(os.Stdout, runs)
}

func showCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	server := fs.String("server", "", "meridian-server base URL; empty reads the local store")
	trades := fs.Bool("trades", true, "print the trade ledger")
	fromExport := fs.Bool("export", false, "read the ledger and equity curve from the run's Parquet export")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: meridian-cli show [options] <run-id>")
	}
	if *fromExport && *server != "" {
		return fmt.Errorf("-export reads the local data directory and cannot be combined with -server")
	}

	b, err := openBackend(*server)
	if err != nil {
		return err
	}
	defer b.close()

	var run *domain.BacktestRun
	if b.client != nil {
		run, err = b.client.GetRun(ctx, fs.Arg(0))
	} else {
		run, err = b.eng.GetRun(ctx, fs.Arg(0))
	}
	if err != nil {
		return err
	}
	if *fromExport {
		run.Result.Trades, run.Result.EquityCurve, err = b.eng.ExportedLedger(run.ID)
		if err != nil {
			return err
		}
	}
	if *asJSON {
		return printJSON(run)
	}
	return report.WriteRun(os.Stdout, run, *trades)
}

func componentsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("components", flag.ExitOnError)
	server := fs.String("server", "", "meridian-server base URL; empty lists the local registries")
	fs.Parse(args)

	b, err := openBackend(*server)
	if err != nil {
		return err
	}
	defer b.close()

	var strategies, policies []string
	if b.client != nil {
		if strategies, err = b.client.Strategies(ctx); err != nil {
			return err
		}
		if policies, err = b.client.Policies(ctx); err != nil {
			return err
		}
	} else {
		strategies, policies = b.eng.Strategies(), b.eng.Policies()
	}
	fmt.Printf("strategies: %s\n", strings.Join(strategies, ", "))
	fmt.Printf("policies:   %s\n", strings.Join(policies, ", "))
	return nil
}

func watchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	grpcAddr := fs.String("grpc", "localhost:9090", "meridian-server gRPC address")
	symbol := fs.String("symbol", "", "only runs for this symbol")
	strategy := fs.String("strategy", "", "only runs of this strategy")
	fs.Parse(args)

	logger := util.NewLogger("warn", "text")
	model := live.NewModel(live.DefaultCapacity)
	subID, ch := model.Subscribe(256)
	defer model.Unsubscribe(subID)

	go func() {
		for ev := range ch {
			printEvent(ev)
		}
	}()

	client := live.NewClient(*grpcAddr, model, logger)
	return client.Sync(ctx, live.WatchRequest{Symbol: *symbol, Strategy: *strategy})
}

func printEvent(ev live.RunEvent) {
	fmt.Printf("%s  %-36s  %-6s  %-10s  return %s  dd %s  sharpe %s  trades %d\n",
		ev.CreatedAt.Local().Format(time.DateTime), ev.ID, ev.Symbol, ev.Strategy,
		report.FormatPct(ev.Metrics.TotalReturn), report.FormatPct(ev.Metrics.MaxDrawdown),
		report.FormatRatio(ev.Metrics.SharpeRatio), ev.Trades)
}

// ---------------------------------------------------------------------------
// Flag helpers
// ---------------------------------------------------------------------------

// parseParams parses "k=v,k=v". Numeric values become float64.
func parseParams(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := make(map[string]any)
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", kv)
		}
		out[k] = parseValue(strings.TrimSpace(v))
	}
	return out, nil
}

func parseValue(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// gridFlag collects repeated -axis key=v1,v2 flags.
type gridFlag map[string][]any

func (g *gridFlag) String() string { return fmt.Sprint(map[string][]any(*g)) }

func (g *gridFlag) Set(s string) error {
	k, vs, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" || strings.TrimSpace(vs) == "" {
		return fmt.Errorf("invalid axis %q, want key=v1,v2", s)
	}
	if *g == nil {
		*g = make(gridFlag)
	}
	for _, v := range strings.Split(vs, ",") {
		(*g)[k] = append((*g)[k], parseValue(strings.TrimSpace(v)))
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
