package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"meridian/internal/domain"
	"meridian/internal/engine"
)

func day(t time.Time) string { return t.UTC().Format(time.DateOnly) }

// WriteRun prints a run summary, its metrics and, when trades is true, the
// trade ledger.
func WriteRun(w io.Writer, run *domain.BacktestRun, trades bool) error {
	res := &run.Result
	m := res.Metrics

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if run.ID != "" {
		fmt.Fprintf(tw, "Run\t%s\n", run.ID)
	}
	fmt.Fprintf(tw, "Symbol\t%s\n", res.Symbol)
	fmt.Fprintf(tw, "Period\t%s .. %s (%d bars)\n", day(run.Start), day(run.End), len(res.EquityCurve))
	fmt.Fprintf(tw, "Strategy\t%s %s\n", res.Strategy, FormatParams(run.StrategyParams))
	fmt.Fprintf(tw, "Policy\t%s %s\n", res.Policy, FormatParams(run.PolicyParams))
	fmt.Fprintf(tw, "Execution\t%s\n", res.ExecutionPrice)
	fmt.Fprintf(tw, "Initial cash\t%s\n", FormatMoney(res.InitialCash))
	fmt.Fprintf(tw, "Final equity\t%s\n", FormatMoney(res.FinalEquity()))
	fmt.Fprintf(tw, "\t\n")
	fmt.Fprintf(tw, "Total return\t%s\n", FormatPct(m.TotalReturn))
	fmt.Fprintf(tw, "Annualized return\t%s\n", FormatPct(m.AnnualizedReturn))
	fmt.Fprintf(tw, "Max drawdown\t%s\n", FormatPct(m.MaxDrawdown))
	fmt.Fprintf(tw, "Volatility\t%.2f%%\n", m.Volatility*100)
	fmt.Fprintf(tw, "Sharpe ratio\t%s\n", FormatRatio(m.SharpeRatio))
	fmt.Fprintf(tw, "Win rate\t%s\n", FormatOptPct(m.WinRate))
	fmt.Fprintf(tw, "Profit factor\t%s\n", FormatRatio(m.ProfitFactor))
	fmt.Fprintf(tw, "Trades\t%d (%d round trips)\n", m.TotalTrades, m.RoundTrips)
	if err := tw.Flush(); err != nil {
		return err
	}

	if !trades || len(res.Trades) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	return WriteTrades(w, res.Trades)
}

// WriteTrades prints the trade ledger as a table.
func WriteTrades(w io.Writer, trades []domain.Trade) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "DATE\tSIDE\tQTY\tPRICE\tNOTIONAL\tCASH\tSHARES\t")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\t\n",
			day(t.Date), t.Side, FormatInt(t.Quantity), t.Price,
			FormatMoney(t.Notional()), FormatMoney(t.CashAfter), FormatInt(t.SharesAfter))
	}
	return tw.Flush()
}

// WriteRuns prints one line per run.
func WriteRuns(w io.Writer, runs []domain.BacktestRun) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSYMBOL\tSTRATEGY\tPARAMS\tRETURN\tMAX DD\tSHARPE\tTRADES")
	for i := range runs {
		r := &runs[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.CreatedAt.UTC().Format(time.DateTime), r.Result.Symbol, r.Result.Strategy,
			FormatParams(r.StrategyParams), FormatPct(r.Result.Metrics.TotalReturn),
			FormatPct(r.Result.Metrics.MaxDrawdown), FormatRatio(r.Result.Metrics.SharpeRatio),
			r.Result.Metrics.TotalTrades)
	}
	return tw.Flush()
}

// WriteSweep prints one line per grid combination, in grid order.
func WriteSweep(w io.Writer, entries []engine.SweepEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMS\tRETURN\tMAX DD\tSHARPE\tWIN RATE\tTRADES\tRUN")
	for _, e := range entries {
		if e.Run == nil {
			fmt.Fprintf(tw, "%s\terror: %s\t\t\t\t\t\n", FormatParams(e.Params), e.Error)
			continue
		}
		m := e.Run.Result.Metrics
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			FormatParams(e.Params), FormatPct(m.TotalReturn), FormatPct(m.MaxDrawdown),
			FormatRatio(m.SharpeRatio), FormatOptPct(m.WinRate), m.TotalTrades, e.Run.ID)
	}
	return tw.Flush()
}
