package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"meridian/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ RunExporter = (*ParquetStore)(nil)
var _ RunExportReader = (*ParquetStore)(nil)

// ParquetStore implements BarStore and RunExporter using Parquet files on
// disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// LedgerRecord is the Parquet schema for one executed backtest trade.
type LedgerRecord struct {
	RunID       string  `parquet:"run_id"`
	Seq         int32   `parquet:"seq"`
	Symbol      string  `parquet:"symbol"`
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Side        string  `parquet:"side"`
	Price       float64 `parquet:"price"`
	Quantity    int64   `parquet:"quantity"`
	CashAfter   float64 `parquet:"cash_after"`
	SharesAfter int64   `parquet:"shares_after"`
}

// EquityRecord is the Parquet schema for one equity curve point.
type EquityRecord struct {
	RunID     string  `parquet:"run_id"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Equity    float64 `parquet:"equity"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by market, symbol and
// year. Each combination produces a separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// The market directory is derived from the symbol with MarketDir.
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	byMarket := make(map[string][]domain.Bar)
	for _, b := range bars {
		m := MarketDir(b.Symbol)
		byMarket[m] = append(byMarket[m], b)
	}
	for market, group := range byMarket {
		if err := s.WriteBarsForMarket(group, market); err != nil {
			return err
		}
	}
	return nil
}

// WriteBarsForMarket writes bars to Parquet grouped by symbol and year under
// the given market directory.
func (s *ParquetStore) WriteBarsForMarket(bars []domain.Bar, market string) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    k.symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, time.Date(k.year, 1, 1, 0, 0, 0, 0, time.UTC))

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range. Timestamps are returned in UTC.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, market, time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC))

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if !ts.Before(start) && !ts.After(end) {
				bars = append(bars, domain.Bar{
					Symbol:    r.Symbol,
					Timestamp: ts,
					Open:      r.Open,
					High:      r.High,
					Low:       r.Low,
					Close:     r.Close,
					Volume:    r.Volume,
				})
			}
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Run export
// ---------------------------------------------------------------------------

// ExportRun writes the run's ledger and equity curve to
// <DataDir>/runs/<ID>/{trades,equity}.parquet and returns the directory.
func (s *ParquetStore) ExportRun(_ context.Context, run *domain.BacktestRun) (string, error) {
	if run.ID == "" {
		return "", fmt.Errorf("%w: run has no ID", domain.ErrInput)
	}
	dir := s.runDir(run.ID)

	ledger := make([]LedgerRecord, len(run.Result.Trades))
	for i, t := range run.Result.Trades {
		ledger[i] = LedgerRecord{
			RunID:       run.ID,
			Seq:         int32(i),
			Symbol:      t.Symbol,
			Timestamp:   t.Date.UnixMilli(),
			Side:        string(t.Side),
			Price:       t.Price,
			Quantity:    t.Quantity,
			CashAfter:   t.CashAfter,
			SharesAfter: t.SharesAfter,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, "trades.parquet"), ledger); err != nil {
		return "", fmt.Errorf("writing trades for run %s: %w", run.ID, err)
	}

	equity := make([]EquityRecord, len(run.Result.EquityCurve))
	for i, p := range run.Result.EquityCurve {
		equity[i] = EquityRecord{RunID: run.ID, Timestamp: p.Date.UnixMilli(), Equity: p.Equity}
	}
	if err := writeParquetFile(filepath.Join(dir, "equity.parquet"), equity); err != nil {
		return "", fmt.Errorf("writing equity for run %s: %w", run.ID, err)
	}
	return dir, nil
}

// ReadRunTrades reads back an exported ledger.
func (s *ParquetStore) ReadRunTrades(id string) ([]domain.Trade, error) {
	path := filepath.Join(s.runDir(id), "trades.parquet")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("trades of run %s: %w", id, domain.ErrNotFound)
	}
	records, err := readParquetFile[LedgerRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading trades for run %s: %w", id, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	trades := make([]domain.Trade, len(records))
	for i, r := range records {
		trades[i] = domain.Trade{
			Symbol:      r.Symbol,
			Date:        time.UnixMilli(r.Timestamp).UTC(),
			Side:        domain.Side(r.Side),
			Price:       r.Price,
			Quantity:    r.Quantity,
			CashAfter:   r.CashAfter,
			SharesAfter: r.SharesAfter,
		}
	}
	return trades, nil
}

// ReadRunEquity reads back an exported equity curve.
func (s *ParquetStore) ReadRunEquity(id string) ([]domain.EquityPoint, error) {
	path := filepath.Join(s.runDir(id), "equity.parquet")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("equity of run %s: %w", id, domain.ErrNotFound)
	}
	records, err := readParquetFile[EquityRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading equity for run %s: %w", id, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })
	points := make([]domain.EquityPoint, len(records))
	for i, r := range records {
		points[i] = domain.EquityPoint{Date: time.UnixMilli(r.Timestamp).UTC(), Equity: r.Equity}
	}
	return points, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, t time.Time) string {
	year := fmt.Sprintf("%d", t.Year())
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), year+".parquet")
}

// runDir returns the export directory of a run.
// Layout: <dataDir>/runs/<ID>
func (s *ParquetStore) runDir(id string) string {
	return filepath.Join(s.DataDir, "runs", id)
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
