// Package store defines storage interfaces for persisting and retrieving
// daily bars and backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"strings"
	"time"

	"meridian/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Symbol   string
	Strategy string
	Limit    int
}

// RunStore persists backtest runs together with their ledgers and equity
// curves.
type RunStore interface {
	// SaveRun inserts a run. Saving an ID twice is an error.
	SaveRun(ctx context.Context, run *domain.BacktestRun) error

	// GetRun returns the run with the given ID, or an error wrapping
	// domain.ErrNotFound.
	GetRun(ctx context.Context, id string) (*domain.BacktestRun, error)

	// ListRuns returns runs newest first. Listed runs carry metrics but no
	// trades or equity curve.
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.BacktestRun, error)
}

// RunExporter writes the ledger and equity curve of a run to files.
type RunExporter interface {
	ExportRun(ctx context.Context, run *domain.BacktestRun) (string, error)
}

// RunExportReader reads back what a RunExporter wrote. Missing exports are
// reported with an error wrapping domain.ErrNotFound.
type RunExportReader interface {
	ReadRunTrades(id string) ([]domain.Trade, error)
	ReadRunEquity(id string) ([]domain.EquityPoint, error)
}

// MarketDir returns the storage directory name of the market symbol trades
// on. Symbols without a recognisable market are filed under "us".
func MarketDir(symbol string) string {
	_, m := domain.DetectMarket(symbol)
	if m == domain.MarketUnknown {
		return "us"
	}
	return strings.ToLower(string(m))
}
