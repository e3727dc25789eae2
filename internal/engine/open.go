package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"meridian/internal/backtest"
	"meridian/internal/config"
	"meridian/internal/domain"
	"meridian/internal/feed"
	"meridian/internal/store"
)

// Open builds an Engine from cfg: a Parquet bar cache and run exporter under
// Storage.DataDir, a SQLite run store, and a feed chain of the CSV directory
// (if set) followed by Alpaca (if credentials are set). The returned close
// function releases the run store.
func Open(cfg *config.Config, log *slog.Logger) (*Engine, func() error, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}
	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
	}

	pq := store.NewParquetStore(cfg.Storage.DataDir)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, err
	}

	var feeds []feed.Feed
	if cfg.Storage.CSVDir != "" {
		feeds = append(feeds, feed.NewCSVFeed(cfg.Storage.CSVDir))
	}
	if cfg.Alpaca.Enabled() {
		feeds = append(feeds, feed.NewAlpacaFeed(feed.AlpacaConfig{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			DataURL:         cfg.Alpaca.DataURL,
			Feed:            cfg.Alpaca.Feed,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
		}))
	}

	ecfg := Config{
		Bars:     pq,
		Runs:     db,
		Exporter: pq,
		Backtest: backtest.Config{
			InitialCash:    cfg.Backtest.InitialCash,
			ExecutionPrice: domain.ExecutionPrice(cfg.Backtest.ExecutionPrice),
			PeriodsPerYear: cfg.Backtest.PeriodsPerYear,
			RebalanceBand:  cfg.Backtest.RebalanceBand,
		},
		DefaultStrategy: Component{Name: cfg.Strategy.Name, Params: cfg.Strategy.Params},
		DefaultPolicy:   Component{Name: cfg.Policy.Name, Params: cfg.Policy.Params},
		Workers:         cfg.Backtest.Workers,
		Logger:          log,
	}
	var providers []string
	if len(feeds) > 0 {
		svc := feed.NewService(feeds...)
		providers = svc.Providers()
		ecfg.Feed = svc
	}

	e, err := NewEngine(ecfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("engine ready",
		"data_dir", cfg.Storage.DataDir,
		"sqlite", cfg.Storage.SQLitePath,
		"feeds", providers,
		"strategy", cfg.Strategy.Name,
		"policy", cfg.Policy.Name,
	)
	return e, db.Close, nil
}
