package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"meridian/internal/domain"
	"meridian/internal/util"
)

// Compile-time interface check.
var _ Feed = (*AlpacaFeed)(nil)

// AlpacaConfig configures an AlpacaFeed.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	// DataURL overrides the market-data endpoint when set.
	DataURL string
	// Feed is the Alpaca data feed, "iex" or "sip". Empty means "iex".
	Feed            string
	RateLimitPerMin int
	MaxAttempts     int
}

// AlpacaFeed fetches split-adjusted US daily bars from the Alpaca
// market-data API, retrying transient failures.
type AlpacaFeed struct {
	client      *marketdata.Client
	feed        marketdata.Feed
	limiter     *util.RateLimiter
	maxAttempts int
	log         *slog.Logger
}

// NewAlpacaFeed creates an AlpacaFeed with the given credentials.
func NewAlpacaFeed(cfg AlpacaConfig) *AlpacaFeed {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	if cfg.Feed == "" {
		cfg.Feed = "iex"
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 200
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &AlpacaFeed{
		client:      marketdata.NewClient(opts),
		feed:        marketdata.Feed(cfg.Feed),
		limiter:     util.NewRateLimiter(cfg.RateLimitPerMin),
		maxAttempts: cfg.MaxAttempts,
		log:         slog.Default().With("component", "feed", "provider", "alpaca"),
	}
}

// Name returns "alpaca".
func (f *AlpacaFeed) Name() string { return "alpaca" }

// Supports reports whether symbol looks like a US ticker.
func (f *AlpacaFeed) Supports(symbol string) bool {
	code, m := domain.DetectMarket(symbol)
	if m == domain.MarketUS {
		return true
	}
	if m != domain.MarketUnknown || code == "" {
		return false
	}
	full := alpacaSymbol(symbol)
	if len(full) > 7 {
		return false
	}
	for _, r := range full {
		if (r < 'A' || r > 'Z') && r != '.' {
			return false
		}
	}
	return true
}

// FetchDaily fetches daily bars for symbol between start and end inclusive.
func (f *AlpacaFeed) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	code := alpacaSymbol(symbol)

	var raw []marketdata.Bar
	err := util.Retry(ctx, f.maxAttempts, time.Second, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		bars, err := f.client.GetBars(code, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.Split,
			Start:      start,
			End:        end.AddDate(0, 0, 1),
			Feed:       f.feed,
		})
		if err != nil {
			f.log.Debug("GetBars failed", "symbol", code, "err", err)
			return err
		}
		raw = bars
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", code, err)
	}
	return convertBars(strings.ToUpper(symbol), raw, start, end), nil
}

// alpacaSymbol strips a ".US" suffix; other symbols pass through upper-cased.
func alpacaSymbol(symbol string) string {
	code, m := domain.DetectMarket(symbol)
	if m == domain.MarketUS {
		return code
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// convertBars maps Alpaca bars to domain bars dated at UTC midnight of their
// session, keeping those within [start, end].
func convertBars(symbol string, raw []marketdata.Bar, start, end time.Time) []domain.Bar {
	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		day := truncateDay(ab.Timestamp)
		if day.Before(start) || day.After(end) {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: day,
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
		})
	}
	return bars
}
