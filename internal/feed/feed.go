// Package feed retrieves daily OHLCV bars from market-data providers.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"meridian/internal/domain"
)

// Feed is a source of daily bars.
type Feed interface {
	// Name returns the provider identifier.
	Name() string
	// Supports reports whether the provider can serve symbol.
	Supports(symbol string) bool
	// FetchDaily returns daily bars for symbol within [start, end], oldest
	// first.
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Resolve fills a zero End with today and a zero Start with one year before
// End. Both bounds are truncated to UTC dates.
func (r DateRange) Resolve(now time.Time) (DateRange, error) {
	end := r.End
	if end.IsZero() {
		end = now
	}
	end = truncateDay(end)
	start := r.Start
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}
	start = truncateDay(start)
	if start.After(end) {
		return DateRange{}, fmt.Errorf("%w: start %s is after end %s", domain.ErrInput,
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return DateRange{Start: start, End: end}, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Service fetches bars from the first provider that supports a symbol and
// succeeds, trying the rest in order on failure.
type Service struct {
	feeds []Feed
	now   func() time.Time
	log   *slog.Logger
}

// NewService creates a Service over feeds, tried in the given order.
func NewService(feeds ...Feed) *Service {
	return &Service{
		feeds: feeds,
		now:   time.Now,
		log:   slog.Default().With("component", "feed"),
	}
}

// Providers returns the names of the configured feeds in order.
func (s *Service) Providers() []string {
	names := make([]string, len(s.feeds))
	for i, f := range s.feeds {
		names[i] = f.Name()
	}
	return names
}

// FetchDaily returns daily bars for symbol within r, sorted by date. When no
// provider supports the symbol the error wraps domain.ErrNotFound; when all
// supporting providers fail their errors are joined.
func (s *Service) FetchDaily(ctx context.Context, symbol string, r DateRange) ([]domain.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", domain.ErrInput)
	}
	r, err := r.Resolve(s.now())
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, f := range s.feeds {
		if !f.Supports(symbol) {
			continue
		}
		bars, err := f.FetchDaily(ctx, symbol, r.Start, r.End)
		if err == nil && len(bars) == 0 {
			err = fmt.Errorf("%w: no bars for %s between %s and %s", domain.ErrNotFound,
				symbol, r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("provider failed", "provider", f.Name(), "symbol", symbol, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
			continue
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		s.log.Debug("fetched bars", "provider", f.Name(), "symbol", symbol, "bars", len(bars))
		return bars, nil
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no provider supports %s", domain.ErrNotFound, symbol)
	}
	return nil, fmt.Errorf("fetching %s: %w", symbol, errors.Join(errs...))
}
