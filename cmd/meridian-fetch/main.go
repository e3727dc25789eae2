package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"meridian/internal/config"
	"meridian/internal/engine"
	"meridian/internal/feed"
	"meridian/internal/util"
)

func main() {
	symbols := flag.String("symbols", "", "comma-separated symbols to download")
	start := flag.String("start", "", "first date, YYYY-MM-DD (default one year before end)")
	end := flag.String("end", "", "last date, YYYY-MM-DD (default today)")
	workers := flag.Int("workers", 4, "parallel downloads")
	csvOut := flag.String("csv-out", "", "also write <SYMBOL>.csv files to this directory")
	flag.Parse()

	if *symbols == "" {
		fmt.Fprintln(os.Stderr, "usage: meridian-fetch -symbols AAPL,MSFT [-start 2020-01-01] [-end 2024-12-31] [-csv-out dir]")
		os.Exit(2)
	}

	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	r, err := parseRange(*start, *end)
	if err != nil {
		log.Fatal(err)
	}
	if *csvOut != "" {
		if err := os.MkdirAll(*csvOut, 0o755); err != nil {
			log.Fatalf("creating %s: %v", *csvOut, err)
		}
	}

	eng, closeStore, err := engine.Open(cfg, logger)
	if err != nil {
		log.Fatalf("failed to open engine: %v", err)
	}
	defer closeStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
	)
	g.SetLimit(max(1, *workers))
	for _, symbol := range parseSymbols(*symbols) {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := fetchOne(ctx, eng, symbol, r, *csvOut); err != nil {
				logger.Error("fetch failed", "symbol", symbol, "error", err)
				mu.Lock()
				failed = append(failed, symbol)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeStore()
		log.Fatalf("interrupted: %v", err)
	}

	if len(failed) > 0 {
		closeStore()
		log.Fatalf("%d symbol(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
}

// parseSymbols splits a comma-separated list into upper-case symbols,
// dropping blanks and repeats. Each symbol then owns its cache files for the
// duration of the fetch.
func parseSymbols(list string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, symbol := range strings.Split(list, ",") {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		out = append(out, symbol)
	}
	return out
}

func fetchOne(ctx context.Context, eng *engine.Engine, symbol string, r feed.DateRange, csvOut string) error {
	start := time.Now()
	bars, err := eng.LoadBars(ctx, symbol, r, true)
	if err != nil {
		return err
	}
	if csvOut != "" {
		f, err := os.Create(filepath.Join(csvOut, symbol+".csv"))
		if err != nil {
			return err
		}
		if err := feed.WriteCSV(f, bars); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	slog.Info("fetched", "symbol", symbol, "bars", len(bars), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func parseRange(start, end string) (feed.DateRange, error) {
	var r feed.DateRange
	var err error
	if start != "" {
		if r.Start, err = time.Parse(time.DateOnly, start); err != nil {
			return r, fmt.Errorf("invalid -start %q: %w", start, err)
		}
	}
	if end != "" {
		if r.End, err = time.Parse(time.DateOnly, end); err != nil {
			return r, fmt.Errorf("invalid -end %q: %w", end, err)
		}
	}
	return r, nil
}
