package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"meridian/internal/domain"
)

// Compile-time interface check.
var _ Feed = (*CSVFeed)(nil)

// csvColumns are the required header columns, matched case-insensitively.
// "timestamp" is accepted in place of "date".
var csvColumns = []string{"date", "open", "high", "low", "close", "volume"}

// CSVFeed serves bars from a directory holding one <SYMBOL>.csv per symbol.
type CSVFeed struct {
	Dir string
}

// NewCSVFeed creates a CSVFeed reading from dir.
func NewCSVFeed(dir string) *CSVFeed {
	return &CSVFeed{Dir: dir}
}

// Name returns "csv".
func (f *CSVFeed) Name() string { return "csv" }

// Supports reports whether a file exists for symbol.
func (f *CSVFeed) Supports(symbol string) bool {
	_, err := os.Stat(f.path(symbol))
	return err == nil
}

func (f *CSVFeed) path(symbol string) string {
	return filepath.Join(f.Dir, strings.ToUpper(symbol)+".csv")
}

// FetchDaily reads the symbol's file and returns rows within [start, end].
func (f *CSVFeed) FetchDaily(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	file, err := os.Open(f.path(symbol))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no csv file for %s", domain.ErrNotFound, symbol)
		}
		return nil, err
	}
	defer file.Close()

	bars, err := ReadCSV(file, strings.ToUpper(symbol))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path(symbol), err)
	}
	out := bars[:0]
	for _, b := range bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ReadCSV parses an OHLCV table with a header row naming at least the date,
// open, high, low, close and volume columns. Dates may be YYYY-MM-DD or
// RFC 3339. Format problems wrap domain.ErrInput.
func ReadCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", domain.ErrInput)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInput, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "timestamp" {
			name = "date"
		}
		idx[name] = i
	}
	var missing []string
	for _, c := range csvColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: csv missing columns %s", domain.ErrInput, strings.Join(missing, ", "))
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInput, err)
		}

		ts, err := parseDate(rec[idx["date"]])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInput, line, err)
		}
		var prices [4]float64
		for i, c := range []string{"open", "high", "low", "close"} {
			prices[i], err = strconv.ParseFloat(strings.TrimSpace(rec[idx[c]]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad %s %q", domain.ErrInput, line, c, rec[idx[c]])
			}
		}
		vol, err := strconv.ParseFloat(strings.TrimSpace(rec[idx["volume"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad volume %q", domain.ErrInput, line, rec[idx["volume"]])
		}

		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      prices[0],
			High:      prices[1],
			Low:       prices[2],
			Close:     prices[3],
			Volume:    int64(vol),
		})
	}
	return bars, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q", s)
	}
	return truncateDay(t), nil
}

// WriteCSV writes bars as a date,open,high,low,close,volume table that
// ReadCSV accepts.
func WriteCSV(w io.Writer, bars []domain.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write([]string{
			b.Timestamp.Format(time.DateOnly),
			formatF(b.Open), formatF(b.High), formatF(b.Low), formatF(b.Close),
			strconv.FormatInt(b.Volume, 10),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
