// Package meridian is a Go SDK for the meridian-server HTTP API.
package meridian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"meridian/internal/api"
	"meridian/internal/domain"
	"meridian/internal/live"
)

// Wire types shared with the server.
type (
	BacktestRequest = api.BacktestRequest
	SweepRequest    = api.SweepRequest
	ListRunsRequest = api.ListRunsRequest
	SweepResponse   = api.SweepResponse
	BarsResponse    = api.BarsResponse
	Run             = domain.BacktestRun
	Bar             = domain.Bar
	RunEvent        = live.RunEvent
)

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("meridian: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the meridian-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new meridian API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// RunBacktest runs and records one backtest.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", nil, req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun retrieves a recorded run by ID.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(id), nil, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns lists recorded runs, newest first.
func (c *Client) ListRuns(ctx context.Context, req ListRunsRequest) ([]Run, error) {
	q := url.Values{}
	if req.Symbol != "" {
		q.Set("symbol", req.Symbol)
	}
	if req.Strategy != "" {
		q.Set("strategy", req.Strategy)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	var resp api.RunsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Sweep runs a parameter grid.
func (c *Client) Sweep(ctx context.Context, req SweepRequest) (*SweepResponse, error) {
	var resp SweepResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sweeps", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Strategies lists the registered strategies.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var resp map[string][]string
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp["strategies"], nil
}

// Policies lists the registered policies.
func (c *Client) Policies(ctx context.Context) ([]string, error) {
	var resp map[string][]string
	if err := c.do(ctx, http.MethodGet, "/api/v1/policies", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp["policies"], nil
}

// GetBars retrieves daily bars for a symbol. Zero times take server defaults.
func (c *Client) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	resp, err := c.GetSeries(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	return resp.Bars, nil
}

// GetSeries retrieves daily bars together with indicator series computed by
// the server, e.g. "macd", "rsi:14" or "sma:50". Warm-up values are nil.
func (c *Client) GetSeries(ctx context.Context, symbol string, start, end time.Time, indicators ...string) (*BarsResponse, error) {
	q := url.Values{"symbol": {symbol}}
	if !start.IsZero() {
		q.Set("start", start.Format(time.DateOnly))
	}
	if !end.IsZero() {
		q.Set("end", end.Format(time.DateOnly))
	}
	if len(indicators) > 0 {
		q.Set("indicators", strings.Join(indicators, ","))
	}
	var resp BarsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/bars", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Watch streams finished runs over the WebSocket endpoint, calling fn for
// each, until ctx is cancelled or the connection fails.
func (c *Client) Watch(ctx context.Context, fn func(RunEvent)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg api.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading run event: %w", err)
		}
		if msg.Type == "run" {
			fn(msg.Run)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &Error{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
