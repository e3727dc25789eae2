package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"meridian/internal/backtest"
	"meridian/internal/config"
	"meridian/internal/domain"
	"meridian/internal/engine"
	"meridian/internal/live"
	"meridian/internal/rpc"
	"meridian/internal/store"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func seedBars(symbol string, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + 0.5*float64(i)
		if i >= 120 && i <= 122 {
			c = 159.5 - 0.5*float64(i-119)
		}
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c - 0.25,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	pq := store.NewParquetStore(filepath.Join(dir, "data"))
	if err := pq.WriteBars(context.Background(), seedBars("SYN", 252)); err != nil {
		t.Fatal(err)
	}
	db, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	eng, err := engine.NewEngine(engine.Config{
		Bars:            pq,
		Runs:            db,
		Exporter:        pq,
		Backtest:        backtest.Config{InitialCash: 100000},
		DefaultStrategy: engine.Component{Name: "ma-cross", Params: map[string]any{"fast_window": 5, "slow_window": 20}},
		DefaultPolicy:   engine.Component{Name: "long-flat-all-in"},
		Logger:          log,
	})
	if err != nil {
		t.Fatal(err)
	}
	model := live.NewModel(0)
	eng.Subscribe(model)
	return NewServer(config.Server{Host: "127.0.0.1"}, eng, model, log)
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

const runBody = `{"symbol":"syn","start":"2023-01-01","end":"2023-12-31"}`

func TestHTTPComponents(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	var health map[string]string
	if code := doJSON(t, "GET", ts.URL+"/healthz", "", &health); code != 200 || health["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, health)
	}
	var strategies map[string][]string
	doJSON(t, "GET", ts.URL+"/api/v1/strategies", "", &strategies)
	if got := strategies["strategies"]; len(got) != 1 || got[0] != "ma-cross" {
		t.Errorf("strategies = %v", got)
	}
	var policies map[string][]string
	doJSON(t, "GET", ts.URL+"/api/v1/policies", "", &policies)
	if got := policies["policies"]; len(got) != 1 || got[0] != "long-flat-all-in" {
		t.Errorf("policies = %v", got)
	}
}

func TestHTTPBacktestLifecycle(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	var run domain.BacktestRun
	if code := doJSON(t, "POST", ts.URL+"/api/v1/backtests", runBody, &run); code != http.StatusCreated {
		t.Fatalf("POST backtests = %d", code)
	}
	if run.ID == "" || run.Result.Symbol != "SYN" || len(run.Result.EquityCurve) != 252 {
		t.Fatalf("run = id %q symbol %q points %d", run.ID, run.Result.Symbol, len(run.Result.EquityCurve))
	}

	var got domain.BacktestRun
	if code := doJSON(t, "GET", ts.URL+"/api/v1/backtests/"+run.ID, "", &got); code != 200 {
		t.Fatalf("GET run = %d", code)
	}
	if got.ID != run.ID || len(got.Result.Trades) != len(run.Result.Trades) {
		t.Errorf("GET run = %+v", got.Result.Metrics)
	}

	var list RunsResponse
	if code := doJSON(t, "GET", ts.URL+"/api/v1/backtests?symbol=SYN&limit=5", "", &list); code != 200 || len(list.Runs) != 1 {
		t.Errorf("list = %d, %d runs", code, len(list.Runs))
	}

	var recent RecentResponse
	doJSON(t, "GET", ts.URL+"/api/v1/runs/recent", "", &recent)
	if len(recent.Runs) != 1 || recent.Runs[0].ID != run.ID {
		t.Errorf("recent = %+v", recent.Runs)
	}
}

func TestHTTPErrors(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing run", "GET", "/api/v1/backtests/nope", "", http.StatusNotFound},
		{"malformed body", "POST", "/api/v1/backtests", `{`, http.StatusBadRequest},
		{"unknown field", "POST", "/api/v1/backtests", `{"symbol":"SYN","leverage":3}`, http.StatusBadRequest},
		{"bad date", "POST", "/api/v1/backtests", `{"symbol":"SYN","start":"yesterday"}`, http.StatusBadRequest},
		{"bad windows", "POST", "/api/v1/backtests", `{"symbol":"SYN","strategy_params":{"fast_window":20,"slow_window":5}}`, http.StatusBadRequest},
		{"unknown strategy", "POST", "/api/v1/backtests", `{"symbol":"SYN","strategy":"momentum"}`, http.StatusNotFound},
		{"uncached symbol", "POST", "/api/v1/backtests", `{"symbol":"ZZZ"}`, http.StatusNotFound},
		{"bad limit", "GET", "/api/v1/backtests?limit=x", "", http.StatusBadRequest},
		{"bars without symbol", "GET", "/api/v1/bars", "", http.StatusBadRequest},
		{"unknown indicator", "GET", "/api/v1/bars?symbol=SYN&start=2023-01-01&end=2023-01-31&indicators=vwap", "", http.StatusBadRequest},
		{"wrong method", "DELETE", "/api/v1/backtests", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := doJSON(t, tt.method, ts.URL+tt.path, tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestHTTPSweepAndBars(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	body := `{"symbol":"SYN","start":"2023-01-01","end":"2023-12-31","grid":{"fast_window":[5,10],"slow_window":[30]}}`
	var sweep SweepResponse
	if code := doJSON(t, "POST", ts.URL+"/api/v1/sweeps", body, &sweep); code != 200 {
		t.Fatalf("POST sweeps = %d", code)
	}
	if len(sweep.Entries) != 2 {
		t.Fatalf("got %d entries", len(sweep.Entries))
	}
	for i, e := range sweep.Entries {
		if e.Run == nil || e.Error != "" {
			t.Errorf("entry %d: %+v", i, e)
		}
	}

	var bars BarsResponse
	if code := doJSON(t, "GET", ts.URL+"/api/v1/bars?symbol=SYN&start=2023-01-01&end=2023-01-31", "", &bars); code != 200 {
		t.Fatalf("GET bars = %d", code)
	}
	if len(bars.Bars) != 30 {
		t.Errorf("got %d bars, want 30", len(bars.Bars))
	}
	if bars.Indicators != nil {
		t.Errorf("indicators = %v, want none unless requested", bars.Indicators)
	}

	var withInd BarsResponse
	if code := doJSON(t, "GET", ts.URL+"/api/v1/bars?symbol=SYN&start=2023-01-01&end=2023-12-31&indicators=macd,rsi:14,sma:5", "", &withInd); code != 200 {
		t.Fatalf("GET bars with indicators = %d", code)
	}
	for _, name := range []string{"macd", "macd_signal", "macd_hist", "rsi", "sma:5"} {
		col, ok := withInd.Indicators[name]
		if !ok {
			t.Errorf("missing indicator %q", name)
			continue
		}
		if len(col) != len(withInd.Bars) {
			t.Errorf("indicator %q has %d values for %d bars", name, len(col), len(withInd.Bars))
		}
	}
	rsi := withInd.Indicators["rsi"]
	if len(rsi) > 14 && (rsi[13] != nil || rsi[14] == nil) {
		t.Errorf("rsi warm-up: rsi[13]=%v rsi[14]=%v, want null then a value", rsi[13], rsi[14])
	}
	if sma := withInd.Indicators["sma:5"]; len(sma) > 4 {
		var sum float64
		for _, b := range withInd.Bars[:5] {
			sum += b.Close
		}
		if sma[3] != nil || sma[4] == nil || math.Abs(*sma[4]-sum/5) > 1e-9 {
			t.Errorf("sma:5 head = %v, %v, want null then %v", sma[3], sma[4], sum/5)
		}
	}
}

func TestWebSocketReceivesFinishedRuns(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)
	go s.hub.Forward(ctx, s.model)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; keep running until a message arrives.
	msgs := make(chan Message, 8)
	go func() {
		for {
			var m Message
			if err := conn.ReadJSON(&m); err != nil {
				close(msgs)
				return
			}
			msgs <- m
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		var run domain.BacktestRun
		if code := doJSON(t, "POST", ts.URL+"/api/v1/backtests", runBody, &run); code != http.StatusCreated {
			t.Fatalf("POST = %d", code)
		}
		select {
		case m, ok := <-msgs:
			if !ok {
				t.Fatal("websocket closed")
			}
			if m.Type != "run" || m.Run.Symbol != "SYN" || m.Run.ID == "" {
				t.Errorf("message = %+v", m)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no websocket message")
		}
	}
}

func TestGRPCBacktester(t *testing.T) {
	s := newTestServer(t)
	lis := bufconn.Listen(1 << 20)
	go s.GRPCServer().Serve(lis)
	defer s.GRPCServer().Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := rpc.NewBacktesterClient(conn)
	ctx := context.Background()

	in, err := rpc.ToStruct(BacktestRequest{Symbol: "SYN", Start: "2023-01-01", End: "2023-12-31", ExecutionPrice: "close"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := client.RunBacktest(ctx, in)
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	var run domain.BacktestRun
	if err := rpc.FromStruct(out, &run); err != nil {
		t.Fatal(err)
	}
	if run.Result.ExecutionPrice != domain.ExecuteAtClose || len(run.Result.EquityCurve) != 252 {
		t.Errorf("run = %s, %d points", run.Result.ExecutionPrice, len(run.Result.EquityCurve))
	}

	idIn, _ := rpc.ToStruct(GetRunRequest{ID: run.ID})
	out, err = client.GetRun(ctx, idIn)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	var stored domain.BacktestRun
	if err := rpc.FromStruct(out, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.ID != run.ID || stored.Result.Metrics.TotalReturn != run.Result.Metrics.TotalReturn {
		t.Errorf("stored run differs")
	}

	missing, _ := rpc.ToStruct(GetRunRequest{ID: "nope"})
	if _, err := client.GetRun(ctx, missing); status.Code(err) != codes.NotFound {
		t.Errorf("GetRun(nope) code = %v, want NotFound", status.Code(err))
	}
	bad, _ := rpc.ToStruct(BacktestRequest{Symbol: "SYN", InitialCash: -5})
	if _, err := client.RunBacktest(ctx, bad); status.Code(err) != codes.InvalidArgument {
		t.Errorf("RunBacktest(bad cash) code = %v, want InvalidArgument", status.Code(err))
	}

	out, err = client.ListComponents(ctx, &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListComponents: %v", err)
	}
	var comps ComponentsResponse
	if err := rpc.FromStruct(out, &comps); err != nil {
		t.Fatal(err)
	}
	if len(comps.Strategies) != 1 || len(comps.Policies) != 1 {
		t.Errorf("components = %+v", comps)
	}

	listIn, _ := rpc.ToStruct(ListRunsRequest{Symbol: "SYN"})
	out, err = client.ListRuns(ctx, listIn)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	var runs RunsResponse
	if err := rpc.FromStruct(out, &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs.Runs) != 1 {
		t.Errorf("ListRuns returned %d runs", len(runs.Runs))
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t)
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, httpLn, grpcLn) }()

	url := "http://" + httpLn.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	var buf bytes.Buffer
	io.Copy(&buf, resp.Body)
	resp.Body.Close()
	if !strings.Contains(buf.String(), "ok") {
		t.Errorf("healthz body = %q", buf.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return")
	}
}
