package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meridian.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
		"DATA_DIR", "SQLITE_PATH", "CSV_DIR", "MERIDIAN_PORT", "LOG_LEVEL", "LOG_FORMAT", "INITIAL_CASH",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/meridian/data"
  sqlite_path: "/tmp/meridian/meridian.db"
server:
  host: "127.0.0.1"
  port: 8081
  grpc_port: 9091
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  feed: "sip"
logging:
  level: "debug"
  format: "text"
backtest:
  initial_cash: 25000
  execution_price: "close"
strategy:
  name: "ma-cross"
  params:
    fast_window: 10
    slow_window: 50
    ma_type: "ema"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/meridian/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.SQLitePath != "/tmp/meridian/meridian.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}

	// -- Server --
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8081 || cfg.Server.GRPCPort != 9091 {
		t.Errorf("Server = %+v", cfg.Server)
	}

	// -- Alpaca --
	if !cfg.Alpaca.Enabled() || cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca = %+v", cfg.Alpaca)
	}
	if cfg.Alpaca.RateLimitPerMin != 200 {
		t.Errorf("Alpaca.RateLimitPerMin = %d, want default 200", cfg.Alpaca.RateLimitPerMin)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// -- Backtest: set fields override, others keep defaults --
	if cfg.Backtest.InitialCash != 25000 || cfg.Backtest.ExecutionPrice != "close" {
		t.Errorf("Backtest = %+v", cfg.Backtest)
	}
	if cfg.Backtest.PeriodsPerYear != 252 || cfg.Backtest.Workers != 4 {
		t.Errorf("Backtest defaults lost: %+v", cfg.Backtest)
	}

	// -- Strategy params come from the file only --
	p := cfg.Strategy.Params
	if p["fast_window"] != 10 || p["slow_window"] != 50 || p["ma_type"] != "ema" || len(p) != 3 {
		t.Errorf("Strategy.Params = %v", p)
	}

	// -- Policy keeps its defaults --
	if cfg.Policy.Name != "long-flat-all-in" || cfg.Policy.Params["max_long_pct"] != 1.0 {
		t.Errorf("Policy = %+v", cfg.Policy)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("MERIDIAN_PORT", "7000")
	t.Setenv("INITIAL_CASH", "5000.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Server.Port != 7000 || cfg.Backtest.InitialCash != 5000.5 {
		t.Errorf("port=%d cash=%v, want env overrides", cfg.Server.Port, cfg.Backtest.InitialCash)
	}

	// The SDK's canonical variable wins over ALPACA_API_KEY.
	t.Setenv("APCA_API_KEY_ID", "sdk-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Alpaca.APIKey != "sdk-key" {
		t.Errorf("Alpaca.APIKey = %q, want sdk-key", cfg.Alpaca.APIKey)
	}

	t.Setenv("MERIDIAN_PORT", "eighty")
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a non-numeric MERIDIAN_PORT")
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
	if _, err := Load(writeConfig(t, "server: [not, a, map]")); err == nil {
		t.Error("Load of malformed YAML succeeded")
	}
}

func TestLoadOrDefaultAndPath(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Backtest.InitialCash != 100_000 || cfg.Strategy.Name != "ma-cross" {
		t.Errorf("defaults = %+v", cfg)
	}

	t.Setenv("MERIDIAN_CONFIG", "")
	if Path() != DefaultPath {
		t.Errorf("Path() = %q, want %q", Path(), DefaultPath)
	}
	t.Setenv("MERIDIAN_CONFIG", "/etc/meridian.yaml")
	if Path() != "/etc/meridian.yaml" {
		t.Errorf("Path() = %q", Path())
	}
}
