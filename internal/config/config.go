package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when MERIDIAN_CONFIG is unset.
const DefaultPath = "config/meridian.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the meridian platform.
type Config struct {
	Storage  Storage   `yaml:"storage"`
	Server   Server    `yaml:"server"`
	Alpaca   Alpaca    `yaml:"alpaca"`
	Logging  Logging   `yaml:"logging"`
	Backtest Backtest  `yaml:"backtest"`
	Strategy Component `yaml:"strategy"`
	Policy   Component `yaml:"policy"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	// CSVDir, when set, holds <SYMBOL>.csv files served before any remote
	// provider.
	CSVDir string `yaml:"csv_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Enabled reports whether credentials are configured.
func (a Alpaca) Enabled() bool { return a.APIKey != "" && a.APISecret != "" }

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds simulator settings.
type Backtest struct {
	InitialCash    float64 `yaml:"initial_cash"`
	ExecutionPrice string  `yaml:"execution_price"`
	PeriodsPerYear int     `yaml:"periods_per_year"`
	RebalanceBand  float64 `yaml:"rebalance_band"`
	// Workers bounds parallel runs in a parameter sweep.
	Workers int `yaml:"workers"`
}

// Component names a registered strategy or policy and its parameters.
type Component struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// Default returns the configuration used for any field the file omits.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/meridian.db",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Alpaca: Alpaca{
			Feed:            "iex",
			RateLimitPerMin: 200,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Backtest: Backtest{
			InitialCash:    100_000,
			ExecutionPrice: "open",
			PeriodsPerYear: 252,
			Workers:        4,
		},
		Strategy: Component{
			Name:   "ma-cross",
			Params: map[string]any{"fast_window": 5, "slow_window": 20},
		},
		Policy: Component{
			Name:   "long-flat-all-in",
			Params: map[string]any{"max_long_pct": 1.0, "min_strength": 0.0},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the configuration file path from MERIDIAN_CONFIG, falling
// back to DefaultPath.
func Path() string {
	if p := os.Getenv("MERIDIAN_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads a .env file from the working directory if present, then the
// YAML configuration file at path over Default(), and finally applies
// environment variable overrides. A component section in the file replaces
// the default parameters rather than merging with them.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if file.Strategy.Name != "" {
		cfg.Strategy.Params = file.Strategy.Params
	}
	if file.Policy.Name != "" {
		cfg.Policy.Params = file.Policy.Params
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and otherwise returns Default()
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = godotenv.Load()
		cfg := Default()
		if err := applyEnvOverrides(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("CSV_DIR"); v != "" {
		cfg.Storage.CSVDir = v
	}

	if v := os.Getenv("MERIDIAN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MERIDIAN_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("INITIAL_CASH"); v != "" {
		cash, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INITIAL_CASH: %w", err)
		}
		cfg.Backtest.InitialCash = cash
	}

	// Standard Alpaca env vars take priority: they are the names the SDK reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
