package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"cross_arb/internal/domain"
	"cross_arb/internal/risk"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the engine. LoadConfig starts from
// DefaultConfig, applies the file, then environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode            string        `yaml:"mode"`  // HALTED, DRY_RUN or LIVE at startup
		Venue           string        `yaml:"venue"` // PAPER or MOCK
		FeeRate         float64       `yaml:"fee_rate"`
		FlatTolerance   float64       `yaml:"flat_tolerance"` // 0 uses each instrument's min order qty
		InitialRounds   int           `yaml:"initial_rounds"`
		DryRunExpiry    time.Duration `yaml:"dry_run_expiry"`
		RiskLogInterval time.Duration `yaml:"risk_log_interval"`
		ActivateOnStart bool          `yaml:"activate_on_start"`
	} `yaml:"trading"`

	// Instruments are BASE/QUOTE pairs, e.g. BTC/USD.
	Instruments []string `yaml:"instruments"`

	// Constraints by base currency. Missing currencies use domain defaults.
	Constraints map[string]domain.Constraints `yaml:"constraints"`

	Risk risk.Limits `yaml:"risk"`

	Queues struct {
		MarketData int `yaml:"market_data"`
		Exec       int `yaml:"exec"`
		Manual     int `yaml:"manual"`
	} `yaml:"queues"`

	Feed struct {
		URL          string        `yaml:"url"`
		Record       bool          `yaml:"record"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		PingInterval time.Duration `yaml:"ping_interval"`
	} `yaml:"feed"`

	Storage struct {
		DBPath        string `yaml:"db_path"` // empty: <workspace>/data/events.db
		SnapshotDir   string `yaml:"snapshot_dir"`
		KeepSnapshots int    `yaml:"keep_snapshots"`
	} `yaml:"storage"`

	Metrics struct {
		Addr  string `yaml:"addr"`
		Pprof string `yaml:"pprof"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"logging"`
}

// DefaultConfig returns a halted paper-trading setup for BTC/USD and ETH/USD.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = AppName
	cfg.App.Version = "dev"

	cfg.Trading.Mode = "HALTED"
	cfg.Trading.Venue = "PAPER"
	cfg.Trading.FeeRate = domain.DefaultFeeRate
	cfg.Trading.DryRunExpiry = 10 * time.Second
	cfg.Trading.RiskLogInterval = 10 * time.Second

	cfg.Instruments = []string{"BTC/USD", "ETH/USD"}
	cfg.Constraints = map[string]domain.Constraints{
		"BTC": {MinSigQty: 0.00001, MinOrderQty: 0.0001, QtyDecimals: 5, PxDecimals: 2, MinPxTick: 0.01},
		"ETH": domain.DefaultConstraints(),
	}
	cfg.Risk = risk.DefaultLimits()

	cfg.Queues.MarketData = 1000
	cfg.Queues.Exec = 200
	cfg.Queues.Manual = 10

	cfg.Feed.URL = "ws://localhost:8765/depth"
	cfg.Feed.ReadTimeout = 60 * time.Second
	cfg.Feed.PingInterval = 30 * time.Second

	cfg.Storage.KeepSnapshots = 10

	cfg.Metrics.Addr = "localhost:9090"
	cfg.Metrics.Pprof = "localhost:6060"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return &cfg
}

// LoadConfig reads the yaml file at path over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if _, err := domain.ParseTradingMode(c.Trading.Mode); err != nil {
		return err
	}
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 1 {
		return fmt.Errorf("fee rate must be in [0, 1): %g", c.Trading.FeeRate)
	}

	insts, err := c.ParsedInstruments()
	if err != nil {
		return err
	}
	if len(insts) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	for _, inst := range insts {
		if _, ok := c.Risk.TradeQty[inst.Base]; !ok {
			return fmt.Errorf("risk.trade_qty has no cap for %s", inst.Base)
		}
		if _, ok := c.Risk.PosQty[inst.Base]; !ok {
			return fmt.Errorf("risk.pos_qty has no cap for %s", inst.Base)
		}
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	if c.Queues.MarketData <= 0 || c.Queues.Exec <= 0 || c.Queues.Manual <= 0 {
		return fmt.Errorf("queue capacities must be positive")
	}

	if c.Feed.URL != "" && !hasPrefix(c.Feed.URL, "ws://") && !hasPrefix(c.Feed.URL, "wss://") {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.URL)
	}

	return nil
}

// ParsedInstruments parses Instruments, rejecting duplicates.
func (c *Config) ParsedInstruments() ([]domain.Instrument, error) {
	seen := make(map[domain.Instrument]bool, len(c.Instruments))
	out := make([]domain.Instrument, 0, len(c.Instruments))
	for _, s := range c.Instruments {
		inst, err := domain.ParseInstrument(s)
		if err != nil {
			return nil, err
		}
		if seen[inst] {
			return nil, fmt.Errorf("duplicate instrument %s", inst)
		}
		seen[inst] = true
		out = append(out, inst)
	}
	return out, nil
}

// ConstraintsFor returns the constraints configured for a base currency.
func (c *Config) ConstraintsFor(ccy domain.Ccy) domain.Constraints {
	if cons, ok := c.Constraints[string(ccy)]; ok {
		return cons
	}
	return domain.DefaultConstraints()
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies ARB_* environment variables over the file.
func overrideWithEnv(cfg *Config) {
	if mode := os.Getenv("ARB_TRADING_MODE"); mode != "" {
		cfg.Trading.Mode = strings.ToUpper(mode)
	}
	if venue := os.Getenv("ARB_VENUE"); venue != "" {
		cfg.Trading.Venue = strings.ToUpper(venue)
	}
	if url := os.Getenv("ARB_FEED_URL"); url != "" {
		cfg.Feed.URL = url
	}
	if path := os.Getenv("ARB_DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}
