package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/advisor/expert"
	"github.com/rustyeddy/advisor/model"
)

// Config represents the complete advisor configuration
type Config struct {
	Store     StoreConfig     `json:"store" yaml:"store"`
	Broker    BrokerConfig    `json:"broker" yaml:"broker"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`

	// RulesetFile is loaded into the store at startup.
	RulesetFile string `json:"ruleset_file" yaml:"ruleset_file"`

	Experts []expert.Instance `json:"experts" yaml:"experts"`
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "sqlite", "postgres" or "memory"
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// BrokerConfig seeds the simulated account driver
type BrokerConfig struct {
	Balance float64            `json:"balance" yaml:"balance"`
	Prices  map[string]float64 `json:"prices,omitempty" yaml:"prices,omitempty"`
}

// SchedulerConfig contains the background pass intervals
type SchedulerConfig struct {
	EvaluateEvery string `json:"evaluate_every" yaml:"evaluate_every"` // e.g., "1m", "30s"
	AllocateEvery string `json:"allocate_every" yaml:"allocate_every"`
	ReleaseEvery  string `json:"release_every" yaml:"release_every"`
	RefreshEvery  string `json:"refresh_every" yaml:"refresh_every"`

	// EvaluateAll reports every trigger instead of short-circuiting.
	EvaluateAll bool `json:"evaluate_all" yaml:"evaluate_all"`
}

// Interval parses one of the scheduler interval strings
func Interval(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// TelegramConfig contains notification parameters
type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
}

// LoadFromFile loads configuration from a file (JSON or YAML based on content)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine format by extension
	if (len(path) > 5 && path[len(path)-5:] == ".yaml") || (len(path) > 4 && path[len(path)-4:] == ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for sqlite backend")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn required for postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be 'sqlite', 'postgres' or 'memory'")
	}

	if c.Broker.Balance <= 0 {
		return fmt.Errorf("broker.balance must be positive")
	}
	for sym, price := range c.Broker.Prices {
		if price <= 0 {
			return fmt.Errorf("broker price for %s must be positive", sym)
		}
	}

	for _, field := range []struct{ name, value string }{
		{"scheduler.evaluate_every", c.Scheduler.EvaluateEvery},
		{"scheduler.allocate_every", c.Scheduler.AllocateEvery},
		{"scheduler.release_every", c.Scheduler.ReleaseEvery},
		{"scheduler.refresh_every", c.Scheduler.RefreshEvery},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %v", field.name, err)
		}
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token required when telegram is enabled")
	}

	if len(c.Experts) == 0 {
		return fmt.Errorf("at least one expert is required")
	}
	seen := map[string]bool{}
	for i := range c.Experts {
		exp := &c.Experts[i]
		if exp.ID == "" {
			return fmt.Errorf("experts[%d].id is required", i)
		}
		if seen[exp.ID] {
			return fmt.Errorf("duplicate expert id %q", exp.ID)
		}
		seen[exp.ID] = true
		if exp.VirtualBalance <= 0 {
			return fmt.Errorf("expert %s: virtual_balance must be positive", exp.ID)
		}
		if exp.Settings.MaxEquityPerInstrumentPct < 0 || exp.Settings.MaxEquityPerInstrumentPct > 100 {
			return fmt.Errorf("expert %s: max_equity_per_instrument_pct must be within [0,100]", exp.ID)
		}
		for sym, w := range exp.Settings.InstrumentWeights {
			if w < 0 {
				return fmt.Errorf("expert %s: weight for %s must be >= 0", exp.ID, sym)
			}
		}
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "./advisor.db",
		},
		Broker: BrokerConfig{
			Balance: 100000,
			Prices: map[string]float64{
				"SBER": 250.0,
				"GAZP": 150.0,
			},
		},
		Scheduler: SchedulerConfig{
			EvaluateEvery: "1m",
			AllocateEvery: "1m",
			ReleaseEvery:  "15s",
			RefreshEvery:  "30s",
		},
		RulesetFile: "./rulesets.yaml",
		Experts: []expert.Instance{
			{
				ID:             "expert-default",
				AccountID:      "ACC-001",
				Name:           "default",
				RulesetID:      "ruleset-default",
				VirtualBalance: 2000,
				Settings: expert.Settings{
					EnableBuy:                  true,
					EnableSell:                 true,
					AllowAutomatedTradeOpening: true,
					MaxEquityPerInstrumentPct:  25,
				},
			},
		},
	}
}

// LoadRulesets reads a YAML (or JSON) file containing rulesets.
func LoadRulesets(path string) ([]model.Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset file: %w", err)
	}

	var doc struct {
		Rulesets []model.Ruleset `json:"rulesets" yaml:"rulesets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if jerr := json.Unmarshal(data, &doc); jerr != nil {
			return nil, fmt.Errorf("parse ruleset file (tried YAML and JSON): %w", err)
		}
	}
	if len(doc.Rulesets) == 0 {
		return nil, fmt.Errorf("ruleset file %s defines no rulesets", path)
	}
	for i := range doc.Rulesets {
		if doc.Rulesets[i].ID == "" {
			return nil, fmt.Errorf("rulesets[%d]: missing id", i)
		}
	}
	return doc.Rulesets, nil
}
