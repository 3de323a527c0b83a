// Package config loads shimmer service configuration. Values are layered
// with koanf: built-in defaults, then a YAML file, then SHIMMER_ environment
// variables, then explicitly set command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/shimmer/internal/browser"
	"github.com/hazyhaar/shimmer/internal/journal"
	"github.com/hazyhaar/shimmer/skeleton"
)

// Config is the top-level shimmer configuration.
type Config struct {
	Browser  BrowserConfig     `yaml:"browser"`
	Measure  MeasureConfig     `yaml:"measure"`
	Shimmer  skeleton.Override `yaml:"shimmer"`
	Server   ServerConfig      `yaml:"server"`
	Journal  JournalConfig     `yaml:"journal"`
	Sanitize SanitizeConfig    `yaml:"sanitize"`
	Log      LogConfig         `yaml:"log"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Headless         bool          `yaml:"headless"`
	Stealth          bool          `yaml:"stealth"`
	ViewportHeight   int           `yaml:"viewport_height"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	MaxStages        int           `yaml:"max_stages"`
	LoadTimeout      time.Duration `yaml:"load_timeout"`
}

// MeasureConfig bounds measurement sessions.
type MeasureConfig struct {
	RetryDelay   time.Duration `yaml:"retry_delay"`
	RetryBudget  int           `yaml:"retry_budget"`
	Settle       string        `yaml:"settle"` // unchanged | non_empty
	DefaultWidth int           `yaml:"default_width"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	MaxBody int64  `yaml:"max_body"`

	// RateLimit caps measure requests per client per RateWindow. Zero
	// disables limiting.
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// JournalConfig controls the measurement journal.
type JournalConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// SanitizeConfig controls HTML fragment sanitization.
type SanitizeConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Settle rule names.
const (
	SettleUnchanged = "unchanged"
	SettleNonEmpty  = "non_empty"
)

// defaultValues seed koanf before any other source, so booleans whose
// default is true survive a file that omits them.
func defaultValues() map[string]any {
	return map[string]any{
		"browser.headless":         true,
		"browser.viewport_height":  1024,
		"browser.memory_limit":     int64(1 << 30),
		"browser.recycle_interval": "4h",
		"browser.max_stages":       4,
		"browser.load_timeout":     "5s",
		"measure.retry_delay":      "100ms",
		"measure.retry_budget":     skeleton.DefaultRetryBudget,
		"measure.settle":           SettleUnchanged,
		"measure.default_width":    1280,
		"measure.timeout":          "10s",
		"server.addr":              ":8090",
		"server.max_body":          int64(1 << 20),
		"server.rate_limit":        60,
		"server.rate_window":       "1m",
		"journal.enabled":          true,
		"journal.path":             "shimmer.db",
		"journal.busy_timeout":     "10s",
		"sanitize.enabled":         true,
		"log.level":                "info",
		"log.format":               "json",
	}
}

// applyDefaults fills values a source explicitly zeroed.
func (c *Config) applyDefaults() {
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 1024
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.MaxStages <= 0 {
		c.Browser.MaxStages = 4
	}
	if c.Browser.LoadTimeout <= 0 {
		c.Browser.LoadTimeout = 5 * time.Second
	}
	if c.Measure.RetryDelay <= 0 {
		c.Measure.RetryDelay = skeleton.DefaultRetryDelay
	}
	if c.Measure.RetryBudget <= 0 {
		c.Measure.RetryBudget = skeleton.DefaultRetryBudget
	}
	if c.Measure.Settle == "" {
		c.Measure.Settle = SettleUnchanged
	}
	if c.Measure.DefaultWidth <= 0 {
		c.Measure.DefaultWidth = 1280
	}
	if c.Measure.Timeout <= 0 {
		c.Measure.Timeout = 10 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 1 << 20
	}
	if c.Server.RateWindow <= 0 {
		c.Server.RateWindow = time.Minute
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "shimmer.db"
	}
	if c.Journal.BusyTimeout <= 0 {
		c.Journal.BusyTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate rejects values no default can repair.
func (c *Config) Validate() error {
	switch c.Measure.Settle {
	case SettleUnchanged, SettleNonEmpty:
	default:
		return fmt.Errorf("config: measure.settle: unknown rule %q", c.Measure.Settle)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format: unknown format %q", c.Log.Format)
	}
	if c.Measure.RetryBudget > 50 {
		return fmt.Errorf("config: measure.retry_budget: %d is too large", c.Measure.RetryBudget)
	}
	return nil
}

// Policy is the session retry policy the measure section describes.
func (c *Config) Policy() skeleton.Policy {
	p := skeleton.Policy{
		RetryDelay:  c.Measure.RetryDelay,
		RetryBudget: c.Measure.RetryBudget,
		Settle:      skeleton.SettleWhenUnchanged,
	}
	if c.Measure.Settle == SettleNonEmpty {
		p.Settle = skeleton.SettleWhenNonEmpty
	}
	return p
}

// BrowserManager is the browser.Config the browser section describes.
func (c *Config) BrowserManager(logger *slog.Logger) browser.Config {
	return browser.Config{
		RemoteURL:        c.Browser.Remote,
		Bin:              c.Browser.Bin,
		Headful:          !c.Browser.Headless,
		Stealth:          c.Browser.Stealth,
		DefaultWidth:     c.Measure.DefaultWidth,
		ViewportHeight:   c.Browser.ViewportHeight,
		MemoryLimit:      c.Browser.MemoryLimit,
		RecycleInterval:  c.Browser.RecycleInterval,
		ResourceBlocking: c.Browser.ResourceBlocking,
		MaxStages:        c.Browser.MaxStages,
		LoadTimeout:      c.Browser.LoadTimeout,
		Logger:           logger,
	}
}

// JournalOptions are the journal.Open options the journal section describes.
func (c *Config) JournalOptions(logger *slog.Logger) []journal.Option {
	return []journal.Option{
		journal.WithBusyTimeout(int(c.Journal.BusyTimeout.Milliseconds())),
		journal.WithLogger(logger),
	}
}

// Dump renders cfg as YAML.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: dump: %w", err)
	}
	return out, nil
}
