// Package config handles subwatch configuration from YAML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/subtrack/subwatch/catalog"
)

// Config is the top-level subwatch configuration.
type Config struct {
	Browser  BrowserConfig      `yaml:"browser"`
	Pages    []PageConfig       `yaml:"pages"`
	Timing   TimingConfig       `yaml:"timing"`
	Sinks    []SinkConfig       `yaml:"sinks"`
	Catalog  []catalog.Category `yaml:"catalog"`
	Host     HostConfig         `yaml:"host"`
	Log      LogConfig          `yaml:"log"`
	Dispatch DispatchConfig     `yaml:"dispatch"`
	Security SecurityConfig     `yaml:"security"`
}

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig defines a page to watch.
type PageConfig struct {
	ID           string        `yaml:"id"`
	URL          string        `yaml:"url"`
	StealthLevel string        `yaml:"stealth_level"` // 0 | 1 | 2 | auto
	ScanTimeout  time.Duration `yaml:"scan_timeout"`
}

// TimingConfig holds the rescan delays.
type TimingConfig struct {
	QuietPeriod time.Duration `yaml:"quiet_period"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// SinkConfig defines a detection output.
type SinkConfig struct {
	Type    string        `yaml:"type"` // stdout | webhook
	URL     string        `yaml:"url"`  // for webhook
	Timeout time.Duration `yaml:"timeout"`
}

// HostConfig configures the receiving host process.
type HostConfig struct {
	Addr        string        `yaml:"addr"`
	DedupWindow time.Duration `yaml:"dedup_window"` // 0 disables suppression
}

// LogConfig selects the log level and an optional rotated file.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DispatchConfig sizes the asynchronous delivery queue.
type DispatchConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// SecurityConfig restricts what pages may be opened.
type SecurityConfig struct {
	// AllowPrivate permits loopback and private-network pages.
	AllowPrivate bool `yaml:"allow_private"`
}

// Default returns a configuration with every default applied and no pages.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.Timing.QuietPeriod <= 0 {
		c.Timing.QuietPeriod = 300 * time.Millisecond
	}
	if c.Timing.SettleDelay <= 0 {
		c.Timing.SettleDelay = 500 * time.Millisecond
	}
	if c.Timing.ScanTimeout <= 0 {
		c.Timing.ScanTimeout = 5 * time.Second
	}
	for i := range c.Pages {
		if c.Pages[i].StealthLevel == "" {
			c.Pages[i].StealthLevel = "1"
		}
		if c.Pages[i].ScanTimeout <= 0 {
			c.Pages[i].ScanTimeout = c.Timing.ScanTimeout
		}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Timeout <= 0 {
			c.Sinks[i].Timeout = 5 * time.Second
		}
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	if c.Host.Addr == "" {
		c.Host.Addr = ":8420"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 256
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		errs = append(errs, fmt.Errorf("browser.stealth: %q is not headless or headful", c.Browser.Stealth))
	}
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if strings.TrimSpace(p.URL) == "" {
			errs = append(errs, fmt.Errorf("pages[%d]: url is required", i))
		}
		switch p.StealthLevel {
		case "0", "1", "2", "auto":
		default:
			errs = append(errs, fmt.Errorf("pages[%d]: stealth_level %q", i, p.StealthLevel))
		}
		if p.ID != "" {
			if seen[p.ID] {
				errs = append(errs, fmt.Errorf("pages[%d]: duplicate id %q", i, p.ID))
			}
			seen[p.ID] = true
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("sinks[%d]: webhook needs url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	for i, cat := range c.Catalog {
		if cat.Name == "" {
			errs = append(errs, fmt.Errorf("catalog[%d]: name is required", i))
		}
	}
	if c.Host.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("host.dedup_window: %s is negative", c.Host.DedupWindow))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// BuildCatalog returns the configured catalog, or the default one when the
// file declares none.
func (c *Config) BuildCatalog() *catalog.Catalog {
	if len(c.Catalog) == 0 {
		return catalog.Default()
	}
	return catalog.New(c.Catalog...)
}
