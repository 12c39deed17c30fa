package subwatch

import "github.com/hazyhaar/subtrack/subwatch/internal/config"

// Configuration types, re-exported so callers outside this module can build
// a Watcher without reaching into internal packages.
type (
	Config         = config.Config
	BrowserConfig  = config.BrowserConfig
	PageConfig     = config.PageConfig
	TimingConfig   = config.TimingConfig
	SinkConfig     = config.SinkConfig
	HostConfig     = config.HostConfig
	LogConfig      = config.LogConfig
	DispatchConfig = config.DispatchConfig
	SecurityConfig = config.SecurityConfig
)

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config { return config.Default() }

// LoadConfigFile reads and validates a YAML configuration.
func LoadConfigFile(path string) (*Config, error) { return config.LoadFile(path) }

// ParseConfig parses and validates YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) { return config.Parse(data) }

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped.
func LoadDotEnv(files ...string) error { return config.LoadDotEnv(files...) }
