package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override the file.
const (
	EnvLogLevel      = "SUBWATCH_LOG_LEVEL"
	EnvLogFile       = "SUBWATCH_LOG_FILE"
	EnvBrowserRemote = "SUBWATCH_BROWSER_REMOTE"
	EnvHostAddr      = "SUBWATCH_HOST_ADDR"
	EnvWebhookURL    = "SUBWATCH_WEBHOOK_URL"
)

// LoadDotEnv loads .env files into the process environment without
// overwriting variables already set. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("config: no env file", "file", f)
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overrides file settings with non-empty environment variables.
// SUBWATCH_WEBHOOK_URL replaces the webhook sink, or adds one.
func (c *Config) ApplyEnv() {
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Log.File, EnvLogFile)
	setString(&c.Browser.Remote, EnvBrowserRemote)
	setString(&c.Host.Addr, EnvHostAddr)

	if u := os.Getenv(EnvWebhookURL); u != "" {
		for i := range c.Sinks {
			if c.Sinks[i].Type == "webhook" {
				c.Sinks[i].URL = u
				return
			}
		}
		c.Sinks = append(c.Sinks, SinkConfig{Type: "webhook", URL: u})
		c.applyDefaults()
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
