package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Timing.QuietPeriod != 300*time.Millisecond {
		t.Errorf("QuietPeriod: got %v", c.Timing.QuietPeriod)
	}
	if c.Timing.SettleDelay != 500*time.Millisecond {
		t.Errorf("SettleDelay: got %v", c.Timing.SettleDelay)
	}
	if c.Host.Addr != ":8420" || c.Host.DedupWindow != 0 {
		t.Errorf("Host: %+v", c.Host)
	}
	if len(c.Sinks) != 1 || c.Sinks[0].Type != "stdout" {
		t.Errorf("Sinks: %+v", c.Sinks)
	}
	if c.BuildCatalog().Len() != 27 {
		t.Errorf("catalog: got %d phrases", c.BuildCatalog().Len())
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subwatch.yaml")
	data := `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/x
  resource_blocking: [images]
pages:
  - id: shop
    url: https://shop.test/
    stealth_level: auto
  - url: https://app.test/
timing:
  quiet_period: 150ms
  scan_timeout: 2s
sinks:
  - type: webhook
    url: http://127.0.0.1:8420/v1/messages
catalog:
  - name: trial
    phrases: [free trial]
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Timing.QuietPeriod != 150*time.Millisecond {
		t.Errorf("QuietPeriod: got %v", c.Timing.QuietPeriod)
	}
	if c.Timing.SettleDelay != 500*time.Millisecond {
		t.Errorf("SettleDelay default: got %v", c.Timing.SettleDelay)
	}
	if c.Pages[0].StealthLevel != "auto" || c.Pages[1].StealthLevel != "1" {
		t.Errorf("stealth levels: %q %q", c.Pages[0].StealthLevel, c.Pages[1].StealthLevel)
	}
	if c.Pages[1].ScanTimeout != 2*time.Second {
		t.Errorf("page scan timeout: got %v", c.Pages[1].ScanTimeout)
	}
	if c.Sinks[0].Timeout != 5*time.Second {
		t.Errorf("webhook timeout: got %v", c.Sinks[0].Timeout)
	}
	cat := c.BuildCatalog()
	if m, ok := cat.Match("Start your FREE TRIAL"); !ok || m.Keyword != "free trial" {
		t.Errorf("configured catalog: %+v %v", m, ok)
	}
	if c.Log.Level != "debug" {
		t.Errorf("Log.Level: %q", c.Log.Level)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("want error")
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`
browser: {stealth: invisible}
pages:
  - id: a
    url: https://a.test/
    stealth_level: "9"
  - id: a
    url: ""
sinks:
  - type: webhook
  - type: carrier-pigeon
host:
  dedup_window: -1s
`))
	if err == nil {
		t.Fatal("want error")
	}
	for _, want := range []string{"browser.stealth", "stealth_level", "duplicate id", "url is required", "webhook needs url", "carrier-pigeon", "host.dedup_window"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvHostAddr, "127.0.0.1:9000")
	t.Setenv(EnvWebhookURL, "http://host.test/v1/messages")

	c := Default()
	c.ApplyEnv()

	if c.Log.Level != "warn" || c.Host.Addr != "127.0.0.1:9000" {
		t.Errorf("overrides: %+v %+v", c.Log, c.Host)
	}
	if len(c.Sinks) != 2 || c.Sinks[1].Type != "webhook" || c.Sinks[1].URL != "http://host.test/v1/messages" {
		t.Fatalf("Sinks: %+v", c.Sinks)
	}
	if c.Sinks[1].Timeout != 5*time.Second {
		t.Errorf("added webhook timeout: %v", c.Sinks[1].Timeout)
	}

	c.ApplyEnv()
	if len(c.Sinks) != 2 {
		t.Errorf("second ApplyEnv added another sink: %+v", c.Sinks)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte(EnvBrowserRemote+"=ws://remote.test:9222\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvBrowserRemote, "")
	os.Unsetenv(EnvBrowserRemote)

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	c := Default()
	c.ApplyEnv()
	if c.Browser.Remote != "ws://remote.test:9222" {
		t.Errorf("Remote: %q", c.Browser.Remote)
	}
}
