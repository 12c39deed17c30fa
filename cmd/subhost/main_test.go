package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subwatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// noEnv points -env at a file that does not exist so a stray .env in the
// working directory cannot leak in.
func noEnv(t *testing.T) string {
	return "-env=" + filepath.Join(t.TempDir(), "missing.env")
}

const hostYAML = `
host:
  addr: 127.0.0.1:9100
  dedup_window: 2m
log:
  level: debug
`

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig([]string{noEnv(t)})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host.Addr != ":8420" || cfg.Host.DedupWindow != 0 || cfg.Log.Level != "info" {
		t.Errorf("defaults: %+v %+v", cfg.Host, cfg.Log)
	}
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := loadConfig([]string{noEnv(t), "-config", writeConfig(t, hostYAML)})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host.Addr != "127.0.0.1:9100" || cfg.Host.DedupWindow != 2*time.Minute {
		t.Errorf("host: %+v", cfg.Host)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level: %q", cfg.Log.Level)
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, hostYAML)

	t.Setenv("SUBWATCH_HOST_ADDR", "127.0.0.1:9200")
	cfg, err := loadConfig([]string{noEnv(t), "-config", path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host.Addr != "127.0.0.1:9200" {
		t.Errorf("env over file: %q", cfg.Host.Addr)
	}

	cfg, err = loadConfig([]string{noEnv(t), "-config", path, "-addr", ":9300", "-dedup", "30s"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host.Addr != ":9300" || cfg.Host.DedupWindow != 30*time.Second {
		t.Errorf("flags over env and file: %+v", cfg.Host)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("unset flag replaced file value: %q", cfg.Log.Level)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := loadConfig([]string{noEnv(t), "-dedup", "-5s"}); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Errorf("negative dedup: %v", err)
	}
	if _, err := loadConfig([]string{noEnv(t), "-config", filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Error("missing config: want error")
	}
	if _, err := loadConfig([]string{"-bogus"}); err == nil {
		t.Error("unknown flag: want error")
	}
}
