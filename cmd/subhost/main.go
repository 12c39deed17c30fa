// Command subhost receives detections from subwatch and surfaces them.
//
// Usage:
//
//	subhost -addr :8420 -dedup 10m
//	subhost -config subwatch.yaml   # reads the host: and log: sections
//
// Explicit flags override the file, which is overridden by SUBWATCH_*
// environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hazyhaar/subtrack/host"
	"github.com/hazyhaar/subtrack/subwatch"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "subhost: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.File)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := host.Dedup(host.LogNotifier{Logger: logger}, cfg.Host.DedupWindow)
	srv := &http.Server{
		Addr:              cfg.Host.Addr,
		Handler:           host.NewServer(notifier, host.WithLogger(logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("subhost: shutdown", "error", err)
		}
	}()

	logger.Info("subhost: listening", "addr", cfg.Host.Addr, "dedup", cfg.Host.DedupWindow)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("subhost: fatal", "error", err)
		os.Exit(1)
	}
}

// loadConfig resolves the host and log settings: dotenv, then the config
// file or defaults, then the environment, then flags given on the command
// line.
func loadConfig(args []string) (*subwatch.Config, error) {
	fs := flag.NewFlagSet("subhost", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to subwatch.yaml; only host and log are used")
	envFile := fs.String("env", ".env", "dotenv file loaded before the config")
	addr := fs.String("addr", ":8420", "listen address")
	dedup := fs.Duration("dedup", 0, "suppress identical detections within this window (0 disables)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logFile := fs.String("log-file", "", "also write logs to this rotated file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := subwatch.LoadDotEnv(*envFile); err != nil {
		return nil, err
	}
	cfg := subwatch.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = subwatch.LoadConfigFile(*configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Host.Addr = *addr
		case "dedup":
			cfg.Host.DedupWindow = *dedup
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-file":
			cfg.Log.File = *logFile
		}
	})
	if cfg.Host.DedupWindow < 0 {
		return nil, fmt.Errorf("dedup window %s is negative", cfg.Host.DedupWindow)
	}
	return cfg, nil
}

func newLogger(levelName, file string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if file != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}
