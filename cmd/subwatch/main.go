// Command subwatch watches web pages for subscription language and reports
// each detection to its configured sinks.
//
// Usage:
//
//	subwatch -config subwatch.yaml            # watch the pages listed in YAML
//	subwatch -url https://example.com/pricing # watch one page, stdout sink
//	subwatch -db pages.db                     # follow a SQLite page registry
//	subwatch -mcp                             # serve the MCP tools over stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hazyhaar/subtrack/subwatch"
)

func main() {
	configPath := flag.String("config", "", "path to subwatch.yaml config file")
	singleURL := flag.String("url", "", "watch a single URL (stealth auto)")
	dbPath := flag.String("db", "", "SQLite page registry to follow")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "also write logs to this rotated file")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools over stdio")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := subwatch.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "subwatch: %v\n", err)
		os.Exit(1)
	}

	cfg := subwatch.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = subwatch.LoadConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "subwatch: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv()
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *singleURL != "" {
		cfg.Pages = append(cfg.Pages, subwatch.PageConfig{URL: *singleURL, StealthLevel: "auto"})
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "subwatch: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *configPath == "" && *singleURL == "" && *dbPath == "" && !*serveMCP {
		fmt.Fprintln(os.Stderr, "usage: subwatch -config <file> | -url <url> | -db <file> | -mcp")
		os.Exit(2)
	}

	if err := run(ctx, logger, cfg, *dbPath, *serveMCP); err != nil {
		logger.Error("subwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *subwatch.Config, dbPath string, serveMCP bool) error {
	// Over stdio, stdout carries the MCP protocol.
	var stdout io.Writer = os.Stdout
	if serveMCP {
		stdout = os.Stderr
	}
	sinks, err := subwatch.SinksFromConfig(cfg, stdout, logger)
	if err != nil {
		return err
	}

	w := subwatch.New(cfg, logger, sinks...)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer w.Stop()

	if dbPath != "" {
		db, err := subwatch.OpenRegistry(dbPath)
		if err != nil {
			return fmt.Errorf("registry: %w", err)
		}
		defer db.Close()
		go w.WatchRegistry(ctx, db, time.Second)
		logger.Info("subwatch: following registry", "path", dbPath)
	}

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "subwatch", Version: "1.0.0"}, nil)
		w.RegisterMCP(srv)
		logger.Info("subwatch: serving MCP over stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

func newLogger(cfg subwatch.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
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
	if cfg.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}
