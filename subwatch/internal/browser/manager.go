// Package browser owns the Chrome process the watcher drives: launch or
// remote connect through Rod, periodic and memory-triggered recycling, and
// the per-page adapter that turns a Rod tab into a scannable document.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel selects how a page is fetched.
type StealthLevel int

const (
	LevelHTTP     StealthLevel = 0 // plain HTTP fetch, one scan
	LevelHeadless StealthLevel = 1 // Rod headless + go-rod/stealth
	LevelHeadful  StealthLevel = 2 // Rod headful on Xvfb
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("browser: manager is closed")

// ParseStealth reads a page's stealth setting. "auto" starts at HTTP and
// lets the caller escalate; the empty string means headless.
func ParseStealth(s string) (level StealthLevel, auto bool, err error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "1":
		return LevelHeadless, false, nil
	case "0":
		return LevelHTTP, false, nil
	case "2":
		return LevelHeadful, false, nil
	case "auto":
		return LevelHTTP, true, nil
	}
	return 0, false, fmt.Errorf("browser: unknown stealth level %q", s)
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket of an existing Chrome. Empty
	// launches a local one.
	RemoteURL string

	// MemoryLimit in bytes of JS heap before a recycle. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval caps a Chrome process lifetime. Default: 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource types never loaded (images, fonts,
	// media, stylesheets). Text detection needs none of them.
	ResourceBlocking []string

	// Stealth is the launch mode. LevelHeadful starts Xvfb.
	Stealth StealthLevel

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RecycleCallback lets the watcher drop its sessions before Chrome goes
// away and reopen them on the new process.
type RecycleCallback struct {
	BeforeRecycle func()
	AfterRecycle  func(b *rod.Browser)
}

// Manager manages the Chrome lifecycle. Safe for concurrent use.
type Manager struct {
	cfg      Config
	mu       sync.RWMutex
	browser  *rod.Browser
	lnch     *launcher.Launcher
	display  *display
	startAt  time.Time
	closed   bool
	recycles int
	cb       *RecycleCallback
}

// NewManager creates a Manager. Call Start to get a browser.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// SetRecycleCallback replaces the recycle hooks.
func (m *Manager) SetRecycleCallback(cb *RecycleCallback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// Start launches or connects to Chrome and starts the recycle monitor,
// which stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitor(ctx)
	return b, nil
}

// Browser returns the live browser, nil before Start or after Close.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycles is the number of completed recycles.
func (m *Manager) Recycles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recycles
}

// Recycle restarts Chrome, running the callbacks around it.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	cb := m.cb
	m.mu.Unlock()

	// Callbacks run unlocked: they close tabs and open new ones through
	// Browser().
	if cb != nil && cb.BeforeRecycle != nil {
		cb.BeforeRecycle()
	}

	m.mu.Lock()
	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt))
	m.cleanup()
	b, err := m.launch()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	m.recycles++
	m.mu.Unlock()

	if cb != nil && cb.AfterRecycle != nil {
		cb.AfterRecycle(b)
	}
	m.cfg.Logger.Info("browser: recycled")
	return nil
}

// Close shuts Chrome and Xvfb down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Stealth == LevelHeadful && m.cfg.RemoteURL == "" {
		d, err := startDisplay(m.cfg.XvfbDisplay, m.cfg.Logger)
		if err != nil {
			return nil, err
		}
		m.display = d
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Set("disable-blink-features", "AutomationControlled")
		if m.display != nil {
			l = l.Headless(false).Env(m.display.env()...)
		} else {
			l = l.Headless(true)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "stealth", m.cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors", "error", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.display.stop()
	m.display = nil
}

// monitor recycles Chrome on age or heap size, checked every 30s.
func (m *Manager) monitor(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		closed, b, startAt := m.closed, m.browser, m.startAt
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		if age := time.Since(startAt); age > m.cfg.RecycleInterval {
			log.Info("browser: recycle interval reached", "age", age)
			if err := m.Recycle(); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
			continue
		}

		used, err := heapUsage(b)
		if err != nil {
			log.Debug("browser: heap check", "error", err)
			continue
		}
		if used > m.cfg.MemoryLimit {
			log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
			if err := m.Recycle(); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
		}
	}
}

// heapUsage sums performance.memory.usedJSHeapSize over open pages.
func heapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, errors.New("no pages")
	}

	var total int64
	for _, p := range pages {
		res, err := p.Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
		if err != nil {
			continue
		}
		total += int64(res.Value.Int())
	}
	return total, nil
}
