// Package subwatch watches live web pages for language that signals a
// subscription (a trial starting, a billing confirmation, recurring
// payment terms) and reports the first catalog phrase found per scan.
//
// Each page gets its own event loop. The loop owns a detection pipeline per
// loaded document: an initial scan, debounced rescans on content mutations,
// a settled rescan after single-page-app navigation, and teardown when the
// document unloads. Detections are handed to sinks asynchronously.
package subwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/subtrack/idgen"
	"github.com/hazyhaar/subtrack/subwatch/catalog"
	"github.com/hazyhaar/subtrack/subwatch/internal/browser"
	"github.com/hazyhaar/subtrack/subwatch/internal/fetcher"
	"github.com/hazyhaar/subtrack/subwatch/internal/pipeline"
	"github.com/hazyhaar/subtrack/subwatch/internal/registry"
	"github.com/hazyhaar/subtrack/subwatch/internal/sink"
	"github.com/hazyhaar/subtrack/subwatch/internal/urlguard"
)

// ErrStopped is returned by operations on a stopped Watcher.
var ErrStopped = errors.New("subwatch: watcher stopped")

// PageStatus reports one watched page.
type PageStatus struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	Mode      string         `json:"mode"` // http | headless | headful
	Documents int            `json:"documents"`
	Stats     pipeline.Stats `json:"stats"`
	Since     time.Time      `json:"since"`
	LastError string         `json:"last_error,omitempty"`
}

// Status is a point-in-time view of the watcher.
type Status struct {
	Pages    []PageStatus         `json:"pages"`
	Dispatch sink.DispatcherStats `json:"dispatch"`
	Recycles int                  `json:"browser_recycles"`
}

// Watcher is the top-level orchestrator: it owns the browser, one session
// per watched page, and the detection dispatcher.
type Watcher struct {
	cfg    *Config
	cat    *catalog.Catalog
	mgr    *browser.Manager
	fetch  *fetcher.Fetcher
	guard  urlguard.Guard
	disp   *sink.Dispatcher
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	sessions map[string]*session
	stopped  bool
	browser  bool // manager started
}

// New creates a Watcher. Detections go to every sink; with none, they are
// written to stdout.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(sinks) == 0 {
		sinks = []Sink{sink.NewStdout(nil)}
	}

	level := browser.LevelHeadless
	if cfg.Browser.Stealth == "headful" {
		level = browser.LevelHeadful
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          level,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	disp := sink.NewDispatcher(sink.NewRouter(logger, sinks...),
		sink.WithQueueSize(cfg.Dispatch.QueueSize),
		sink.WithDispatcherLogger(logger))

	return &Watcher{
		cfg:      cfg,
		cat:      cfg.BuildCatalog(),
		mgr:      mgr,
		fetch:    fetcher.New(fetcher.WithLogger(logger)),
		guard:    urlguard.Guard{AllowPrivate: cfg.Security.AllowPrivate},
		disp:     disp,
		logger:   logger,
		ctx:      context.Background(),
		sessions: make(map[string]*session),
	}
}

// Catalog is the keyword catalog every pipeline matches against.
func (w *Watcher) Catalog() *catalog.Catalog { return w.cat }

// Start begins observing every configured page. Pages that fail to start
// are logged and skipped. The browser is launched on first need.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	w.ctx = ctx
	w.mu.Unlock()

	for _, pc := range w.cfg.Pages {
		if err := w.ObservePage(ctx, pc); err != nil {
			w.logger.Error("subwatch: failed to observe page", "url", pc.URL, "error", err)
		}
	}
	return nil
}

// ObservePage starts watching one page, replacing any session with the
// same id. A page without an id gets a generated one, visible in Status.
func (w *Watcher) ObservePage(ctx context.Context, pc PageConfig) error {
	_, err := w.observe(ctx, pc)
	return err
}

func (w *Watcher) observe(ctx context.Context, pc PageConfig) (string, error) {
	if pc.URL == "" {
		return "", fmt.Errorf("subwatch: observe: url is required")
	}
	if pc.ID == "" {
		pc.ID = idgen.PageID()
	}
	if err := urlguard.CheckID(pc.ID); err != nil {
		return "", err
	}
	level, auto, err := browser.ParseStealth(pc.StealthLevel)
	if err != nil {
		return "", err
	}
	if err := w.guard.Check(pc.URL); err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return "", ErrStopped
	}
	if old, ok := w.sessions[pc.ID]; ok {
		old.stop()
		delete(w.sessions, pc.ID)
	}

	if level == browser.LevelHTTP {
		res, err := w.fetch.Fetch(ctx, pc.URL)
		switch {
		case err != nil && !auto:
			return "", fmt.Errorf("subwatch: fetch %s: %w", pc.URL, err)
		case err != nil:
			w.logger.Warn("subwatch: auto fetch failed, escalating to headless", "url", pc.URL, "error", err)
			level = browser.LevelHeadless
		case auto && !res.Sufficient:
			w.logger.Info("subwatch: content insufficient via HTTP, escalating to headless", "url", pc.URL)
			level = browser.LevelHeadless
		default:
			s := newSession(pc, modeName(browser.LevelHTTP), w.pipelineConfig(pc), w.logger)
			s.scanStatic(res)
			w.sessions[pc.ID] = s
			w.logger.Info("subwatch: scanned page over HTTP", "url", pc.URL, "id", pc.ID)
			return pc.ID, nil
		}
	}

	if err := w.ensureBrowserLocked(); err != nil {
		return "", err
	}
	s := newSession(pc, modeName(level), w.pipelineConfig(pc), w.logger)
	if err := s.startBrowser(ctx, w.mgr, level); err != nil {
		return "", fmt.Errorf("subwatch: open %s: %w", pc.URL, err)
	}
	w.sessions[pc.ID] = s
	w.logger.Info("subwatch: observing page", "url", pc.URL, "id", pc.ID, "stealth", level)
	return pc.ID, nil
}

// StopPage stops watching a page. Unknown ids are ignored.
func (w *Watcher) StopPage(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.sessions[id]; ok {
		s.stop()
		delete(w.sessions, id)
		w.logger.Info("subwatch: stopped page", "id", id)
	}
}

// SyncPages makes the watched set equal to pages: new ids start, missing
// ids stop, and pages whose url or stealth level changed restart.
func (w *Watcher) SyncPages(ctx context.Context, pages []PageConfig) error {
	want := make(map[string]PageConfig, len(pages))
	for _, p := range pages {
		want[p.ID] = p
	}

	w.mu.Lock()
	var stale []string
	for id, s := range w.sessions {
		p, ok := want[id]
		if !ok || p.URL != s.page.URL || p.StealthLevel != s.page.StealthLevel {
			stale = append(stale, id)
			continue
		}
		delete(want, id)
	}
	w.mu.Unlock()

	for _, id := range stale {
		w.StopPage(id)
	}
	var errs []error
	for _, p := range pages {
		if _, ok := want[p.ID]; !ok {
			continue
		}
		if err := w.ObservePage(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WatchRegistry follows the watch_pages table in db until ctx is done,
// syncing the watched set on every change. Changes are detected through
// updated_at so writes made on db itself are seen too.
func (w *Watcher) WatchRegistry(ctx context.Context, db *sql.DB, interval time.Duration) {
	poller := registry.NewPoller(db, registry.PollOptions{
		Interval: interval,
		Detector: registry.LastUpdate,
		Logger:   w.logger,
	})
	poller.Run(ctx, func(rows []registry.Page) error {
		pages := make([]PageConfig, 0, len(rows))
		for _, r := range rows {
			pages = append(pages, PageConfig{
				ID:           r.ID,
				URL:          r.URL,
				StealthLevel: r.StealthLevel,
				ScanTimeout:  r.ScanTimeout,
			})
		}
		return w.SyncPages(ctx, pages)
	})
}

// Status returns every page sorted by id, with delivery counters.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	pages := make([]PageStatus, 0, len(w.sessions))
	for _, s := range w.sessions {
		pages = append(pages, s.status())
	}
	w.mu.Unlock()

	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	return Status{
		Pages:    pages,
		Dispatch: w.disp.Stats(),
		Recycles: w.mgr.Recycles(),
	}
}

// Stop tears down every session, delivers queued detections, then closes
// the browser.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for id, s := range w.sessions {
		s.stop()
		w.logger.Info("subwatch: stopped page", "id", id)
	}
	w.sessions = make(map[string]*session)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.disp.Close(ctx); err != nil {
		w.logger.Warn("subwatch: dispatcher close", "error", err)
	}
	w.mgr.Close()
}

func (w *Watcher) pipelineConfig(pc PageConfig) pipeline.Config {
	timeout := pc.ScanTimeout
	if timeout <= 0 {
		timeout = w.cfg.Timing.ScanTimeout
	}
	return pipeline.Config{
		Catalog:     w.cat,
		Emitter:     w.disp,
		QuietPeriod: w.cfg.Timing.QuietPeriod,
		SettleDelay: w.cfg.Timing.SettleDelay,
		ScanTimeout: timeout,
	}
}

func (w *Watcher) ensureBrowserLocked() error {
	if w.browser {
		return nil
	}
	if _, err := w.mgr.Start(w.ctx); err != nil {
		return fmt.Errorf("subwatch: start browser: %w", err)
	}
	w.browser = true
	w.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: w.closeBrowserSessions,
		AfterRecycle:  func(*rod.Browser) { w.reopenBrowserSessions() },
	})
	return nil
}

// closeBrowserSessions stops browser-backed sessions ahead of a recycle.
// Their configs are kept for reopening.
func (w *Watcher) closeBrowserSessions() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.sessions {
		if s.tab != nil {
			s.stop()
		}
	}
}

func (w *Watcher) reopenBrowserSessions() {
	w.mu.Lock()
	var pages []PageConfig
	for id, s := range w.sessions {
		if s.tab != nil {
			pages = append(pages, s.page)
			delete(w.sessions, id)
		}
	}
	ctx := w.ctx
	w.mu.Unlock()

	for _, pc := range pages {
		// A page that reached the browser through "auto" stays there.
		if pc.StealthLevel == "auto" || pc.StealthLevel == "0" {
			pc.StealthLevel = "1"
		}
		if err := w.ObservePage(ctx, pc); err != nil {
			w.logger.Error("subwatch: reopen after recycle failed", "url", pc.URL, "error", err)
		}
	}
}
