package subwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/subtrack/subwatch/internal/browser"
	"github.com/hazyhaar/subtrack/subwatch/internal/fetcher"
	"github.com/hazyhaar/subtrack/subwatch/internal/loop"
	"github.com/hazyhaar/subtrack/subwatch/internal/pipeline"
)

// session runs the pipelines of one watched page on its own loop. A
// browser session starts a fresh pipeline for every document the tab
// loads; a static session scans a fetched page once.
type session struct {
	page   PageConfig
	mode   string
	base   pipeline.Config
	logger *slog.Logger

	loop   *loop.Loop
	cancel context.CancelFunc
	tab    *browser.Page

	// Written on the loop goroutine, read by Status.
	mu        sync.Mutex
	current   *pipeline.Pipeline
	finished  pipeline.Stats
	documents int
	url       string
	started   time.Time
	lastErr   string
}

func newSession(pc PageConfig, mode string, base pipeline.Config, logger *slog.Logger) *session {
	return &session{
		page:    pc,
		mode:    mode,
		base:    base,
		logger:  logger.With("page", pc.ID),
		url:     pc.URL,
		started: time.Now(),
	}
}

func (s *session) run() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loop = loop.New(loop.WithLogger(s.logger))
	go s.loop.Run(ctx)
}

// startBrowser opens the tab and begins a pipeline on each ready document.
func (s *session) startBrowser(ctx context.Context, mgr *browser.Manager, level browser.StealthLevel) error {
	s.run()
	s.tab = browser.NewPage(s.loop, browser.PageOptions{
		URL:    s.page.URL,
		ID:     s.page.ID,
		Level:  level,
		Logger: s.logger,
	})
	s.loop.Sync(func() {
		s.tab.OnReady(s.onReady)
	})
	if err := s.tab.Open(ctx, mgr); err != nil {
		s.stop()
		return err
	}
	return nil
}

// onReady replaces the previous document's pipeline.
func (s *session) onReady(url string) {
	s.teardown()

	cfg := s.base
	cfg.Document = s.tab
	cfg.Scheduler = s.loop
	cfg.Logger = s.logger
	p := pipeline.New(cfg)

	s.mu.Lock()
	s.current = p
	s.documents++
	s.url = url
	s.mu.Unlock()

	if err := p.Initialize(); err != nil {
		s.setErr(err)
	}
	s.logger.Debug("subwatch: document ready", "url", url)
}

// teardown stops the current pipeline and folds its counters in.
func (s *session) teardown() {
	s.mu.Lock()
	p := s.current
	s.current = nil
	s.mu.Unlock()
	if p == nil {
		return
	}
	p.Teardown()
	st := p.Stats()
	s.mu.Lock()
	s.finished.Scans += st.Scans
	s.finished.Detections += st.Detections
	s.finished.Failures += st.Failures
	s.mu.Unlock()
}

// scanStatic runs one pipeline over a fetched page: its initial scan, then
// teardown.
func (s *session) scanStatic(res *fetcher.Result) {
	s.run()
	defer s.stop()

	s.loop.Sync(func() {
		cfg := s.base
		cfg.Document = fetcher.NewDocument(res)
		cfg.Scheduler = s.loop
		cfg.Logger = s.logger
		p := pipeline.New(cfg)

		s.mu.Lock()
		s.current = p
		s.documents++
		s.url = res.URL
		s.mu.Unlock()

		if err := p.Initialize(); err != nil {
			s.setErr(err)
		}
		s.teardown()
	})
}

func (s *session) stop() {
	if s.loop == nil {
		return
	}
	s.loop.Sync(s.teardown)
	if s.tab != nil {
		if err := s.tab.Close(); err != nil {
			s.logger.Debug("subwatch: close tab", "error", err)
		}
	}
	s.loop.Close()
	s.cancel()
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.logger.Warn("subwatch: session error", "error", err)
}

func (s *session) status() PageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.finished
	if s.current != nil {
		cur := s.current.Stats()
		st.Scans += cur.Scans
		st.Detections += cur.Detections
		st.Failures += cur.Failures
	}
	return PageStatus{
		ID:        s.page.ID,
		URL:       s.url,
		Mode:      s.mode,
		Documents: s.documents,
		Stats:     st,
		Since:     s.started,
		LastError: s.lastErr,
	}
}

func modeName(level browser.StealthLevel) string {
	switch level {
	case browser.LevelHTTP:
		return "http"
	case browser.LevelHeadless:
		return "headless"
	case browser.LevelHeadful:
		return "headful"
	}
	return fmt.Sprintf("level-%d", level)
}
