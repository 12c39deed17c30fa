// Package pipeline wires one document's detection lifetime: an initial scan,
// debounced rescans on content change, settled rescans on single-page-app
// navigation, and teardown when the document unloads.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/subtrack/subwatch/catalog"
	"github.com/hazyhaar/subtrack/subwatch/internal/debounce"
	"github.com/hazyhaar/subtrack/subwatch/internal/loop"
	"github.com/hazyhaar/subtrack/subwatch/internal/observer"
	"github.com/hazyhaar/subtrack/subwatch/message"
)

// DefaultScanTimeout bounds a single text read.
const DefaultScanTimeout = 5 * time.Second

// ErrAlreadyInitialized is returned by a second Initialize.
var ErrAlreadyInitialized = errors.New("pipeline: already initialized")

// Emitter receives detections. Emit must not block; delivery outcome is
// not reported back.
type Emitter interface {
	Emit(message.Detection)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(message.Detection)

func (f EmitterFunc) Emit(d message.Detection) { f(d) }

// Document is the page a pipeline scans.
type Document interface {
	observer.Source
	// Text returns the document's visible text.
	Text(ctx context.Context) (string, error)
	// URL is the document's current address.
	URL() string
	// OnUnload registers fn to run when the document goes away.
	OnUnload(fn func()) (cancel func())
}

// Config for creating a Pipeline.
type Config struct {
	Scheduler   loop.Scheduler
	Document    Document
	Catalog     *catalog.Catalog
	Emitter     Emitter
	QuietPeriod time.Duration
	SettleDelay time.Duration
	ScanTimeout time.Duration
	Logger      *slog.Logger
}

// Stats are cumulative counters for one pipeline.
type Stats struct {
	Scans      int64 `json:"scans"`
	Detections int64 `json:"detections"`
	Failures   int64 `json:"failures"`
}

// Pipeline is the detection lifetime of one document. Initialize, Scan and
// Teardown run on the scheduler goroutine; Stats may be read from anywhere.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	initialized  bool
	torn         bool
	cancelUnload func()
	debouncer    *debounce.Debouncer
	observer     *observer.Observer

	scans      atomic.Int64
	detections atomic.Int64
	failures   atomic.Int64
}

// New creates a Pipeline. Nothing runs until Initialize.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = EmitterFunc(func(message.Detection) {})
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	return &Pipeline{cfg: cfg, logger: cfg.Logger}
}

// Initialize hooks teardown to the document's unload, scans once, then
// starts watching for changes.
func (p *Pipeline) Initialize() error {
	if p.initialized {
		return ErrAlreadyInitialized
	}
	p.initialized = true

	p.cancelUnload = p.cfg.Document.OnUnload(p.Teardown)

	p.Scan()
	if p.torn {
		return nil
	}

	p.debouncer = debounce.New(p.cfg.Scheduler, p.cfg.QuietPeriod, p.Scan)
	p.observer = observer.New(observer.Config{
		Scheduler:   p.cfg.Scheduler,
		Source:      p.cfg.Document,
		OnContent:   p.debouncer.Trigger,
		OnNavigate:  p.Scan,
		SettleDelay: p.cfg.SettleDelay,
		InitialURL:  p.cfg.Document.URL(),
		Logger:      p.logger,
	})
	if err := p.observer.Start(); err != nil {
		return fmt.Errorf("pipeline: start observer: %w", err)
	}
	return nil
}

// Scan reads the document text, matches the catalog and emits the first
// hit. Failures are logged and never stop later scans.
func (p *Pipeline) Scan() {
	if p.torn {
		return
	}
	p.scans.Add(1)

	defer func() {
		if r := recover(); r != nil {
			p.failures.Add(1)
			p.logger.Error("pipeline: scan panicked", "url", p.cfg.Document.URL(), "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ScanTimeout)
	defer cancel()

	text, err := p.cfg.Document.Text(ctx)
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn("pipeline: read text", "url", p.cfg.Document.URL(), "error", err)
		return
	}
	// The document may have unloaded while the read was in flight.
	if p.torn {
		return
	}

	m, ok := p.cfg.Catalog.Match(text)
	if !ok {
		return
	}

	url := p.cfg.Document.URL()
	d := message.NewDetection(m, url, p.cfg.Scheduler.Now())
	p.detections.Add(1)
	p.logger.Debug("pipeline: detection", "keyword", m.Keyword, "category", m.Category, "url", url)
	p.cfg.Emitter.Emit(d)
}

// Teardown releases every subscription and timer. Safe to call repeatedly.
func (p *Pipeline) Teardown() {
	if p.torn {
		return
	}
	p.torn = true

	if p.cancelUnload != nil {
		p.cancelUnload()
		p.cancelUnload = nil
	}
	if p.debouncer != nil {
		p.debouncer.Stop()
	}
	if p.observer != nil {
		p.observer.Stop()
	}
	p.logger.Debug("pipeline: torn down", "url", p.cfg.Document.URL())
}

// Torn reports whether Teardown has run.
func (p *Pipeline) Torn() bool { return p.torn }

// Observer exposes the change watcher, nil before Initialize.
func (p *Pipeline) Observer() *observer.Observer { return p.observer }

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Scans:      p.scans.Load(),
		Detections: p.detections.Load(),
		Failures:   p.failures.Load(),
	}
}
