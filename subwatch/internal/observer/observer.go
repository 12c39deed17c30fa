// Package observer decides when a watched page's text has plausibly changed.
// It runs three independent subscriptions on the page's change source:
// content mutations (debounced by the caller's OnContent), single-page-app
// navigation (a fixed settle delay per address change) and visibility
// (a page becoming visible again goes through OnContent too).
package observer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/subtrack/subwatch/internal/loop"
	"github.com/hazyhaar/subtrack/subwatch/mutation"
)

// DefaultSettleDelay is the wait after an address change before rescanning.
const DefaultSettleDelay = 500 * time.Millisecond

var (
	ErrStarted = errors.New("observer: already started")
	ErrStopped = errors.New("observer: stopped")
)

// Source delivers page changes. Handlers are invoked on the scheduler's
// goroutine; the returned cancel functions are called there too.
type Source interface {
	OnMutations(fn func(mutation.Batch)) (cancel func())
	OnVisibility(fn func(mutation.Visibility)) (cancel func())
}

// Config for creating an Observer.
type Config struct {
	Scheduler loop.Scheduler
	Source    Source
	// OnContent is called once per relevant mutation batch and when the page
	// becomes visible. Callers pass a debounced trigger.
	OnContent func()
	// OnNavigate is called SettleDelay after each observed address change.
	OnNavigate  func()
	SettleDelay time.Duration
	// InitialURL seeds State.LastURL so the first batch on the same address
	// is not mistaken for a navigation.
	InitialURL string
	Logger     *slog.Logger
}

// State is the mutable watcher state owned by one Observer.
type State struct {
	LastURL  string
	Settling int // pending settle timers
	Started  bool
	Stopped  bool
}

// Observer watches one document. All methods run on the scheduler goroutine.
type Observer struct {
	cfg    Config
	logger *slog.Logger

	lastURL string
	started bool
	stopped bool

	cancelContent    func()
	cancelNavigation func()
	cancelVisibility func()

	settleSeq uint64
	settles   map[uint64]loop.Timer
}

// New creates an Observer. Call Start to subscribe.
func New(cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.OnContent == nil {
		cfg.OnContent = func() {}
	}
	if cfg.OnNavigate == nil {
		cfg.OnNavigate = func() {}
	}
	return &Observer{
		cfg:     cfg,
		logger:  cfg.Logger,
		lastURL: cfg.InitialURL,
		settles: make(map[uint64]loop.Timer),
	}
}

// Start attaches the content, navigation and visibility subscriptions.
func (o *Observer) Start() error {
	if o.stopped {
		return ErrStopped
	}
	if o.started {
		return ErrStarted
	}
	o.started = true

	o.cancelContent = o.cfg.Source.OnMutations(o.handleContent)
	o.cancelNavigation = o.cfg.Source.OnMutations(o.handleNavigation)
	o.cancelVisibility = o.cfg.Source.OnVisibility(o.handleVisibility)
	return nil
}

// StopContent cancels the content-mutation subscription only.
func (o *Observer) StopContent() {
	if o.cancelContent != nil {
		o.cancelContent()
		o.cancelContent = nil
	}
}

// StopNavigation cancels the navigation subscription and its pending
// settle timers.
func (o *Observer) StopNavigation() {
	if o.cancelNavigation != nil {
		o.cancelNavigation()
		o.cancelNavigation = nil
	}
	for id, t := range o.settles {
		t.Stop()
		delete(o.settles, id)
	}
}

// StopVisibility cancels the visibility subscription only.
func (o *Observer) StopVisibility() {
	if o.cancelVisibility != nil {
		o.cancelVisibility()
		o.cancelVisibility = nil
	}
}

// Stop releases everything. Callbacks arriving afterwards are ignored.
func (o *Observer) Stop() {
	o.stopped = true
	o.StopContent()
	o.StopNavigation()
	o.StopVisibility()
}

// State returns a copy of the watcher state.
func (o *Observer) State() State {
	return State{
		LastURL:  o.lastURL,
		Settling: len(o.settles),
		Started:  o.started,
		Stopped:  o.stopped,
	}
}

func (o *Observer) handleContent(b mutation.Batch) {
	if o.stopped || o.cancelContent == nil {
		return
	}
	if b.Relevant() {
		o.cfg.OnContent()
	}
}

func (o *Observer) handleVisibility(v mutation.Visibility) {
	if o.stopped || o.cancelVisibility == nil {
		return
	}
	if !v.Hidden {
		o.cfg.OnContent()
	}
}
