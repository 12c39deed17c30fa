package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/subtrack/subwatch/internal/loop"
	"github.com/hazyhaar/subtrack/subwatch/mutation"
)

//go:embed observer.js
var observerJS string

const bindingName = "__subwatch_binding"

// ErrNoBody is returned by Text while the document has no body.
var ErrNoBody = errors.New("browser: document has no body")

// ErrPageClosed is returned by Text before the tab exists or after Close.
var ErrPageClosed = errors.New("browser: page closed")

const bodyTextJS = `() => {
	const b = document.body;
	if (!b) return null;
	return b.innerText || b.textContent || '';
}`

// textReader reads the body text of whatever document a tab currently holds.
type textReader func(ctx context.Context) (string, error)

func rodText(rp *rod.Page) textReader {
	return func(ctx context.Context) (string, error) {
		res, err := rp.Context(ctx).Eval(bodyTextJS)
		if err != nil {
			return "", fmt.Errorf("browser: read text: %w", err)
		}
		if res.Value.Nil() {
			return "", ErrNoBody
		}
		return res.Value.Str(), nil
	}
}

// PageOptions describes a page to open.
type PageOptions struct {
	URL    string
	ID     string
	Level  StealthLevel
	Logger *slog.Logger
}

// Page is a live tab seen as a document: its text can be read and its
// change events are delivered on the scheduler goroutine. Subscription
// methods, URL and the dispatch of events must only be used from there.
type Page struct {
	sched  loop.Scheduler
	logger *slog.Logger
	opts   PageOptions

	// The tab is reachable from the loop as soon as setup runs, while
	// navigation is still blocking Open on the caller's goroutine.
	mu           sync.Mutex
	tab          *Tab
	read         textReader
	cancel       context.CancelFunc
	removeScript func() error

	url        string
	ready      hub[string]
	mutations  hub[mutation.Batch]
	visibility hub[mutation.Visibility]
	unload     hub[struct{}]
}

// NewPage creates a page that is not open yet. Register handlers on the
// scheduler goroutine before calling Open so the first document's events
// are not missed.
func NewPage(sched loop.Scheduler, opts PageOptions) *Page {
	p := newPage(sched, opts.URL, opts.Logger)
	p.opts = opts
	return p
}

func newPage(sched loop.Scheduler, url string, logger *slog.Logger) *Page {
	if logger == nil {
		logger = slog.Default()
	}
	return &Page{sched: sched, logger: logger, url: url}
}

// Open opens a tab on mgr's browser with the change script installed on
// every document it loads. Events are posted to the page's scheduler.
func (p *Page) Open(ctx context.Context, mgr *Manager) error {
	listenCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	tab, err := OpenTab(ctx, mgr, p.opts.URL, p.opts.ID, p.opts.Level, func(rp *rod.Page) error {
		return p.install(listenCtx, rp)
	})
	if err != nil {
		cancel()
		p.setReader(nil)
		return err
	}
	p.mu.Lock()
	p.tab = tab
	p.mu.Unlock()

	// The first document may have finished loading before the new-document
	// hook took effect; the script ignores a second install.
	if _, err := tab.Page.Eval("() => {\n" + observerJS + "\n}"); err != nil {
		p.Close()
		return fmt.Errorf("browser: inject observer: %w", err)
	}
	return nil
}

func (p *Page) install(ctx context.Context, rp *rod.Page) error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(rp); err != nil {
		return fmt.Errorf("add binding: %w", err)
	}

	wait := rp.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		p.receive(e.Payload)
	})
	go wait()

	remove, err := rp.EvalOnNewDocument(observerJS)
	if err != nil {
		return fmt.Errorf("install observer: %w", err)
	}
	p.mu.Lock()
	p.removeScript = remove
	p.mu.Unlock()

	// The first document's ready fires at DOMContentLoaded, before
	// navigation returns.
	p.setReader(rodText(rp))
	return nil
}

func (p *Page) setReader(r textReader) {
	p.mu.Lock()
	p.read = r
	p.mu.Unlock()
}

// receive runs on the CDP event goroutine.
func (p *Page) receive(payload string) {
	ev, err := mutation.ParseEvent(payload)
	if err != nil {
		p.logger.Warn("browser: parse binding payload", "error", err)
		return
	}
	p.sched.Post(func() { p.dispatch(ev) })
}

func (p *Page) dispatch(ev mutation.Event) {
	if ev.URL != "" {
		p.url = ev.URL
	}
	switch ev.Kind {
	case mutation.KindReady:
		p.ready.emit(p.url)
	case mutation.KindMutations:
		p.mutations.emit(ev.Batch())
	case mutation.KindVisibility:
		p.visibility.emit(ev.Visibility())
	case mutation.KindUnload:
		p.unload.emit(struct{}{})
	default:
		p.logger.Debug("browser: unknown page event", "kind", ev.Kind)
	}
}

// Text returns the body's rendered text, falling back to textContent.
func (p *Page) Text(ctx context.Context) (string, error) {
	p.mu.Lock()
	read := p.read
	p.mu.Unlock()
	if read == nil {
		return "", ErrPageClosed
	}
	return read(ctx)
}

// URL is the last address the page reported.
func (p *Page) URL() string { return p.url }

// OnReady registers fn for each new document becoming interactive.
func (p *Page) OnReady(fn func(url string)) (cancel func()) { return p.ready.add(fn) }

func (p *Page) OnMutations(fn func(mutation.Batch)) (cancel func()) { return p.mutations.add(fn) }

func (p *Page) OnVisibility(fn func(mutation.Visibility)) (cancel func()) {
	return p.visibility.add(fn)
}

// OnUnload registers fn for the current document going away.
func (p *Page) OnUnload(fn func()) (cancel func()) {
	return p.unload.add(func(struct{}) { fn() })
}

// Tab exposes the underlying tab, nil until Open returns.
func (p *Page) Tab() *Tab {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tab
}

// Close stops event delivery and closes the tab. Safe from any goroutine.
func (p *Page) Close() error {
	p.mu.Lock()
	tab, remove, cancel := p.tab, p.removeScript, p.cancel
	p.tab, p.removeScript, p.read = nil, nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if remove != nil {
		_ = remove()
	}
	if tab != nil {
		return tab.Close()
	}
	return nil
}

// hub is a set of handlers keyed by registration order.
type hub[T any] struct {
	next     int
	order    []int
	handlers map[int]func(T)
}

func (h *hub[T]) add(fn func(T)) func() {
	if h.handlers == nil {
		h.handlers = make(map[int]func(T))
	}
	h.next++
	id := h.next
	h.handlers[id] = fn
	h.order = append(h.order, id)
	return func() { h.remove(id) }
}

func (h *hub[T]) remove(id int) {
	if _, ok := h.handlers[id]; !ok {
		return
	}
	delete(h.handlers, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}
}

// emit calls handlers in registration order. Handlers removed by an
// earlier handler in the same emit are skipped.
func (h *hub[T]) emit(v T) {
	ids := append([]int(nil), h.order...)
	for _, id := range ids {
		if fn, ok := h.handlers[id]; ok {
			fn(v)
		}
	}
}

func (h *hub[T]) size() int { return len(h.handlers) }
