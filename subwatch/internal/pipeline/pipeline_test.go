package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/subtrack/subwatch/catalog"
	"github.com/hazyhaar/subtrack/subwatch/internal/loop"
	"github.com/hazyhaar/subtrack/subwatch/message"
	"github.com/hazyhaar/subtrack/subwatch/mutation"
)

// fakeDoc is a scriptable Document.
type fakeDoc struct {
	url   string
	text  string
	err   error
	panic bool
	reads int

	nextID     int
	mutations  map[int]func(mutation.Batch)
	visibility map[int]func(mutation.Visibility)
	unload     map[int]func()
}

func newFakeDoc(url, text string) *fakeDoc {
	return &fakeDoc{
		url:        url,
		text:       text,
		mutations:  make(map[int]func(mutation.Batch)),
		visibility: make(map[int]func(mutation.Visibility)),
		unload:     make(map[int]func()),
	}
}

func (d *fakeDoc) Text(ctx context.Context) (string, error) {
	d.reads++
	if d.panic {
		panic("renderer crashed")
	}
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("no deadline")
	}
	return d.text, d.err
}

func (d *fakeDoc) URL() string { return d.url }

func (d *fakeDoc) OnMutations(fn func(mutation.Batch)) func() {
	d.nextID++
	id := d.nextID
	d.mutations[id] = fn
	return func() { delete(d.mutations, id) }
}

func (d *fakeDoc) OnVisibility(fn func(mutation.Visibility)) func() {
	d.nextID++
	id := d.nextID
	d.visibility[id] = fn
	return func() { delete(d.visibility, id) }
}

func (d *fakeDoc) OnUnload(fn func()) func() {
	d.nextID++
	id := d.nextID
	d.unload[id] = fn
	return func() { delete(d.unload, id) }
}

func (d *fakeDoc) mutate(url string) {
	d.url = url
	b := mutation.Batch{URL: url, Records: []mutation.Record{{Type: mutation.TypeChildList, AddedNodes: 2}}}
	for _, fn := range d.mutations {
		fn(b)
	}
}

func (d *fakeDoc) fireUnload() {
	for _, fn := range d.unload {
		fn()
	}
}

func (d *fakeDoc) subscriptions() int {
	return len(d.mutations) + len(d.visibility) + len(d.unload)
}

type recorder struct{ got []message.Detection }

func (r *recorder) Emit(d message.Detection) { r.got = append(r.got, d) }

func setup(t *testing.T, doc *fakeDoc, cat *catalog.Catalog) (*Pipeline, *loop.Virtual, *recorder) {
	t.Helper()
	v := loop.NewVirtual(time.UnixMilli(1700000000000))
	rec := &recorder{}
	p := New(Config{Scheduler: v, Document: doc, Catalog: cat, Emitter: rec})
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p, v, rec
}

func TestScan_SinglePhrase(t *testing.T) {
	doc := newFakeDoc("https://shop.test/", "Start your free trial today")
	cat := catalog.New(catalog.Category{Name: "trial", Phrases: []string{"free trial"}})
	_, _, rec := setup(t, doc, cat)

	if len(rec.got) != 1 {
		t.Fatalf("detections: got %d, want 1", len(rec.got))
	}
	d := rec.got[0]
	if d.Keyword != "free trial" || d.Category != "trial" {
		t.Errorf("got %s/%s, want free trial/trial", d.Keyword, d.Category)
	}
	if d.Type != message.TypeSubscriptionDetected {
		t.Errorf("Type: got %q", d.Type)
	}
	if d.URL != "https://shop.test/" {
		t.Errorf("URL: got %q", d.URL)
	}
	if d.Timestamp != 1700000000000 {
		t.Errorf("Timestamp: got %d", d.Timestamp)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestScan_CatalogOrderWins(t *testing.T) {
	doc := newFakeDoc("https://shop.test/", "Manage your subscription. Or begin a free trial.")
	cat := catalog.New(
		catalog.Category{Name: "trial", Phrases: []string{"free trial"}},
		catalog.Category{Name: "confirmation", Phrases: []string{"order confirmation"}},
		catalog.Category{Name: "subscription", Phrases: []string{"subscription"}},
		catalog.Category{Name: "payment", Phrases: []string{"credit card"}},
	)
	_, _, rec := setup(t, doc, cat)

	if len(rec.got) != 1 {
		t.Fatalf("detections: got %d, want 1", len(rec.got))
	}
	if rec.got[0].Keyword != "free trial" || rec.got[0].Category != "trial" {
		t.Errorf("got %s/%s, want free trial/trial", rec.got[0].Keyword, rec.got[0].Category)
	}
}

func TestScan_DefaultCatalog(t *testing.T) {
	doc := newFakeDoc("https://shop.test/", "FREE TRIAL for your subscription")
	_, _, rec := setup(t, doc, nil)

	if len(rec.got) != 1 {
		t.Fatalf("detections: got %d, want 1", len(rec.got))
	}
	if rec.got[0].Keyword != "trial" || rec.got[0].Category != "trial" {
		t.Errorf("got %s/%s, want trial/trial", rec.got[0].Keyword, rec.got[0].Category)
	}
}

func TestScan_NoMatch(t *testing.T) {
	doc := newFakeDoc("https://news.test/", "Weather today: sunny")
	p, _, rec := setup(t, doc, nil)

	if len(rec.got) != 0 {
		t.Errorf("detections: got %d, want 0", len(rec.got))
	}
	if s := p.Stats(); s.Scans != 1 || s.Detections != 0 {
		t.Errorf("Stats: %+v", s)
	}
}

func TestScan_ReadErrorSwallowed(t *testing.T) {
	doc := newFakeDoc("https://shop.test/", "free trial")
	doc.err = errors.New("no body")
	p, _, rec := setup(t, doc, nil)

	if len(rec.got) != 0 {
		t.Fatalf("emitted on read error")
	}
	doc.err = nil
	p.Scan()
	if len(rec.got) != 1 {
		t.Errorf("later scan: got %d detections, want 1", len(rec.got))
	}
	if s := p.Stats(); s.Failures != 1 || s.Scans != 2 {
		t.Errorf("Stats: %+v", s)
	}
}

func TestScan_PanicRecovered(t *testing.T) {
	doc := newFakeDoc("https://shop.test/", "free trial")
	doc.panic = true
	p, _, rec := setup(t, doc, nil)

	doc.panic = false
	p.Scan()
	if len(rec.got) != 1 {
		t.Errorf("detections: got %d, want 1", len(rec.got))
	}
	if p.Stats().Failures != 1 {
		t.Errorf("Failures: got %d", p.Stats().Failures)
	}
}

func TestContentChange_Debounced(t *testing.T) {
	doc := newFakeDoc("https://shop.test/", "nothing yet")
	_, v, rec := setup(t, doc, nil)

	doc.text = "Your subscription is active"
	for range 15 {
		doc.mutate("https://shop.test/")
		v.Advance(10 * time.Millisecond)
	}
	if doc.reads != 1 {
		t.Fatalf("reads during burst: got %d, want 1", doc.reads)
	}
	v.Advance(300 * time.Millisecond)
	if doc.reads != 2 {
		t.Fatalf("reads: got %d, want 2", doc.reads)
	}
	if len(rec.got) != 1 || rec.got[0].Keyword != "subscription" {
		t.Errorf("detections: %+v", rec.got)
	}
}

func TestNavigation_OneRescanAfterSettle(t *testing.T) {
	doc := newFakeDoc("https://app.test/a", "home")
	_, v, rec := setup(t, doc, nil)

	doc.text = "Payment successful"
	// Every batch on b is a content change; only the first is a navigation.
	for range 5 {
		doc.mutate("https://app.test/b")
	}
	v.Advance(500 * time.Millisecond)
	if doc.reads != 3 {
		// initial + settle (500ms) + debounce (300ms)
		t.Fatalf("reads: got %d, want 3", doc.reads)
	}
	navScans := 0
	for _, d := range rec.got {
		if d.URL == "https://app.test/b" {
			navScans++
		}
	}
	if navScans != 2 {
		t.Errorf("detections on b: got %d, want 2", navScans)
	}
}

func TestNavigation_ExactlyOneSettledScan(t *testing.T) {
	doc := newFakeDoc("https://app.test/a", "home")
	v := loop.NewVirtual(time.Unix(0, 0))
	p := New(Config{Scheduler: v, Document: doc, QuietPeriod: time.Hour})
	if err := p.Initialize(); err != nil {
		t.Fatal(err)
	}

	for range 30 {
		doc.mutate("https://app.test/b")
	}
	v.Advance(499 * time.Millisecond)
	if doc.reads != 1 {
		t.Fatalf("scanned before settle: %d reads", doc.reads)
	}
	v.Advance(time.Millisecond)
	if doc.reads != 2 {
		t.Fatalf("reads after settle: got %d, want 2", doc.reads)
	}
	v.Advance(10 * time.Minute)
	// The hour-long debounce is still pending; the settle scan never repeats.
	if doc.reads != 2 {
		t.Errorf("reads: got %d, want 2", doc.reads)
	}
}

func TestTeardown_NoFurtherScans(t *testing.T) {
	doc := newFakeDoc("https://shop.test/", "free trial")
	p, v, rec := setup(t, doc, nil)

	doc.mutate("https://shop.test/other")
	doc.fireUnload()
	if !p.Torn() {
		t.Fatal("unload did not tear down")
	}

	v.Advance(time.Minute)
	p.Scan()
	doc.mutate("https://shop.test/third")
	v.Advance(time.Minute)

	if len(rec.got) != 1 {
		t.Errorf("detections: got %d, want 1 (initial only)", len(rec.got))
	}
	if doc.subscriptions() != 0 {
		t.Errorf("subscriptions left: %d", doc.subscriptions())
	}
	if v.Pending() != 0 {
		t.Errorf("timers left: %d", v.Pending())
	}
	p.Teardown()
}

func TestInitialize_Twice(t *testing.T) {
	doc := newFakeDoc("https://shop.test/", "free trial")
	p, _, rec := setup(t, doc, nil)

	if err := p.Initialize(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize: got %v", err)
	}
	if len(doc.mutations) != 2 || len(doc.visibility) != 1 || len(doc.unload) != 1 {
		t.Errorf("double subscription: %d mutations, %d visibility, %d unload",
			len(doc.mutations), len(doc.visibility), len(doc.unload))
	}
	if len(rec.got) != 1 {
		t.Errorf("detections: got %d, want 1", len(rec.got))
	}
}

func TestInitialize_UnloadHookFirst(t *testing.T) {
	doc := newFakeDoc("https://shop.test/", "free trial")
	var order []string
	wrapped := &orderDoc{fakeDoc: doc, order: &order}
	v := loop.NewVirtual(time.Unix(1, 0))
	p := New(Config{Scheduler: v, Document: wrapped})
	if err := p.Initialize(); err != nil {
		t.Fatal(err)
	}
	if len(order) < 3 || order[0] != "unload" || order[1] != "text" || order[2] != "mutations" {
		t.Errorf("order: %v", order)
	}
}

type orderDoc struct {
	*fakeDoc
	order *[]string
}

func (d *orderDoc) OnUnload(fn func()) func() {
	*d.order = append(*d.order, "unload")
	return d.fakeDoc.OnUnload(fn)
}

func (d *orderDoc) Text(ctx context.Context) (string, error) {
	*d.order = append(*d.order, "text")
	return d.fakeDoc.Text(ctx)
}

func (d *orderDoc) OnMutations(fn func(mutation.Batch)) func() {
	*d.order = append(*d.order, "mutations")
	return d.fakeDoc.OnMutations(fn)
}
