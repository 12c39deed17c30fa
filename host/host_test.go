package host

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/subtrack/kit"
	"github.com/hazyhaar/subtrack/subwatch/message"
)

type recorder struct {
	mu  sync.Mutex
	got []message.Detection
	err error
}

func (r *recorder) Notify(_ context.Context, d message.Detection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, d)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

const validBody = `{"type":"subscription-detected","keyword":"free trial","category":"trial","url":"https://shop.test/","timestamp":1700000000000}`

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostMessage_Accepted(t *testing.T) {
	n := &recorder{}
	h := NewServer(n)

	rec := post(t, h, validBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	if n.count() != 1 {
		t.Fatalf("notified: got %d, want 1", n.count())
	}
	d := n.got[0]
	if d.Keyword != "free trial" || d.Category != "trial" || d.URL != "https://shop.test/" || d.Timestamp != 1700000000000 {
		t.Errorf("detection: %+v", d)
	}
}

func TestPostMessage_Rejected(t *testing.T) {
	cases := map[string]string{
		"malformed":     `{"type":`,
		"unknown type":  `{"type":"coupon-found","keyword":"x","category":"y","url":"https://a.test/","timestamp":1}`,
		"empty keyword": `{"type":"subscription-detected","keyword":"","category":"trial","url":"https://a.test/","timestamp":1}`,
		"no url":        `{"type":"subscription-detected","keyword":"trial","category":"trial","timestamp":1}`,
		"zero time":     `{"type":"subscription-detected","keyword":"trial","category":"trial","url":"https://a.test/","timestamp":0}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			n := &recorder{}
			rec := post(t, NewServer(n), body)
			if rec.Code < 400 || rec.Code >= 500 {
				t.Errorf("status: got %d, want 4xx", rec.Code)
			}
			if n.count() != 0 {
				t.Errorf("invalid payload reached the notifier")
			}
		})
	}
}

func TestPostMessage_NotifyError(t *testing.T) {
	n := &recorder{err: errors.New("display unavailable")}
	rec := post(t, NewServer(n), validBody)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(&recorder{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz: %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options: %q", got)
	}
}

func TestPostMessage_TooLarge(t *testing.T) {
	n := &recorder{}
	body := `{"type":"subscription-detected","keyword":"` + strings.Repeat("a", MaxMessageBytes) + `","category":"trial","url":"https://a.test/","timestamp":1}`
	rec := post(t, NewServer(n), body)
	if rec.Code < 400 || rec.Code >= 500 {
		t.Errorf("status: got %d, want 4xx", rec.Code)
	}
	if n.count() != 0 {
		t.Error("oversized payload reached the notifier")
	}
}

func TestDedup(t *testing.T) {
	n := &recorder{}
	clock := time.Unix(1000, 0)
	d := Dedup(n, time.Minute).(*dedup)
	d.now = func() time.Time { return clock }
	ctx := context.Background()

	det := message.Detection{Type: message.TypeSubscriptionDetected, Keyword: "trial", Category: "trial", URL: "https://a.test/", Timestamp: 1}
	other := det
	other.URL = "https://b.test/"

	_ = d.Notify(ctx, det)
	_ = d.Notify(ctx, det)
	_ = d.Notify(ctx, other)
	if n.count() != 2 {
		t.Fatalf("within window: got %d, want 2", n.count())
	}

	clock = clock.Add(time.Minute)
	_ = d.Notify(ctx, det)
	if n.count() != 3 {
		t.Errorf("after window: got %d, want 3", n.count())
	}
}

func TestDedup_Disabled(t *testing.T) {
	n := &recorder{}
	if got := Dedup(n, 0); got != Notifier(n) {
		t.Errorf("zero window wrapped the notifier")
	}
}

func TestServer_EndToEndWithDedup(t *testing.T) {
	n := &recorder{}
	srv := httptest.NewServer(NewServer(Dedup(n, time.Hour)))
	defer srv.Close()

	for range 3 {
		resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(validBody))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status: %d", resp.StatusCode)
		}
	}
	if n.count() != 1 {
		t.Errorf("notified: got %d, want 1", n.count())
	}
}

func TestPostMessage_EndpointContext(t *testing.T) {
	var transport, requestID, remote string
	n := NotifierFunc(func(ctx context.Context, _ message.Detection) error {
		transport = kit.GetTransport(ctx)
		requestID = kit.GetRequestID(ctx)
		remote = kit.GetRemoteAddr(ctx)
		return nil
	})

	rec := post(t, NewServer(n), validBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: %d", rec.Code)
	}
	if transport != "http" || requestID == "" || remote == "" {
		t.Errorf("context: transport=%q request_id=%q remote=%q", transport, requestID, remote)
	}
}
