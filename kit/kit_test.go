package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
	want := "a_before b_before endpoint b_after a_after"
	if got := strings.Join(order, " "); got != want {
		t.Fatalf("order: got %q, want %q", got, want)
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) { return nil, errFail }

	_, err := Chain(func(next Endpoint) Endpoint { return next })(base)(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestWithRequestIDs(t *testing.T) {
	var seen string
	ep := WithRequestIDs()(func(ctx context.Context, _ any) (any, error) {
		seen = GetRequestID(ctx)
		return nil, nil
	})

	ep(context.Background(), nil)
	if seen == "" {
		t.Fatal("no request id assigned")
	}
	ep(WithRequestID(context.Background(), "req_1"), nil)
	if seen != "req_1" {
		t.Errorf("existing id replaced: %q", seen)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ep := Logging(logger, "subwatch_match")(func(context.Context, any) (any, error) {
		return nil, errors.New("bad text")
	})
	ep(WithTransport(context.Background(), "mcp"), nil)

	out := buf.String()
	for _, want := range []string{"endpoint failed", "subwatch_match", "transport=mcp", "bad text"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" {
		t.Errorf("default transport: %q", GetTransport(ctx))
	}
	ctx = WithRemoteAddr(WithTransport(ctx, "mcp"), "127.0.0.1:1")
	if GetTransport(ctx) != "mcp" || GetRemoteAddr(ctx) != "127.0.0.1:1" {
		t.Errorf("values: %q %q", GetTransport(ctx), GetRemoteAddr(ctx))
	}
}
