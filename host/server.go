// Package host is the receiving side of detections: an HTTP endpoint that
// validates each message and hands it to a Notifier.
package host

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/subtrack/kit"
	"github.com/hazyhaar/subtrack/subwatch/message"
)

// Option configures the server.
type Option func(*server)

// WithLogger sets the request and notification logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNotifyTimeout bounds one Notify call. Default: 10s.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

type server struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	notify   kit.Endpoint
}

type messageInput struct {
	Body message.Detection
}

type acceptedOutput struct {
	Body struct {
		Accepted bool `json:"accepted"`
	}
}

type healthOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// NewServer returns the host HTTP handler.
func NewServer(n Notifier, opts ...Option) http.Handler {
	s := &server{notifier: n, logger: slog.Default(), timeout: 10 * time.Second}
	for _, o := range opts {
		o(s)
	}
	s.notify = kit.Chain(kit.WithRequestIDs(), kit.Logging(s.logger, "post-message"))(
		func(ctx context.Context, req any) (any, error) {
			return nil, s.notifier.Notify(ctx, req.(message.Detection))
		})

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeaders)
	router.Use(maxBody(MaxMessageBytes))
	router.Use(endpointContext)

	cfg := huma.DefaultConfig("subwatch host", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	huma.Register(api, huma.Operation{
		OperationID:   "post-message",
		Method:        http.MethodPost,
		Path:          "/v1/messages",
		Summary:       "Receive a detection from a page watcher",
		DefaultStatus: http.StatusAccepted,
		Tags:          []string{"Messages"},
	}, s.postMessage)

	huma.Register(api, huma.Operation{
		OperationID: "healthz",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Liveness probe",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})

	return router
}

func (s *server) postMessage(ctx context.Context, in *messageInput) (*acceptedOutput, error) {
	if err := in.Body.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	nctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.notify(nctx, in.Body); err != nil {
		s.logger.Warn("host: notify failed", "url", in.Body.URL, "request_id", kit.GetRequestID(ctx), "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, huma.Error504GatewayTimeout("notify timed out")
		}
		return nil, huma.Error500InternalServerError("notify failed")
	}

	out := &acceptedOutput{}
	out.Body.Accepted = true
	return out, nil
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("host: http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
