package http

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/bnema/tikrec/config"
	"github.com/bnema/tikrec/internal/adapter/http/middleware"
	"github.com/bnema/tikrec/internal/adapter/http/ratelimit"
	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/service"
)

// Engine is the slice of the capture engine the control surface drives.
type Engine interface {
	Submit(sourceURL string, duration int, quality domain.Quality) (string, error)
	Cancel(id string) error
	Retry(id string) error
	Delete(ctx context.Context, id string) error
	Get(id string) (domain.Job, error)
	ListJobs() []domain.Job
	Subscribe() *service.Subscription
	SetConfig(cfg domain.EngineConfig) error
	Usage() domain.Usage
	IsRecording() bool
}

type Settings interface {
	Get() config.Settings
	Replace(s config.Settings, apply func(domain.EngineConfig) error) error
}

type Authenticator interface {
	Enabled() bool
	Verify(token string) error
}

type ArtifactOpener interface {
	Open(ctx context.Context, name string) (*os.File, error)
}

type Server struct {
	mux         *http.ServeMux
	handler     http.Handler
	handlers    *Handlers
	sseHandler  *SSEHandler
	auth        Authenticator
	limiter     *ratelimit.FailureLimiter
	backoff     *ratelimit.Backoff
	behindProxy bool
}

func NewServer(engine Engine, settings Settings, artifacts ArtifactOpener, auth Authenticator, version string, behindProxy bool) *Server {
	mux := http.NewServeMux()

	limiter := ratelimit.NewFailureLimiter(
		5,
		15*time.Minute,
		30*time.Minute,
	)

	backoff := ratelimit.NewBackoff(
		500*time.Millisecond,
		10*time.Second,
		2.0,
	)

	s := &Server{
		mux:         mux,
		handlers:    NewHandlers(engine, settings, artifacts, version),
		sseHandler:  NewSSEHandler(engine),
		auth:        auth,
		limiter:     limiter,
		backoff:     backoff,
		behindProxy: behindProxy,
	}

	s.registerRoutes()
	s.handler = middleware.SecurityHeaders(middleware.RequestLog(mux))

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handlers.Health())

	s.mux.HandleFunc("POST /api/jobs", s.protect(s.handlers.Submit()))
	s.mux.HandleFunc("GET /api/jobs", s.protect(s.handlers.List()))
	s.mux.HandleFunc("GET /api/jobs/{id}", s.protect(s.handlers.Get()))
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", s.protect(s.handlers.Cancel()))
	s.mux.HandleFunc("POST /api/jobs/{id}/retry", s.protect(s.handlers.Retry()))
	s.mux.HandleFunc("DELETE /api/jobs/{id}", s.protect(s.handlers.Delete()))
	s.mux.HandleFunc("GET /api/jobs/{id}/artifact", s.protect(s.handlers.Artifact()))

	s.mux.HandleFunc("GET /api/events", s.protectStream(s.sseHandler.Events()))

	s.mux.HandleFunc("GET /api/config", s.protect(s.handlers.GetConfig()))
	s.mux.HandleFunc("PUT /api/config", s.protect(s.handlers.PutConfig()))
	s.mux.HandleFunc("GET /api/usage", s.protect(s.handlers.Usage()))
}

func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return AuthMiddleware(s.auth, s.limiter, s.backoff, s.behindProxy, false, next)
}

// protectStream also accepts the token as a query parameter since
// EventSource cannot send headers.
func (s *Server) protectStream(next http.HandlerFunc) http.HandlerFunc {
	return AuthMiddleware(s.auth, s.limiter, s.backoff, s.behindProxy, true, next)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the rate limiter's background sweep.
func (s *Server) Close() {
	s.limiter.Close()
}
