// Package api exposes the extraction and classification pipeline over
// a small REST surface. Runs are asynchronous jobs because request
// pacing makes them take minutes to hours; callers poll the job id.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"postvault/pkg/config"
	"postvault/pkg/logger"
	"postvault/pkg/ratelimit"
	"postvault/pkg/store"
)

const shutdownGrace = 10 * time.Second

// Server serves the REST surface over one shared archive.
type Server struct {
	cfg      atomic.Pointer[config.Config]
	store    *store.Store
	jobs     *JobRegistry
	throttle *ratelimit.TokenBucket
	log      logger.Logger
	router   chi.Router

	// extract and classify run the pipeline; tests swap them for
	// stubs so handler behavior is testable without live platforms
	extract  extractFunc
	classify classifyFunc
}

// NewServer wires the router. The configuration pointer is swappable
// at runtime through ReloadConfig.
func NewServer(cfg *config.Config, st *store.Store, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}

	s := &Server{
		store:    st,
		jobs:     NewJobRegistry(),
		throttle: ratelimit.NewTokenBucket(60, time.Minute),
		log:      log,
		extract:  runExtraction,
		classify: runClassification,
	}
	s.cfg.Store(cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.throttleRequests)
		r.Post("/extract/{platform}", s.handleExtract)
		r.Post("/classify", s.handleClassify)
		r.Get("/jobs/{id}", s.handleJob)
		r.Get("/items/recent", s.handleRecentItems)
		r.Get("/stats", s.handleStats)
	})

	s.router = r
	return s
}

// Config returns the current configuration snapshot.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// ReloadConfig swaps the configuration. In-flight jobs keep the
// snapshot they started with; new jobs pick up the fresh settings.
func (s *Server) ReloadConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
	s.log.InfoWithFields("configuration reloaded", map[string]interface{}{
		"classifier": cfg.Classifier.Name,
		"model":      cfg.Classifier.Model,
	})
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Config().API.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoWithFields("api server listening", map[string]interface{}{
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.log.Info("shutting down api server")
	return srv.Shutdown(shutdownCtx)
}

// logRequests logs every request with its duration through the house
// logger.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.LogRequest(s.log, r.Method, r.URL.Path, ww.Status(), float64(time.Since(start).Milliseconds()))
	})
}

// throttleRequests rejects callers that outrun the token bucket.
func (s *Server) throttleRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.throttle.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
