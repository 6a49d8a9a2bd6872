// Package server exposes the cutoff store over a local HTTP API: read access
// for dashboards and schedulers, an ingest endpoint for discovery engines,
// and sync progress reporting for history-sync workers.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/iamcos/cutoffdb/internal/config"
	"github.com/iamcos/cutoffdb/internal/histsync"
	"github.com/iamcos/cutoffdb/internal/store"
	"github.com/iamcos/cutoffdb/internal/validation"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Server is the HTTP front of the cutoff store.
type Server struct {
	router  *mux.Router
	server  *http.Server
	store   *store.Store
	svc     *validation.Service
	tracker *histsync.Tracker
	limiter *rate.Limiter
	cfg     config.ServerConfig
}

// New wires routes and middleware over the given store, validation service
// and sync tracker.
func New(cfg config.ServerConfig, st *store.Store, svc *validation.Service, tracker *histsync.Tracker) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		store:   st,
		svc:     svc,
		tracker: tracker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst),
		cfg:     cfg,
	}
	s.routes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.router,
		ReadTimeout: cfg.ReadTimeout,
		// No global write deadline: /syncs/{id}/watch holds a WebSocket open
		// for the lifetime of a sync.
		IdleTimeout: cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/cutoffs", s.handleListCutoffs).Methods(http.MethodGet)
	s.router.HandleFunc("/cutoffs", s.handleStoreCutoff).Methods(http.MethodPost)
	s.router.HandleFunc("/cutoffs/{tag}", s.handleGetCutoff).Methods(http.MethodGet)

	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/integrity", s.handleIntegrity).Methods(http.MethodGet)

	s.router.HandleFunc("/validate", s.handleValidate).Methods(http.MethodPost)
	s.router.HandleFunc("/history/{tag}", s.handleHistory).Methods(http.MethodGet)

	s.router.HandleFunc("/syncs", s.handleBeginSync).Methods(http.MethodPost)
	s.router.HandleFunc("/syncs/{id}", s.handleSyncStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/syncs/{id}/progress", s.handleSyncProgress).Methods(http.MethodPost)
	s.router.HandleFunc("/syncs/{id}/complete", s.handleSyncComplete).Methods(http.MethodPost)
	s.router.HandleFunc("/syncs/{id}/fail", s.handleSyncFail).Methods(http.MethodPost)
	s.router.HandleFunc("/syncs/{id}/watch", s.handleSyncWatch).Methods(http.MethodGet)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no such endpoint")
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWrapper captures status codes for request logging. It forwards
// Hijack so the WebSocket upgrade still works behind the middleware chain.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
