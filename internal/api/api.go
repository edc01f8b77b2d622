// Package api serves the redaction operations over HTTP with JSON bodies.
//
// Endpoints:
//
//	POST   /sanitize              - detect and tokenize text, creating a token map
//	POST   /detokenize            - restore tokens in text using a token map
//	POST   /tokens/manual         - tokenize a selection and its other instances
//	POST   /tokens/revert         - restore one occurrence of a token
//	POST   /tokens/update         - correct token values or labels
//	GET    /tokens/{id}           - token map entries
//	GET    /tokens/{id}/segments  - display segments, ?start=&end= for a selection
//	DELETE /tokens/{id}           - delete a token map
//	GET    /health                - liveness (never requires auth)
//	GET    /metrics               - counters and latencies
//
// Offsets in requests and responses are UTF-16 code units or bytes,
// depending on the configured offset unit.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"redactflow/internal/config"
	"redactflow/internal/logger"
	"redactflow/internal/metrics"
	"redactflow/internal/service"
)

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	svc       *service.Service
	metrics   *metrics.Metrics
	log       *logger.Logger
	token     string // bearer token; empty = no auth
	version   string
	startTime time.Time
}

// New creates an API server. m may be nil.
func New(cfg *config.Config, svc *service.Service, m *metrics.Metrics, log *logger.Logger, version string) *Server {
	if m == nil {
		m = &metrics.Metrics{}
	}
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		metrics:   m,
		log:       log,
		token:     cfg.APIToken,
		version:   version,
		startTime: time.Now(),
	}
	if s.token != "" {
		log.Info("auth", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /sanitize", s.handleSanitize)
	mux.HandleFunc("POST /detokenize", s.handleDetokenize)
	mux.HandleFunc("POST /tokens/manual", s.handleManual)
	mux.HandleFunc("POST /tokens/revert", s.handleRevert)
	mux.HandleFunc("POST /tokens/update", s.handleUpdate)
	mux.HandleFunc("GET /tokens/{id}", s.handleEntries)
	mux.HandleFunc("GET /tokens/{id}/segments", s.handleSegments)
	mux.HandleFunc("DELETE /tokens/{id}", s.handleDelete)
	return s.countMiddleware(s.authMiddleware(mux))
}

func (s *Server) countMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.RequestsTotal.Add(1)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.metrics.RequestsAuth.Add(1)
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: CodeUnauthorized, Message: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("response", "JSON encode error: %v", err)
	}
}

// decode reads a JSON body of at most maxBodyBytes into dst.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// ListenAndServe serves the API on the configured address, over HTTP/1.1 and
// cleartext HTTP/2, until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("shutdown", "graceful shutdown: %v", err)
		}
	}()

	s.log.Infof("listen", "listening on %s", ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}
