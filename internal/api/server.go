package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// DefaultHistory is the number of pass summaries retained for /v1/passes.
const DefaultHistory = 20

// Server serves health, metrics and pass summaries. It implements
// crawler.PassObserver.
type Server struct {
	router  chi.Router
	logger  *zap.Logger
	ready   atomic.Bool
	mu      sync.RWMutex
	passes  []crawler.PassSummary // oldest first
	history int
}

// NewServer constructs a Server with middleware and routes. history <= 0
// uses DefaultHistory.
func NewServer(history int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if history <= 0 {
		history = DefaultHistory
	}
	s := &Server{logger: logger, history: history}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/passes", func(r chi.Router) {
		r.Get("/", s.listPasses)
		r.Get("/latest", s.latestPass)
		r.Get("/{pass_id}", s.getPass)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady toggles the /readyz response.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// RecordPass stores a completed pass summary.
func (s *Server) RecordPass(summary crawler.PassSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes = append(s.passes, summary)
	if over := len(s.passes) - s.history; over > 0 {
		s.passes = append(s.passes[:0:0], s.passes[over:]...)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listPasses(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	out := make([]crawler.PassSummary, 0, len(s.passes))
	for i := len(s.passes) - 1; i >= 0; i-- {
		out = append(out, s.passes[i])
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"passes": out})
}

func (s *Server) latestPass(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.passes) == 0 {
		writeError(w, http.StatusNotFound, "no pass has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, s.passes[len(s.passes)-1])
}

func (s *Server) getPass(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pass_id")
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.passes) - 1; i >= 0; i-- {
		if s.passes[i].ID == id {
			writeJSON(w, http.StatusOK, s.passes[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "pass not found")
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("error", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
