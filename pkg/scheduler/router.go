package scheduler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/gridstore/internal/logger"
)

// Handler builds the scheduler's HTTP routes:
//   - GET  /health                            liveness probe
//   - GET  /metrics                           Prometheus metrics
//   - GET  /api/v1/extensions                 installed extension keys
//   - PUT  /api/v1/extensions/{key}           idempotent install
//   - POST /api/v1/extensions/{key}/ops/{op}  operation dispatch
func (s *Scheduler) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1/extensions", func(r chi.Router) {
		r.Get("/", s.handleListExtensions)
		r.Put("/{key}", s.handleEnsureExtension)
		r.Post("/{key}/ops/{op}", s.handleDispatch)
	})

	return r
}

type ensureExtensionResponse struct {
	Key     string `json:"key"`
	Created bool   `json:"created"`
}

type listExtensionsResponse struct {
	Keys []string `json:"keys"`
}

func (s *Scheduler) handleListExtensions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listExtensionsResponse{Keys: s.ExtensionKeys()})
}

func (s *Scheduler) handleEnsureExtension(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	_, created, err := s.EnsureExtension(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ensureExtensionResponse{Key: key, Created: created})
}

func (s *Scheduler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	op := chi.URLParam(r, "op")

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, NewAPIError(http.StatusBadRequest, CodeBadRequest, "failed to read request body"))
		return
	}

	result, err := s.dispatch(r.Context(), key, op, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError serves an APIError with its status code; anything else is an
// opaque internal error.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = Internal(err.Error())
	}
	status := apiErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, apiErr)
}

// requestLogger logs requests through the internal logger. Health and
// metrics probes log at DEBUG to keep the output readable.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		}
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			logger.Debug("request completed", logArgs...)
		} else {
			logger.Info("request completed", logArgs...)
		}
	})
}
