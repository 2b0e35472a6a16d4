package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rahul/storescout/internal/observability"
	"github.com/rahul/storescout/internal/session"
)

const maxRequestBytes = 64 << 10

// HTTPServer streams sessions as server-sent events.
type HTTPServer struct {
	auditor   Auditor
	admission Admission
	tracker   *observability.Tracker
	metrics   bool
	logger    *zap.Logger
}

func NewHTTPServer(auditor Auditor, admission Admission, tracker *observability.Tracker, metrics bool, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		auditor:   auditor,
		admission: admission,
		tracker:   tracker,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/status", s.handleStatus)
	})
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// Server wraps Routes in an http.Server bound to addr.
func (s *HTTPServer) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var sessions []observability.SessionStatus
	if s.tracker != nil {
		sessions = s.tracker.Snapshot()
	}
	if sessions == nil {
		sessions = []observability.SessionStatus{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type analyzeRequest struct {
	URL string `json:"url"`
}

func (s *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondError(w, http.StatusBadRequest, errors.New("URL is required"))
		return
	}

	v, err := s.admission.Admit(r.Context(), req.URL, "http", "")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := session.SinkFunc(func(ev session.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("failed to encode event", zap.String("type", string(ev.Type)), zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	})

	// The request context ends when the client disconnects, which cancels
	// the session.
	if _, err := s.auditor.Run(r.Context(), v.URL, sink); err != nil {
		s.logger.Warn("session failed", zap.String("store", v.URL), zap.Error(err))
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
