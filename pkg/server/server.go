// Package server exposes the read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/store"
	"github.com/elonfeng/ytradar/pkg/frequency"
	"github.com/elonfeng/ytradar/pkg/quality"
)

// RequestIDHeader carries the per-request id.
const RequestIDHeader = "X-Request-ID"

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Server provides the HTTP API.
type Server struct {
	store     *store.Store
	frequency *frequency.Engine
	validator *quality.Validator
	log       *slog.Logger
	port      int
}

// New creates a new HTTP server.
func New(s *store.Store, engine *frequency.Engine, validator *quality.Validator, port int, logger *slog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     s,
		frequency: engine,
		validator: validator,
		log:       logger,
		port:      port,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/competitors", s.handleCompetitors)
	mux.HandleFunc("GET /api/v1/competitors/{id}/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/v1/competitors/{id}/engagement", s.handleEngagement)
	mux.HandleFunc("GET /api/v1/videos", s.handleVideos)
	mux.HandleFunc("GET /api/v1/quality", s.handleQuality)
	return s.requestID(mux)
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info("server stopped")
		return nil
	}
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request served",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", time.Since(start).String())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCompetitors(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	competitors, err := s.store.ListCompetitors(r.Context(), store.CompetitorListOpts{
		NameContains: r.URL.Query().Get("name"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, competitors)
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	opts := store.VideoListOpts{
		Category:  q.Get("category"),
		Sentiment: q.Get("sentiment"),
		Sort:      q.Get("sort"),
		Desc:      q.Get("order") == "desc",
		Limit:     limit,
		Offset:    offset,
	}
	if c := q.Get("competitor"); c != "" {
		if opts.CompetitorID, err = parseID(c); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if o := q.Get("order"); o != "" && o != "asc" && o != "desc" {
		s.writeError(w, r, apperrors.Validation(apperrors.CodeMalformedInput, "order must be asc or desc, got %q", o))
		return
	}

	videos, err := s.store.ListVideos(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, videos)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if since, err = store.ParseTime(v); err != nil {
			s.writeError(w, r, apperrors.Validation(apperrors.CodeMalformedTime, "since %q is not a timestamp", v))
			return
		}
	}

	if _, err := s.store.GetCompetitor(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	snapshots, err := s.store.ListSnapshots(r.Context(), id, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, snapshots)
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetCompetitor(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	eng, err := s.frequency.Engagement(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.store.GetFrequencyStats(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engagement": eng,
		"frequency":  stats,
	})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	rep, err := s.validator.Validate(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"score":  rep.Score,
		"checks": rep.Checks,
		"issues": rep.Issues(),
	})
}

func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, apperrors.Validation(apperrors.CodeMalformedInput, "limit must be a positive integer, got %q", v)
		}
	}
	limit = min(limit, maxLimit)
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, apperrors.Validation(apperrors.CodeMalformedInput, "offset must be a non-negative integer, got %q", v)
		}
	}
	return limit, offset, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation(apperrors.CodeMalformedInput, "invalid id %q", s)
	}
	return id, nil
}

// statusOf maps an error category onto an HTTP status.
func statusOf(err error) int {
	if apperrors.GetCode(err) == apperrors.CodeNotFound {
		return http.StatusNotFound
	}
	switch apperrors.GetCategory(err) {
	case apperrors.CategoryValidation:
		return http.StatusBadRequest
	case apperrors.CategoryReferential:
		return http.StatusUnprocessableEntity
	case apperrors.CategoryConflict:
		return http.StatusConflict
	case apperrors.CategoryTransientStorage:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"request_id", w.Header().Get(RequestIDHeader),
			"path", r.URL.Path,
			"err", err)
	}
	body := map[string]string{"error": err.Error()}
	if code := apperrors.GetCode(err); code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeList[T any](w http.ResponseWriter, data []T) {
	if data == nil {
		data = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  data,
		"count": len(data),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
