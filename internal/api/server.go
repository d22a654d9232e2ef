// Package api exposes the HTTP interface of the FRE lookup service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/fre-lookup/internal/cnpj"
	"github.com/JakeFAU/fre-lookup/internal/dataset"
	"github.com/JakeFAU/fre-lookup/internal/export"
	"github.com/JakeFAU/fre-lookup/internal/id/uuid"
	"github.com/JakeFAU/fre-lookup/internal/lookup"
	"github.com/JakeFAU/fre-lookup/internal/metrics"
	"github.com/JakeFAU/fre-lookup/internal/policy/ratelimit"
	"github.com/JakeFAU/fre-lookup/internal/query"
	"github.com/JakeFAU/fre-lookup/internal/transport"
)

// QueryService is the subset of query.Service used by the handlers.
type QueryService interface {
	QueryByIdentifier(ctx context.Context, input string, year int) (lookup.QuerySummary, error)
	QueryFromUploadedArchive(ctx context.Context, input string, archive []byte, year int) (lookup.QuerySummary, error)
	LoadCachedSummary(ctx context.Context, input string, year int) (lookup.QuerySummary, bool)
	ClearAllLocalState(ctx context.Context) error
	ArchiveDownloadURL(year int) (string, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Service QueryService
	Locator *dataset.Locator
	// Upstream performs the relay's archive download.
	Upstream       transport.Strategy
	Logger         *zap.Logger
	AuthEnabled    bool
	APIKey         string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Ready          []ReadinessCheck
	// RelayLimiter throttles /api per client address. Nil disables it.
	RelayLimiter *ratelimit.Limiter
	// IDs generates request IDs. Defaults to UUIDv7.
	IDs IDGenerator
}

// IDGenerator produces request identifiers.
type IDGenerator interface {
	NewID() string
}

// Server wires HTTP handlers to the query service and the relay upstream.
type Server struct {
	router    chi.Router
	service   QueryService
	locator   *dataset.Locator
	upstream  transport.Strategy
	logger    *zap.Logger
	maxUpload int64
	ready     []ReadinessCheck
}

const defaultMaxUpload = 512 << 20

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service:   opts.Service,
		locator:   opts.Locator,
		upstream:  opts.Upstream,
		logger:    logger,
		maxUpload: opts.MaxUploadBytes,
		ready:     opts.Ready,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUpload
	}

	ids := opts.IDs
	if ids == nil {
		ids = uuid.New()
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(ids))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.With(throttleMiddleware(opts.RelayLimiter)).Get("/api/{dataset}/{year}", s.relayArchive)

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/reports/{cnpj}", func(r chi.Router) {
			r.Post("/", s.queryByIdentifier)
			r.Post("/upload", s.queryFromUpload)
			r.Get("/{year}", s.loadCachedSummary)
			r.Get("/{year}/export.csv", s.exportCSV)
		})
		r.Get("/archives/{year}/url", s.archiveURL)
		r.Delete("/local-state", s.clearLocalState)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.ready {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// relayArchive proxies the remote archive for browsers that cannot fetch it
// cross-origin.
func (s *Server) relayArchive(w http.ResponseWriter, r *http.Request) {
	year, err := dataset.ParseYear(chi.URLParam(r, "year"))
	if err != nil {
		http.Error(w, "invalid year", http.StatusBadRequest)
		return
	}
	ds, err := lookup.ParseDataset(chi.URLParam(r, "dataset"))
	if err != nil {
		http.Error(w, "unknown dataset", http.StatusNotFound)
		return
	}
	target, err := s.locator.Resolve(ds, year)
	if err != nil {
		http.Error(w, "unknown dataset", http.StatusNotFound)
		return
	}

	resp, err := s.upstream.Get(r.Context(), target)
	if err != nil || !resp.OK() {
		fields := []zap.Field{zap.String("url", target), zap.Int("status", resp.StatusCode)}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		s.logger.Warn("relay upstream failed", fields...)
		http.Error(w, "unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Warn("relay write failed", zap.Error(err))
	}
}

func (s *Server) queryByIdentifier(w http.ResponseWriter, r *http.Request) {
	year, ok := optionalYear(w, r)
	if !ok {
		return
	}
	summary, err := s.service.QueryByIdentifier(r.Context(), cnpjParam(r), year)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportResponse(summary))
}

func (s *Server) queryFromUpload(w http.ResponseWriter, r *http.Request) {
	year, ok := optionalYear(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("archive exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read archive")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "archive body required")
		return
	}
	summary, err := s.service.QueryFromUploadedArchive(r.Context(), cnpjParam(r), body, year)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportResponse(summary))
}

func (s *Server) loadCachedSummary(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.cachedSummary(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newReportResponse(summary))
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.cachedSummary(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.FileName(summary)))
	if err := export.WriteCSV(w, summary); err != nil {
		s.logger.Warn("csv export failed", zap.String("cnpj", summary.Identifier), zap.Error(err))
	}
}

func (s *Server) cachedSummary(w http.ResponseWriter, r *http.Request) (lookup.QuerySummary, bool) {
	year, err := dataset.ParseYear(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return lookup.QuerySummary{}, false
	}
	summary, ok := s.service.LoadCachedSummary(r.Context(), cnpjParam(r), year)
	if !ok {
		writeError(w, http.StatusNotFound, query.MsgNoSnapshot)
		return lookup.QuerySummary{}, false
	}
	return summary, true
}

func (s *Server) archiveURL(w http.ResponseWriter, r *http.Request) {
	year, err := dataset.ParseYear(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := s.service.ArchiveDownloadURL(year)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "url": target})
}

func (s *Server) clearLocalState(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearAllLocalState(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear local state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cnpjParam returns the decoded identifier segment so formatted input such as
// 33.000.167%2F0001-01 survives routing.
func cnpjParam(r *http.Request) string {
	raw := chi.URLParam(r, "cnpj")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// optionalYear parses ?year=. Absent means zero, which the service maps to
// the current year.
func optionalYear(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return 0, true
	}
	year, err := dataset.ParseYear(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return year, true
}

type reportResponse struct {
	CNPJ        string               `json:"cnpj"`
	Formatted   string               `json:"cnpj_formatted"`
	Year        int                  `json:"year"`
	MatchedRows int                  `json:"matched_rows"`
	Files       []lookup.EntryResult `json:"files"`
	Disclaimer  string               `json:"disclaimer"`
}

func newReportResponse(summary lookup.QuerySummary) reportResponse {
	files := summary.Entries
	if files == nil {
		files = []lookup.EntryResult{}
	}
	return reportResponse{
		CNPJ:        summary.Identifier,
		Formatted:   cnpj.Format(summary.Identifier),
		Year:        summary.Year,
		MatchedRows: summary.MatchedRows(),
		Files:       files,
		Disclaimer:  query.Disclaimer,
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	URL    string `json:"url,omitempty"`
	Status int    `json:"status,omitempty"`
}

func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: query.UserMessage(err), Detail: err.Error()}
	var offline *lookup.OfflineError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lookup.ErrInvalidIdentifier):
		status = http.StatusBadRequest
	case errors.Is(err, lookup.ErrDatasetUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &offline):
		status = http.StatusBadGateway
		resp.URL = offline.URL
		resp.Status = offline.Status
	default:
		s.logger.Error("query failed", zap.Error(err))
	}
	writeJSON(w, status, resp)
}
