// Package server provides the development authorization service.
//
// Endpoints:
//
//	POST /api/s3/presigned-upload-url  issue a single-use upload URL
//	PUT  /objects/{name}?token=...     receive an object (local backend only)
//	GET  /healthz                      liveness
//	GET  /metrics                      Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomasbasham/audio-upload/internal/authorize"
	"github.com/tomasbasham/audio-upload/internal/grant"
	"github.com/tomasbasham/audio-upload/internal/logging"
	"github.com/tomasbasham/audio-upload/internal/storage"
)

// Options holds the dependencies shared across HTTP handlers.
type Options struct {
	Signer storage.Signer

	// Objects and Grants back the PUT endpoint. Both are nil unless the
	// local backend is in use.
	Objects *storage.LocalStore
	Grants  grant.Store

	Logger logging.Logger

	// Registry receives the server metrics and is exposed on /metrics. A
	// fresh registry is created when nil.
	Registry *prometheus.Registry

	// URLExpiry bounds the validity of issued upload URLs.
	URLExpiry time.Duration
}

// Server is the development authorization service.
type Server struct {
	signer    storage.Signer
	objects   *storage.LocalStore
	grants    grant.Store
	logger    logging.Logger
	metrics   *metrics
	validate  *validator.Validate
	urlExpiry time.Duration

	router chi.Router
}

// New creates a Server wired to the given dependencies.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		signer:    opts.Signer,
		objects:   opts.Objects,
		grants:    opts.Grants,
		logger:    logger,
		metrics:   newMetrics(registry),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		urlExpiry: opts.URLExpiry,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Post(authorize.Path, s.handlePresign)
	if s.objects != nil && s.grants != nil {
		r.Put(storage.ObjectsPath+"*", s.handlePutObject)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

// Handler returns the HTTP handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server on the given address and shuts it
// down gracefully when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown failed: %w", err)
	}
	return nil
}

// presignRequest is the JSON body for POST /api/s3/presigned-upload-url.
type presignRequest struct {
	FileName    string `json:"fileName" validate:"required,max=1024"`
	ContentType string `json:"contentType" default:"application/octet-stream" validate:"required,max=255"`
}

// presignResponse carries the upload URL. Only uploadUrl is part of the
// client contract.
type presignResponse struct {
	UploadURL  string    `json:"uploadUrl"`
	ObjectName string    `json:"objectName"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.authorizations.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	defaults.SetDefaults(&req)
	if err := s.validate.StructCtx(r.Context(), &req); err != nil {
		s.metrics.authorizations.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	res, err := s.signer.Presign(r.Context(), &storage.PresignRequest{
		ObjectName:  grant.ObjectName(req.FileName, time.Now()),
		ContentType: req.ContentType,
		TTL:         s.urlExpiry,
	})
	if err != nil {
		s.metrics.authorizations.WithLabelValues("error").Inc()
		s.logger.Error(r.Context(), "presign failed", "file", req.FileName, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to authorize upload")
		return
	}

	s.metrics.authorizations.WithLabelValues("issued").Inc()
	s.logger.Info(r.Context(), "upload authorized",
		"object", res.ObjectName, "content_type", req.ContentType, "expires_at", res.ExpiresAt)

	writeJSON(w, http.StatusOK, presignResponse{
		UploadURL:  res.UploadURL,
		ObjectName: res.ObjectName,
		ExpiresAt:  res.ExpiresAt,
	})
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	objectName := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(objectName)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid object name")
			return
		}
		objectName = unescaped
	}

	token := r.URL.Query().Get("token")
	if _, err := s.grants.Consume(token, objectName, r.Header.Get("Content-Type")); err != nil {
		outcome := "denied"
		if errors.Is(err, grant.ErrExpired) {
			outcome = "expired"
		}
		s.metrics.objectPuts.WithLabelValues(outcome).Inc()
		s.logger.Warn(r.Context(), "object put rejected", "object", objectName, "error", err)
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	n, err := s.objects.Write(r.Context(), objectName, r.Body)
	if err != nil {
		s.metrics.objectPuts.WithLabelValues("error").Inc()
		s.logger.Error(r.Context(), "object write failed", "object", objectName, "error", err)
		if errors.Is(err, storage.ErrInvalidObjectName) {
			writeError(w, http.StatusBadRequest, "invalid object name")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store object")
		return
	}

	s.metrics.objectPuts.WithLabelValues("stored").Inc()
	s.metrics.objectBytes.Add(float64(n))
	s.logger.Info(r.Context(), "object stored", "object", objectName, "bytes", n)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Field()
	switch field {
	case "FileName":
		field = "fileName"
	case "ContentType":
		field = "contentType"
	}
	return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
