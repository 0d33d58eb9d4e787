package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cisco7507/align-audio/internal/config"
	"github.com/cisco7507/align-audio/internal/models"
	"github.com/cisco7507/align-audio/internal/orchestrator"
	"github.com/cisco7507/align-audio/internal/ratelimit"
	"github.com/cisco7507/align-audio/internal/render"
	"github.com/cisco7507/align-audio/internal/spectrogram"
	"github.com/cisco7507/align-audio/internal/store"
	"github.com/cisco7507/align-audio/internal/telemetry"
)

// Jobs is the part of the orchestrator the API drives.
type Jobs interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (models.Job, error)
	Get(ctx context.Context, id string) (models.Job, error)
	SetPinned(ctx context.Context, id string, pinned bool) (models.Job, error)
}

// Spectrograms renders on-demand spectrogram views.
type Spectrograms interface {
	Render(ctx context.Context, jobID string, track models.Track, view render.View) (string, error)
}

// Limiter decides whether a client may submit another job.
type Limiter interface {
	Take(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the alignment API.
type Server struct {
	cfg          config.Config
	jobs         Jobs
	spectrograms Spectrograms
	limiter      Limiter
	logger       *slog.Logger
}

// New constructs the API server. limiter may be nil.
func New(cfg config.Config, jobs Jobs, spectrograms Spectrograms, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:          cfg,
		jobs:         jobs,
		spectrograms: spectrograms,
		limiter:      limiter,
		logger:       logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Mount("/metrics", telemetry.Handler())
	r.Handle("/media/*", s.mediaHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Post("/alignments", s.handleSubmit)
		r.Get("/alignments/{id}", s.handleGet)
		r.Post("/alignments/{id}/pin", s.handlePin(true))
		r.Delete("/alignments/{id}/pin", s.handlePin(false))
		r.Get("/spectrograms/{id}", s.handleSpectrogram)
	})
	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		decision, err := s.limiter.Take(r.Context(), clientKey(r))
		if err != nil {
			s.logger.Error("rate limiter unavailable", "error", err)
			writeError(w, http.StatusInternalServerError, errors.New("rate limit error"))
			return
		}
		if !decision.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", fmt.Sprint(int(math.Ceil(decision.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, errors.New("rate limited"))
			return
		}
	}

	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, &models.ValidationError{Reason: "expected a multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	params, err := parseParameters(r.MultipartForm.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := orchestrator.SubmitRequest{Parameters: params}
	for _, f := range []struct {
		field string
		dst   *orchestrator.Upload
	}{
		{"reference_file", &req.Reference},
		{"external_file", &req.External},
	} {
		file, header, err := r.FormFile(f.field)
		if err != nil {
			writeError(w, http.StatusBadRequest, &models.ValidationError{Field: f.field, Reason: "is required"})
			return
		}
		defer file.Close()
		*f.dst = orchestrator.Upload{Name: header.Filename, Body: file}
	}

	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not accept job"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "status": job.Status})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handlePin(pinned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.jobs.SetPinned(r.Context(), chi.URLParam(r, "id"), pinned)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID, "pinned": job.Pinned})
	}
}

func (s *Server) handleSpectrogram(w http.ResponseWriter, r *http.Request) {
	track := models.Track(r.URL.Query().Get("track"))
	if track == "" {
		track = models.TrackReference
	}
	view, ok := render.ParseView(r.URL.Query().Get("view"))
	if !ok {
		writeError(w, http.StatusBadRequest, &models.ValidationError{Field: "view", Reason: "must be default, long or highRes"})
		return
	}
	path, err := s.spectrograms.Render(r.Context(), chi.URLParam(r, "id"), track, view)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

func (s *Server) mediaHandler() http.Handler {
	files := http.StripPrefix("/media/", http.FileServer(http.Dir(s.cfg.MediaRoot)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no directory listings.
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func statusFor(err error) int {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, spectrogram.ErrNoCachedTransform):
		return http.StatusNotFound
	case errors.Is(err, spectrogram.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return "client:" + v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type errorBody struct {
	Error *models.JobError `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	body := errorBody{Error: models.ToJobError(err)}
	if code != http.StatusBadRequest {
		body.Error = &models.JobError{Kind: kindForStatus(code), Message: err.Error()}
	}
	writeJSON(w, code, body)
}

func kindForStatus(code int) models.ErrorKind {
	switch code {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "not_ready"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	default:
		return models.KindInternal
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
