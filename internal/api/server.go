// Package api is the HTTP surface: job creation and control, status reads, signed media
// links and the public media route.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/jobs"
	"github.com/davexpro/archivist/internal/logging"
	"github.com/davexpro/archivist/internal/vault"
)

// Store is the read side the handlers need.
type Store interface {
	Ping() error
	GetBackupJob(id uint) (*db.BackupJob, error)
	GetDeleteJob(id uint) (*db.DeleteJob, error)
	GetMediaAsset(id uint) (*db.MediaAsset, error)
}

type Options struct {
	MediaURLTTL time.Duration
	// PublicRateLimit is requests per minute per client IP on /media.
	PublicRateLimit int
}

type Server struct {
	jobs  *jobs.Service
	store Store
	vault *vault.Vault
	opts  Options
}

func New(svc *jobs.Service, store Store, v *vault.Vault, opts Options) *Server {
	if opts.MediaURLTTL <= 0 {
		opts.MediaURLTTL = 24 * time.Hour
	}
	if opts.PublicRateLimit <= 0 {
		opts.PublicRateLimit = 120
	}
	return &Server{jobs: svc, store: store, vault: v, opts: opts}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/credentials", s.createCredential)

		r.Post("/backups", s.createBackup)
		r.Get("/backups/{id}", s.getBackup)

		r.Post("/delete-jobs", s.createDelete)
		r.Get("/delete-jobs/{id}", s.getDelete)
		r.Post("/delete-jobs/{id}/cancel", s.cancelDelete)
		r.Post("/delete-jobs/{id}/pause", s.pauseDelete)
		r.Post("/delete-jobs/{id}/resume", s.resumeDelete)

		r.Post("/schedules", s.createSchedule)

		r.Get("/media/{id}/link", s.mediaLink)
	})

	r.With(httprate.LimitByIP(s.opts.PublicRateLimit, time.Minute)).
		Get("/media/{id}/signed", s.signedMedia)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
