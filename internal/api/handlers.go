package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/jobs"
	"github.com/davexpro/archivist/internal/logging"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		logging.Error().Err(err).Msg("health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createCredential(w http.ResponseWriter, r *http.Request) {
	var req jobs.CredentialRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cred, err := s.jobs.AddCredential(req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cred)
}

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	var req jobs.BackupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	job, err := s.jobs.CreateBackup(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) getBackup(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	job, err := s.store.GetBackupJob(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) createDelete(w http.ResponseWriter, r *http.Request) {
	var req jobs.DeleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	job, err := s.jobs.CreateDelete(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) getDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	job, err := s.store.GetDeleteJob(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) cancelDelete(w http.ResponseWriter, r *http.Request) {
	s.controlDelete(w, r, func(id uint) (*db.DeleteJob, error) { return s.jobs.CancelDelete(id) })
}

func (s *Server) pauseDelete(w http.ResponseWriter, r *http.Request) {
	s.controlDelete(w, r, func(id uint) (*db.DeleteJob, error) { return s.jobs.PauseDelete(id) })
}

func (s *Server) resumeDelete(w http.ResponseWriter, r *http.Request) {
	s.controlDelete(w, r, func(id uint) (*db.DeleteJob, error) { return s.jobs.ResumeDelete(r.Context(), id) })
}

func (s *Server) controlDelete(w http.ResponseWriter, r *http.Request, fn func(uint) (*db.DeleteJob, error)) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	job, err := fn(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req jobs.ScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sched, err := s.jobs.CreateSchedule(req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sched)
}

type mediaLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) mediaLink(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetMediaAsset(id); err != nil {
		respondErr(w, err)
		return
	}

	signed := s.vault.SignMediaURL(id, s.opts.MediaURLTTL)
	respondJSON(w, http.StatusOK, mediaLinkResponse{
		URL:       fmt.Sprintf("/media/%d/signed?expires=%d&signature=%s", id, signed.ExpiresAt, signed.Signature),
		ExpiresAt: time.Unix(signed.ExpiresAt, 0).UTC(),
	})
}

// signedMedia streams an archived file to anyone holding a valid, unexpired link.
func (s *Server) signedMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil || !s.vault.VerifyMediaURL(id, expires, q.Get("signature")) {
		respondError(w, http.StatusForbidden, "invalid or expired signature")
		return
	}

	asset, err := s.store.GetMediaAsset(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	f, err := os.Open(asset.LocalPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Error().Err(err).Uint("media_id", id).Msg("failed to open media file")
		}
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondErr(w, err)
		return
	}

	if asset.ContentType != "" {
		w.Header().Set("Content-Type", asset.ContentType)
	}
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": asset.Filename}))
	http.ServeContent(w, r, asset.Filename, info.ModTime(), f)
}
