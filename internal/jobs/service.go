// Package jobs validates job requests, creates their rows and hands them to a launcher. Every
// call returns as soon as the row exists; progress is read back from the row.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davexpro/archivist/internal/backup"
	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/launcher"
	"github.com/davexpro/archivist/internal/logging"
	"github.com/davexpro/archivist/internal/scheduler"
)

// ErrInvalidTransition means the job's current status does not allow the requested change.
var ErrInvalidTransition = errors.New("job status does not allow this action")

type Store interface {
	CreateCredential(c *db.Credential) error
	GetCredential(id uint) (*db.Credential, error)

	CreateBackupJob(job *db.BackupJob) error
	FailBackupJob(id uint, p db.BackupProgress, errMsg string) error

	CreateDeleteJob(job *db.DeleteJob) error
	GetDeleteJob(id uint) (*db.DeleteJob, error)
	TransitionDeleteJob(id uint, to string, from ...string) (bool, error)
	FailDeleteJob(id uint, errMsg string) error

	CreateSchedule(sched *db.Schedule) error
}

// Encrypter seals tokens before they are stored (vault.Vault).
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

type Service struct {
	store    Store
	launcher launcher.Launcher
	vault    Encrypter
	loc      *time.Location
	now      func() time.Time
}

// NewService builds the job service. loc is the time zone schedules are interpreted in.
func NewService(store Store, l launcher.Launcher, v Encrypter, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    store,
		launcher: l,
		vault:    v,
		loc:      loc,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CredentialRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=user bot"`
	Name       string `json:"name" validate:"max=255"`
	PlatformID string `json:"platform_id" validate:"max=32"`
	Token      string `json:"token" validate:"required"`
}

// AddCredential encrypts the token and stores it. The plaintext is never persisted.
func (s *Service) AddCredential(req CredentialRequest) (*db.Credential, error) {
	req.Token = strings.TrimSpace(req.Token)
	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	enc, err := s.vault.Encrypt(req.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}
	cred := &db.Credential{Kind: req.Kind, Name: req.Name, PlatformID: req.PlatformID, TokenEnc: enc}
	if err := s.store.CreateCredential(cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	return cred, nil
}

type BackupRequest struct {
	CredentialID     uint       `json:"credential_id" validate:"required"`
	Type             string     `json:"type" validate:"required,oneof=channel dm full_server"`
	GuildID          string     `json:"guild_id" validate:"max=32"`
	ChannelID        string     `json:"channel_id" validate:"max=32"`
	BackupMode       string     `json:"backup_mode" validate:"omitempty,oneof=full media_only links_only"`
	IncludeMedia     bool       `json:"include_media"`
	IncludeReactions bool       `json:"include_reactions"`
	IncludeThreads   bool       `json:"include_threads"`
	IncludeEmbeds    bool       `json:"include_embeds"`
	DateFrom         *time.Time `json:"date_from"`
	DateTo           *time.Time `json:"date_to"`
}

func (s *Service) CreateBackup(ctx context.Context, req BackupRequest) (*db.BackupJob, error) {
	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	switch {
	case req.Type == db.BackupTypeFullServer && req.GuildID == "":
		return nil, invalid("guild_id", "is required for full_server backups")
	case req.Type != db.BackupTypeFullServer && req.ChannelID == "":
		return nil, invalid("channel_id", "is required for "+req.Type+" backups")
	}
	if err := checkWindow(req.DateFrom, req.DateTo); err != nil {
		return nil, err
	}

	cred, err := s.credential(req.CredentialID)
	if err != nil {
		return nil, err
	}
	if req.Type == db.BackupTypeFullServer && cred.Kind != db.CredentialBot {
		return nil, invalid("type", backup.ErrUserFullServer.Error())
	}

	job := &db.BackupJob{
		CredentialID:     cred.ID,
		SourceKind:       cred.Kind,
		GuildID:          req.GuildID,
		ChannelID:        req.ChannelID,
		Type:             req.Type,
		BackupMode:       req.BackupMode,
		IncludeMedia:     req.IncludeMedia,
		IncludeReactions: req.IncludeReactions,
		IncludeThreads:   req.IncludeThreads,
		IncludeEmbeds:    req.IncludeEmbeds,
		DateFrom:         utc(req.DateFrom),
		DateTo:           utc(req.DateTo),
		Status:           db.StatusPending,
	}
	if err := s.store.CreateBackupJob(job); err != nil {
		return nil, fmt.Errorf("failed to create backup job: %w", err)
	}

	if err := s.launch(ctx, launcher.KindBackup, job.ID, cred); err != nil {
		if ferr := s.store.FailBackupJob(job.ID, db.BackupProgress{}, err.Error()); ferr != nil {
			logging.Error().Err(ferr).Uint("job_id", job.ID).Msg("failed to record launch failure")
		}
		job.Status = db.StatusFailed
		job.SyncError = err.Error()
	}
	return job, nil
}

type DeleteRequest struct {
	CredentialID    uint       `json:"credential_id" validate:"required"`
	ChannelID       string     `json:"channel_id" validate:"required,max=32"`
	DateFrom        *time.Time `json:"date_from"`
	DateTo          *time.Time `json:"date_to"`
	Keyword         string     `json:"keyword" validate:"max=255"`
	AttachmentsOnly bool       `json:"attachments_only"`
}

func (s *Service) CreateDelete(ctx context.Context, req DeleteRequest) (*db.DeleteJob, error) {
	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	if err := checkWindow(req.DateFrom, req.DateTo); err != nil {
		return nil, err
	}
	cred, err := s.credential(req.CredentialID)
	if err != nil {
		return nil, err
	}

	job := &db.DeleteJob{
		CredentialID:    cred.ID,
		ChannelID:       req.ChannelID,
		DateFrom:        utc(req.DateFrom),
		DateTo:          utc(req.DateTo),
		Keyword:         req.Keyword,
		AttachmentsOnly: req.AttachmentsOnly,
		Status:          db.StatusPending,
	}
	if err := s.store.CreateDeleteJob(job); err != nil {
		return nil, fmt.Errorf("failed to create delete job: %w", err)
	}
	s.launchDelete(ctx, job, cred)
	return job, nil
}

func (s *Service) launchDelete(ctx context.Context, job *db.DeleteJob, cred *db.Credential) {
	if err := s.launch(ctx, launcher.KindDelete, job.ID, cred); err != nil {
		if ferr := s.store.FailDeleteJob(job.ID, err.Error()); ferr != nil {
			logging.Error().Err(ferr).Uint("job_id", job.ID).Msg("failed to record launch failure")
		}
		job.Status = db.StatusFailed
		job.SyncError = err.Error()
	}
}

// CancelDelete stops a delete job for good. The worker notices before its next delete call.
func (s *Service) CancelDelete(id uint) (*db.DeleteJob, error) {
	return s.transition(id, db.StatusCancelled, db.StatusPending, db.StatusRunning, db.StatusPaused)
}

// PauseDelete stops a delete job so that ResumeDelete can continue it from its checkpoint.
func (s *Service) PauseDelete(id uint) (*db.DeleteJob, error) {
	return s.transition(id, db.StatusPaused, db.StatusPending, db.StatusRunning)
}

// ResumeDelete moves a paused job back to pending and launches a new worker for it.
func (s *Service) ResumeDelete(ctx context.Context, id uint) (*db.DeleteJob, error) {
	job, err := s.transition(id, db.StatusPending, db.StatusPaused)
	if err != nil {
		return nil, err
	}
	cred, err := s.store.GetCredential(job.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential %d: %w", job.CredentialID, err)
	}
	s.launchDelete(ctx, job, cred)
	return job, nil
}

func (s *Service) transition(id uint, to string, from ...string) (*db.DeleteJob, error) {
	ok, err := s.store.TransitionDeleteJob(id, to, from...)
	if err != nil {
		return nil, fmt.Errorf("failed to update delete job %d: %w", id, err)
	}
	job, err := s.store.GetDeleteJob(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return job, fmt.Errorf("delete job %d is %s: %w", id, job.Status, ErrInvalidTransition)
	}
	logging.Info().Uint("job_id", id).Str("status", to).Msg("delete job status changed")
	return job, nil
}

type ScheduleRequest struct {
	CredentialID     uint   `json:"credential_id" validate:"required"`
	GuildID          string `json:"guild_id" validate:"required,max=32"`
	IntervalType     string `json:"interval_type" validate:"required,oneof=daily weekly monthly"`
	TimeOfDay        string `json:"time_of_day" validate:"required"`
	DayOfWeek        *int   `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	DayOfMonth       *int   `json:"day_of_month" validate:"omitempty,min=1,max=31"`
	KeepLastN        int    `json:"keep_last_n" validate:"min=0"`
	Enabled          *bool  `json:"enabled"`
	BackupMode       string `json:"backup_mode" validate:"omitempty,oneof=full media_only links_only"`
	IncludeMedia     bool   `json:"include_media"`
	IncludeReactions bool   `json:"include_reactions"`
	IncludeThreads   bool   `json:"include_threads"`
	IncludeEmbeds    bool   `json:"include_embeds"`
}

// CreateSchedule stores a recurring full-server backup with its first fire time computed.
func (s *Service) CreateSchedule(req ScheduleRequest) (*db.Schedule, error) {
	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	if _, _, _, err := scheduler.ParseTimeOfDay(req.TimeOfDay); err != nil {
		return nil, invalid("time_of_day", "must be HH:MM or HH:MM:SS")
	}
	switch {
	case req.IntervalType == db.IntervalWeekly && req.DayOfWeek == nil:
		return nil, invalid("day_of_week", "is required for weekly schedules")
	case req.IntervalType == db.IntervalMonthly && req.DayOfMonth == nil:
		return nil, invalid("day_of_month", "is required for monthly schedules")
	}

	cred, err := s.credential(req.CredentialID)
	if err != nil {
		return nil, err
	}
	if cred.Kind != db.CredentialBot {
		return nil, invalid("credential_id", backup.ErrUserFullServer.Error())
	}

	mode := req.BackupMode
	if mode == "" {
		mode = db.ModeFull
	}
	sched := &db.Schedule{
		CredentialID:     cred.ID,
		GuildID:          req.GuildID,
		IntervalType:     req.IntervalType,
		TimeOfDay:        req.TimeOfDay,
		DayOfWeek:        req.DayOfWeek,
		DayOfMonth:       req.DayOfMonth,
		KeepLastN:        req.KeepLastN,
		Enabled:          req.Enabled == nil || *req.Enabled,
		BackupMode:       mode,
		IncludeMedia:     req.IncludeMedia,
		IncludeReactions: req.IncludeReactions,
		IncludeThreads:   req.IncludeThreads,
		IncludeEmbeds:    req.IncludeEmbeds,
	}
	next, err := scheduler.NextRun(*sched, s.now(), s.loc)
	if err != nil {
		return nil, invalid("interval_type", err.Error())
	}
	sched.NextRunAt = &next

	if err := s.store.CreateSchedule(sched); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	logging.Info().Uint("schedule_id", sched.ID).Str("guild_id", sched.GuildID).Time("next_run_at", next).Msg("schedule created")
	return sched, nil
}

func (s *Service) credential(id uint) (*db.Credential, error) {
	cred, err := s.store.GetCredential(id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, invalid("credential_id", "does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential %d: %w", id, err)
	}
	return cred, nil
}

func (s *Service) launch(ctx context.Context, kind string, jobID uint, cred *db.Credential) error {
	err := s.launcher.Launch(ctx, launcher.Request{Kind: kind, JobID: jobID, Credential: cred.TokenEnc, Source: cred.Kind})
	if err != nil {
		logging.Error().Err(err).Str("kind", kind).Uint("job_id", jobID).Msg("failed to launch worker")
		return fmt.Errorf("failed to launch worker: %w", err)
	}
	return nil
}

func checkWindow(from, to *time.Time) error {
	if from != nil && to != nil && from.After(*to) {
		return invalid("date_from", "must not be after date_to")
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
