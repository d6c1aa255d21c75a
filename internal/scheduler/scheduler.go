// Package scheduler fires recurring full-server backups and enforces their retention.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/launcher"
	"github.com/davexpro/archivist/internal/logging"
)

type Store interface {
	ListDueSchedules(now time.Time) ([]db.Schedule, error)
	GetCredential(id uint) (*db.Credential, error)
	CreateBackupJob(job *db.BackupJob) error
	FailBackupJob(id uint, p db.BackupProgress, errMsg string) error
	RecordScheduleRun(id uint, ranAt, next time.Time, backupID uint) error
}

type Scheduler struct {
	store     Store
	launcher  launcher.Launcher
	retention *Retention
	loc       *time.Location
	tick      time.Duration
	now       func() time.Time

	cron *cron.Cron
}

func New(store Store, l launcher.Launcher, retention *Retention, loc *time.Location, tick time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		store:     store,
		launcher:  l,
		retention: retention,
		loc:       loc,
		tick:      tick,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start ticks every s.tick until Stop. Ticks never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.tick), func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("failed to register scheduler tick: %w", err)
	}
	s.cron.Start()
	logging.Info().Dur("tick", s.tick).Str("timezone", s.loc.String()).Msg("scheduler started")
	return nil
}

// Stop waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	logging.Info().Msg("scheduler stopped")
}

// Tick fires every due schedule once and returns how many backups were created.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	due, err := s.store.ListDueSchedules(now)
	if err != nil {
		logging.Error().Err(err).Msg("failed to list due schedules")
		return 0
	}

	fired := 0
	for _, sched := range due {
		if ctx.Err() != nil {
			break
		}
		if err := s.fire(ctx, sched, now); err != nil {
			logging.Error().Err(err).Uint("schedule_id", sched.ID).Msg("scheduled backup failed to fire")
			continue
		}
		fired++
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, sched db.Schedule, now time.Time) error {
	next, err := NextRun(sched, now, s.loc)
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	cred, err := s.store.GetCredential(sched.CredentialID)
	if err != nil {
		return fmt.Errorf("failed to load credential %d: %w", sched.CredentialID, err)
	}

	schedID := sched.ID
	job := &db.BackupJob{
		CredentialID:     sched.CredentialID,
		SourceKind:       cred.Kind,
		GuildID:          sched.GuildID,
		Type:             db.BackupTypeFullServer,
		BackupMode:       sched.BackupMode,
		IncludeMedia:     sched.IncludeMedia,
		IncludeReactions: sched.IncludeReactions,
		IncludeThreads:   sched.IncludeThreads,
		IncludeEmbeds:    sched.IncludeEmbeds,
		Status:           db.StatusPending,
		ScheduleID:       &schedID,
	}
	if err := s.store.CreateBackupJob(job); err != nil {
		return fmt.Errorf("failed to create backup job: %w", err)
	}

	req := launcher.Request{Kind: launcher.KindBackup, JobID: job.ID, Credential: cred.TokenEnc, Source: cred.Kind}
	if err := s.launcher.Launch(ctx, req); err != nil {
		logging.Error().Err(err).Uint("schedule_id", sched.ID).Uint("job_id", job.ID).Msg("failed to launch scheduled backup")
		if ferr := s.store.FailBackupJob(job.ID, db.BackupProgress{}, err.Error()); ferr != nil {
			logging.Error().Err(ferr).Uint("job_id", job.ID).Msg("failed to record launch failure")
		}
	}

	if err := s.store.RecordScheduleRun(sched.ID, now, next, job.ID); err != nil {
		return fmt.Errorf("failed to record schedule run: %w", err)
	}
	logging.Info().Uint("schedule_id", sched.ID).Uint("job_id", job.ID).Time("next_run_at", next).Msg("scheduled backup created")

	if s.retention != nil {
		if _, err := s.retention.Apply(ctx, sched.CredentialID, sched.GuildID, sched.KeepLastN); err != nil {
			logging.Warn().Err(err).Uint("schedule_id", sched.ID).Msg("retention policy incomplete")
		}
	}
	return nil
}
