package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/db/dbtest"
	"github.com/davexpro/archivist/internal/launcher"
	"github.com/davexpro/archivist/internal/media"
)

type fakeLauncher struct {
	mu   sync.Mutex
	reqs []launcher.Request
	err  error
}

func (l *fakeLauncher) Launch(_ context.Context, req launcher.Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, req)
	return l.err
}

func (l *fakeLauncher) Wait() {}

func completedBackup(t *testing.T, store *db.Store, credID uint, guildID string) *db.BackupJob {
	t.Helper()
	job := &db.BackupJob{CredentialID: credID, SourceKind: db.CredentialBot, GuildID: guildID, Type: db.BackupTypeFullServer}
	require.NoError(t, store.CreateBackupJob(job))
	_, err := store.MarkBackupRunning(job.ID)
	require.NoError(t, err)
	require.NoError(t, store.CompleteBackupJob(job.ID, db.BackupProgress{}))
	return job
}

func populate(t *testing.T, layout media.Layout, jobID uint) {
	t.Helper()
	for _, dir := range layout.Dirs(jobID) {
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(dir+"/f", []byte("x"), 0o644))
	}
}

func TestTickFiresDueSchedule(t *testing.T) {
	store := dbtest.Open(t)
	cred := &db.Credential{Kind: db.CredentialBot, Name: "bot", TokenEnc: "ciphertext"}
	require.NoError(t, store.CreateCredential(cred))

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	sched := &db.Schedule{
		CredentialID: cred.ID, GuildID: "g1", IntervalType: db.IntervalDaily, TimeOfDay: "03:00:00",
		KeepLastN: 1, Enabled: true, NextRunAt: &past, BackupMode: db.ModeFull, IncludeMedia: true,
	}
	require.NoError(t, store.CreateSchedule(sched))

	layout := media.Layout{Root: t.TempDir()}
	old := completedBackup(t, store, cred.ID, "g1")
	populate(t, layout, old.ID)
	recent := completedBackup(t, store, cred.ID, "g1")
	populate(t, layout, recent.ID)

	l := &fakeLauncher{}
	s := New(store, l, NewRetention(store, layout, nil), time.UTC, time.Minute)
	s.now = func() time.Time { return now }

	assert.Equal(t, 1, s.Tick(context.Background()))

	require.Len(t, l.reqs, 1)
	req := l.reqs[0]
	assert.Equal(t, launcher.KindBackup, req.Kind)
	assert.Equal(t, "ciphertext", req.Credential)
	assert.Equal(t, db.CredentialBot, req.Source)

	job, err := store.GetBackupJob(req.JobID)
	require.NoError(t, err)
	assert.Equal(t, db.BackupTypeFullServer, job.Type)
	assert.Equal(t, db.StatusPending, job.Status)
	assert.True(t, job.IncludeMedia)
	require.NotNil(t, job.ScheduleID)
	assert.Equal(t, sched.ID, *job.ScheduleID)

	got, err := store.GetSchedule(sched.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)))
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(now))
	require.NotNil(t, got.LastBackupID)
	assert.Equal(t, job.ID, *got.LastBackupID)

	// retention ran: only the newest completed backup is left
	jobs, err := store.ListCompletedBackups(cred.ID, "g1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, recent.ID, jobs[0].ID)
	assert.NoDirExists(t, layout.MediaDir(old.ID))

	assert.Zero(t, s.Tick(context.Background()), "schedule is no longer due")
}

func TestTickLaunchFailureFailsJob(t *testing.T) {
	store := dbtest.Open(t)
	cred := &db.Credential{Kind: db.CredentialBot, TokenEnc: "c"}
	require.NoError(t, store.CreateCredential(cred))
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	sched := &db.Schedule{CredentialID: cred.ID, GuildID: "g1", IntervalType: db.IntervalDaily, TimeOfDay: "03:00", Enabled: true, NextRunAt: &now, BackupMode: db.ModeFull}
	require.NoError(t, store.CreateSchedule(sched))

	l := &fakeLauncher{err: errors.New("exec format error")}
	s := New(store, l, nil, time.UTC, time.Minute)
	s.now = func() time.Time { return now }

	assert.Equal(t, 1, s.Tick(context.Background()))
	job, err := store.GetBackupJob(l.reqs[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, job.Status)
	assert.Equal(t, "exec format error", job.SyncError)
}

func TestStartStop(t *testing.T) {
	store := dbtest.Open(t)
	s := New(store, &fakeLauncher{}, nil, time.UTC, time.Hour)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
