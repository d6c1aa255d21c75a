package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/db/dbtest"
	"github.com/davexpro/archivist/internal/media"
)

type failingFiles struct {
	media.Layout
	failFor uint
}

func (f failingFiles) RemoveJob(jobID uint) error {
	if jobID == f.failFor {
		return errors.New("device busy")
	}
	return f.Layout.RemoveJob(jobID)
}

type recordingMirror struct {
	prefixes []string
}

func (m *recordingMirror) RemovePrefix(_ context.Context, prefix string) error {
	m.prefixes = append(m.prefixes, prefix)
	return nil
}

func TestRetentionKeepsNewest(t *testing.T) {
	store := dbtest.Open(t)
	layout := media.Layout{Root: t.TempDir()}

	var jobs []*db.BackupJob
	for i := 0; i < 5; i++ {
		job := completedBackup(t, store, 1, "g1")
		populate(t, layout, job.ID)
		require.NoError(t, store.CreateMessage(&db.Message{BackupJobID: job.ID, PlatformID: "m", ChannelID: "c"}))
		jobs = append(jobs, job)
	}
	other := completedBackup(t, store, 1, "g2")
	populate(t, layout, other.ID)

	mirror := &recordingMirror{}
	r := NewRetention(store, layout, mirror)
	removed, err := r.Apply(context.Background(), 1, "g1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	left, err := store.ListCompletedBackups(1, "g1")
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, jobs[4].ID, left[0].ID)
	assert.Equal(t, jobs[3].ID, left[1].ID)

	for _, job := range jobs[3:] {
		for _, dir := range layout.Dirs(job.ID) {
			assert.DirExists(t, dir)
		}
	}
	for _, job := range jobs[:3] {
		for _, dir := range layout.Dirs(job.ID) {
			assert.NoDirExists(t, dir)
		}
		n, err := store.CountMessages(job.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.DirExists(t, layout.MediaDir(other.ID))
	assert.Len(t, mirror.prefixes, 9)

	removed, err = r.Apply(context.Background(), 1, "g1", 2)
	require.NoError(t, err)
	assert.Zero(t, removed, "applying twice removes nothing more")
}

func TestRetentionKeepZeroIsNoop(t *testing.T) {
	store := dbtest.Open(t)
	completedBackup(t, store, 1, "g1")

	removed, err := NewRetention(store, media.Layout{Root: t.TempDir()}, nil).Apply(context.Background(), 1, "g1", 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRetentionIgnoresUnfinishedBackups(t *testing.T) {
	store := dbtest.Open(t)
	completedBackup(t, store, 1, "g1")
	running := &db.BackupJob{CredentialID: 1, SourceKind: db.CredentialBot, GuildID: "g1", Type: db.BackupTypeFullServer}
	require.NoError(t, store.CreateBackupJob(running))
	_, err := store.MarkBackupRunning(running.ID)
	require.NoError(t, err)

	removed, err := NewRetention(store, media.Layout{Root: t.TempDir()}, nil).Apply(context.Background(), 1, "g1", 1)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = store.GetBackupJob(running.ID)
	assert.NoError(t, err)
}

func TestRetentionKeepsRowsWhenFilesRemain(t *testing.T) {
	store := dbtest.Open(t)
	layout := media.Layout{Root: t.TempDir()}
	oldest := completedBackup(t, store, 1, "g1")
	middle := completedBackup(t, store, 1, "g1")
	completedBackup(t, store, 1, "g1")

	r := NewRetention(store, failingFiles{Layout: layout, failFor: oldest.ID}, nil)
	removed, err := r.Apply(context.Background(), 1, "g1", 1)
	require.Error(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetBackupJob(oldest.ID)
	assert.NoError(t, err, "rows stay while files could not be removed")
	_, err = store.GetBackupJob(middle.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRetentionApplyAll(t *testing.T) {
	store := dbtest.Open(t)
	layout := media.Layout{Root: t.TempDir()}
	for i := 0; i < 3; i++ {
		completedBackup(t, store, 1, "g1")
		completedBackup(t, store, 1, "g2")
	}
	require.NoError(t, store.CreateSchedule(&db.Schedule{CredentialID: 1, GuildID: "g1", IntervalType: db.IntervalDaily, TimeOfDay: "03:00", KeepLastN: 1}))
	require.NoError(t, store.CreateSchedule(&db.Schedule{CredentialID: 1, GuildID: "g1", IntervalType: db.IntervalWeekly, TimeOfDay: "03:00", KeepLastN: 2}))
	require.NoError(t, store.CreateSchedule(&db.Schedule{CredentialID: 1, GuildID: "g2", IntervalType: db.IntervalDaily, TimeOfDay: "03:00", KeepLastN: 0}))

	removed, err := NewRetention(store, layout, nil).ApplyAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	left, err := store.ListCompletedBackups(1, "g1")
	require.NoError(t, err)
	assert.Len(t, left, 2)
	left, err = store.ListCompletedBackups(1, "g2")
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestRetentionApplyAllUnlimitedScheduleWins(t *testing.T) {
	store := dbtest.Open(t)
	for i := 0; i < 5; i++ {
		completedBackup(t, store, 1, "g1")
	}
	require.NoError(t, store.CreateSchedule(&db.Schedule{CredentialID: 1, GuildID: "g1", IntervalType: db.IntervalDaily, TimeOfDay: "03:00", KeepLastN: 3}))
	require.NoError(t, store.CreateSchedule(&db.Schedule{CredentialID: 1, GuildID: "g1", IntervalType: db.IntervalWeekly, TimeOfDay: "04:00", KeepLastN: 0}))
	require.NoError(t, store.CreateSchedule(&db.Schedule{CredentialID: 1, GuildID: "g1", IntervalType: db.IntervalMonthly, TimeOfDay: "05:00", KeepLastN: 4}))

	removed, err := NewRetention(store, media.Layout{Root: t.TempDir()}, nil).ApplyAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)

	left, err := store.ListCompletedBackups(1, "g1")
	require.NoError(t, err)
	assert.Len(t, left, 5)
}
