package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davexpro/archivist/internal/config"
	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/db/dbtest"
	"github.com/davexpro/archivist/internal/launcher"
	"github.com/davexpro/archivist/internal/media"
	"github.com/davexpro/archivist/internal/pkg/helper"
	"github.com/davexpro/archivist/internal/vault"
)

type fixture struct {
	cfg    *config.Config
	store  *db.Store
	vault  *vault.Vault
	runner *Runner
	hits   atomic.Int32
	srv    *httptest.Server
}

func newFixture(t *testing.T, mux *http.ServeMux) *fixture {
	t.Helper()
	f := &fixture{store: dbtest.Open(t)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)

	v, err := vault.New("worker-test-secret")
	require.NoError(t, err)
	f.vault = v

	f.cfg = &config.Config{
		Discord: config.DiscordConfig{
			APIBase:           f.srv.URL,
			CDNBase:           f.srv.URL,
			Timeout:           5 * time.Second,
			RequestsPerSecond: 1000,
		},
		Storage: config.StorageConfig{Root: t.TempDir()},
		Worker: config.WorkerConfig{
			CheckpointEvery: 10,
			PageSize:        100,
			DownloadTimeout: 5 * time.Second,
		},
		LockDir: t.TempDir(),
	}
	f.runner = NewRunner(f.cfg, f.store, v, nil)
	return f
}

func (f *fixture) ciphertext(t *testing.T) string {
	t.Helper()
	enc, err := f.vault.Encrypt("token")
	require.NoError(t, err)
	return enc
}

func TestRunBackupJob(t *testing.T) {
	mux := http.NewServeMux()
	var f *fixture
	mux.HandleFunc("/channels/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"id":"2","channel_id":"c1","author":{"id":"u1","username":"a"},"content":"second","timestamp":"2024-01-02T00:00:00Z",
			 "attachments":[{"id":"a1","filename":"cat.png","size":4,"url":"` + f.srv.URL + `/files/a1"}]},
			{"id":"1","channel_id":"c1","author":{"id":"u2","username":"b"},"content":"first","timestamp":"2024-01-01T00:00:00Z","attachments":[]}
		]`))
	})
	mux.HandleFunc("/files/a1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("meow"))
	})
	f = newFixture(t, mux)

	job := &db.BackupJob{CredentialID: 1, SourceKind: db.CredentialBot, ChannelID: "c1", Type: db.BackupTypeChannel, IncludeMedia: true}
	require.NoError(t, f.store.CreateBackupJob(job))

	err := f.runner.Run(context.Background(), launcher.Request{Kind: launcher.KindBackup, JobID: job.ID, Credential: f.ciphertext(t), Source: db.CredentialBot})
	require.NoError(t, err)

	got, err := f.store.GetBackupJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.MessagesProcessed)
	assert.Equal(t, 1, got.MediaCount)

	path := media.Layout{Root: f.cfg.Storage.Root}.AttachmentPath(job.ID, "a1", "cat.png")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))
}

func TestRunDeleteJob(t *testing.T) {
	mux := http.NewServeMux()
	var deleted []string
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"me","username":"me"}`))
	})
	mux.HandleFunc("/channels/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"3","channel_id":"c1","author":{"id":"me","username":"me"},"content":"mine","timestamp":"2024-01-03T00:00:00Z"},
			{"id":"2","channel_id":"c1","author":{"id":"x","username":"x"},"content":"theirs","timestamp":"2024-01-02T00:00:00Z"}
		]`))
	})
	mux.HandleFunc("/channels/c1/messages/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = append(deleted, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	f := newFixture(t, mux)

	job := &db.DeleteJob{CredentialID: 1, ChannelID: "c1"}
	require.NoError(t, f.store.CreateDeleteJob(job))

	err := f.runner.Run(context.Background(), launcher.Request{Kind: launcher.KindDelete, JobID: job.ID, Credential: f.ciphertext(t), Source: db.CredentialUser})
	require.NoError(t, err)

	assert.Equal(t, []string{"/channels/c1/messages/3"}, deleted)
	got, err := f.store.GetDeleteJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Deleted)
}

func TestRunUndecryptableCredentialFailsJob(t *testing.T) {
	f := newFixture(t, http.NewServeMux())

	other, err := vault.New("rotated-secret")
	require.NoError(t, err)
	enc, err := other.Encrypt("token")
	require.NoError(t, err)

	backupJob := &db.BackupJob{CredentialID: 1, SourceKind: db.CredentialBot, ChannelID: "c1", Type: db.BackupTypeChannel}
	require.NoError(t, f.store.CreateBackupJob(backupJob))
	err = f.runner.Run(context.Background(), launcher.Request{Kind: launcher.KindBackup, JobID: backupJob.ID, Credential: enc, Source: db.CredentialBot})
	require.ErrorIs(t, err, vault.ErrDecryption)

	gotBackup, err := f.store.GetBackupJob(backupJob.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, gotBackup.Status)
	assert.Contains(t, gotBackup.SyncError, "decrypt")

	deleteJob := &db.DeleteJob{CredentialID: 1, ChannelID: "c1"}
	require.NoError(t, f.store.CreateDeleteJob(deleteJob))
	err = f.runner.Run(context.Background(), launcher.Request{Kind: launcher.KindDelete, JobID: deleteJob.ID, Credential: enc, Source: db.CredentialUser})
	require.ErrorIs(t, err, vault.ErrDecryption)

	gotDelete, err := f.store.GetDeleteJob(deleteJob.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, gotDelete.Status)

	assert.Zero(t, f.hits.Load(), "no request may reach the platform")
}

func TestRunRejectsHeldLock(t *testing.T) {
	f := newFixture(t, http.NewServeMux())
	job := &db.BackupJob{CredentialID: 1, SourceKind: db.CredentialBot, ChannelID: "c1", Type: db.BackupTypeChannel}
	require.NoError(t, f.store.CreateBackupJob(job))

	unlock, err := helper.AcquireLock(helper.JobLockPath(f.cfg.LockDir, launcher.KindBackup, job.ID))
	require.NoError(t, err)
	defer unlock()

	err = f.runner.Run(context.Background(), launcher.Request{Kind: launcher.KindBackup, JobID: job.ID, Credential: f.ciphertext(t), Source: db.CredentialBot})
	require.ErrorIs(t, err, helper.ErrLocked)

	got, err := f.store.GetBackupJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, got.Status)
}
