// Package worker runs a single backup or delete job to completion. It is the body of the
// `archivist worker` command and of the inline launcher.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/davexpro/archivist/internal/backup"
	"github.com/davexpro/archivist/internal/config"
	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/deletion"
	"github.com/davexpro/archivist/internal/discord"
	"github.com/davexpro/archivist/internal/launcher"
	"github.com/davexpro/archivist/internal/logging"
	"github.com/davexpro/archivist/internal/media"
	"github.com/davexpro/archivist/internal/pkg/helper"
	"github.com/davexpro/archivist/internal/vault"
)

type Runner struct {
	cfg    *config.Config
	store  *db.Store
	vault  *vault.Vault
	mirror *helper.Storage
}

// NewRunner wires a runner. mirror may be nil.
func NewRunner(cfg *config.Config, store *db.Store, v *vault.Vault, mirror *helper.Storage) *Runner {
	return &Runner{cfg: cfg, store: store, vault: v, mirror: mirror}
}

// Run executes req under a per-job host lock. Credential problems fail the job before any
// request reaches the platform.
func (r *Runner) Run(ctx context.Context, req launcher.Request) error {
	log := logging.With().Str("kind", req.Kind).Uint("job_id", req.JobID).Logger()

	unlock, err := helper.AcquireLock(helper.JobLockPath(r.cfg.LockDir, req.Kind, req.JobID))
	if err != nil {
		if errors.Is(err, helper.ErrLocked) {
			log.Warn().Msg("another worker is already running this job")
		}
		return fmt.Errorf("could not acquire job lock: %w", err)
	}
	defer unlock()

	cred, err := r.credential(req)
	if err != nil {
		log.Error().Err(err).Msg("worker credential rejected")
		r.fail(req, err)
		return err
	}
	client := discord.New(r.cfg.Discord, cred)

	log.Info().Str("source", req.Source).Msg("worker running")
	switch req.Kind {
	case launcher.KindBackup:
		return r.backup(ctx, client, req.JobID)
	case launcher.KindDelete:
		return r.delete(ctx, client, req.JobID)
	default:
		return fmt.Errorf("unknown job kind %q", req.Kind)
	}
}

func (r *Runner) credential(req launcher.Request) (discord.Credential, error) {
	if req.Source != db.CredentialUser && req.Source != db.CredentialBot {
		return discord.Credential{}, fmt.Errorf("unknown credential source %q", req.Source)
	}
	if req.Credential == "" {
		return discord.Credential{}, errors.New("no credential was passed to the worker")
	}
	token, err := r.vault.Decrypt(req.Credential)
	if err != nil {
		return discord.Credential{}, fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return discord.Credential{Token: token, Kind: req.Source}, nil
}

func (r *Runner) fail(req launcher.Request, cause error) {
	var err error
	switch req.Kind {
	case launcher.KindBackup:
		err = r.store.FailBackupJob(req.JobID, db.BackupProgress{}, cause.Error())
	case launcher.KindDelete:
		err = r.store.FailDeleteJob(req.JobID, cause.Error())
	}
	if err != nil {
		logging.Error().Err(err).Uint("job_id", req.JobID).Msg("failed to record worker failure")
	}
}

func (r *Runner) backup(ctx context.Context, client *discord.Client, jobID uint) error {
	opts := backup.Options{
		Layout:          media.Layout{Root: r.cfg.Storage.Root},
		CDN:             discord.CDN{Base: r.cfg.Discord.CDNBase},
		CheckpointEvery: r.cfg.Worker.CheckpointEvery,
		PageSize:        r.cfg.Worker.PageSize,
	}
	// a nil *Storage must not end up in the interface
	if r.mirror != nil {
		opts.Mirror = r.mirror
	}
	downloader := media.NewDownloader(r.cfg.Worker.DownloadTimeout, r.cfg.Discord.UserAgent)
	return backup.NewManager(r.store, client, downloader, opts).Run(ctx, jobID)
}

func (r *Runner) delete(ctx context.Context, client *discord.Client, jobID uint) error {
	d := deletion.NewDeleter(r.store, client, deletion.Options{
		Delay:           r.cfg.Worker.DeleteDelay,
		CheckpointEvery: r.cfg.Worker.CheckpointEvery,
		PageSize:        r.cfg.Worker.PageSize,
	})
	return d.Run(ctx, jobID)
}
