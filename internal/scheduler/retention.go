package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/logging"
	"github.com/davexpro/archivist/internal/metrics"
)

type RetentionStore interface {
	ListCompletedBackups(credentialID uint, guildID string) ([]db.BackupJob, error)
	DeleteBackupCascade(id uint) error
	ListSchedules() ([]db.Schedule, error)
}

// Files is the on-disk side of a backup (media.Layout).
type Files interface {
	RemoveJob(jobID uint) error
	KeyPrefixes(jobID uint) []string
}

// ObjectRemover deletes mirrored objects (helper.Storage).
type ObjectRemover interface {
	RemovePrefix(ctx context.Context, keyPrefix string) error
}

// Retention keeps the newest N completed backups of a (credential, guild) target. Files go
// first and rows second, so a crash can leave unreferenced files but never rows pointing at
// removed files.
type Retention struct {
	store  RetentionStore
	files  Files
	mirror ObjectRemover
}

// NewRetention builds a policy; mirror may be nil.
func NewRetention(store RetentionStore, files Files, mirror ObjectRemover) *Retention {
	return &Retention{store: store, files: files, mirror: mirror}
}

// Apply removes every completed backup of the target beyond the keep newest. keep <= 0 keeps
// everything. It returns the number of backups removed.
func (r *Retention) Apply(ctx context.Context, credentialID uint, guildID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	jobs, err := r.store.ListCompletedBackups(credentialID, guildID)
	if err != nil {
		return 0, fmt.Errorf("failed to list completed backups: %w", err)
	}
	if len(jobs) <= keep {
		return 0, nil
	}

	var errs []error
	removed := 0
	for _, job := range jobs[keep:] {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		log := logging.With().Uint("job_id", job.ID).Str("guild_id", guildID).Logger()

		if err := r.files.RemoveJob(job.ID); err != nil {
			log.Error().Err(err).Msg("failed to remove backup directories, keeping its rows")
			errs = append(errs, fmt.Errorf("backup %d: %w", job.ID, err))
			continue
		}
		if r.mirror != nil {
			for _, prefix := range r.files.KeyPrefixes(job.ID) {
				if err := r.mirror.RemovePrefix(ctx, prefix); err != nil {
					log.Warn().Err(err).Str("prefix", prefix).Msg("failed to remove mirrored objects")
				}
			}
		}
		if err := r.store.DeleteBackupCascade(job.ID); err != nil {
			log.Error().Err(err).Msg("failed to delete backup rows")
			errs = append(errs, fmt.Errorf("backup %d: %w", job.ID, err))
			continue
		}

		removed++
		metrics.RetentionRemoved.Inc()
		log.Info().Msg("backup removed by retention policy")
	}
	return removed, errors.Join(errs...)
}

type target struct {
	credentialID uint
	guildID      string
}

// ApplyAll runs the policy of every schedule. When several schedules share a target the
// most permissive one wins: a schedule keeping everything (keep_last_n <= 0) disables
// pruning, otherwise the largest keep_last_n applies. Safe to run repeatedly.
func (r *Retention) ApplyAll(ctx context.Context) (int, error) {
	scheds, err := r.store.ListSchedules()
	if err != nil {
		return 0, fmt.Errorf("failed to list schedules: %w", err)
	}

	keep := map[target]int{}
	var order []target
	for _, s := range scheds {
		t := target{s.CredentialID, s.GuildID}
		n := max(s.KeepLastN, 0)
		cur, seen := keep[t]
		switch {
		case !seen:
			order = append(order, t)
			keep[t] = n
		case cur == 0 || n == 0:
			keep[t] = 0
		case n > cur:
			keep[t] = n
		}
	}

	var errs []error
	total := 0
	for _, t := range order {
		n, err := r.Apply(ctx, t.credentialID, t.guildID, keep[t])
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
