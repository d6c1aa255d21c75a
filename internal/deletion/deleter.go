// Package deletion bulk-deletes the credential owner's own messages from a channel. Runs are
// paced, cooperatively cancellable between delete calls and resumable from the last
// checkpointed message id.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/discord"
	"github.com/davexpro/archivist/internal/logging"
	"github.com/davexpro/archivist/internal/metrics"
)

type Store interface {
	GetDeleteJob(id uint) (*db.DeleteJob, error)
	MarkDeleteRunning(id uint) (bool, error)
	DeleteJobStatus(id uint) (string, error)
	SaveDeleteCheckpoint(id uint, cp db.DeleteCheckpoint) error
	FinishDeleteJob(id uint, status, errMsg string) error
	TransitionDeleteJob(id uint, to string, from ...string) (bool, error)
}

type Platform interface {
	discord.MessageLister
	CurrentUser(ctx context.Context) (*discord.User, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type Options struct {
	// Delay is the fixed pause between two delete calls.
	Delay           time.Duration
	CheckpointEvery int
	PageSize        int
}

type Deleter struct {
	store    Store
	platform Platform
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDeleter(store Store, platform Platform, opts Options) *Deleter {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 50
	}
	if opts.PageSize <= 0 {
		opts.PageSize = discord.PageSize
	}
	return &Deleter{store: store, platform: platform, opts: opts, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Filter decides which of the owner's messages are deleted.
type Filter struct {
	From            *time.Time
	To              *time.Time
	Keyword         string
	AttachmentsOnly bool
}

func filterOf(job *db.DeleteJob) Filter {
	return Filter{From: job.DateFrom, To: job.DateTo, Keyword: job.Keyword, AttachmentsOnly: job.AttachmentsOnly}
}

func (f Filter) Match(m discord.Message) bool {
	if f.From != nil && m.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && m.Timestamp.After(*f.To) {
		return false
	}
	if f.Keyword != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(f.Keyword)) {
		return false
	}
	if f.AttachmentsOnly && len(m.Attachments) == 0 {
		return false
	}
	return true
}

// Run processes delete job jobID until history ends, the job is cancelled or paused, or the
// platform fails. A job that is not pending or running is left alone.
func (d *Deleter) Run(ctx context.Context, jobID uint) error {
	job, err := d.store.GetDeleteJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to load delete job %d: %w", jobID, err)
	}
	if job.Status != db.StatusPending && job.Status != db.StatusRunning {
		logging.Info().Uint("job_id", jobID).Str("status", job.Status).Msg("delete job is not runnable, skipping")
		return nil
	}
	ok, err := d.store.MarkDeleteRunning(jobID)
	if err != nil {
		return fmt.Errorf("failed to mark delete job %d running: %w", jobID, err)
	}
	if !ok {
		return nil
	}

	me, err := d.platform.CurrentUser(ctx)
	if err != nil {
		d.finish(jobID, db.StatusFailed, err.Error())
		return err
	}

	cp := db.DeleteCheckpoint{
		LastProcessedID: job.LastProcessedID,
		TotalSeen:       job.TotalSeen,
		Deleted:         job.Deleted,
		Failed:          job.Failed,
	}
	log := logging.With().Uint("job_id", jobID).Str("channel_id", job.ChannelID).Logger()
	log.Info().Str("resume_from", cp.LastProcessedID).Msg("delete job started")

	filter := filterOf(job)
	p := discord.NewPager(d.platform, job.ChannelID, job.LastProcessedID, d.opts.PageSize)
	calls, unsaved := 0, 0

	for p.Next(ctx) {
		msg := p.Message()

		if msg.Author.ID != me.ID || !filter.Match(msg) {
			if msg.Author.ID == me.ID {
				cp.TotalSeen++
			}
			cp.LastProcessedID = msg.ID
			unsaved++
			if unsaved >= d.opts.CheckpointEvery {
				if err := d.checkpoint(jobID, cp); err != nil {
					return d.abort(jobID, err)
				}
				unsaved = 0
			}
			continue
		}

		if calls > 0 {
			if err := d.sleep(ctx, d.opts.Delay); err != nil {
				return d.interrupt(jobID, cp, err)
			}
		}

		status, err := d.store.DeleteJobStatus(jobID)
		if err != nil {
			return d.abort(jobID, fmt.Errorf("failed to re-read delete job status: %w", err))
		}
		if status == db.StatusPending {
			// paused and resumed while this worker still holds the job lock
			claimed, err := d.store.MarkDeleteRunning(jobID)
			if err != nil {
				return d.abort(jobID, fmt.Errorf("failed to reclaim resumed delete job: %w", err))
			}
			if claimed {
				log.Info().Int("deleted", cp.Deleted).Msg("delete job resumed in place")
				status = db.StatusRunning
			} else if status, err = d.store.DeleteJobStatus(jobID); err != nil {
				return d.abort(jobID, fmt.Errorf("failed to re-read delete job status: %w", err))
			}
		}
		if status != db.StatusRunning {
			if err := d.checkpoint(jobID, cp); err != nil {
				log.Warn().Err(err).Msg("failed to checkpoint stopped delete job")
			}
			metrics.JobsFinished.WithLabelValues("delete", status).Inc()
			log.Info().Str("status", status).Int("deleted", cp.Deleted).Msg("delete job stopped on request")
			return nil
		}

		cp.TotalSeen++
		calls++
		if err := d.platform.DeleteMessage(ctx, job.ChannelID, msg.ID); err != nil {
			cp.Failed++
			metrics.DeleteCalls.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("delete call failed")
		} else {
			cp.Deleted++
			metrics.DeleteCalls.WithLabelValues("deleted").Inc()
		}
		cp.LastProcessedID = msg.ID
		unsaved = 0
		if err := d.checkpoint(jobID, cp); err != nil {
			return d.abort(jobID, err)
		}
	}

	if err := d.checkpoint(jobID, cp); err != nil {
		return d.abort(jobID, err)
	}
	if err := p.Err(); err != nil {
		if ctx.Err() != nil {
			return d.interrupt(jobID, cp, ctx.Err())
		}
		d.finish(jobID, db.StatusFailed, err.Error())
		return err
	}

	d.finish(jobID, db.StatusCompleted, "")
	log.Info().Int("total_seen", cp.TotalSeen).Int("deleted", cp.Deleted).Int("failed", cp.Failed).Msg("delete job completed")
	return nil
}

func (d *Deleter) checkpoint(jobID uint, cp db.DeleteCheckpoint) error {
	if err := d.store.SaveDeleteCheckpoint(jobID, cp); err != nil {
		return fmt.Errorf("failed to checkpoint delete job: %w", err)
	}
	return nil
}

func (d *Deleter) abort(jobID uint, err error) error {
	d.finish(jobID, db.StatusFailed, err.Error())
	return err
}

// interrupt parks a job whose process is shutting down so it can be resumed later.
func (d *Deleter) interrupt(jobID uint, cp db.DeleteCheckpoint, cause error) error {
	if err := d.checkpoint(jobID, cp); err != nil {
		logging.Warn().Err(err).Uint("job_id", jobID).Msg("failed to checkpoint interrupted delete job")
	}
	if _, err := d.store.TransitionDeleteJob(jobID, db.StatusPaused, db.StatusRunning); err != nil {
		logging.Warn().Err(err).Uint("job_id", jobID).Msg("failed to pause interrupted delete job")
	}
	metrics.JobsFinished.WithLabelValues("delete", db.StatusPaused).Inc()
	return fmt.Errorf("delete job %d interrupted: %w", jobID, cause)
}

func (d *Deleter) finish(jobID uint, status, errMsg string) {
	if err := d.store.FinishDeleteJob(jobID, status, errMsg); err != nil {
		if errors.Is(err, db.ErrNotRunning) {
			logging.Warn().Err(err).Uint("job_id", jobID).Str("status", status).Msg("delete job left running before it finished")
			return
		}
		logging.Error().Err(err).Uint("job_id", jobID).Str("status", status).Msg("failed to finish delete job")
		return
	}
	metrics.JobsFinished.WithLabelValues("delete", status).Inc()
	if status == db.StatusFailed {
		logging.Error().Uint("job_id", jobID).Str("error", errMsg).Msg("delete job failed")
	}
}
