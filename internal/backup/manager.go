// Package backup runs archival jobs: one channel or DM, or a whole server as an ordered
// sequence of sub-steps feeding one aggregated job row.
package backup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/discord"
	"github.com/davexpro/archivist/internal/logging"
	"github.com/davexpro/archivist/internal/media"
	"github.com/davexpro/archivist/internal/metrics"
)

// URLPattern decides which messages a links_only backup keeps.
var URLPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>]+`)

// Store is the part of the metadata store a backup run writes to.
type Store interface {
	GetBackupJob(id uint) (*db.BackupJob, error)
	MarkBackupRunning(id uint) (bool, error)
	UpdateBackupProgress(id uint, p db.BackupProgress) error
	CompleteBackupJob(id uint, p db.BackupProgress) error
	FailBackupJob(id uint, p db.BackupProgress, errMsg string) error

	CreateMessage(m *db.Message) error
	HasMediaAsset(jobID uint, attachmentID string) (bool, error)
	MediaTotals(jobID uint) (int, int64, error)
	CreateMediaAsset(m *db.MediaAsset) error

	SaveGuildSnapshot(g *db.GuildSnapshot) error
	SaveRoles(roles []db.RoleSnapshot) error
	SaveEmoji(e *db.EmojiSnapshot) error
	SaveChannels(channels []db.ChannelSnapshot) error
}

// Platform is the read side of the chat API.
type Platform interface {
	discord.MessageLister
	Guild(ctx context.Context, guildID string) (*discord.Guild, error)
	GuildRoles(ctx context.Context, guildID string) ([]discord.Role, error)
	GuildEmojis(ctx context.Context, guildID string) ([]discord.Emoji, error)
	GuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error)
}

// Fetcher downloads one URL to a local path. Download logs and swallows the failure for
// callers that only need to know whether the file landed.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (*media.File, error)
	Download(ctx context.Context, url, dest string) bool
}

// Mirror copies a finished job's directories to object storage.
type Mirror interface {
	UploadDir(ctx context.Context, localDir, keyPrefix string) (int, error)
}

type Options struct {
	Layout          media.Layout
	CDN             discord.CDN
	CheckpointEvery int
	PageSize        int
	// Mirror may be nil.
	Mirror Mirror
}

type Manager struct {
	store    Store
	platform Platform
	fetcher  Fetcher
	opts     Options
}

func NewManager(store Store, platform Platform, fetcher Fetcher, opts Options) *Manager {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 50
	}
	if opts.PageSize <= 0 {
		opts.PageSize = discord.PageSize
	}
	return &Manager{store: store, platform: platform, fetcher: fetcher, opts: opts}
}

// run is the mutable state of one job execution.
type run struct {
	m        *Manager
	job      *db.BackupJob
	progress db.BackupProgress
	pending  int
	skipped  int
}

// Run executes the backup job jobID. A job that is not pending or running is left alone and
// nil is returned. Any error that aborts the job is recorded on the row and also returned.
func (m *Manager) Run(ctx context.Context, jobID uint) (err error) {
	job, err := m.store.GetBackupJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to load backup job %d: %w", jobID, err)
	}
	if job.Terminal() {
		logging.Info().Uint("job_id", jobID).Str("status", job.Status).Msg("backup job is not runnable, skipping")
		return nil
	}

	ok, err := m.store.MarkBackupRunning(jobID)
	if err != nil {
		return fmt.Errorf("failed to mark backup job %d running: %w", jobID, err)
	}
	if !ok {
		logging.Info().Uint("job_id", jobID).Msg("backup job was claimed or finished concurrently, skipping")
		return nil
	}

	r := &run{m: m, job: job}
	// assets kept from an interrupted run are skipped below, so start from what is stored
	if r.progress.MediaCount, r.progress.MediaSizeBytes, err = m.store.MediaTotals(jobID); err != nil {
		err = fmt.Errorf("failed to load media totals of backup job %d: %w", jobID, err)
		r.fail(err)
		return err
	}
	start := time.Now()
	logging.Info().Uint("job_id", jobID).Str("type", job.Type).Str("mode", job.BackupMode).Msg("backup started")

	defer func() {
		if rec := recover(); rec != nil {
			logging.Error().Uint("job_id", jobID).Str("stack", string(debug.Stack())).Msg("backup panicked")
			err = fmt.Errorf("panic: %v", rec)
			r.fail(err)
		}
	}()

	if err := r.execute(ctx); err != nil {
		r.fail(err)
		return err
	}

	r.progress.Message = r.summary("completed")
	if err := m.store.CompleteBackupJob(jobID, r.progress); err != nil {
		return fmt.Errorf("failed to complete backup job %d: %w", jobID, err)
	}
	metrics.JobsFinished.WithLabelValues("backup", db.StatusCompleted).Inc()
	logging.Info().Uint("job_id", jobID).
		Int("messages", r.progress.MessagesProcessed).
		Int("media", r.progress.MediaCount).
		Int("skipped", r.skipped).
		Dur("duration", time.Since(start)).
		Msg("backup completed")

	r.mirror(ctx)
	return nil
}

func (r *run) execute(ctx context.Context) error {
	switch r.job.Type {
	case db.BackupTypeChannel, db.BackupTypeDM:
		if r.job.ChannelID == "" {
			return errors.New("backup job has no channel id")
		}
		return r.backupChannel(ctx, r.job.ChannelID, r.job.IncludeThreads)
	case db.BackupTypeFullServer:
		return r.backupServer(ctx)
	default:
		return fmt.Errorf("unknown backup type %q", r.job.Type)
	}
}

func (r *run) fail(err error) {
	metrics.JobsFinished.WithLabelValues("backup", db.StatusFailed).Inc()
	logging.Error().Err(err).Uint("job_id", r.job.ID).Msg("backup failed")
	r.progress.Message = r.summary("failed")
	if ferr := r.m.store.FailBackupJob(r.job.ID, r.progress, err.Error()); ferr != nil {
		logging.Error().Err(ferr).Uint("job_id", r.job.ID).Msg("failed to record backup failure")
	}
}

// backupChannel walks one channel's history. Threads started from archived messages
// are walked afterwards when withThreads is set.
func (r *run) backupChannel(ctx context.Context, channelID string, withThreads bool) error {
	var threads []string
	p := discord.NewPager(r.m.platform, channelID, "", r.m.opts.PageSize)
	for p.Next(ctx) {
		msg := p.Message()
		r.progress.MessagesTotal++

		if withThreads && msg.Thread != nil {
			threads = append(threads, msg.Thread.ID)
		}
		if !r.inWindow(msg.Timestamp) {
			r.skipped++
			continue
		}

		if err := r.handle(ctx, msg); err != nil {
			return err
		}
		r.progress.MessagesProcessed++
		r.pending++
		if r.pending >= r.m.opts.CheckpointEvery {
			r.checkpoint()
		}
	}
	if err := p.Err(); err != nil {
		return err
	}

	for _, threadID := range threads {
		if err := r.backupChannel(ctx, threadID, false); err != nil {
			logging.Warn().Err(err).Uint("job_id", r.job.ID).Str("channel_id", threadID).Msg("thread backup failed, skipping")
		}
	}
	return nil
}

func (r *run) inWindow(ts time.Time) bool {
	if r.job.DateFrom != nil && ts.Before(*r.job.DateFrom) {
		return false
	}
	if r.job.DateTo != nil && ts.After(*r.job.DateTo) {
		return false
	}
	return true
}

func (r *run) handle(ctx context.Context, msg discord.Message) error {
	switch r.job.BackupMode {
	case db.ModeMediaOnly:
		r.downloadAttachments(ctx, msg)
		return nil
	case db.ModeLinksOnly:
		if !URLPattern.MatchString(msg.Content) {
			return nil
		}
		return r.persist(msg)
	default:
		if err := r.persist(msg); err != nil {
			return err
		}
		if r.job.IncludeMedia {
			r.downloadAttachments(ctx, msg)
		}
		return nil
	}
}

func (r *run) persist(msg discord.Message) error {
	row := &db.Message{
		BackupJobID:     r.job.ID,
		PlatformID:      msg.ID,
		ChannelID:       msg.ChannelID,
		AuthorID:        msg.Author.ID,
		AuthorName:      msg.Author.DisplayName(),
		Content:         msg.Content,
		Timestamp:       msg.Timestamp.UTC(),
		EditedAt:        msg.EditedTimestamp,
		AttachmentCount: len(msg.Attachments),
	}
	if r.job.IncludeReactions && len(msg.Reactions) > 0 {
		b, err := json.Marshal(msg.Reactions)
		if err != nil {
			return fmt.Errorf("failed to encode reactions of message %s: %w", msg.ID, err)
		}
		row.Reactions = string(b)
	}
	if r.job.IncludeEmbeds && len(msg.Embeds) > 0 {
		b, err := json.Marshal(msg.Embeds)
		if err != nil {
			return fmt.Errorf("failed to encode embeds of message %s: %w", msg.ID, err)
		}
		row.Embeds = string(b)
	}

	if err := r.m.store.CreateMessage(row); err != nil {
		return fmt.Errorf("failed to store message %s: %w", msg.ID, err)
	}
	metrics.MessagesArchived.WithLabelValues(r.job.BackupMode).Inc()
	return nil
}

// downloadAttachments never fails the job; each attachment is skipped on error.
func (r *run) downloadAttachments(ctx context.Context, msg discord.Message) {
	for _, att := range msg.Attachments {
		log := logging.With().Uint("job_id", r.job.ID).Str("attachment_id", att.ID).Logger()

		exists, err := r.m.store.HasMediaAsset(r.job.ID, att.ID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check media asset, skipping")
			continue
		}
		if exists {
			continue
		}

		dest := r.m.opts.Layout.AttachmentPath(r.job.ID, att.ID, att.Filename)
		f, err := r.m.fetcher.Fetch(ctx, att.URL, dest)
		if err != nil {
			log.Warn().Err(err).Msg("attachment download failed, skipping")
			continue
		}

		contentType := f.ContentType
		if att.ContentType != nil && *att.ContentType != "" {
			contentType = *att.ContentType
		}
		asset := &db.MediaAsset{
			BackupJobID:  r.job.ID,
			AttachmentID: att.ID,
			MessageID:    msg.ID,
			Filename:     att.Filename,
			SourceURL:    att.URL,
			LocalPath:    f.Path,
			SizeBytes:    f.Size,
			ContentType:  contentType,
			Width:        att.Width,
			Height:       att.Height,
			Spoiler:      att.Spoiler(),
		}
		if err := r.m.store.CreateMediaAsset(asset); err != nil {
			log.Warn().Err(err).Msg("failed to record media asset")
			continue
		}
		r.progress.MediaCount++
		r.progress.MediaSizeBytes += f.Size
	}
}

func (r *run) checkpoint() {
	r.pending = 0
	r.progress.Message = r.summary("processed")
	if err := r.m.store.UpdateBackupProgress(r.job.ID, r.progress); err != nil {
		logging.Warn().Err(err).Uint("job_id", r.job.ID).Msg("failed to checkpoint progress")
	}
}

func (r *run) summary(verb string) string {
	return fmt.Sprintf("%s %s messages, %s media files (%s)",
		verb,
		humanize.Comma(int64(r.progress.MessagesProcessed)),
		humanize.Comma(int64(r.progress.MediaCount)),
		humanize.Bytes(uint64(r.progress.MediaSizeBytes)))
}

func (r *run) mirror(ctx context.Context) {
	if r.m.opts.Mirror == nil {
		return
	}
	prefixes := r.m.opts.Layout.KeyPrefixes(r.job.ID)
	for i, dir := range r.m.opts.Layout.Dirs(r.job.ID) {
		if _, err := r.m.opts.Mirror.UploadDir(ctx, dir, prefixes[i]); err != nil {
			logging.Warn().Err(err).Uint("job_id", r.job.ID).Str("dir", dir).Msg("failed to mirror backup directory")
		}
	}
}
