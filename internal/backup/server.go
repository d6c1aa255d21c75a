package backup

import (
	"context"
	"errors"

	"github.com/davexpro/archivist/internal/db"
	"github.com/davexpro/archivist/internal/discord"
	"github.com/davexpro/archivist/internal/logging"
)

// ErrUserFullServer rejects full server backups with a user token.
var ErrUserFullServer = errors.New("full server backups require a bot credential")

type step struct {
	name string
	fn   func(context.Context) error
}

// backupServer runs settings, roles, emojis and channels in order. A failing step is logged
// and the next one runs; only a cancelled context stops the sequence.
func (r *run) backupServer(ctx context.Context) error {
	if r.job.SourceKind == db.CredentialUser {
		return ErrUserFullServer
	}
	if r.job.GuildID == "" {
		return errors.New("full server backup has no guild id")
	}

	steps := []step{
		{"settings", r.saveSettings},
		{"roles", r.saveRoles},
		{"emojis", r.saveEmojis},
		{"channels", r.saveChannels},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fn(ctx); err != nil {
			logging.Warn().Err(err).Uint("job_id", r.job.ID).Str("guild_id", r.job.GuildID).Str("step", s.name).Msg("server backup step failed, skipping")
		}
	}
	return ctx.Err()
}

func (r *run) saveSettings(ctx context.Context) error {
	g, err := r.m.platform.Guild(ctx, r.job.GuildID)
	if err != nil {
		return err
	}

	snap := &db.GuildSnapshot{
		BackupJobID:       r.job.ID,
		GuildID:           g.ID,
		Name:              g.Name,
		OwnerID:           g.OwnerID,
		PreferredLocale:   g.PreferredLocale,
		VerificationLevel: g.VerificationLevel,
	}
	if g.Description != nil {
		snap.Description = *g.Description
	}

	cdn := r.m.opts.CDN
	if g.Icon != nil {
		snap.IconPath = r.saveAsset(ctx, "icon", cdn.GuildIcon(g.ID, *g.Icon), discord.AssetExt(*g.Icon))
	}
	if g.Splash != nil {
		snap.SplashPath = r.saveAsset(ctx, "splash", cdn.GuildSplash(g.ID, *g.Splash), "png")
	}
	if g.Banner != nil {
		snap.BannerPath = r.saveAsset(ctx, "banner", cdn.GuildBanner(g.ID, *g.Banner), discord.AssetExt(*g.Banner))
	}

	return r.m.store.SaveGuildSnapshot(snap)
}

// saveAsset returns the local path, or "" when the download failed.
func (r *run) saveAsset(ctx context.Context, name, url, ext string) string {
	dest := r.m.opts.Layout.AssetPath(r.job.ID, name, ext)
	if !r.m.fetcher.Download(ctx, url, dest) {
		return ""
	}
	return dest
}

func (r *run) saveRoles(ctx context.Context) error {
	roles, err := r.m.platform.GuildRoles(ctx, r.job.GuildID)
	if err != nil {
		return err
	}

	rows := make([]db.RoleSnapshot, 0, len(roles))
	for _, role := range roles {
		rows = append(rows, db.RoleSnapshot{
			BackupJobID: r.job.ID,
			RoleID:      role.ID,
			Name:        role.Name,
			Color:       role.Color,
			Position:    role.Position,
			Permissions: role.Permissions,
			Hoist:       role.Hoist,
			Mentionable: role.Mentionable,
			Managed:     role.Managed,
		})
	}
	return r.m.store.SaveRoles(rows)
}

func (r *run) saveEmojis(ctx context.Context) error {
	emojis, err := r.m.platform.GuildEmojis(ctx, r.job.GuildID)
	if err != nil {
		return err
	}

	for _, e := range emojis {
		if e.ID == nil {
			continue
		}
		row := &db.EmojiSnapshot{BackupJobID: r.job.ID, EmojiID: *e.ID, Animated: e.Animated}
		if e.Name != nil {
			row.Name = *e.Name
		}

		dest := r.m.opts.Layout.EmojiPath(r.job.ID, *e.ID, discord.EmojiExt(e.Animated))
		if r.m.fetcher.Download(ctx, r.m.opts.CDN.Emoji(*e.ID, e.Animated), dest) {
			row.LocalPath = dest
		}

		if err := r.m.store.SaveEmoji(row); err != nil {
			return err
		}
	}
	return nil
}

// saveChannels snapshots every channel, then backs up the text-like ones one by one.
func (r *run) saveChannels(ctx context.Context) error {
	channels, err := r.m.platform.GuildChannels(ctx, r.job.GuildID)
	if err != nil {
		return err
	}

	rows := make([]db.ChannelSnapshot, 0, len(channels))
	for _, ch := range channels {
		row := db.ChannelSnapshot{
			BackupJobID: r.job.ID,
			ChannelID:   ch.ID,
			Type:        ch.Type,
			Position:    ch.Position,
			NSFW:        ch.NSFW,
		}
		if ch.Name != nil {
			row.Name = *ch.Name
		}
		if ch.ParentID != nil {
			row.ParentID = *ch.ParentID
		}
		if ch.Topic != nil {
			row.Topic = *ch.Topic
		}
		rows = append(rows, row)
	}
	if err := r.m.store.SaveChannels(rows); err != nil {
		logging.Warn().Err(err).Uint("job_id", r.job.ID).Msg("failed to store channel snapshot")
	}

	for _, ch := range channels {
		if !ch.IsTextLike() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.backupChannel(ctx, ch.ID, r.job.IncludeThreads); err != nil {
			logging.Warn().Err(err).Uint("job_id", r.job.ID).Str("channel_id", ch.ID).Msg("channel backup failed, skipping")
			continue
		}
		r.checkpoint()
	}
	return nil
}
