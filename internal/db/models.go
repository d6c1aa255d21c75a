package db

import (
	"time"
)

// Credential kinds.
const (
	CredentialUser = "user"
	CredentialBot  = "bot"
)

// Backup job types.
const (
	BackupTypeChannel    = "channel"
	BackupTypeDM         = "dm"
	BackupTypeFullServer = "full_server"
)

// Backup modes.
const (
	ModeFull      = "full"
	ModeMediaOnly = "media_only"
	ModeLinksOnly = "links_only"
)

// Job statuses. Backup jobs use pending, running, completed and failed; delete jobs may also
// be paused or cancelled.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Schedule intervals.
const (
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
)

// Credential is a platform token encrypted with the vault.
type Credential struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Kind       string    `gorm:"size:10;not null" json:"kind"`
	PlatformID string    `gorm:"size:32;index" json:"platform_id"`
	Name       string    `gorm:"size:255" json:"name"`
	TokenEnc   string    `gorm:"type:text;not null" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Credential) TableName() string {
	return "credentials"
}

// BackupJob is one archival run over a channel, DM or whole server.
type BackupJob struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	CredentialID     uint       `gorm:"not null;index:idx_backup_target,priority:1" json:"credential_id"`
	SourceKind       string     `gorm:"size:10;not null" json:"source_kind"`
	GuildID          string     `gorm:"size:32;index:idx_backup_target,priority:2" json:"guild_id,omitempty"`
	ChannelID        string     `gorm:"size:32" json:"channel_id,omitempty"`
	Type             string     `gorm:"size:20;not null" json:"type"`
	BackupMode       string     `gorm:"size:20;not null;default:full" json:"backup_mode"`
	IncludeMedia     bool       `json:"include_media"`
	IncludeReactions bool       `json:"include_reactions"`
	IncludeThreads   bool       `json:"include_threads"`
	IncludeEmbeds    bool       `json:"include_embeds"`
	DateFrom         *time.Time `json:"date_from,omitempty"`
	DateTo           *time.Time `json:"date_to,omitempty"`
	Status           string     `gorm:"size:20;not null;index" json:"status"`

	MessagesTotal     int    `gorm:"not null;default:0" json:"messages_total"`
	MessagesProcessed int    `gorm:"not null;default:0" json:"messages_processed"`
	MediaCount        int    `gorm:"not null;default:0" json:"media_count"`
	MediaSizeBytes    int64  `gorm:"not null;default:0" json:"media_size_bytes"`
	ProgressMessage   string `gorm:"size:512" json:"progress_message"`
	SyncError         string `gorm:"type:text" json:"sync_error,omitempty"`

	ScheduleID  *uint      `gorm:"index" json:"schedule_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BackupJob) TableName() string {
	return "backup_jobs"
}

// Terminal reports whether the job can no longer change state.
func (j *BackupJob) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Message is one archived message. Immutable once written.
type Message struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	BackupJobID     uint       `gorm:"not null;uniqueIndex:idx_message_job_platform,priority:1" json:"backup_job_id"`
	PlatformID      string     `gorm:"size:32;not null;uniqueIndex:idx_message_job_platform,priority:2" json:"platform_id"`
	ChannelID       string     `gorm:"size:32;not null;index" json:"channel_id"`
	AuthorID        string     `gorm:"size:32" json:"author_id"`
	AuthorName      string     `gorm:"size:255" json:"author_name"`
	Content         string     `gorm:"type:text" json:"content"`
	Timestamp       time.Time  `json:"timestamp"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	Reactions       string     `gorm:"type:text" json:"reactions,omitempty"`
	Embeds          string     `gorm:"type:text" json:"embeds,omitempty"`
	AttachmentCount int        `json:"attachment_count"`
}

func (Message) TableName() string {
	return "messages"
}

// MediaAsset is one downloaded attachment.
type MediaAsset struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	BackupJobID  uint      `gorm:"not null;uniqueIndex:idx_media_job_attachment,priority:1" json:"backup_job_id"`
	AttachmentID string    `gorm:"size:32;not null;uniqueIndex:idx_media_job_attachment,priority:2" json:"attachment_id"`
	MessageID    string    `gorm:"size:32;not null" json:"message_id"`
	Filename     string    `gorm:"size:255" json:"filename"`
	SourceURL    string    `gorm:"type:text" json:"source_url"`
	LocalPath    string    `gorm:"size:1024" json:"-"`
	SizeBytes    int64     `json:"size_bytes"`
	ContentType  string    `gorm:"size:255" json:"content_type"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	Spoiler      bool      `json:"spoiler"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (MediaAsset) TableName() string {
	return "media_assets"
}

// GuildSnapshot holds server settings captured by a full-server backup.
type GuildSnapshot struct {
	ID                uint   `gorm:"primaryKey"`
	BackupJobID       uint   `gorm:"not null;uniqueIndex"`
	GuildID           string `gorm:"size:32;not null"`
	Name              string `gorm:"size:255"`
	Description       string `gorm:"type:text"`
	OwnerID           string `gorm:"size:32"`
	PreferredLocale   string `gorm:"size:16"`
	VerificationLevel int
	IconPath          string `gorm:"size:1024"`
	SplashPath        string `gorm:"size:1024"`
	BannerPath        string `gorm:"size:1024"`
}

func (GuildSnapshot) TableName() string {
	return "guild_snapshots"
}

type RoleSnapshot struct {
	ID          uint   `gorm:"primaryKey"`
	BackupJobID uint   `gorm:"not null;uniqueIndex:idx_role_job_role,priority:1"`
	RoleID      string `gorm:"size:32;not null;uniqueIndex:idx_role_job_role,priority:2"`
	Name        string `gorm:"size:255"`
	Color       int
	Position    int
	Permissions string `gorm:"size:32"`
	Hoist       bool
	Mentionable bool
	Managed     bool
}

func (RoleSnapshot) TableName() string {
	return "role_snapshots"
}

type EmojiSnapshot struct {
	ID          uint   `gorm:"primaryKey"`
	BackupJobID uint   `gorm:"not null;uniqueIndex:idx_emoji_job_emoji,priority:1"`
	EmojiID     string `gorm:"size:32;not null;uniqueIndex:idx_emoji_job_emoji,priority:2"`
	Name        string `gorm:"size:255"`
	Animated    bool
	LocalPath   string `gorm:"size:1024"`
}

func (EmojiSnapshot) TableName() string {
	return "emoji_snapshots"
}

type ChannelSnapshot struct {
	ID          uint   `gorm:"primaryKey"`
	BackupJobID uint   `gorm:"not null;uniqueIndex:idx_channel_job_channel,priority:1"`
	ChannelID   string `gorm:"size:32;not null;uniqueIndex:idx_channel_job_channel,priority:2"`
	Name        string `gorm:"size:255"`
	Type        int
	ParentID    string `gorm:"size:32"`
	Position    int
	Topic       string `gorm:"type:text"`
	NSFW        bool
}

func (ChannelSnapshot) TableName() string {
	return "channel_snapshots"
}

// DeleteJob is one bulk-deletion run over the credential owner's messages in a channel.
type DeleteJob struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CredentialID    uint       `gorm:"not null;index" json:"credential_id"`
	ChannelID       string     `gorm:"size:32;not null" json:"channel_id"`
	DateFrom        *time.Time `json:"date_from,omitempty"`
	DateTo          *time.Time `json:"date_to,omitempty"`
	Keyword         string     `gorm:"size:255" json:"keyword,omitempty"`
	AttachmentsOnly bool       `json:"attachments_only"`
	Status          string     `gorm:"size:20;not null;index" json:"status"`
	TotalSeen       int        `gorm:"not null;default:0" json:"total_seen"`
	Deleted         int        `gorm:"not null;default:0" json:"deleted"`
	Failed          int        `gorm:"not null;default:0" json:"failed"`
	LastProcessedID string     `gorm:"size:32" json:"last_processed_id,omitempty"`
	SyncError       string     `gorm:"type:text" json:"sync_error,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DeleteJob) TableName() string {
	return "delete_jobs"
}

// Schedule defines a recurring full-server backup.
type Schedule struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	CredentialID     uint       `gorm:"not null;index" json:"credential_id"`
	GuildID          string     `gorm:"size:32;not null" json:"guild_id"`
	IntervalType     string     `gorm:"size:10;not null" json:"interval_type"`
	TimeOfDay        string     `gorm:"size:8;not null" json:"time_of_day"`
	DayOfWeek        *int       `json:"day_of_week,omitempty"`
	DayOfMonth       *int       `json:"day_of_month,omitempty"`
	KeepLastN        int        `gorm:"not null" json:"keep_last_n"`
	Enabled          bool       `gorm:"not null;index" json:"enabled"`
	BackupMode       string     `gorm:"size:20;not null;default:full" json:"backup_mode"`
	IncludeMedia     bool       `json:"include_media"`
	IncludeReactions bool       `json:"include_reactions"`
	IncludeThreads   bool       `json:"include_threads"`
	IncludeEmbeds    bool       `json:"include_embeds"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty"`
	NextRunAt        *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	LastBackupID     *uint      `json:"last_backup_id,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Schedule) TableName() string {
	return "schedules"
}

// AllModels lists every table managed by AutoMigrate.
func AllModels() []any {
	return []any{
		&Credential{},
		&BackupJob{},
		&Message{},
		&MediaAsset{},
		&GuildSnapshot{},
		&RoleSnapshot{},
		&EmojiSnapshot{},
		&ChannelSnapshot{},
		&DeleteJob{},
		&Schedule{},
	}
}
