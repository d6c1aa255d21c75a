package db

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BackupProgress is the checkpointed counter set of a running backup.
type BackupProgress struct {
	MessagesTotal     int
	MessagesProcessed int
	MediaCount        int
	MediaSizeBytes    int64
	Message           string
}

func (p BackupProgress) columns() map[string]any {
	return map[string]any{
		"messages_total":     p.MessagesTotal,
		"messages_processed": p.MessagesProcessed,
		"media_count":        p.MediaCount,
		"media_size_bytes":   p.MediaSizeBytes,
		"progress_message":   p.Message,
	}
}

func (s *Store) CreateBackupJob(job *BackupJob) error {
	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.BackupMode == "" {
		job.BackupMode = ModeFull
	}
	return s.db.Create(job).Error
}

func (s *Store) GetBackupJob(id uint) (*BackupJob, error) {
	var job BackupJob
	if err := s.db.First(&job, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// MarkBackupRunning moves a pending or running job to running. It returns false when the job
// is in any other state, in which case the caller must not do any work.
func (s *Store) MarkBackupRunning(id uint) (bool, error) {
	now := s.now()
	res := s.db.Model(&BackupJob{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusRunning}).
		Updates(map[string]any{"status": StatusRunning, "started_at": now, "sync_error": ""})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateBackupProgress checkpoints counters of a running job.
func (s *Store) UpdateBackupProgress(id uint, p BackupProgress) error {
	return s.db.Model(&BackupJob{}).
		Where("id = ? AND status = ?", id, StatusRunning).
		Updates(p.columns()).Error
}

// CompleteBackupJob records final counters and marks the job completed.
func (s *Store) CompleteBackupJob(id uint, p BackupProgress) error {
	cols := p.columns()
	cols["status"] = StatusCompleted
	cols["completed_at"] = s.now()
	return s.finishBackup(id, cols)
}

// FailBackupJob records errMsg verbatim and marks the job failed.
func (s *Store) FailBackupJob(id uint, p BackupProgress, errMsg string) error {
	cols := p.columns()
	cols["status"] = StatusFailed
	cols["sync_error"] = errMsg
	cols["completed_at"] = s.now()
	return s.finishBackup(id, cols)
}

func (s *Store) finishBackup(id uint, cols map[string]any) error {
	res := s.db.Model(&BackupJob{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusRunning}).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("backup job %d is already terminal", id)
	}
	return nil
}

// ListCompletedBackups returns completed backups of one target, newest first.
func (s *Store) ListCompletedBackups(credentialID uint, guildID string) ([]BackupJob, error) {
	var jobs []BackupJob
	err := s.db.
		Where("credential_id = ? AND guild_id = ? AND status = ?", credentialID, guildID, StatusCompleted).
		Order("created_at DESC, id DESC").
		Find(&jobs).Error
	return jobs, err
}

// DeleteBackupCascade removes a backup job and every row that depends on it.
func (s *Store) DeleteBackupCascade(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&Message{}, &MediaAsset{}, &GuildSnapshot{}, &RoleSnapshot{}, &EmojiSnapshot{}, &ChannelSnapshot{}} {
			if err := tx.Where("backup_job_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&BackupJob{}, id).Error
	})
}

// CreateMessage inserts an archived message; a duplicate platform id for the same job is ignored.
func (s *Store) CreateMessage(m *Message) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

func (s *Store) CountMessages(jobID uint) (int64, error) {
	var n int64
	err := s.db.Model(&Message{}).Where("backup_job_id = ?", jobID).Count(&n).Error
	return n, err
}

func (s *Store) ListMessages(jobID uint) ([]Message, error) {
	var msgs []Message
	err := s.db.Where("backup_job_id = ?", jobID).Order("id").Find(&msgs).Error
	return msgs, err
}

// HasMediaAsset reports whether attachmentID was already downloaded for jobID.
func (s *Store) HasMediaAsset(jobID uint, attachmentID string) (bool, error) {
	var n int64
	err := s.db.Model(&MediaAsset{}).
		Where("backup_job_id = ? AND attachment_id = ?", jobID, attachmentID).
		Count(&n).Error
	return n > 0, err
}

// CreateMediaAsset inserts a media row; a duplicate (job, attachment) pair is ignored.
func (s *Store) CreateMediaAsset(m *MediaAsset) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

func (s *Store) GetMediaAsset(id uint) (*MediaAsset, error) {
	var m MediaAsset
	if err := s.db.First(&m, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) CountMediaAssets(jobID uint) (int64, error) {
	var n int64
	err := s.db.Model(&MediaAsset{}).Where("backup_job_id = ?", jobID).Count(&n).Error
	return n, err
}

// MediaTotals returns the number and summed size of the assets stored for a backup job.
func (s *Store) MediaTotals(jobID uint) (int, int64, error) {
	var totals struct {
		Count int
		Size  int64
	}
	err := s.db.Model(&MediaAsset{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size_bytes), 0) AS size").
		Where("backup_job_id = ?", jobID).
		Scan(&totals).Error
	return totals.Count, totals.Size, err
}

func (s *Store) SaveGuildSnapshot(g *GuildSnapshot) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "backup_job_id"}},
		UpdateAll: true,
	}).Create(g).Error
}

func (s *Store) SaveRoles(roles []RoleSnapshot) error {
	if len(roles) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&roles).Error
}

func (s *Store) SaveEmoji(e *EmojiSnapshot) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(e).Error
}

func (s *Store) SaveChannels(channels []ChannelSnapshot) error {
	if len(channels) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&channels).Error
}
