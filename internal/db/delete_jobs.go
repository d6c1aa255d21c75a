package db

import (
	"fmt"
)

// DeleteCheckpoint is the resumability state of a delete job.
type DeleteCheckpoint struct {
	LastProcessedID string
	TotalSeen       int
	Deleted         int
	Failed          int
}

func (s *Store) CreateDeleteJob(job *DeleteJob) error {
	if job.Status == "" {
		job.Status = StatusPending
	}
	return s.db.Create(job).Error
}

func (s *Store) GetDeleteJob(id uint) (*DeleteJob, error) {
	var job DeleteJob
	if err := s.db.First(&job, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// DeleteJobStatus re-reads only the status column.
func (s *Store) DeleteJobStatus(id uint) (string, error) {
	var job DeleteJob
	if err := s.db.Select("status").First(&job, id).Error; err != nil {
		return "", notFound(err)
	}
	return job.Status, nil
}

// MarkDeleteRunning moves a pending or running job to running; false means do no work.
func (s *Store) MarkDeleteRunning(id uint) (bool, error) {
	res := s.db.Model(&DeleteJob{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusRunning}).
		Updates(map[string]any{"status": StatusRunning, "started_at": s.now(), "sync_error": ""})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SaveDeleteCheckpoint persists the cursor and counters together. Status is left untouched so a
// concurrent cancel or pause request is never overwritten.
func (s *Store) SaveDeleteCheckpoint(id uint, cp DeleteCheckpoint) error {
	if cp.Deleted+cp.Failed > cp.TotalSeen {
		return fmt.Errorf("delete job %d: deleted+failed (%d) exceeds total_seen (%d)", id, cp.Deleted+cp.Failed, cp.TotalSeen)
	}
	return s.db.Model(&DeleteJob{}).Where("id = ?", id).Updates(map[string]any{
		"last_processed_id": cp.LastProcessedID,
		"total_seen":        cp.TotalSeen,
		"deleted":           cp.Deleted,
		"failed":            cp.Failed,
	}).Error
}

// FinishDeleteJob moves a running job to a terminal status. When the job has meanwhile left
// running the row is untouched and ErrNotRunning is returned.
func (s *Store) FinishDeleteJob(id uint, status, errMsg string) error {
	res := s.db.Model(&DeleteJob{}).
		Where("id = ? AND status = ?", id, StatusRunning).
		Updates(map[string]any{"status": status, "sync_error": errMsg, "completed_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete job %d: %w", id, ErrNotRunning)
	}
	return nil
}

// TransitionDeleteJob changes status only when the current status is one of from. It returns
// false when no row matched.
func (s *Store) TransitionDeleteJob(id uint, to string, from ...string) (bool, error) {
	cols := map[string]any{"status": to}
	if to == StatusCancelled {
		cols["completed_at"] = s.now()
	}
	res := s.db.Model(&DeleteJob{}).Where("id = ? AND status IN ?", id, from).Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailDeleteJob fails a job that has not finished yet, including one that never started
// because its worker could not be set up.
func (s *Store) FailDeleteJob(id uint, errMsg string) error {
	return s.db.Model(&DeleteJob{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusRunning}).
		Updates(map[string]any{"status": StatusFailed, "sync_error": errMsg, "completed_at": s.now()}).Error
}
