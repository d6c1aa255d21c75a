package db

import (
	"time"
)

func (s *Store) CreateSchedule(sched *Schedule) error {
	return s.db.Create(sched).Error
}

func (s *Store) GetSchedule(id uint) (*Schedule, error) {
	var sched Schedule
	if err := s.db.First(&sched, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sched, nil
}

// ListDueSchedules returns enabled schedules whose next run is at or before now.
func (s *Store) ListDueSchedules(now time.Time) ([]Schedule, error) {
	var scheds []Schedule
	err := s.db.
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("next_run_at, id").
		Find(&scheds).Error
	return scheds, err
}

func (s *Store) ListSchedules() ([]Schedule, error) {
	var scheds []Schedule
	err := s.db.Order("id").Find(&scheds).Error
	return scheds, err
}

// RecordScheduleRun stores the outcome of one scheduler fire.
func (s *Store) RecordScheduleRun(id uint, ranAt, next time.Time, backupID uint) error {
	return s.db.Model(&Schedule{}).Where("id = ?", id).Updates(map[string]any{
		"last_run_at":    ranAt,
		"next_run_at":    next,
		"last_backup_id": backupID,
	}).Error
}
