package models

import (
	"time"
)

const (
	ReconciliationRunStatusRunning = "running"
	ReconciliationRunStatusSuccess = "success"
	ReconciliationRunStatusFailed  = "failed"
)

type ReconciliationRun struct {
	ID uint `json:"id" gorm:"primaryKey;autoIncrement"`

	TriggerSource string     `json:"trigger_source" gorm:"type:varchar(64);not null"`
	Status        string     `json:"status" gorm:"type:varchar(16);not null;default:'running'"`
	DryRun        bool       `json:"dry_run" gorm:"column:dry_run;not null;default:false"`
	ErrorMessage  *string    `json:"error_message" gorm:"type:text"`
	ReportKey     *string    `json:"report_key,omitempty" gorm:"column:report_key;type:varchar(255)"`
	StartedAt     time.Time  `json:"started_at" gorm:"column:started_at"`
	FinishedAt    *time.Time `json:"finished_at" gorm:"column:finished_at"`

	SubjectsScanned uint `json:"subjects_scanned" gorm:"column:subjects_scanned;not null;default:0"`
	RecordsScanned  uint `json:"records_scanned" gorm:"column:records_scanned;not null;default:0"`
	CorrectRecords  uint `json:"correct_records" gorm:"column:correct_records;not null;default:0"`
	Misplaced       uint `json:"misplaced" gorm:"column:misplaced;not null;default:0"`
	Orphaned        uint `json:"orphaned" gorm:"column:orphaned;not null;default:0"`
	Repaired        uint `json:"repaired" gorm:"column:repaired;not null;default:0"`
	Failed          uint `json:"failed" gorm:"column:failed;not null;default:0"`
}

func (ReconciliationRun) TableName() string { return "reconciliation_runs" }
