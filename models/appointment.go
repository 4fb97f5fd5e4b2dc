package models

import (
	"fmt"
	"strings"
	"time"

	"donation-workflow-api/workflow"
)

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

var appointmentStatusSynonyms = map[string]AppointmentStatus{
	"scheduled": AppointmentScheduled,
	"confirmed": AppointmentScheduled,
	"pending":   AppointmentScheduled,
	"booked":    AppointmentScheduled,
	"completed": AppointmentCompleted,
	"complete":  AppointmentCompleted,
	"done":      AppointmentCompleted,
	"attended":  AppointmentCompleted,
	"cancelled": AppointmentCancelled,
	"canceled":  AppointmentCancelled,
	"no-show":   AppointmentCancelled,
}

// ParseAppointmentStatus maps stored spellings onto an AppointmentStatus. An
// empty value is treated as scheduled.
func ParseAppointmentStatus(raw string) (AppointmentStatus, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return AppointmentScheduled, nil
	}
	if status, ok := appointmentStatusSynonyms[key]; ok {
		return status, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", raw)
}

// IsFinal reports whether the appointment can no longer change.
func (s AppointmentStatus) IsFinal() bool {
	return s == AppointmentCompleted || s == AppointmentCancelled
}

// Appointment is owned by the DonationCase identified by SubjectID.
type Appointment struct {
	ID             string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	SubjectID      string            `gorm:"column:subject_id;type:varchar(36);not null;index" json:"subject_id"`
	Category       workflow.Role     `gorm:"column:category;type:varchar(16);not null" json:"category"`
	ScheduledBy    string            `gorm:"column:scheduled_by;type:varchar(64);not null" json:"scheduled_by"`
	When           time.Time         `gorm:"column:scheduled_for;not null" json:"when"`
	Purpose        string            `gorm:"column:purpose;type:varchar(255)" json:"purpose"`
	Status         AppointmentStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	LegacySourceID *string           `gorm:"column:legacy_source_id;type:varchar(64);index" json:"legacy_source_id,omitempty"`
	CreatedAt      time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (Appointment) TableName() string { return "appointments" }
