package models

import (
	"strings"
	"time"

	"donation-workflow-api/workflow"
)

// Partitions appointment-like records were historically written to.
const (
	LegacyCollectionAppointments          = "appointments"
	LegacyCollectionDoctorAppointments    = "doctorAppointments"
	LegacyCollectionDonorAppointments     = "donorAppointments"
	LegacyCollectionRecipientAppointments = "recipientAppointments"
)

// LegacyAppointment is an appointment written before the canonical schema.
// The owning case may be referenced under any of the id columns. Rows are
// never deleted; migration stamps MigratedTo instead.
type LegacyAppointment struct {
	ID           string     `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	Collection   string     `gorm:"column:collection;type:varchar(64);not null;index" json:"collection"`
	DonorID      *string    `gorm:"column:donor_id;type:varchar(64);index" json:"donor_id,omitempty"`
	RecipientID  *string    `gorm:"column:recipient_id;type:varchar(64);index" json:"recipient_id,omitempty"`
	PatientID    *string    `gorm:"column:patient_id;type:varchar(64);index" json:"patient_id,omitempty"`
	UserID       *string    `gorm:"column:user_id;type:varchar(64);index" json:"user_id,omitempty"`
	DoctorID     *string    `gorm:"column:doctor_id;type:varchar(64)" json:"doctor_id,omitempty"`
	ScheduledFor *time.Time `gorm:"column:scheduled_for" json:"scheduled_for,omitempty"`
	Purpose      *string    `gorm:"column:purpose;type:varchar(255)" json:"purpose,omitempty"`
	Status       *string    `gorm:"column:status;type:varchar(32)" json:"status,omitempty"`
	MigratedTo   *string    `gorm:"column:migrated_to;type:varchar(36)" json:"migrated_to,omitempty"`
	MigratedAt   *time.Time `gorm:"column:migrated_at" json:"migrated_at,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (LegacyAppointment) TableName() string { return "legacy_appointments" }

// SubjectRefs returns the distinct non-empty subject ids the row points at.
func (l *LegacyAppointment) SubjectRefs() []string {
	seen := make(map[string]struct{}, 4)
	out := make([]string, 0, 4)
	for _, ref := range []*string{l.DonorID, l.RecipientID, l.PatientID, l.UserID} {
		if ref == nil {
			continue
		}
		id := strings.TrimSpace(*ref)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// References reports whether the row points at subjectID.
func (l *LegacyAppointment) References(subjectID string) bool {
	for _, ref := range l.SubjectRefs() {
		if ref == subjectID {
			return true
		}
	}
	return false
}

// ImpliedRole guesses the subject role from the collection or id column.
// It returns "" when the row gives no hint.
func (l *LegacyAppointment) ImpliedRole() workflow.Role {
	switch l.Collection {
	case LegacyCollectionDonorAppointments:
		return workflow.RoleDonor
	case LegacyCollectionRecipientAppointments:
		return workflow.RoleRecipient
	}
	if l.DonorID != nil && strings.TrimSpace(*l.DonorID) != "" {
		return workflow.RoleDonor
	}
	if l.RecipientID != nil && strings.TrimSpace(*l.RecipientID) != "" {
		return workflow.RoleRecipient
	}
	return ""
}
