package models

import "time"

type Notification struct {
	NotificationID string    `gorm:"primaryKey;column:notification_id;type:varchar(36)" json:"notification_id"`
	UserID         string    `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	Title          string    `gorm:"column:title;type:varchar(255)" json:"title"`
	Message        string    `gorm:"column:message;type:text" json:"message"`
	Type           string    `gorm:"column:type;type:varchar(16)" json:"type"` // info|success|warning|error
	RelatedCaseID  *string   `gorm:"column:related_case_id;type:varchar(36)" json:"related_case_id,omitempty"`
	IsRead         bool      `gorm:"column:is_read" json:"is_read"`
	CreateAt       time.Time `gorm:"column:create_at" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

// All returns every model managed by migrations.
func All() []interface{} {
	return []interface{}{
		&DonationCase{},
		&TransitionRecord{},
		&Appointment{},
		&LegacyAppointment{},
		&ReconciliationRun{},
		&Notification{},
	}
}
