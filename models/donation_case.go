package models

import (
	"fmt"
	"time"

	"donation-workflow-api/workflow"

	"gorm.io/datatypes"
)

// StageMap maps a review stage name to a value (reviewer id or comment).
type StageMap map[string]string

// DonationCase is one donor or recipient application.
type DonationCase struct {
	ID                   string                       `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	SubjectRole          workflow.Role                `gorm:"column:subject_role;type:varchar(16);not null;index" json:"subject_role"`
	SubjectUserID        string                       `gorm:"column:subject_user_id;type:varchar(64);not null;index" json:"subject_user_id"`
	ContactEmail         *string                      `gorm:"column:contact_email;type:varchar(255)" json:"contact_email,omitempty"`
	Status               workflow.Status              `gorm:"column:status;type:varchar(64);not null;index" json:"status"`
	ReviewedBy           datatypes.JSONType[StageMap] `gorm:"column:reviewed_by;type:json" json:"reviewed_by"`
	Comments             datatypes.JSONType[StageMap] `gorm:"column:comments;type:json" json:"comments"`
	LinkedAppointmentIDs datatypes.JSONSlice[string]  `gorm:"column:linked_appointment_ids;type:json" json:"linked_appointment_ids"`
	Version              int64                        `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt            time.Time                    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt            time.Time                    `gorm:"column:updated_at" json:"updated_at"`
}

func (DonationCase) TableName() string { return "donation_cases" }

// State returns the view of the case the workflow engine works on.
func (c *DonationCase) State() workflow.CaseState {
	return workflow.CaseState{Role: c.SubjectRole, Status: string(c.Status)}
}

// ReviewedByMap returns a copy of the reviewedBy map.
func (c *DonationCase) ReviewedByMap() StageMap {
	return c.ReviewedBy.Data().clone()
}

// CommentsMap returns a copy of the comments map.
func (c *DonationCase) CommentsMap() StageMap {
	return c.Comments.Data().clone()
}

// HasAppointment reports whether id is already linked to the case.
func (c *DonationCase) HasAppointment(id string) bool {
	for _, linked := range c.LinkedAppointmentIDs {
		if linked == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the case.
func (c *DonationCase) Clone() *DonationCase {
	cp := *c
	if c.ContactEmail != nil {
		email := *c.ContactEmail
		cp.ContactEmail = &email
	}
	cp.ReviewedBy = datatypes.NewJSONType(c.ReviewedByMap())
	cp.Comments = datatypes.NewJSONType(c.CommentsMap())
	cp.LinkedAppointmentIDs = append(datatypes.JSONSlice[string]{}, c.LinkedAppointmentIDs...)
	return &cp
}

func (m StageMap) clone() StageMap {
	out := make(StageMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AppendStage returns a copy of m with value recorded under stage. Existing
// entries are never replaced: a repeated stage is stored as "stage#2",
// "stage#3", and so on.
func AppendStage(m StageMap, stage, value string) StageMap {
	out := m.clone()
	key := stage
	for n := 2; ; n++ {
		if _, taken := out[key]; !taken {
			break
		}
		key = fmt.Sprintf("%s#%d", stage, n)
	}
	out[key] = value
	return out
}
