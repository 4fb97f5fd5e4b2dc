package models

import (
	"time"

	"donation-workflow-api/workflow"
)

// DecisionSubmit labels the record written when a case is created.
const DecisionSubmit = "submit"

// TransitionRecord is one entry of a case's append-only status history.
type TransitionRecord struct {
	ID         string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	CaseID     string          `gorm:"column:case_id;type:varchar(36);not null;uniqueIndex:idx_transition_case_seq,priority:1" json:"case_id"`
	Sequence   int             `gorm:"column:sequence;not null;uniqueIndex:idx_transition_case_seq,priority:2" json:"sequence"`
	FromStatus workflow.Status `gorm:"column:from_status;type:varchar(64);not null;default:''" json:"from_status"`
	ToStatus   workflow.Status `gorm:"column:to_status;type:varchar(64);not null" json:"to_status"`
	ActorID    string          `gorm:"column:actor_id;type:varchar(64);not null" json:"actor_id"`
	ActorRole  workflow.Role   `gorm:"column:actor_role;type:varchar(16);not null" json:"actor_role"`
	Decision   string          `gorm:"column:decision;type:varchar(16);not null" json:"decision"`
	Override   bool            `gorm:"column:override;not null;default:false" json:"override"`
	Stage      string          `gorm:"column:stage;type:varchar(64)" json:"stage,omitempty"`
	Comment    *string         `gorm:"column:comment;type:text" json:"comment,omitempty"`
	Timestamp  time.Time       `gorm:"column:created_at;not null" json:"timestamp"`
}

func (TransitionRecord) TableName() string { return "transition_records" }

// SameEdge reports whether r moved its case from -> to.
func (r *TransitionRecord) SameEdge(from, to workflow.Status) bool {
	return r.FromStatus == from && r.ToStatus == to
}

// SameRequest reports whether r and other stem from one submission: the
// same record id, or the same actor making the same decision.
func (r *TransitionRecord) SameRequest(other *TransitionRecord) bool {
	if r.ID != "" && r.ID == other.ID {
		return true
	}
	return r.ActorID == other.ActorID && r.Decision == other.Decision
}

// CommentText returns the comment or "".
func (r *TransitionRecord) CommentText() string {
	if r.Comment == nil {
		return ""
	}
	return *r.Comment
}

// Steps converts an ordered history into replay steps.
func Steps(records []TransitionRecord) []workflow.Step {
	steps := make([]workflow.Step, 0, len(records))
	for _, r := range records {
		steps = append(steps, workflow.Step{From: r.FromStatus, To: r.ToStatus})
	}
	return steps
}
