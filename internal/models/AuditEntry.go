package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditKind string

const (
	AuditTaskCreated        AuditKind = "task_created"
	AuditEventAccepted      AuditKind = "event_accepted"
	AuditAttendanceRecorded AuditKind = "attendance_recorded"
	AuditStatusChanged      AuditKind = "status_changed"
)

// AuditEntry is an append-only trail row written after the change it
// describes has committed.
type AuditEntry struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	TaskID     uint           `json:"task_id" gorm:"index;not null"`
	Kind       AuditKind      `json:"kind" gorm:"size:32;not null"`
	FromStatus TaskStatus     `json:"from_status,omitempty" gorm:"size:16"`
	ToStatus   TaskStatus     `json:"to_status,omitempty" gorm:"size:16"`
	Details    datatypes.JSON `json:"details"`
	OccurredAt time.Time      `json:"occurred_at" gorm:"index"`
}
