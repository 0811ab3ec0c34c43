package models

import (
	"time"

	"gorm.io/gorm"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusSuspicious TaskStatus = "SUSPICIOUS"
)

type ShiftType string

const (
	ShiftSingle ShiftType = "single"
	ShiftDouble ShiftType = "double"
)

// StageSetTag records which custody enumeration a task follows. Empty means
// not yet resolved.
type StageSetTag string

const (
	StageSetUnresolved StageSetTag = ""
	StageSetFive       StageSetTag = "five_stage"
	StageSetLegacy     StageSetTag = "legacy_three_stage"
)

// Task is a single custody assignment of one sealed pack to one field agent
// over the half-open window [StartTime, EndTime).
type Task struct {
	gorm.Model
	PackCode string `json:"pack_code" gorm:"uniqueIndex;not null"`

	SourceName      string   `json:"source_name"`
	SourceLat       *float64 `json:"source_lat"`
	SourceLon       *float64 `json:"source_lon"`
	DestinationName string   `json:"destination_name"`
	DestinationLat  *float64 `json:"destination_lat"`
	DestinationLon  *float64 `json:"destination_lon"`

	StartTime             time.Time `json:"start_time" gorm:"not null"`
	EndTime               time.Time `json:"end_time" gorm:"not null"`
	ExpectedTravelMinutes int       `json:"expected_travel_time"`
	ShiftType             ShiftType `json:"shift_type" gorm:"size:16"`
	GeofenceRadius        float64   `json:"geofence_radius" gorm:"default:100"` // meters

	AssignedAgentID string `json:"assigned_user_id" gorm:"index;not null"`

	Status      TaskStatus  `json:"status" gorm:"size:16;index;not null;default:PENDING"`
	StageSet    StageSetTag `json:"stage_set" gorm:"size:32"`
	EventCount  int         `json:"event_count"` // acceptance sequence of the last custody event
	FlagReason  string      `json:"flag_reason,omitempty"`
	FlaggedAt   *time.Time  `json:"flagged_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Active      bool        `json:"active" gorm:"not null"`

	Events     []CustodyEvent     `gorm:"foreignKey:TaskID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"events,omitempty"`
	Attendance []AttendanceRecord `gorm:"foreignKey:TaskID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"attendance,omitempty"`
}
