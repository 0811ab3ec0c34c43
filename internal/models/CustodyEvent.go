package models

import "time"

type EventType string

const (
	EventPickup     EventType = "PICKUP"
	EventArrival    EventType = "ARRIVAL"
	EventSealOpen   EventType = "SEAL_OPEN"
	EventSealClose  EventType = "SEAL_CLOSE"
	EventSubmission EventType = "SUBMISSION"

	// legacy three-stage chain
	EventTransit EventType = "TRANSIT"
	EventFinal   EventType = "FINAL"
)

// CustodyEvent is one immutable step of a task's chain of custody. There is
// at most one per (task, event type).
type CustodyEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	TaskID    uint      `json:"task_id" gorm:"not null;uniqueIndex:idx_custody_task_event"`
	EventType EventType `json:"event_type" gorm:"size:16;not null;uniqueIndex:idx_custody_task_event"`
	Sequence  int       `json:"sequence" gorm:"not null"` // acceptance order within the task, 1-based

	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	ServerTimestamp time.Time  `json:"server_timestamp" gorm:"not null"`
	CapturedAt      *time.Time `json:"captured_at,omitempty"` // device clock, informational only

	EvidenceRef   string `json:"image_url"`
	EvidenceHash  string `json:"image_hash" gorm:"size:64;not null"`
	HashAlgorithm string `json:"hash_algorithm" gorm:"size:16"`

	DistanceFromTarget *float64 `json:"distance_from_target"`
	IsWithinGeofence   bool     `json:"is_within_geofence"`

	SubmittedBy string `json:"submitted_by"`
}
