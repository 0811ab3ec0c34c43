package models

import "time"

type LocationType string

const (
	LocationPickup      LocationType = "PICKUP"
	LocationDestination LocationType = "DESTINATION"
)

// AttendanceRecord logs an agent's presence at a custody point. Geofence
// fields are computed at write time and never recomputed.
type AttendanceRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	TaskID       uint         `json:"task_id" gorm:"index;not null"`
	LocationType LocationType `json:"location_type" gorm:"size:16;not null"`

	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	ServerTimestamp time.Time `json:"server_timestamp" gorm:"not null"`

	EvidenceRef  string `json:"image_url"`
	EvidenceHash string `json:"image_hash" gorm:"size:64"`

	TargetLat          *float64 `json:"target_lat"`
	TargetLon          *float64 `json:"target_lon"`
	GeofenceRadius     float64  `json:"geofence_radius"`
	DistanceFromTarget *float64 `json:"distance_from_target"` // nil when the target is unknown
	IsWithinGeofence   bool     `json:"is_within_geofence"`

	SubmittedBy string `json:"submitted_by"`
}
