package models

import "gorm.io/gorm"

// FieldAgent is the local projection of an agent managed by the identity
// service. The tracker only reads it.
type FieldAgent struct {
	gorm.Model
	ExternalID string `json:"external_id" gorm:"uniqueIndex;not null"` // subject claim of the agent's token
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Active     bool   `json:"active" gorm:"not null"`
}
