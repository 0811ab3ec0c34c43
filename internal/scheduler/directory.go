package scheduler

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/models"
)

// Agent is what the identity collaborator tells us about a field agent.
type Agent struct {
	ID     string
	Name   string
	Active bool
}

// AgentDirectory resolves agent identifiers. Unknown agents are reported as
// reference errors.
type AgentDirectory interface {
	Lookup(ctx context.Context, id string) (Agent, error)
}

// GormAgentDirectory reads the field_agents projection.
type GormAgentDirectory struct {
	db *gorm.DB
}

func NewGormAgentDirectory(db *gorm.DB) *GormAgentDirectory {
	return &GormAgentDirectory{db: db}
}

func (d *GormAgentDirectory) Lookup(ctx context.Context, id string) (Agent, error) {
	var fa models.FieldAgent
	err := d.db.WithContext(ctx).Where("external_id = ?", id).First(&fa).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Agent{}, apperr.Reference("agent %q does not exist", id)
	}
	if err != nil {
		return Agent{}, apperr.Wrap(apperr.CodeDependency, err, "look up agent")
	}
	return Agent{ID: fa.ExternalID, Name: fa.Name, Active: fa.Active}, nil
}
