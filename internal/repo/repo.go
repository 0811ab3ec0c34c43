// Package repo holds the persistence helpers shared by the custody writers.
package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/models"
)

const pgUniqueViolation = "23505"

// FindTask loads a task by id. With forUpdate the row is locked for the rest
// of the surrounding transaction (a no-op on sqlite). Missing tasks are
// reported as reference errors.
func FindTask(ctx context.Context, db *gorm.DB, id uint, forUpdate bool) (*models.Task, error) {
	if id == 0 {
		return nil, apperr.Validation("task id is required")
	}
	q := db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var task models.Task
	if err := q.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Reference("task %d does not exist", id)
		}
		return nil, apperr.Wrap(apperr.CodeDependency, err, "load task")
	}
	return &task, nil
}

// EventsByTask returns the task's custody events in acceptance order.
func EventsByTask(ctx context.Context, db *gorm.DB, taskID uint) ([]models.CustodyEvent, error) {
	var events []models.CustodyEvent
	if err := db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("sequence ASC").
		Find(&events).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "list custody events")
	}
	return events, nil
}

// IsUniqueViolation recognises unique-constraint failures from the postgres
// drivers, gorm's translated error and sqlite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}
