package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/models"
	"custody_tracker/internal/repo"
)

// Transition describes a status write. Changed is false when the evaluation
// left the status as it was.
type Transition struct {
	TaskID     uint
	PackCode   string
	From       models.TaskStatus
	To         models.TaskStatus
	Violations []Violation
	At         time.Time
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

// Engine re-evaluates a task inside the caller's transaction.
type Engine struct {
	opts Options
	now  func() time.Time
}

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts, now: time.Now}
}

// WithClock overrides the clock used for flagged_at/completed_at.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Options() Options {
	return e.opts
}

// Apply loads the task's events through tx, evaluates them and writes the
// status columns when they change. task is updated in place. The caller must
// hold the task's lock.
func (e *Engine) Apply(ctx context.Context, tx *gorm.DB, task *models.Task) (Transition, error) {
	events, err := repo.EventsByTask(ctx, tx, task.ID)
	if err != nil {
		return Transition{}, err
	}
	outcome := Evaluate(*task, events, e.opts)
	tr := Transition{
		TaskID:     task.ID,
		PackCode:   task.PackCode,
		From:       task.Status,
		To:         outcome.Status,
		Violations: outcome.Violations,
		At:         e.now(),
	}
	if !tr.Changed() {
		return tr, e.refreshFlagReason(ctx, tx, task, outcome)
	}

	updates := map[string]interface{}{"status": outcome.Status}
	switch outcome.Status {
	case models.TaskStatusSuspicious:
		at := tr.At
		updates["flagged_at"] = &at
		updates["flag_reason"] = Summarize(outcome.Violations)
	case models.TaskStatusCompleted:
		at := tr.At
		updates["completed_at"] = &at
	}
	if err := tx.WithContext(ctx).Model(&models.Task{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
		return Transition{}, apperr.Wrap(apperr.CodeDependency, err, "write task status")
	}
	task.Status = outcome.Status
	if at, ok := updates["flagged_at"].(*time.Time); ok {
		task.FlaggedAt = at
		task.FlagReason = updates["flag_reason"].(string)
	}
	if at, ok := updates["completed_at"].(*time.Time); ok {
		task.CompletedAt = at
	}

	logrus.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"pack_code": task.PackCode,
		"from":      tr.From,
		"to":        tr.To,
	}).Info("Task status changed.")
	return tr, nil
}

// refreshFlagReason keeps flag_reason in step with the full violation set of
// a task that is already SUSPICIOUS. flagged_at keeps the first flag time.
func (e *Engine) refreshFlagReason(ctx context.Context, tx *gorm.DB, task *models.Task, outcome Outcome) error {
	if outcome.Status != models.TaskStatusSuspicious || len(outcome.Violations) == 0 {
		return nil
	}
	reason := Summarize(outcome.Violations)
	if reason == task.FlagReason {
		return nil
	}
	if err := tx.WithContext(ctx).Model(&models.Task{}).Where("id = ?", task.ID).Update("flag_reason", reason).Error; err != nil {
		return apperr.Wrap(apperr.CodeDependency, err, "write flag reason")
	}
	task.FlagReason = reason
	return nil
}
