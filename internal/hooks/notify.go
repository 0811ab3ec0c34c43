package hooks

import (
	"context"

	"github.com/sirupsen/logrus"

	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/models"
)

// Notifier is the notification collaborator. Delivery is best effort.
type Notifier interface {
	NotifyAssignment(ctx context.Context, task models.Task) error
	NotifyReview(ctx context.Context, task models.Task, violations []lifecycle.Violation) error
}

// NotifyHook sends the assignment notice on creation and a review alert when
// a task is flagged.
type NotifyHook struct {
	notifiers []Notifier
}

func NewNotifyHook(notifiers ...Notifier) *NotifyHook {
	return &NotifyHook{notifiers: notifiers}
}

func (h *NotifyHook) Name() string { return "notify" }

func (h *NotifyHook) Handle(ctx context.Context, ev Event) error {
	var firstErr error
	for _, n := range h.notifiers {
		var err error
		switch {
		case ev.Kind == KindTaskCreated:
			err = n.NotifyAssignment(ctx, ev.Task)
		case ev.FlaggedNow():
			err = n.NotifyReview(ctx, ev.Task, ev.Transition.Violations)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogNotifier writes notices to the application log.
type LogNotifier struct{}

func (LogNotifier) NotifyAssignment(_ context.Context, task models.Task) error {
	logrus.WithFields(logrus.Fields{
		"task_id":          task.ID,
		"pack_code":        task.PackCode,
		"assigned_user_id": task.AssignedAgentID,
		"start_time":       task.StartTime,
	}).Info("Task assigned.")
	return nil
}

func (LogNotifier) NotifyReview(_ context.Context, task models.Task, violations []lifecycle.Violation) error {
	logrus.WithFields(logrus.Fields{
		"task_id":    task.ID,
		"pack_code":  task.PackCode,
		"violations": lifecycle.Summarize(violations),
	}).Warn("Task flagged for review.")
	return nil
}
