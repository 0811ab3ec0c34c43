// Package hooks runs best-effort side effects (audit trail, notifications,
// metrics) after a custody write has committed. A failing hook is logged and
// never reaches the caller of the write.
package hooks

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/models"
)

type Kind string

const (
	KindTaskCreated        Kind = "task_created"
	KindEventAccepted      Kind = "event_accepted"
	KindAttendanceRecorded Kind = "attendance_recorded"
)

// Event is what a committed write hands to the hooks. Task is the state after
// the write.
type Event struct {
	Kind       Kind
	Task       models.Task
	Custody    *models.CustodyEvent
	Attendance *models.AttendanceRecord
	Transition *lifecycle.Transition
}

// FlaggedNow reports whether this write moved the task to SUSPICIOUS.
func (e Event) FlaggedNow() bool {
	return e.Transition != nil && e.Transition.Changed() && e.Transition.To == models.TaskStatusSuspicious
}

type Hook interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// HookFunc adapts a function to Hook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, ev Event) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) Handle(ctx context.Context, ev Event) error { return h.Fn(ctx, ev) }

// Dispatcher invokes every registered hook for every event, in registration
// order. A nil Dispatcher does nothing.
type Dispatcher struct {
	hooks []Hook
}

func NewDispatcher(hooks ...Hook) *Dispatcher {
	return &Dispatcher{hooks: hooks}
}

func (d *Dispatcher) Register(h Hook) {
	d.hooks = append(d.hooks, h)
}

// Dispatch returns the combined hook errors for inspection; callers are
// expected to ignore it.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if d == nil {
		return nil
	}
	// detach from request cancellation; the write already happened
	ctx = context.WithoutCancel(ctx)
	var errs error
	for _, h := range d.hooks {
		if err := safeHandle(ctx, h, ev); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"hook":    h.Name(),
				"kind":    ev.Kind,
				"task_id": ev.Task.ID,
			}).Error("Post-commit hook failed.")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	return errs
}

func safeHandle(ctx context.Context, h Hook, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}
