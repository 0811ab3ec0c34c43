package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:hooks_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func TestDispatcherRunsEveryHookAndCombinesErrors(t *testing.T) {
	var calls []string
	record := func(name string, err error) Hook {
		return HookFunc{HookName: name, Fn: func(context.Context, Event) error {
			calls = append(calls, name)
			return err
		}}
	}
	boom := errors.New("boom")
	d := NewDispatcher(
		record("a", nil),
		record("b", boom),
		HookFunc{HookName: "c", Fn: func(context.Context, Event) error { panic("bad hook") }},
		record("d", nil),
	)

	err := d.Dispatch(context.Background(), Event{Kind: KindTaskCreated})
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b", "d"}, calls)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, boom)
}

func TestNilDispatcher(t *testing.T) {
	var d *Dispatcher
	assert.NoError(t, d.Dispatch(context.Background(), Event{}))
}

func TestDispatchIgnoresCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var seen error
	d := NewDispatcher(HookFunc{HookName: "ctx", Fn: func(ctx context.Context, _ Event) error {
		seen = ctx.Err()
		return nil
	}})
	require.NoError(t, d.Dispatch(ctx, Event{}))
	assert.NoError(t, seen)
}

func TestAuditHookWritesEntries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	log := NewGormAuditLog(db)
	hook := NewAuditHook(log)
	hook.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	task := models.Task{Model: gorm.Model{ID: 7}, PackCode: "PK-7", Status: models.TaskStatusPending}
	require.NoError(t, hook.Handle(ctx, Event{Kind: KindTaskCreated, Task: task}))

	flagged := task
	flagged.Status = models.TaskStatusSuspicious
	require.NoError(t, hook.Handle(ctx, Event{
		Kind:    KindEventAccepted,
		Task:    flagged,
		Custody: &models.CustodyEvent{TaskID: 7, EventType: models.EventArrival, Sequence: 1},
		Transition: &lifecycle.Transition{
			TaskID: 7,
			From:   models.TaskStatusPending,
			To:     models.TaskStatusSuspicious,
			Violations: []lifecycle.Violation{
				{Kind: lifecycle.ViolationOrder, EventType: models.EventArrival, Detail: "ARRIVAL before PICKUP"},
			},
			At: time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC),
		},
	}))

	entries, err := log.ListByTask(ctx, 7)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.AuditTaskCreated, entries[0].Kind)
	assert.Equal(t, models.AuditEventAccepted, entries[1].Kind)
	assert.Equal(t, models.AuditStatusChanged, entries[2].Kind)
	assert.Equal(t, models.TaskStatusPending, entries[2].FromStatus)
	assert.Equal(t, models.TaskStatusSuspicious, entries[2].ToStatus)
	assert.Contains(t, string(entries[2].Details), "ARRIVAL before PICKUP")
}

type recordingNotifier struct {
	assigned []uint
	reviews  []uint
}

func (r *recordingNotifier) NotifyAssignment(_ context.Context, task models.Task) error {
	r.assigned = append(r.assigned, task.ID)
	return nil
}

func (r *recordingNotifier) NotifyReview(_ context.Context, task models.Task, _ []lifecycle.Violation) error {
	r.reviews = append(r.reviews, task.ID)
	return nil
}

func TestNotifyHook(t *testing.T) {
	n := &recordingNotifier{}
	hook := NewNotifyHook(n, LogNotifier{})
	ctx := context.Background()

	require.NoError(t, hook.Handle(ctx, Event{Kind: KindTaskCreated, Task: models.Task{Model: gorm.Model{ID: 1}}}))
	// no transition
	require.NoError(t, hook.Handle(ctx, Event{Kind: KindEventAccepted, Task: models.Task{Model: gorm.Model{ID: 1}}}))
	// progress, not a flag
	require.NoError(t, hook.Handle(ctx, Event{
		Kind:       KindEventAccepted,
		Task:       models.Task{Model: gorm.Model{ID: 1}},
		Transition: &lifecycle.Transition{From: models.TaskStatusPending, To: models.TaskStatusInProgress},
	}))
	require.NoError(t, hook.Handle(ctx, Event{
		Kind:       KindAttendanceRecorded,
		Task:       models.Task{Model: gorm.Model{ID: 2}},
		Transition: &lifecycle.Transition{From: models.TaskStatusInProgress, To: models.TaskStatusSuspicious},
	}))

	assert.Equal(t, []uint{1}, n.assigned)
	assert.Equal(t, []uint{2}, n.reviews)
}
