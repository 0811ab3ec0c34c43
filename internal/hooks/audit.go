package hooks

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"custody_tracker/internal/models"
)

// AuditLog is the immutable audit trail collaborator.
type AuditLog interface {
	Append(ctx context.Context, entries ...models.AuditEntry) error
}

// GormAuditLog stores the trail in the audit_entries table.
type GormAuditLog struct {
	db *gorm.DB
}

func NewGormAuditLog(db *gorm.DB) *GormAuditLog {
	return &GormAuditLog{db: db}
}

func (l *GormAuditLog) Append(ctx context.Context, entries ...models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return l.db.WithContext(ctx).Create(&entries).Error
}

// ListByTask returns the trail for a task, oldest first.
func (l *GormAuditLog) ListByTask(ctx context.Context, taskID uint) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if err := l.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("occurred_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// AuditHook turns committed writes into audit entries.
type AuditHook struct {
	log AuditLog
	now func() time.Time
}

func NewAuditHook(log AuditLog) *AuditHook {
	return &AuditHook{log: log, now: time.Now}
}

func (h *AuditHook) Name() string { return "audit" }

func (h *AuditHook) Handle(ctx context.Context, ev Event) error {
	entries, err := h.entriesFor(ev)
	if err != nil {
		return err
	}
	return h.log.Append(ctx, entries...)
}

func (h *AuditHook) entriesFor(ev Event) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	switch ev.Kind {
	case KindTaskCreated:
		e, err := h.entry(ev.Task.ID, models.AuditTaskCreated, map[string]interface{}{
			"pack_code":        ev.Task.PackCode,
			"assigned_user_id": ev.Task.AssignedAgentID,
			"start_time":       ev.Task.StartTime,
			"end_time":         ev.Task.EndTime,
		})
		if err != nil {
			return nil, err
		}
		e.ToStatus = ev.Task.Status
		entries = append(entries, e)
	case KindEventAccepted:
		if ev.Custody != nil {
			e, err := h.entry(ev.Task.ID, models.AuditEventAccepted, ev.Custody)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
	case KindAttendanceRecorded:
		if ev.Attendance != nil {
			e, err := h.entry(ev.Task.ID, models.AuditAttendanceRecorded, ev.Attendance)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
	}

	if tr := ev.Transition; tr != nil && tr.Changed() {
		e, err := h.entry(ev.Task.ID, models.AuditStatusChanged, map[string]interface{}{
			"violations": tr.Violations,
		})
		if err != nil {
			return nil, err
		}
		e.FromStatus = tr.From
		e.ToStatus = tr.To
		e.OccurredAt = tr.At
		entries = append(entries, e)
	}
	return entries, nil
}

func (h *AuditHook) entry(taskID uint, kind models.AuditKind, details interface{}) (models.AuditEntry, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return models.AuditEntry{}, err
	}
	return models.AuditEntry{
		TaskID:     taskID,
		Kind:       kind,
		Details:    datatypes.JSON(raw),
		OccurredAt: h.now(),
	}, nil
}
