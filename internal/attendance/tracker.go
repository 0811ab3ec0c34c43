// Package attendance records an agent's presence at a custody point. Records
// are append-only and carry a geofence result computed at write time.
package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/evidence"
	"custody_tracker/internal/geo"
	"custody_tracker/internal/hooks"
	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/locker"
	"custody_tracker/internal/metrics"
	"custody_tracker/internal/models"
	"custody_tracker/internal/repo"
)

type RecordInput struct {
	TaskID       uint
	LocationType string
	Latitude     float64
	Longitude    float64
	// Target overrides the task's source/destination when set.
	Target       *geo.Coordinate
	Evidence     []byte
	DeclaredHash string // optional; checked when present
	EvidenceRef  string
	SubmittedBy  string
}

type Deps struct {
	DB      *gorm.DB
	Locker  locker.Locker
	Hasher  *evidence.Hasher
	Storage evidence.Storage
	Engine  *lifecycle.Engine
	Hooks   *hooks.Dispatcher
	Metrics *metrics.CustodyMetrics

	DefaultRadius float64
	Now           func() time.Time
}

type Tracker struct {
	deps Deps
}

func NewTracker(d Deps) *Tracker {
	if d.Locker == nil {
		d.Locker = locker.NewMemoryLocker()
	}
	if d.Hasher == nil {
		d.Hasher, _ = evidence.NewHasher(evidence.SHA256)
	}
	if d.Engine == nil {
		d.Engine = lifecycle.NewEngine(lifecycle.Options{})
	}
	if d.DefaultRadius <= 0 {
		d.DefaultRadius = 100
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Tracker{deps: d}
}

func ParseLocationType(raw string) (models.LocationType, error) {
	switch lt := models.LocationType(strings.ToUpper(strings.TrimSpace(raw))); lt {
	case models.LocationPickup, models.LocationDestination:
		return lt, nil
	}
	return "", apperr.Validation("unknown location type %q", raw)
}

// Record appends an attendance record. Being outside the geofence is stored,
// never rejected, and never changes the task's status on its own.
func (t *Tracker) Record(ctx context.Context, in RecordInput) (*models.AttendanceRecord, error) {
	started := time.Now()
	rec, err := t.record(ctx, in)
	t.deps.Metrics.ObserveDuration("record_attendance", time.Since(started))
	if err != nil {
		t.deps.Metrics.IncRejected(string(apperr.CodeOf(err)))
	}
	return rec, err
}

func (t *Tracker) record(ctx context.Context, in RecordInput) (*models.AttendanceRecord, error) {
	locType, err := ParseLocationType(in.LocationType)
	if err != nil {
		return nil, err
	}
	point := geo.Coordinate{Lat: in.Latitude, Lon: in.Longitude}
	if err := geo.Validate(point); err != nil {
		return nil, err
	}
	if in.Target != nil {
		if err := geo.Validate(*in.Target); err != nil {
			return nil, err
		}
	}

	hash := ""
	if in.DeclaredHash != "" || len(in.Evidence) > 0 {
		if hash, err = t.deps.Hasher.CheckDeclared(in.DeclaredHash, in.Evidence); err != nil {
			return nil, err
		}
	}

	unlock, err := t.deps.Locker.Lock(ctx, locker.TaskKey(in.TaskID))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "acquire task lock")
	}
	defer unlock()

	var (
		rec        models.AttendanceRecord
		task       *models.Task
		transition lifecycle.Transition
		written    string // evidence ref this call put into storage
	)
	err = t.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = repo.FindTask(ctx, tx, in.TaskID, true)
		if err != nil {
			return err
		}
		if !task.Active {
			return apperr.Validation("task %d is deactivated", task.ID)
		}

		target := in.Target
		if target == nil {
			target = targetFor(*task, locType)
		}
		radius := task.GeofenceRadius
		if radius <= 0 {
			radius = t.deps.DefaultRadius
		}
		distance, within, err := geo.Annotate(point, target, radius)
		if err != nil {
			return err
		}

		ref := in.EvidenceRef
		if t.deps.Storage != nil && len(in.Evidence) > 0 {
			key := fmt.Sprintf("tasks/%d/attendance-%s-%s", task.ID, locType, uuid.NewString())
			if ref, err = t.deps.Storage.Put(ctx, key, in.Evidence); err != nil {
				return err
			}
			written = ref
		}

		rec = models.AttendanceRecord{
			TaskID:             task.ID,
			LocationType:       locType,
			Latitude:           point.Lat,
			Longitude:          point.Lon,
			ServerTimestamp:    t.deps.Now(),
			EvidenceRef:        ref,
			EvidenceHash:       hash,
			GeofenceRadius:     radius,
			DistanceFromTarget: distance,
			IsWithinGeofence:   within,
			SubmittedBy:        in.SubmittedBy,
		}
		if target != nil {
			lat, lon := target.Lat, target.Lon
			rec.TargetLat, rec.TargetLon = &lat, &lon
		}
		if err := tx.Create(&rec).Error; err != nil {
			return apperr.Wrap(apperr.CodeDependency, err, "insert attendance record")
		}

		// attendance is informational; re-evaluation keeps the status current
		transition, err = t.deps.Engine.Apply(ctx, tx, task)
		return err
	})
	if err != nil {
		evidence.Discard(ctx, t.deps.Storage, written)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"task_id":            task.ID,
		"location_type":      rec.LocationType,
		"is_within_geofence": rec.IsWithinGeofence,
	}).Info("Attendance recorded.")

	_ = t.deps.Hooks.Dispatch(ctx, hooks.Event{
		Kind:       hooks.KindAttendanceRecorded,
		Task:       *task,
		Attendance: &rec,
		Transition: &transition,
	})
	return &rec, nil
}

// ListByTask returns a task's attendance records by server timestamp.
func (t *Tracker) ListByTask(ctx context.Context, taskID uint) ([]models.AttendanceRecord, error) {
	if _, err := repo.FindTask(ctx, t.deps.DB, taskID, false); err != nil {
		return nil, err
	}
	var records []models.AttendanceRecord
	if err := t.deps.DB.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("server_timestamp ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "list attendance")
	}
	return records, nil
}

func targetFor(task models.Task, lt models.LocationType) *geo.Coordinate {
	lat, lon := task.DestinationLat, task.DestinationLon
	if lt == models.LocationPickup {
		lat, lon = task.SourceLat, task.SourceLon
	}
	c, ok := geo.FromPointers(lat, lon)
	if !ok {
		return nil
	}
	return &c
}
