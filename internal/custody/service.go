// Package custody is the append-only ledger of custody events. Every accepted
// event re-evaluates the owning task's status inside the same transaction.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

const DefaultGeofenceRadius = 100.0

// RecordInput is one custody submission. Evidence holds the raw bytes the
// server received; DeclaredHash is the digest computed on the device.
type RecordInput struct {
	TaskID       uint
	EventType    string
	Latitude     float64
	Longitude    float64
	Evidence     []byte
	DeclaredHash string
	EvidenceRef  string // used as-is when no storage is configured
	CapturedAt   *time.Time
	SubmittedBy  string
}

type Deps struct {
	DB      *gorm.DB
	Locker  locker.Locker
	Hasher  *evidence.Hasher
	Storage evidence.Storage // optional
	Engine  *lifecycle.Engine
	Hooks   *hooks.Dispatcher
	Metrics *metrics.CustodyMetrics

	DefaultRadius float64
	Now           func() time.Time
}

type Service struct {
	db            *gorm.DB
	locks         locker.Locker
	hasher        *evidence.Hasher
	storage       evidence.Storage
	engine        *lifecycle.Engine
	hooks         *hooks.Dispatcher
	metrics       *metrics.CustodyMetrics
	defaultRadius float64
	now           func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		db:            d.DB,
		locks:         d.Locker,
		hasher:        d.Hasher,
		storage:       d.Storage,
		engine:        d.Engine,
		hooks:         d.Hooks,
		metrics:       d.Metrics,
		defaultRadius: d.DefaultRadius,
		now:           d.Now,
	}
	if s.locks == nil {
		s.locks = locker.NewMemoryLocker()
	}
	if s.hasher == nil {
		s.hasher, _ = evidence.NewHasher(evidence.SHA256)
	}
	if s.engine == nil {
		s.engine = lifecycle.NewEngine(lifecycle.Options{})
	}
	if s.defaultRadius <= 0 {
		s.defaultRadius = DefaultGeofenceRadius
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Record validates and stores one custody event. A second submission for the
// same (task, event type) returns the stored record together with a
// DUPLICATE_EVENT error and changes nothing.
func (s *Service) Record(ctx context.Context, in RecordInput) (*models.CustodyEvent, error) {
	started := time.Now()
	ev, err := s.record(ctx, in)
	s.metrics.ObserveDuration("record_event", time.Since(started))
	if err != nil {
		s.metrics.IncRejected(string(apperr.CodeOf(err)))
	}
	return ev, err
}

func (s *Service) record(ctx context.Context, in RecordInput) (*models.CustodyEvent, error) {
	eventType, err := lifecycle.ParseEventType(in.EventType)
	if err != nil {
		return nil, err
	}
	point := geo.Coordinate{Lat: in.Latitude, Lon: in.Longitude}
	if err := geo.Validate(point); err != nil {
		return nil, err
	}
	hash, err := s.hasher.CheckDeclared(in.DeclaredHash, in.Evidence)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeIntegrity) {
			logrus.WithFields(logrus.Fields{
				"task_id":      in.TaskID,
				"event_type":   eventType,
				"submitted_by": in.SubmittedBy,
			}).Warn("Evidence hash mismatch, possible substitution.")
		}
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, locker.TaskKey(in.TaskID))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "acquire task lock")
	}
	defer unlock()

	var (
		stored     models.CustodyEvent
		existing   *models.CustodyEvent
		task       *models.Task
		transition lifecycle.Transition
		raced      bool
		written    string // evidence ref this call put into storage
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = repo.FindTask(ctx, tx, in.TaskID, true)
		if err != nil {
			return err
		}
		if !task.Active {
			return apperr.Validation("task %d is deactivated", task.ID)
		}

		existing, err = findEvent(ctx, tx, task.ID, eventType)
		if err != nil {
			return err
		}
		if existing != nil {
			return errDuplicate(task.ID, eventType)
		}

		tag, err := lifecycle.ResolveStageSet(task.StageSet, eventType)
		if err != nil {
			return err
		}

		ref, err := s.storeEvidence(ctx, task.ID, eventType, in)
		if err != nil {
			return err
		}
		if s.storage != nil {
			written = ref
		}

		radius := task.GeofenceRadius
		if radius <= 0 {
			radius = s.defaultRadius
		}
		distance, within, err := geo.Annotate(point, targetFor(*task, eventType), radius)
		if err != nil {
			return err
		}

		stored = models.CustodyEvent{
			TaskID:             task.ID,
			EventType:          eventType,
			Sequence:           task.EventCount + 1,
			Latitude:           point.Lat,
			Longitude:          point.Lon,
			ServerTimestamp:    s.now(),
			CapturedAt:         in.CapturedAt,
			EvidenceRef:        ref,
			EvidenceHash:       hash,
			HashAlgorithm:      string(s.hasher.Algorithm()),
			DistanceFromTarget: distance,
			IsWithinGeofence:   within,
			SubmittedBy:        in.SubmittedBy,
		}
		if err := tx.Create(&stored).Error; err != nil {
			if repo.IsUniqueViolation(err) {
				raced = true
				return errDuplicate(task.ID, eventType)
			}
			return apperr.Wrap(apperr.CodeDependency, err, "insert custody event")
		}

		if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
			"event_count": stored.Sequence,
			"stage_set":   tag,
		}).Error; err != nil {
			return apperr.Wrap(apperr.CodeDependency, err, "update task counters")
		}
		task.EventCount = stored.Sequence
		task.StageSet = tag

		transition, err = s.engine.Apply(ctx, tx, task)
		return err
	})
	if err != nil {
		evidence.Discard(ctx, s.storage, written)
		if apperr.IsCode(err, apperr.CodeDuplicate) {
			if raced {
				// another writer committed between our check and insert
				existing, _ = findEvent(ctx, s.db.WithContext(ctx), in.TaskID, eventType)
			}
			return existing, err
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"task_id":            task.ID,
		"pack_code":          task.PackCode,
		"event_type":         stored.EventType,
		"sequence":           stored.Sequence,
		"is_within_geofence": stored.IsWithinGeofence,
		"status":             task.Status,
	}).Info("Custody event accepted.")

	_ = s.hooks.Dispatch(ctx, hooks.Event{
		Kind:       hooks.KindEventAccepted,
		Task:       *task,
		Custody:    &stored,
		Transition: &transition,
	})
	return &stored, nil
}

// ListByTask returns a task's events in canonical stage order.
func (s *Service) ListByTask(ctx context.Context, taskID uint) ([]models.CustodyEvent, error) {
	task, err := repo.FindTask(ctx, s.db, taskID, false)
	if err != nil {
		return nil, err
	}
	events, err := repo.EventsByTask(ctx, s.db, taskID)
	if err != nil {
		return nil, err
	}
	SortCanonical(task.StageSet, events)
	return events, nil
}

// SortCanonical orders events by stage rank, then by acceptance sequence.
func SortCanonical(tag models.StageSetTag, events []models.CustodyEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		ri := lifecycle.CanonicalRank(tag, events[i].EventType)
		rj := lifecycle.CanonicalRank(tag, events[j].EventType)
		if ri != rj {
			return ri < rj
		}
		return events[i].Sequence < events[j].Sequence
	})
}

func (s *Service) storeEvidence(ctx context.Context, taskID uint, t models.EventType, in RecordInput) (string, error) {
	if s.storage == nil {
		return in.EvidenceRef, nil
	}
	key := fmt.Sprintf("tasks/%d/%s-%s", taskID, t, uuid.NewString())
	return s.storage.Put(ctx, key, in.Evidence)
}

func findEvent(ctx context.Context, db *gorm.DB, taskID uint, t models.EventType) (*models.CustodyEvent, error) {
	var ev models.CustodyEvent
	err := db.WithContext(ctx).Where("task_id = ? AND event_type = ?", taskID, t).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "load custody event")
	}
	return &ev, nil
}

func errDuplicate(taskID uint, t models.EventType) error {
	return apperr.Newf(apperr.CodeDuplicate, "event %s already recorded for task %d", t, taskID)
}

// targetFor is the custody point an event of type t is expected at. TRANSIT
// has none.
func targetFor(task models.Task, t models.EventType) *geo.Coordinate {
	var lat, lon *float64
	switch t {
	case models.EventPickup, models.EventSubmission:
		lat, lon = task.SourceLat, task.SourceLon
	case models.EventArrival, models.EventSealOpen, models.EventSealClose, models.EventFinal:
		lat, lon = task.DestinationLat, task.DestinationLon
	default:
		return nil
	}
	c, ok := geo.FromPointers(lat, lon)
	if !ok {
		return nil
	}
	return &c
}
