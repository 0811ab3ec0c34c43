package attendance

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/evidence"
	"custody_tracker/internal/geo"
	"custody_tracker/internal/hooks"
	"custody_tracker/internal/models"
)

var now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:attendance_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func ptr(v float64) *float64 { return &v }

func newTask(t *testing.T, db *gorm.DB, status models.TaskStatus) models.Task {
	t.Helper()
	task := models.Task{
		PackCode:        "PK-" + uuid.NewString()[:8],
		SourceLat:       ptr(0),
		SourceLon:       ptr(0),
		StartTime:       now.Add(-time.Hour),
		EndTime:         now.Add(3 * time.Hour),
		GeofenceRadius:  100,
		AssignedAgentID: "agent-1",
		Status:          status,
		Active:          true,
	}
	require.NoError(t, db.Create(&task).Error)
	return task
}

// metersNorth is the latitude, in degrees, that lies d meters north of the equator.
func metersNorth(d float64) float64 {
	return d / geo.EarthRadiusMeters * 180 / math.Pi
}

func TestScenarioD_OutsideGeofenceIsStoredNotFlagged(t *testing.T) {
	db := newTestDB(t)
	task := newTask(t, db, models.TaskStatusPending)
	var dispatched []hooks.Event
	tracker := NewTracker(Deps{
		DB:  db,
		Now: func() time.Time { return now },
		Hooks: hooks.NewDispatcher(hooks.HookFunc{HookName: "capture", Fn: func(_ context.Context, ev hooks.Event) error {
			dispatched = append(dispatched, ev)
			return nil
		}}),
	})

	rec, err := tracker.Record(context.Background(), RecordInput{
		TaskID:       task.ID,
		LocationType: "pickup",
		Latitude:     metersNorth(250),
		Longitude:    0,
		SubmittedBy:  "agent-1",
	})
	require.NoError(t, err)
	assert.False(t, rec.IsWithinGeofence)
	require.NotNil(t, rec.DistanceFromTarget)
	assert.InDelta(t, 250, *rec.DistanceFromTarget, 0.5)
	assert.Equal(t, 100.0, rec.GeofenceRadius)
	require.NotNil(t, rec.TargetLat)
	assert.Zero(t, *rec.TargetLat)

	var stored models.Task
	require.NoError(t, db.First(&stored, task.ID).Error)
	assert.Equal(t, models.TaskStatusPending, stored.Status)

	require.Len(t, dispatched, 1)
	assert.False(t, dispatched[0].Transition.Changed())
}

func TestRecordWithinGeofenceAndUnknownTarget(t *testing.T) {
	db := newTestDB(t)
	task := newTask(t, db, models.TaskStatusPending)
	tracker := NewTracker(Deps{DB: db, Now: func() time.Time { return now }})
	ctx := context.Background()

	rec, err := tracker.Record(ctx, RecordInput{TaskID: task.ID, LocationType: "PICKUP", Latitude: metersNorth(50)})
	require.NoError(t, err)
	assert.True(t, rec.IsWithinGeofence)

	// the task has no destination coordinates
	rec, err = tracker.Record(ctx, RecordInput{TaskID: task.ID, LocationType: "DESTINATION", Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	assert.Nil(t, rec.DistanceFromTarget)
	assert.False(t, rec.IsWithinGeofence)

	// an explicit target wins
	rec, err = tracker.Record(ctx, RecordInput{
		TaskID:       task.ID,
		LocationType: "DESTINATION",
		Latitude:     1,
		Longitude:    1,
		Target:       &geo.Coordinate{Lat: 1, Lon: 1},
	})
	require.NoError(t, err)
	assert.True(t, rec.IsWithinGeofence)

	records, err := tracker.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRecordAppendsRepeatedAttendance(t *testing.T) {
	db := newTestDB(t)
	task := newTask(t, db, models.TaskStatusPending)
	tracker := NewTracker(Deps{DB: db, Now: func() time.Time { return now }})

	for i := 0; i < 3; i++ {
		_, err := tracker.Record(context.Background(), RecordInput{TaskID: task.ID, LocationType: "PICKUP"})
		require.NoError(t, err)
	}
	records, err := tracker.ListByTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRecordRejections(t *testing.T) {
	db := newTestDB(t)
	task := newTask(t, db, models.TaskStatusPending)
	hasher, err := evidence.NewHasher(evidence.SHA256)
	require.NoError(t, err)
	tracker := NewTracker(Deps{DB: db, Hasher: hasher})
	ctx := context.Background()

	_, err = tracker.Record(ctx, RecordInput{TaskID: task.ID, LocationType: "LOBBY"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	_, err = tracker.Record(ctx, RecordInput{TaskID: task.ID + 50, LocationType: "PICKUP"})
	assert.True(t, apperr.IsCode(err, apperr.CodeReference))

	_, err = tracker.Record(ctx, RecordInput{
		TaskID:       task.ID,
		LocationType: "PICKUP",
		Evidence:     []byte("photo"),
		DeclaredHash: hasher.ComputeHash([]byte("other photo")),
	})
	assert.True(t, apperr.IsCode(err, apperr.CodeIntegrity))

	_, err = tracker.ListByTask(ctx, task.ID+50)
	assert.True(t, apperr.IsCode(err, apperr.CodeReference))
}

func TestRecordRemovesEvidenceWhenInsertRollsBack(t *testing.T) {
	db := newTestDB(t)
	task := newTask(t, db, models.TaskStatusPending)
	dir := t.TempDir()
	storage, err := evidence.NewDiskStorage(dir)
	require.NoError(t, err)
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_attendance", func(tx *gorm.DB) {
		if tx.Statement.Table == "attendance_records" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))
	hasher, err := evidence.NewHasher(evidence.SHA256)
	require.NoError(t, err)
	tracker := NewTracker(Deps{DB: db, Hasher: hasher, Storage: storage, Now: func() time.Time { return now }})

	photo := []byte("gate photo")
	_, err = tracker.Record(context.Background(), RecordInput{
		TaskID:       task.ID,
		LocationType: "PICKUP",
		Latitude:     0,
		Longitude:    0,
		Evidence:     photo,
		DeclaredHash: hasher.ComputeHash(photo),
		SubmittedBy:  "agent-1",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeDependency))

	files := 0
	require.NoError(t, filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files++
		}
		return err
	}))
	assert.Zero(t, files)
}
