package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/hooks"
	"custody_tracker/internal/models"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:scheduler_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	require.NoError(t, db.Create(&models.FieldAgent{ExternalID: "agent-1", Name: "Amina", Active: true}).Error)
	require.NoError(t, db.Create(&models.FieldAgent{ExternalID: "agent-2", Name: "Otieno", Active: false}).Error)
	return db
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int { return &v }

func baseInput() CreateInput {
	return CreateInput{
		PackCode:        "PK-" + uuid.NewString()[:8],
		SourceName:      "County depot",
		DestinationName: "Exam centre 14",
		AssignedAgentID: "agent-1",
		StartTime:       start,
		EndTime:         start.Add(4 * time.Hour),
	}
}

func TestCreatePersistsPendingTask(t *testing.T) {
	db := newTestDB(t)
	var created []hooks.Event
	s := New(Deps{DB: db, Hooks: hooks.NewDispatcher(hooks.HookFunc{HookName: "capture", Fn: func(_ context.Context, ev hooks.Event) error {
		created = append(created, ev)
		return nil
	}})})

	task, err := s.Create(context.Background(), baseInput())
	require.NoError(t, err)
	assert.NotZero(t, task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, DefaultGeofenceRadius, task.GeofenceRadius)
	assert.Equal(t, models.ShiftSingle, task.ShiftType)
	// no coordinates: the whole window is the travel budget
	assert.Equal(t, 240, task.ExpectedTravelMinutes)
	assert.True(t, task.Active)
	assert.Equal(t, models.StageSetUnresolved, task.StageSet)

	var events int64
	require.NoError(t, db.Model(&models.CustodyEvent{}).Where("task_id = ?", task.ID).Count(&events).Error)
	assert.Zero(t, events)

	require.Len(t, created, 1)
	assert.Equal(t, hooks.KindTaskCreated, created[0].Kind)
	assert.Equal(t, task.ID, created[0].Task.ID)
}

func TestCreateDerivesTravelTimeFromDistance(t *testing.T) {
	db := newTestDB(t)
	s := New(Deps{DB: db, AverageSpeedKmh: 30})

	in := baseInput()
	// one degree of longitude at the equator, about 111 km
	in.SourceLat, in.SourceLon = f64(0), f64(0)
	in.DestinationLat, in.DestinationLon = f64(0), f64(1)
	in.EndTime = start.Add(8 * time.Hour)
	task, err := s.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 223, task.ExpectedTravelMinutes)
	assert.Equal(t, models.ShiftDouble, task.ShiftType)

	in = baseInput()
	in.ExpectedTravelMinutes = intp(45)
	in.ShiftType = "double"
	in.GeofenceRadius = f64(250)
	in.StageSet = "legacy_three_stage"
	task, err = s.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 45, task.ExpectedTravelMinutes)
	assert.Equal(t, models.ShiftDouble, task.ShiftType)
	assert.Equal(t, 250.0, task.GeofenceRadius)
	assert.Equal(t, models.StageSetLegacy, task.StageSet)
}

func TestCreateValidation(t *testing.T) {
	db := newTestDB(t)
	s := New(Deps{DB: db})
	ctx := context.Background()

	existing := baseInput()
	_, err := s.Create(ctx, existing)
	require.NoError(t, err)

	cases := map[string]func(*CreateInput){
		"missing pack code":  func(in *CreateInput) { in.PackCode = "  " },
		"duplicate pack":     func(in *CreateInput) { in.PackCode = existing.PackCode },
		"empty window":       func(in *CreateInput) { in.EndTime = in.StartTime },
		"inverted window":    func(in *CreateInput) { in.EndTime = in.StartTime.Add(-time.Hour) },
		"radius too small":   func(in *CreateInput) { in.GeofenceRadius = f64(5) },
		"radius too large":   func(in *CreateInput) { in.GeofenceRadius = f64(2000) },
		"latitude range":     func(in *CreateInput) { in.SourceLat, in.SourceLon = f64(95), f64(0) },
		"unpaired longitude": func(in *CreateInput) { in.DestinationLon = f64(10) },
		"negative travel":    func(in *CreateInput) { in.ExpectedTravelMinutes = intp(-1) },
		"unknown shift":      func(in *CreateInput) { in.ShiftType = "triple" },
		"unknown stage set":  func(in *CreateInput) { in.StageSet = "seven_stage" },
		"inactive agent":     func(in *CreateInput) { in.AssignedAgentID = "agent-2" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := baseInput()
			mutate(&in)
			_, err := s.Create(ctx, in)
			require.Error(t, err)
			assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "got %v", err)
		})
	}

	in := baseInput()
	in.AssignedAgentID = "ghost"
	_, err = s.Create(ctx, in)
	assert.True(t, apperr.IsCode(err, apperr.CodeReference))
}

func TestValidationErrorsCarryFieldDetails(t *testing.T) {
	s := New(Deps{DB: newTestDB(t)})
	in := baseInput()
	in.PackCode = ""
	in.GeofenceRadius = f64(1)
	_, err := s.Create(context.Background(), in)
	typed := apperr.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["pack_code"])
	assert.Equal(t, "must be at least 10", details["geofence_radius"])
}

func TestDeactivate(t *testing.T) {
	db := newTestDB(t)
	s := New(Deps{DB: db})
	ctx := context.Background()
	task, err := s.Create(ctx, baseInput())
	require.NoError(t, err)

	got, err := s.Deactivate(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	got, err = s.Deactivate(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	stored, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	_, err = s.Deactivate(ctx, task.ID+10)
	assert.True(t, apperr.IsCode(err, apperr.CodeReference))
}

func TestEstimateTravelMinutesAndShift(t *testing.T) {
	assert.Equal(t, MinTravelMinutes, EstimateTravelMinutes(500, 30))
	assert.Equal(t, 60, EstimateTravelMinutes(30000, 30))
	assert.Equal(t, 120, EstimateTravelMinutes(30000, 0)*2)

	assert.Equal(t, models.ShiftSingle, ClassifyShift(start, start.Add(6*time.Hour)))
	assert.Equal(t, models.ShiftDouble, ClassifyShift(start, start.Add(6*time.Hour+time.Minute)))
}
