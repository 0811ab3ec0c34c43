// Package scheduler creates custody tasks and derives their travel budget and
// shift classification.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/geo"
	"custody_tracker/internal/hooks"
	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/locker"
	"custody_tracker/internal/models"
	"custody_tracker/internal/repo"
)

const (
	DefaultGeofenceRadius  = 100.0
	DefaultAverageSpeedKmh = 30.0
	MinTravelMinutes       = 15
	SingleShiftMax         = 6 * time.Hour
)

// CreateInput describes a new task. Coordinates are optional but must come in
// lat/lon pairs.
type CreateInput struct {
	PackCode        string   `json:"pack_code" validate:"required,max=64"`
	SourceName      string   `json:"source_name" validate:"max=200"`
	SourceLat       *float64 `json:"source_lat" validate:"omitempty,gte=-90,lte=90"`
	SourceLon       *float64 `json:"source_lon" validate:"omitempty,gte=-180,lte=180"`
	DestinationName string   `json:"destination_name" validate:"max=200"`
	DestinationLat  *float64 `json:"destination_lat" validate:"omitempty,gte=-90,lte=90"`
	DestinationLon  *float64 `json:"destination_lon" validate:"omitempty,gte=-180,lte=180"`

	AssignedAgentID string    `json:"assigned_user_id" validate:"required"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required,gtfield=StartTime"`

	GeofenceRadius        *float64 `json:"geofence_radius" validate:"omitempty,gte=10,lte=1000"`
	ExpectedTravelMinutes *int     `json:"expected_travel_time" validate:"omitempty,gte=0"`
	ShiftType             string   `json:"shift_type" validate:"omitempty,oneof=single double"`
	StageSet              string   `json:"stage_set" validate:"omitempty,oneof=five_stage legacy_three_stage"`
}

type Deps struct {
	DB        *gorm.DB
	Directory AgentDirectory
	Locker    locker.Locker
	Hooks     *hooks.Dispatcher

	AverageSpeedKmh float64
	DefaultRadius   float64
}

type Scheduler struct {
	db        *gorm.DB
	directory AgentDirectory
	locks     locker.Locker
	hooks     *hooks.Dispatcher
	validate  *validator.Validate
	speedKmh  float64
	radius    float64
}

func New(d Deps) *Scheduler {
	s := &Scheduler{
		db:        d.DB,
		directory: d.Directory,
		locks:     d.Locker,
		hooks:     d.Hooks,
		validate:  newValidator(),
		speedKmh:  d.AverageSpeedKmh,
		radius:    d.DefaultRadius,
	}
	if s.directory == nil {
		s.directory = NewGormAgentDirectory(d.DB)
	}
	if s.locks == nil {
		s.locks = locker.NewMemoryLocker()
	}
	if s.speedKmh <= 0 {
		s.speedKmh = DefaultAverageSpeedKmh
	}
	if s.radius <= 0 {
		s.radius = DefaultGeofenceRadius
	}
	return s
}

// Create validates in and persists a PENDING task with no events.
func (s *Scheduler) Create(ctx context.Context, in CreateInput) (*models.Task, error) {
	in.PackCode = strings.TrimSpace(in.PackCode)
	in.AssignedAgentID = strings.TrimSpace(in.AssignedAgentID)
	if err := s.validate.Struct(in); err != nil {
		return nil, formatValidationErrors(err)
	}
	if err := pairedCoordinates("source", in.SourceLat, in.SourceLon); err != nil {
		return nil, err
	}
	if err := pairedCoordinates("destination", in.DestinationLat, in.DestinationLon); err != nil {
		return nil, err
	}
	stageSet, err := lifecycle.ParseStageSet(in.StageSet)
	if err != nil {
		return nil, err
	}

	agent, err := s.directory.Lookup(ctx, in.AssignedAgentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, apperr.Validation("agent %q is not active", agent.ID)
	}

	task := models.Task{
		PackCode:        in.PackCode,
		SourceName:      in.SourceName,
		SourceLat:       in.SourceLat,
		SourceLon:       in.SourceLon,
		DestinationName: in.DestinationName,
		DestinationLat:  in.DestinationLat,
		DestinationLon:  in.DestinationLon,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		GeofenceRadius:  s.radius,
		AssignedAgentID: agent.ID,
		Status:          models.TaskStatusPending,
		StageSet:        stageSet,
		Active:          true,
	}
	if in.GeofenceRadius != nil {
		task.GeofenceRadius = *in.GeofenceRadius
	}
	task.ExpectedTravelMinutes = s.travelMinutes(in)
	task.ShiftType = models.ShiftType(in.ShiftType)
	if task.ShiftType == "" {
		task.ShiftType = ClassifyShift(in.StartTime, in.EndTime)
	}

	var taken int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&models.Task{}).Where("pack_code = ?", task.PackCode).Count(&taken).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "check pack code")
	}
	if taken > 0 {
		return nil, apperr.Validation("pack code %q is already assigned", task.PackCode)
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		if repo.IsUniqueViolation(err) {
			return nil, apperr.Validation("pack code %q is already assigned", task.PackCode)
		}
		return nil, apperr.Wrap(apperr.CodeDependency, err, "create task")
	}

	logrus.WithFields(logrus.Fields{
		"task_id":              task.ID,
		"pack_code":            task.PackCode,
		"assigned_user_id":     task.AssignedAgentID,
		"expected_travel_time": task.ExpectedTravelMinutes,
		"shift_type":           task.ShiftType,
	}).Info("Task created.")

	_ = s.hooks.Dispatch(ctx, hooks.Event{Kind: hooks.KindTaskCreated, Task: task})
	return &task, nil
}

func (s *Scheduler) Get(ctx context.Context, id uint) (*models.Task, error) {
	return repo.FindTask(ctx, s.db, id, false)
}

// Deactivate stops a task from accepting further submissions. Its history is
// kept. Deactivating twice is a no-op.
func (s *Scheduler) Deactivate(ctx context.Context, id uint) (*models.Task, error) {
	unlock, err := s.locks.Lock(ctx, locker.TaskKey(id))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "acquire task lock")
	}
	defer unlock()

	var task *models.Task
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if task, err = repo.FindTask(ctx, tx, id, true); err != nil {
			return err
		}
		if !task.Active {
			return nil
		}
		if err := tx.Model(&models.Task{}).Where("id = ?", id).Update("active", false).Error; err != nil {
			return apperr.Wrap(apperr.CodeDependency, err, "deactivate task")
		}
		task.Active = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithField("task_id", id).Info("Task deactivated.")
	return task, nil
}

func (s *Scheduler) travelMinutes(in CreateInput) int {
	if in.ExpectedTravelMinutes != nil {
		return *in.ExpectedTravelMinutes
	}
	src, okSrc := geo.FromPointers(in.SourceLat, in.SourceLon)
	dst, okDst := geo.FromPointers(in.DestinationLat, in.DestinationLon)
	if okSrc && okDst {
		if d, err := geo.Distance(src, dst); err == nil {
			return EstimateTravelMinutes(d, s.speedKmh)
		}
	}
	return int(in.EndTime.Sub(in.StartTime).Minutes())
}

// EstimateTravelMinutes converts a straight-line distance into a travel
// budget at speedKmh, never below MinTravelMinutes.
func EstimateTravelMinutes(distanceMeters, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = DefaultAverageSpeedKmh
	}
	minutes := int(math.Ceil(distanceMeters / 1000 / speedKmh * 60))
	if minutes < MinTravelMinutes {
		return MinTravelMinutes
	}
	return minutes
}

// ClassifyShift is single for windows up to six hours.
func ClassifyShift(start, end time.Time) models.ShiftType {
	if end.Sub(start) <= SingleShiftMax {
		return models.ShiftSingle
	}
	return models.ShiftDouble
}

func pairedCoordinates(name string, lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return apperr.Validation("%s coordinates need both latitude and longitude", name)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

func formatValidationErrors(err error) *apperr.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		fields := make([]string, 0, len(errs))
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
			fields = append(fields, fieldErr.Field())
		}
		return apperr.Newf(apperr.CodeValidation, "validation failed: %s", strings.Join(fields, ", ")).WithDetails(details)
	}
	return apperr.Wrap(apperr.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gtfield":
		return "must be after start_time"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}
