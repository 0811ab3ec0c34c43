package stress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/custody"
	"custody_tracker/internal/evidence"
	"custody_tracker/internal/geo"
	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/models"
	"custody_tracker/internal/scheduler"
)

type fixture struct {
	db     *gorm.DB
	sched  *scheduler.Scheduler
	svc    *custody.Service
	hasher *evidence.Hasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:stress_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	for _, id := range []string{"agent-1", "agent-2"} {
		require.NoError(t, db.Create(&models.FieldAgent{ExternalID: id, Name: id, Active: true}).Error)
	}

	hasher, err := evidence.NewHasher(evidence.SHA256)
	require.NoError(t, err)
	return &fixture{
		db:     db,
		sched:  scheduler.New(scheduler.Deps{DB: db}),
		svc:    custody.NewService(custody.Deps{DB: db, Hasher: hasher, Engine: lifecycle.NewEngine(lifecycle.Options{TravelTolerance: lifecycle.DefaultTravelTolerance})}),
		hasher: hasher,
	}
}

// flaky fails the first n calls with err.
type flaky struct {
	next EventSubmitter
	err  error

	mu    sync.Mutex
	n     int
	calls int
}

func (f *flaky) Record(ctx context.Context, in custody.RecordInput) (*models.CustodyEvent, error) {
	f.mu.Lock()
	f.calls++
	fail := f.n > 0
	if fail {
		f.n--
	}
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}
	return f.next.Record(ctx, in)
}

// flakyCreator fails the first n Create calls with err.
type flakyCreator struct {
	next TaskCreator
	err  error

	mu    sync.Mutex
	n     int
	calls int
}

func (f *flakyCreator) Create(ctx context.Context, in scheduler.CreateInput) (*models.Task, error) {
	f.mu.Lock()
	f.calls++
	fail := f.n > 0
	if fail {
		f.n--
	}
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}
	return f.next.Create(ctx, in)
}

func defaultOptions() Options {
	return Options{
		Tasks:       4,
		Agents:      []string{"agent-1", "agent-2"},
		Concurrency: 3,
		Racers:      3,
		MaxRetries:  5,
		BaseBackoff: time.Millisecond,
		Source:      geo.Coordinate{Lat: -1.2921, Lon: 36.8219},
		Destination: geo.Coordinate{Lat: -1.3000, Lon: 36.8300},
	}
}

func TestRunCompletesEveryTask(t *testing.T) {
	f := newFixture(t)
	res, err := NewRunner(f.sched, f.svc, f.hasher, defaultOptions()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), res.TasksCreated)
	assert.Equal(t, int64(4*5), res.Accepted)
	assert.Equal(t, int64(4*2), res.Duplicates)
	assert.Zero(t, res.Rejected)
	assert.Zero(t, res.Failed)

	var tasks []models.Task
	require.NoError(t, f.db.Find(&tasks).Error)
	require.Len(t, tasks, 4)
	for _, task := range tasks {
		assert.Equal(t, models.TaskStatusCompleted, task.Status, task.FlagReason)
		assert.Equal(t, 5, task.EventCount)
	}

	var pickups int64
	require.NoError(t, f.db.Model(&models.CustodyEvent{}).Where("event_type = ?", models.EventPickup).Count(&pickups).Error)
	assert.Equal(t, int64(4), pickups)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	events := &flaky{next: f.svc, err: apperr.New(apperr.CodeDependency, "database unavailable"), n: 3}
	opts := defaultOptions()
	opts.Tasks = 1
	opts.Racers = 1

	res, err := NewRunner(f.sched, events, f.hasher, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Retries)
	assert.Equal(t, int64(5), res.Accepted)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 8, events.calls)
}

func TestRunDoesNotRetryPermanentRejections(t *testing.T) {
	f := newFixture(t)
	events := &flaky{next: f.svc, err: apperr.New(apperr.CodeIntegrity, "evidence hash does not match"), n: 1}
	opts := defaultOptions()
	opts.Tasks = 1
	opts.Racers = 1

	res, err := NewRunner(f.sched, events, f.hasher, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Retries)
	assert.Equal(t, int64(1), res.Rejected)
	// PICKUP was rejected, so ARRIVAL onward arrive out of order
	assert.Equal(t, int64(4), res.Accepted)
	assert.Equal(t, 5, events.calls)

	var task models.Task
	require.NoError(t, f.db.First(&task).Error)
	assert.Equal(t, models.TaskStatusSuspicious, task.Status)
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	events := &flaky{next: f.svc, err: apperr.New(apperr.CodeDependency, "down"), n: 100}
	opts := defaultOptions()
	opts.Tasks = 1
	opts.Racers = 1
	opts.MaxRetries = 2

	res, err := NewRunner(f.sched, events, f.hasher, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Failed)
	assert.Zero(t, res.Accepted)
	assert.Equal(t, 5*3, events.calls)
}

func TestRunRetriesTransientTaskCreation(t *testing.T) {
	f := newFixture(t)
	creator := &flakyCreator{next: f.sched, err: apperr.New(apperr.CodeDependency, "database unavailable"), n: 2}
	opts := defaultOptions()
	opts.Tasks = 2
	opts.Racers = 1

	res, err := NewRunner(creator, f.svc, f.hasher, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.TasksCreated)
	assert.Equal(t, int64(2), res.Retries)
	assert.Equal(t, int64(2*5), res.Accepted)
	assert.Equal(t, 4, creator.calls)
}

func TestRunStopsOnPermanentTaskCreationError(t *testing.T) {
	f := newFixture(t)
	creator := &flakyCreator{next: f.sched, err: apperr.Validation("pack code already assigned"), n: 1}
	opts := defaultOptions()
	opts.Tasks = 2

	res, err := NewRunner(creator, f.svc, f.hasher, opts).Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	assert.Zero(t, res.TasksCreated)
	assert.Zero(t, res.Retries)
	assert.Equal(t, 1, creator.calls)
}
