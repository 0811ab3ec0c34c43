// Package stress drives many concurrent custody submissions through the
// services to exercise the per-task ordering guarantees end to end.
package stress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/custody"
	"custody_tracker/internal/evidence"
	"custody_tracker/internal/geo"
	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/models"
	"custody_tracker/internal/scheduler"
)

type TaskCreator interface {
	Create(ctx context.Context, in scheduler.CreateInput) (*models.Task, error)
}

type EventSubmitter interface {
	Record(ctx context.Context, in custody.RecordInput) (*models.CustodyEvent, error)
}

type Options struct {
	Tasks       int
	Agents      []string
	Concurrency int
	// Racers is how many copies of the first event are submitted at once
	// per task; all but one must come back as duplicates.
	Racers int

	MaxRetries  uint64
	BaseBackoff time.Duration

	Source      geo.Coordinate
	Destination geo.Coordinate
	// WindowStart defaults to one hour before Run starts.
	WindowStart time.Time
}

type Result struct {
	TasksCreated int64 `json:"tasks_created"`
	Accepted     int64 `json:"accepted"`
	Duplicates   int64 `json:"duplicates"`
	Rejected     int64 `json:"rejected"`
	Retries      int64 `json:"retries"`
	Failed       int64 `json:"failed"`

	Elapsed time.Duration `json:"elapsed"`
}

type Runner struct {
	tasks  TaskCreator
	events EventSubmitter
	hasher *evidence.Hasher
	opts   Options

	result Result
}

func NewRunner(tasks TaskCreator, events EventSubmitter, hasher *evidence.Hasher, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Racers <= 0 {
		opts.Racers = 2
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 20 * time.Millisecond
	}
	if len(opts.Agents) == 0 {
		opts.Agents = []string{"agent-1"}
	}
	return &Runner{tasks: tasks, events: events, hasher: hasher, opts: opts}
}

// Run creates the tasks and then walks each one through the full five-stage
// chain, tasks in parallel, stages in order.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	windowStart := r.opts.WindowStart
	if windowStart.IsZero() {
		windowStart = started.Add(-time.Hour)
	}

	ids := make([]uint, 0, r.opts.Tasks)
	for i := 0; i < r.opts.Tasks; i++ {
		task, err := r.createTask(ctx, i, windowStart)
		if err != nil {
			return r.snapshot(started), fmt.Errorf("create task %d: %w", i, err)
		}
		atomic.AddInt64(&r.result.TasksCreated, 1)
		ids = append(ids, task.ID)
	}

	jobs := make(chan uint)
	var wg sync.WaitGroup
	for w := 0; w < r.opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				r.walk(ctx, id)
			}
		}()
	}
	for _, id := range ids {
		select {
		case jobs <- id:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	res := r.snapshot(started)
	logrus.WithFields(logrus.Fields{
		"tasks":      res.TasksCreated,
		"accepted":   res.Accepted,
		"duplicates": res.Duplicates,
		"rejected":   res.Rejected,
		"retries":    res.Retries,
		"failed":     res.Failed,
	}).Info("Stress run finished.")
	return res, ctx.Err()
}

func (r *Runner) createTask(ctx context.Context, i int, windowStart time.Time) (*models.Task, error) {
	travel := 60
	src, dst := r.opts.Source, r.opts.Destination
	in := scheduler.CreateInput{
		PackCode:              fmt.Sprintf("STRESS-%s", uuid.NewString()),
		SourceName:            "stress source",
		SourceLat:             &src.Lat,
		SourceLon:             &src.Lon,
		DestinationName:       "stress destination",
		DestinationLat:        &dst.Lat,
		DestinationLon:        &dst.Lon,
		AssignedAgentID:       r.opts.Agents[i%len(r.opts.Agents)],
		StartTime:             windowStart,
		EndTime:               windowStart.Add(6 * time.Hour),
		ExpectedTravelMinutes: &travel,
	}

	var task *models.Task
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		task, err = r.tasks.Create(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// withRetry runs fn under the exponential backoff policy. Only errors marked
// retryable are attempted again; each retried failure counts in Retries.
func (r *Runner) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(r.opts.MaxRetries, retry.NewExponential(r.opts.BaseBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && apperr.Retryable(err) {
			atomic.AddInt64(&r.result.Retries, 1)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *Runner) walk(ctx context.Context, taskID uint) {
	stages := lifecycle.FiveStage.Required()

	// the first stage is raced; exactly one copy is accepted
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.submit(ctx, taskID, stages[0], n)
		}(i)
	}
	wg.Wait()

	for _, stage := range stages[1:] {
		if ctx.Err() != nil {
			return
		}
		r.submit(ctx, taskID, stage, 0)
	}
}

func (r *Runner) submit(ctx context.Context, taskID uint, stage models.EventType, copyN int) {
	photo := []byte(fmt.Sprintf("task %d %s copy %d", taskID, stage, copyN))
	point := r.opts.Source
	if stage != models.EventPickup {
		point = r.opts.Destination
	}
	in := custody.RecordInput{
		TaskID:       taskID,
		EventType:    string(stage),
		Latitude:     point.Lat,
		Longitude:    point.Lon,
		Evidence:     photo,
		DeclaredHash: r.hasher.ComputeHash(photo),
		SubmittedBy:  "stress",
	}

	err := r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.events.Record(ctx, in)
		return err
	})

	switch {
	case err == nil:
		atomic.AddInt64(&r.result.Accepted, 1)
	case apperr.IsCode(err, apperr.CodeDuplicate):
		atomic.AddInt64(&r.result.Duplicates, 1)
	case apperr.Retryable(err):
		atomic.AddInt64(&r.result.Failed, 1)
		logrus.WithError(err).WithField("task_id", taskID).Warn("Submission failed after retries.")
	default:
		atomic.AddInt64(&r.result.Rejected, 1)
		logrus.WithError(err).WithField("task_id", taskID).Debug("Submission rejected.")
	}
}

func (r *Runner) snapshot(started time.Time) Result {
	return Result{
		TasksCreated: atomic.LoadInt64(&r.result.TasksCreated),
		Accepted:     atomic.LoadInt64(&r.result.Accepted),
		Duplicates:   atomic.LoadInt64(&r.result.Duplicates),
		Rejected:     atomic.LoadInt64(&r.result.Rejected),
		Retries:      atomic.LoadInt64(&r.result.Retries),
		Failed:       atomic.LoadInt64(&r.result.Failed),
		Elapsed:      time.Since(started),
	}
}
