// Package app wires the custody services, hooks and HTTP router from config.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"custody_tracker/internal/attendance"
	"custody_tracker/internal/config"
	"custody_tracker/internal/controllers"
	"custody_tracker/internal/custody"
	"custody_tracker/internal/evidence"
	"custody_tracker/internal/hooks"
	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/locker"
	"custody_tracker/internal/metrics"
	"custody_tracker/internal/middleware"
	"custody_tracker/internal/review"
	"custody_tracker/internal/routes"
	"custody_tracker/internal/scheduler"
)

type Options struct {
	// Registry receives the custody metrics; nil disables them.
	Registry *prometheus.Registry
	// Locker overrides the lock chosen from config.
	Locker    locker.Locker
	AccessLog io.Writer
	Now       func() time.Time
}

type App struct {
	DB         *gorm.DB
	Scheduler  *scheduler.Scheduler
	Custody    *custody.Service
	Attendance *attendance.Tracker
	Review     *review.Service
	Audit      *hooks.GormAuditLog
	Hub        *controllers.AlertHub
	Auth       *middleware.Auth
	Metrics    *metrics.CustodyMetrics
	Router     *gin.Engine

	closers []func()
}

func New(ctx context.Context, cfg *config.Config, db *gorm.DB, opts Options) (*App, error) {
	a := &App{DB: db, Auth: middleware.NewAuth(cfg.JWT.Secret)}

	hasher, err := evidence.NewHasher(evidence.Algorithm(cfg.Custody.HashAlgorithm))
	if err != nil {
		return nil, err
	}

	var storage evidence.Storage
	if cfg.Custody.EvidenceDir != "" {
		disk, err := evidence.NewDiskStorage(cfg.Custody.EvidenceDir)
		if err != nil {
			return nil, err
		}
		storage = disk
	}

	locks := opts.Locker
	if locks == nil {
		var closeLocks func()
		locks, closeLocks, err = newLocker(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeLocks)
	}

	var reg prometheus.Registerer
	if opts.Registry != nil {
		reg = opts.Registry
	}
	a.Metrics = metrics.NewCustodyMetrics(reg)

	a.Hub = controllers.NewAlertHub()
	a.closers = append(a.closers, a.Hub.Close)
	a.Audit = hooks.NewGormAuditLog(db)
	dispatcher := hooks.NewDispatcher(
		hooks.NewAuditHook(a.Audit),
		hooks.NewNotifyHook(hooks.LogNotifier{}, a.Hub),
		a.Metrics.Hook(),
	)

	engine := lifecycle.NewEngine(lifecycle.Options{TravelTolerance: cfg.Custody.TravelTolerance})
	if opts.Now != nil {
		engine.WithClock(opts.Now)
	}

	a.Scheduler = scheduler.New(scheduler.Deps{
		DB:              db,
		Locker:          locks,
		Hooks:           dispatcher,
		AverageSpeedKmh: cfg.Custody.AverageSpeedKmh,
		DefaultRadius:   cfg.Custody.DefaultGeofenceRadius,
	})
	a.Custody = custody.NewService(custody.Deps{
		DB:            db,
		Locker:        locks,
		Hasher:        hasher,
		Storage:       storage,
		Engine:        engine,
		Hooks:         dispatcher,
		Metrics:       a.Metrics,
		DefaultRadius: cfg.Custody.DefaultGeofenceRadius,
		Now:           opts.Now,
	})
	a.Attendance = attendance.NewTracker(attendance.Deps{
		DB:            db,
		Locker:        locks,
		Hasher:        hasher,
		Storage:       storage,
		Engine:        engine,
		Hooks:         dispatcher,
		Metrics:       a.Metrics,
		DefaultRadius: cfg.Custody.DefaultGeofenceRadius,
		Now:           opts.Now,
	})
	a.Review = review.NewService(a.Scheduler, a.Custody, a.Attendance, a.Audit)

	var gatherer prometheus.Gatherer
	if opts.Registry != nil {
		gatherer = opts.Registry
	}
	a.Router = routes.SetupRouter(routes.Deps{
		Auth:      a.Auth,
		Tasks:     controllers.NewTaskController(a.Scheduler, a.Review),
		Events:    controllers.NewEventController(a.Custody, a.Attendance),
		Hub:       a.Hub,
		Gatherer:  gatherer,
		AccessLog: opts.AccessLog,
	})
	return a, nil
}

// Close releases background resources.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLocker(ctx context.Context, cfg config.RedisConfig) (locker.Locker, func(), error) {
	if cfg.URL == "" {
		logrus.Info("REDIS_URL not set, using in-process task locks.")
		return locker.NewMemoryLocker(), func() {}, nil
	}
	client, err := locker.NewRedisClient(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	logrus.Info("Using redis task locks.")
	return locker.NewRedisLocker(client, cfg.LockTTL), func() { client.Close() }, nil
}
