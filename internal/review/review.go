// Package review assembles the read model administrators use to judge a
// task: the task, its events in canonical order, attendance and audit trail.
package review

import (
	"context"
	"encoding/json"

	"custody_tracker/internal/geo"
	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/models"
)

type TaskGetter interface {
	Get(ctx context.Context, id uint) (*models.Task, error)
}

type EventLister interface {
	ListByTask(ctx context.Context, taskID uint) ([]models.CustodyEvent, error)
}

type AttendanceLister interface {
	ListByTask(ctx context.Context, taskID uint) ([]models.AttendanceRecord, error)
}

type AuditReader interface {
	ListByTask(ctx context.Context, taskID uint) ([]models.AuditEntry, error)
}

type Endpoint struct {
	Name     string          `json:"name"`
	Location geo.Coordinate  `json:"location"`
	GeoJSON  json.RawMessage `json:"geojson"`
}

type Report struct {
	Task          models.Task               `json:"task"`
	Source        *Endpoint                 `json:"source,omitempty"`
	Destination   *Endpoint                 `json:"destination,omitempty"`
	RouteMeters   *float64                  `json:"route_distance_meters,omitempty"`
	RouteBearing  *float64                  `json:"route_bearing_degrees,omitempty"`
	Events        []models.CustodyEvent     `json:"events"`
	MissingStages []models.EventType        `json:"missing_stages"`
	Attendance    []models.AttendanceRecord `json:"attendance"`
	Audit         []models.AuditEntry       `json:"audit"`
}

type Service struct {
	tasks      TaskGetter
	events     EventLister
	attendance AttendanceLister
	audit      AuditReader
}

func NewService(tasks TaskGetter, events EventLister, attendance AttendanceLister, audit AuditReader) *Service {
	return &Service{tasks: tasks, events: events, attendance: attendance, audit: audit}
}

func (s *Service) Report(ctx context.Context, taskID uint) (*Report, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	r := &Report{Task: *task}

	if r.Events, err = s.events.ListByTask(ctx, taskID); err != nil {
		return nil, err
	}
	if r.Attendance, err = s.attendance.ListByTask(ctx, taskID); err != nil {
		return nil, err
	}
	if s.audit != nil {
		if r.Audit, err = s.audit.ListByTask(ctx, taskID); err != nil {
			return nil, err
		}
	}

	r.MissingStages = missingStages(*task, r.Events)
	r.Source = endpoint(task.SourceName, task.SourceLat, task.SourceLon)
	r.Destination = endpoint(task.DestinationName, task.DestinationLat, task.DestinationLon)
	if r.Source != nil && r.Destination != nil {
		if d, err := geo.Distance(r.Source.Location, r.Destination.Location); err == nil {
			r.RouteMeters = &d
		}
		if b, err := geo.Bearing(r.Source.Location, r.Destination.Location); err == nil {
			r.RouteBearing = &b
		}
	}
	return r, nil
}

// missingStages lists the required stages not yet recorded. Unresolved tasks
// are measured against the five-stage chain.
func missingStages(task models.Task, events []models.CustodyEvent) []models.EventType {
	set, ok := lifecycle.StageSetFor(task.StageSet)
	if !ok {
		set = lifecycle.FiveStage
	}
	seen := make(map[models.EventType]bool, len(events))
	for _, ev := range events {
		seen[ev.EventType] = true
	}
	missing := []models.EventType{}
	for _, t := range set.Required() {
		if !seen[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

func endpoint(name string, lat, lon *float64) *Endpoint {
	c, ok := geo.FromPointers(lat, lon)
	if !ok {
		return nil
	}
	ep := &Endpoint{Name: name, Location: c}
	if raw, err := geo.GeoJSON(c); err == nil {
		ep.GeoJSON = json.RawMessage(raw)
	}
	return ep
}
