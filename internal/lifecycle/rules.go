// Package lifecycle owns task status: it evaluates the anomaly rules over a
// task's custody events and persists the resulting transition.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"custody_tracker/internal/models"
)

// DefaultTravelTolerance allows the travel leg to run 50% over the expected
// travel time before the task is flagged.
const DefaultTravelTolerance = 0.5

type ViolationKind string

const (
	ViolationOrder      ViolationKind = "order"
	ViolationTimeWindow ViolationKind = "time_window"
	ViolationTravelTime ViolationKind = "travel_time"
)

// Violation is a hard rule break. It is recorded as a SUSPICIOUS transition,
// never returned as an error.
type Violation struct {
	Kind      ViolationKind    `json:"kind"`
	EventType models.EventType `json:"event_type"`
	Detail    string           `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
}

type Options struct {
	TravelTolerance float64
}

func (o Options) tolerance() float64 {
	if o.TravelTolerance < 0 {
		return 0
	}
	return o.TravelTolerance
}

// Outcome is the status a task should hold given its events.
type Outcome struct {
	Status     models.TaskStatus
	Violations []Violation
}

// Evaluate applies the lifecycle rules to task and its accepted events. It
// has no side effects.
func Evaluate(task models.Task, events []models.CustodyEvent, opts Options) Outcome {
	// the ledger is closed once complete
	if task.Status == models.TaskStatusCompleted {
		return Outcome{Status: models.TaskStatusCompleted}
	}
	if len(events) == 0 {
		if task.Status == models.TaskStatusSuspicious {
			return Outcome{Status: models.TaskStatusSuspicious}
		}
		return Outcome{Status: models.TaskStatusPending}
	}

	set, resolved := StageSetFor(task.StageSet)
	if !resolved {
		set = FiveStage
	}

	var violations []Violation
	violations = append(violations, checkOrder(set, events)...)
	violations = append(violations, checkWindow(task, events)...)
	violations = append(violations, checkTravel(task, set, events, opts.tolerance())...)

	// fail closed: a violation outranks completion
	if len(violations) > 0 || task.Status == models.TaskStatusSuspicious {
		return Outcome{Status: models.TaskStatusSuspicious, Violations: violations}
	}
	if resolved && complete(set, events) {
		return Outcome{Status: models.TaskStatusCompleted}
	}
	return Outcome{Status: models.TaskStatusInProgress}
}

// checkOrder flags every event whose canonical predecessors were not all
// accepted before it. Acceptance order is the per-task Sequence, so the result
// does not depend on how events are listed.
func checkOrder(set StageSet, events []models.CustodyEvent) []Violation {
	byType := make(map[models.EventType]models.CustodyEvent, len(events))
	for _, e := range events {
		byType[e.EventType] = e
	}
	var out []Violation
	for _, e := range events {
		var missing []string
		for _, p := range set.Predecessors(e.EventType) {
			prev, ok := byType[p]
			if !ok || prev.Sequence > e.Sequence {
				missing = append(missing, string(p))
			}
		}
		if len(missing) > 0 {
			out = append(out, Violation{
				Kind:      ViolationOrder,
				EventType: e.EventType,
				Detail:    fmt.Sprintf("%s accepted before %s", e.EventType, strings.Join(missing, ", ")),
			})
		}
	}
	return out
}

// checkWindow flags events received outside [StartTime, EndTime).
func checkWindow(task models.Task, events []models.CustodyEvent) []Violation {
	var out []Violation
	for _, e := range events {
		ts := e.ServerTimestamp
		if ts.Before(task.StartTime) || !ts.Before(task.EndTime) {
			out = append(out, Violation{
				Kind:      ViolationTimeWindow,
				EventType: e.EventType,
				Detail: fmt.Sprintf("%s at %s outside window %s - %s", e.EventType,
					ts.UTC().Format(time.RFC3339), task.StartTime.UTC().Format(time.RFC3339), task.EndTime.UTC().Format(time.RFC3339)),
			})
		}
	}
	return out
}

// checkTravel flags travel-leg events that trail the first event by more than
// the expected travel time plus tolerance.
func checkTravel(task models.Task, set StageSet, events []models.CustodyEvent, tolerance float64) []Violation {
	if task.ExpectedTravelMinutes <= 0 {
		return nil
	}
	first := events[0].ServerTimestamp
	for _, e := range events[1:] {
		if e.ServerTimestamp.Before(first) {
			first = e.ServerTimestamp
		}
	}
	limit := time.Duration(float64(task.ExpectedTravelMinutes) * (1 + tolerance) * float64(time.Minute))

	var out []Violation
	for _, e := range events {
		if !set.onTravelLeg(e.EventType) {
			continue
		}
		if gap := e.ServerTimestamp.Sub(first); gap > limit {
			out = append(out, Violation{
				Kind:      ViolationTravelTime,
				EventType: e.EventType,
				Detail:    fmt.Sprintf("%s %s after first event, limit %s", e.EventType, gap.Round(time.Second), limit.Round(time.Second)),
			})
		}
	}
	return out
}

func complete(set StageSet, events []models.CustodyEvent) bool {
	seen := make(map[models.EventType]bool, len(events))
	for _, e := range events {
		seen[e.EventType] = true
	}
	for _, t := range set.Required() {
		if !seen[t] {
			return false
		}
	}
	return true
}

// Summarize joins violation details for the task's flag reason.
func Summarize(violations []Violation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "; ")
}
