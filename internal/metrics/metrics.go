package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"custody_tracker/internal/hooks"
)

// CustodyMetrics records custody write outcomes. A nil *CustodyMetrics, or
// one built without a registerer, discards everything.
type CustodyMetrics struct {
	accepted    *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	attendance  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewCustodyMetrics registers the custody metrics on the provided registerer.
func NewCustodyMetrics(reg prometheus.Registerer) *CustodyMetrics {
	if reg == nil {
		return &CustodyMetrics{}
	}
	accepted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_events_accepted_total",
		Help: "Custody events accepted, by event type.",
	}, []string{"event_type"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_writes_rejected_total",
		Help: "Custody and attendance writes rejected, by error code.",
	}, []string{"code"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_status_transitions_total",
		Help: "Task status changes, by target status.",
	}, []string{"to"})
	attendance := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_records_total",
		Help: "Attendance records written, by geofence result.",
	}, []string{"within_geofence"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_write_duration_seconds",
		Help:    "Duration of custody writes in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(accepted, rejected, transitions, attendance, duration)
	return &CustodyMetrics{
		accepted:    accepted,
		rejected:    rejected,
		transitions: transitions,
		attendance:  attendance,
		duration:    duration,
	}
}

func (m *CustodyMetrics) IncAccepted(eventType string) {
	if m == nil || m.accepted == nil {
		return
	}
	m.accepted.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *CustodyMetrics) IncRejected(code string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(code)).Inc()
}

func (m *CustodyMetrics) IncTransition(to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(to)).Inc()
}

func (m *CustodyMetrics) IncAttendance(within bool) {
	if m == nil || m.attendance == nil {
		return
	}
	m.attendance.WithLabelValues(strconv.FormatBool(within)).Inc()
}

// ObserveDuration records the duration of one write operation.
func (m *CustodyMetrics) ObserveDuration(operation string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(d.Seconds())
}

// Hook counts committed writes.
func (m *CustodyMetrics) Hook() hooks.Hook {
	return hooks.HookFunc{HookName: "metrics", Fn: func(_ context.Context, ev hooks.Event) error {
		switch ev.Kind {
		case hooks.KindEventAccepted:
			if ev.Custody != nil {
				m.IncAccepted(string(ev.Custody.EventType))
			}
		case hooks.KindAttendanceRecorded:
			if ev.Attendance != nil {
				m.IncAttendance(ev.Attendance.IsWithinGeofence)
			}
		}
		if ev.Transition != nil && ev.Transition.Changed() {
			m.IncTransition(string(ev.Transition.To))
		}
		return nil
	}}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
