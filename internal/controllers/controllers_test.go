package controllers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/attendance"
	"custody_tracker/internal/custody"
	"custody_tracker/internal/middleware"
	"custody_tracker/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEvents struct {
	got    custody.RecordInput
	result *models.CustodyEvent
	err    error
}

func (f *fakeEvents) Record(_ context.Context, in custody.RecordInput) (*models.CustodyEvent, error) {
	f.got = in
	return f.result, f.err
}

func (f *fakeEvents) ListByTask(context.Context, uint) ([]models.CustodyEvent, error) {
	return nil, f.err
}

type fakeAttendance struct {
	got attendance.RecordInput
}

func (f *fakeAttendance) Record(_ context.Context, in attendance.RecordInput) (*models.AttendanceRecord, error) {
	f.got = in
	return &models.AttendanceRecord{TaskID: in.TaskID, LocationType: models.LocationType(in.LocationType)}, nil
}

func (f *fakeAttendance) ListByTask(context.Context, uint) ([]models.AttendanceRecord, error) {
	return []models.AttendanceRecord{}, nil
}

func newEventRouter(ec *EventController) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.CtxAgentID, "agent-7")
		c.Next()
	})
	r.POST("/tasks/:id/events", ec.RecordEvent)
	r.GET("/tasks/:id/events", ec.ListEvents)
	r.POST("/tasks/:id/attendance", ec.RecordAttendance)
	return r
}

func postJSON(t *testing.T, r http.Handler, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestRecordEventPassesSubmission(t *testing.T) {
	events := &fakeEvents{result: &models.CustodyEvent{ID: 3, EventType: models.EventPickup}}
	r := newEventRouter(NewEventController(events, &fakeAttendance{}))

	w, body := postJSON(t, r, "/tasks/12/events", gin.H{
		"event_type": "pickup",
		"latitude":   -1.29,
		"longitude":  36.82,
		"image":      base64.StdEncoding.EncodeToString([]byte("seal photo")),
		"image_hash": "abc",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, body, "event")
	assert.Equal(t, uint(12), events.got.TaskID)
	assert.Equal(t, "pickup", events.got.EventType)
	assert.Equal(t, []byte("seal photo"), events.got.Evidence)
	assert.Equal(t, "abc", events.got.DeclaredHash)
	assert.Equal(t, "agent-7", events.got.SubmittedBy)
	assert.InDelta(t, -1.29, events.got.Latitude, 1e-9)
}

func TestRecordEventErrorBodies(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		result   *models.CustodyEvent
		status   int
		code     string
		hasEvent bool
	}{
		{"validation", apperr.Validation("bad"), nil, http.StatusBadRequest, "VALIDATION_ERROR", false},
		{"integrity", apperr.New(apperr.CodeIntegrity, "mismatch"), nil, http.StatusUnprocessableEntity, "INTEGRITY_ERROR", false},
		{"reference", apperr.Reference("no task"), nil, http.StatusNotFound, "REFERENCE_ERROR", false},
		{"duplicate", apperr.New(apperr.CodeDuplicate, "dup"), &models.CustodyEvent{ID: 9}, http.StatusConflict, "DUPLICATE_EVENT", true},
		{"untyped", errors.New("db gone"), nil, http.StatusInternalServerError, "INTERNAL_ERROR", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &fakeEvents{err: tt.err, result: tt.result}
			r := newEventRouter(NewEventController(events, &fakeAttendance{}))
			w, body := postJSON(t, r, "/tasks/1/events", gin.H{
				"event_type": "PICKUP",
				"latitude":   0,
				"longitude":  0,
				"image":      base64.StdEncoding.EncodeToString([]byte("x")),
			})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
			_, ok := body["event"]
			assert.Equal(t, tt.hasEvent, ok)
		})
	}
}

func TestRecordEventBindingFailures(t *testing.T) {
	events := &fakeEvents{}
	r := newEventRouter(NewEventController(events, &fakeAttendance{}))

	w, body := postJSON(t, r, "/tasks/0/events", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	w, _ = postJSON(t, r, "/tasks/1/events", gin.H{"event_type": "PICKUP"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = postJSON(t, r, "/tasks/1/events", gin.H{
		"event_type": "PICKUP", "latitude": 1, "longitude": 1, "image": "%%%not-base64",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, events.got.EventType)
}

func TestRecordAttendancePassesTarget(t *testing.T) {
	att := &fakeAttendance{}
	r := newEventRouter(NewEventController(&fakeEvents{}, att))

	w, body := postJSON(t, r, "/tasks/4/attendance", gin.H{
		"location_type": "PICKUP",
		"latitude":      1,
		"longitude":     2,
		"target_lat":    1.001,
		"target_lon":    2.001,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, body, "attendance")
	assert.Equal(t, uint(4), att.got.TaskID)
	require.NotNil(t, att.got.Target)
	assert.InDelta(t, 1.001, att.got.Target.Lat, 1e-9)
	assert.Equal(t, "agent-7", att.got.SubmittedBy)
}

func TestHealth(t *testing.T) {
	r := gin.New()
	r.GET("/healthz", Health)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}
