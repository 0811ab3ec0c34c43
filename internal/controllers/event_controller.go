package controllers

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/attendance"
	"custody_tracker/internal/custody"
	"custody_tracker/internal/geo"
	"custody_tracker/internal/middleware"
	"custody_tracker/internal/models"
)

// maxEvidenceBytes bounds a single uploaded photograph.
const maxEvidenceBytes = 10 << 20

type EventRecorder interface {
	Record(ctx context.Context, in custody.RecordInput) (*models.CustodyEvent, error)
	ListByTask(ctx context.Context, taskID uint) ([]models.CustodyEvent, error)
}

type AttendanceRecorder interface {
	Record(ctx context.Context, in attendance.RecordInput) (*models.AttendanceRecord, error)
	ListByTask(ctx context.Context, taskID uint) ([]models.AttendanceRecord, error)
}

type EventController struct {
	events     EventRecorder
	attendance AttendanceRecorder
}

func NewEventController(events EventRecorder, att AttendanceRecorder) *EventController {
	return &EventController{events: events, attendance: att}
}

// submission is the common shape of custody and attendance uploads. Image is
// base64 in JSON bodies; multipart bodies send it as the "image" file.
type submission struct {
	EventType    string     `json:"event_type" form:"event_type"`
	LocationType string     `json:"location_type" form:"location_type"`
	Latitude     *float64   `json:"latitude" form:"latitude" binding:"required"`
	Longitude    *float64   `json:"longitude" form:"longitude" binding:"required"`
	ImageHash    string     `json:"image_hash" form:"image_hash"`
	Image        string     `json:"image" form:"-"`
	ImageURL     string     `json:"image_url" form:"image_url"`
	CapturedAt   *time.Time `json:"captured_at" form:"captured_at" time_format:"2006-01-02T15:04:05Z07:00"`
	TargetLat    *float64   `json:"target_lat" form:"target_lat"`
	TargetLon    *float64   `json:"target_lon" form:"target_lon"`
}

func bindSubmission(c *gin.Context) (submission, []byte, bool) {
	var in submission
	var data []byte

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&in); err != nil {
			bindError(c, err)
			return in, nil, false
		}
		fh, err := c.FormFile("image")
		if err != nil {
			respondError(c, apperr.Validation("image file is required"), nil)
			return in, nil, false
		}
		if fh.Size > maxEvidenceBytes {
			respondError(c, apperr.Validation("image exceeds %d bytes", maxEvidenceBytes), nil)
			return in, nil, false
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, apperr.Wrap(apperr.CodeValidation, err, "unreadable image"), nil)
			return in, nil, false
		}
		defer f.Close()
		if data, err = io.ReadAll(io.LimitReader(f, maxEvidenceBytes)); err != nil {
			respondError(c, apperr.Wrap(apperr.CodeValidation, err, "unreadable image"), nil)
			return in, nil, false
		}
		return in, data, true
	}

	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return in, nil, false
	}
	if in.Image != "" {
		var err error
		if data, err = base64.StdEncoding.DecodeString(in.Image); err != nil {
			respondError(c, apperr.Validation("image must be base64 encoded"), nil)
			return in, nil, false
		}
	}
	return in, data, true
}

// RecordEvent accepts one custody event. Anomalies are recorded on the task,
// not returned as errors.
func (ec *EventController) RecordEvent(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	in, data, ok := bindSubmission(c)
	if !ok {
		return
	}

	ev, err := ec.events.Record(c.Request.Context(), custody.RecordInput{
		TaskID:       id,
		EventType:    in.EventType,
		Latitude:     *in.Latitude,
		Longitude:    *in.Longitude,
		Evidence:     data,
		DeclaredHash: in.ImageHash,
		EvidenceRef:  in.ImageURL,
		CapturedAt:   in.CapturedAt,
		SubmittedBy:  c.GetString(middleware.CtxAgentID),
	})
	if err != nil {
		var extra gin.H
		if ev != nil {
			extra = gin.H{"event": ev}
		}
		respondError(c, err, extra)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": ev})
}

func (ec *EventController) ListEvents(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	events, err := ec.events.ListByTask(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (ec *EventController) RecordAttendance(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	in, data, ok := bindSubmission(c)
	if !ok {
		return
	}

	var target *geo.Coordinate
	if t, ok := geo.FromPointers(in.TargetLat, in.TargetLon); ok {
		target = &t
	}
	rec, err := ec.attendance.Record(c.Request.Context(), attendance.RecordInput{
		TaskID:       id,
		LocationType: in.LocationType,
		Latitude:     *in.Latitude,
		Longitude:    *in.Longitude,
		Target:       target,
		Evidence:     data,
		DeclaredHash: in.ImageHash,
		EvidenceRef:  in.ImageURL,
		SubmittedBy:  c.GetString(middleware.CtxAgentID),
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attendance": rec})
}

func (ec *EventController) ListAttendance(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	records, err := ec.attendance.ListByTask(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}
