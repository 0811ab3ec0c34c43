package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"custody_tracker/internal/lifecycle"
	"custody_tracker/internal/middleware"
	"custody_tracker/internal/models"
)

const alertWriteTimeout = 5 * time.Second

// upgrader configures the WebSocket connection.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // consoles authenticate with the token query parameter
	},
}

// Alert is pushed to every connected reviewer console.
type Alert struct {
	Type       string                `json:"type"`
	TaskID     uint                  `json:"task_id"`
	PackCode   string                `json:"pack_code"`
	Status     models.TaskStatus     `json:"status"`
	AgentID    string                `json:"assigned_user_id,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	Violations []lifecycle.Violation `json:"violations,omitempty"`
	At         time.Time             `json:"at"`
}

const (
	AlertTaskAssigned = "task_assigned"
	AlertTaskFlagged  = "task_flagged"
)

// AlertHub manages reviewer WebSocket connections and broadcasts alerts. It
// implements hooks.Notifier.
type AlertHub struct {
	clients   map[*websocket.Conn]string // conn -> reviewer id
	broadcast chan Alert
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewAlertHub creates a hub and starts its broadcast goroutine.
func NewAlertHub() *AlertHub {
	hub := &AlertHub{
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan Alert, 100),
	}
	go hub.run()
	return hub
}

// run delivers each alert to every client in turn; writes to a connection
// never overlap.
func (h *AlertHub) run() {
	for alert := range h.broadcast {
		h.mu.Lock()
		conns := make([]*websocket.Conn, 0, len(h.clients))
		for conn := range h.clients {
			conns = append(conns, conn)
		}
		h.mu.Unlock()

		for _, conn := range conns {
			_ = conn.SetWriteDeadline(time.Now().Add(alertWriteTimeout))
			if err := conn.WriteJSON(alert); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"task_id":  alert.TaskID,
					"conn_ptr": fmt.Sprintf("%p", conn),
				}).Warn("Failed to send alert to client, unregistering.")
				h.UnregisterClient(conn)
				conn.Close()
			}
		}
	}
}

func (h *AlertHub) RegisterClient(reviewerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = reviewerID
	logrus.WithFields(logrus.Fields{
		"reviewer_id": reviewerID,
		"conn_ptr":    fmt.Sprintf("%p", conn),
	}).Info("Client registered with AlertHub.")
}

func (h *AlertHub) UnregisterClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		logrus.WithFields(logrus.Fields{
			"reviewer_id": id,
			"conn_ptr":    fmt.Sprintf("%p", conn),
		}).Info("Client unregistered from AlertHub.")
	}
}

func (h *AlertHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues an alert; it drops the alert when the queue is full.
func (h *AlertHub) Publish(alert Alert) {
	select {
	case h.broadcast <- alert:
	default:
		logrus.WithField("task_id", alert.TaskID).Warn("Alert broadcast channel full, dropping message.")
	}
}

// Close stops the broadcast goroutine. Publishing after Close panics.
func (h *AlertHub) Close() {
	h.closeOnce.Do(func() { close(h.broadcast) })
}

func (h *AlertHub) NotifyAssignment(_ context.Context, task models.Task) error {
	h.Publish(Alert{
		Type:     AlertTaskAssigned,
		TaskID:   task.ID,
		PackCode: task.PackCode,
		Status:   task.Status,
		AgentID:  task.AssignedAgentID,
		At:       time.Now(),
	})
	return nil
}

func (h *AlertHub) NotifyReview(_ context.Context, task models.Task, violations []lifecycle.Violation) error {
	h.Publish(Alert{
		Type:       AlertTaskFlagged,
		TaskID:     task.ID,
		PackCode:   task.PackCode,
		Status:     task.Status,
		AgentID:    task.AssignedAgentID,
		Reason:     lifecycle.Summarize(violations),
		Violations: violations,
		At:         time.Now(),
	})
	return nil
}

var errForbiddenRole = errors.New("unauthorized role for WebSocket connection")

// HandleAlertsWebSocket authenticates a reviewer from the token query
// parameter, upgrades the connection and keeps it registered until the
// client goes away.
func HandleAlertsWebSocket(auth *middleware.Auth, hub *AlertHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		reviewerID, err := authenticateReviewer(auth, c.Query("token"))
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errForbiddenRole) {
				status = http.StatusForbidden
			}
			logrus.WithError(err).Warn("WebSocket connection attempt failed.")
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Error("Failed to upgrade WebSocket connection.")
			return
		}
		defer conn.Close()

		hub.RegisterClient(reviewerID, conn)
		defer hub.UnregisterClient(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logrus.WithError(err).WithField("reviewer_id", reviewerID).Debug("Alert WebSocket read ended.")
				}
				return
			}
			// consoles only listen
		}
	}
}

func authenticateReviewer(auth *middleware.Auth, token string) (string, error) {
	if token == "" {
		return "", errors.New("missing authentication token")
	}
	claims, err := auth.ValidateToken(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	switch claims.Role {
	case middleware.RoleReviewer, middleware.RoleAdmin:
		return claims.Identity(), nil
	}
	return "", errForbiddenRole
}
