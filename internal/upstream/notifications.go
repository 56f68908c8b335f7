package upstream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpconsole-go/internal/events"
	"mcpconsole-go/internal/logs"
)

// NotificationLevel is the severity shown to the operator
type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = NotificationLevel(events.LevelSuccess)
	NotificationError   NotificationLevel = NotificationLevel(events.LevelError)
)

// Notification is a user-facing connection outcome
type Notification struct {
	Level      NotificationLevel
	Message    string
	ServerID   string
	ServerName string
	Cause      error
	Timestamp  time.Time
}

// NotificationHandler receives connection notifications
type NotificationHandler interface {
	SendNotification(n *Notification)
}

// NotificationHandlerFunc adapts a function to NotificationHandler
type NotificationHandlerFunc func(n *Notification)

// SendNotification calls f(n)
func (f NotificationHandlerFunc) SendNotification(n *Notification) {
	f(n)
}

// NotificationManager fans notifications out to registered handlers
type NotificationManager struct {
	mu       sync.RWMutex
	handlers []NotificationHandler
}

// NewNotificationManager creates an empty notification manager
func NewNotificationManager() *NotificationManager {
	return &NotificationManager{}
}

// AddHandler registers a handler
func (nm *NotificationManager) AddHandler(handler NotificationHandler) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.handlers = append(nm.handlers, handler)
}

// SendNotification delivers n to every handler in registration order
func (nm *NotificationManager) SendNotification(n *Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	nm.mu.RLock()
	handlers := make([]NotificationHandler, len(nm.handlers))
	copy(handlers, nm.handlers)
	nm.mu.RUnlock()

	for _, h := range handlers {
		h.SendNotification(n)
	}
}

func connectedNotification(id, name string) *Notification {
	return &Notification{
		Level:      NotificationSuccess,
		Message:    fmt.Sprintf("Connected to %s", name),
		ServerID:   id,
		ServerName: name,
	}
}

func disconnectedNotification(id, name string) *Notification {
	return &Notification{
		Level:      NotificationSuccess,
		Message:    fmt.Sprintf("Disconnected from %s", name),
		ServerID:   id,
		ServerName: name,
	}
}

func connectFailedNotification(id, name string, cause error) *Notification {
	return &Notification{
		Level:      NotificationError,
		Message:    fmt.Sprintf("Failed to connect to %s: %s", name, causeText(cause)),
		ServerID:   id,
		ServerName: name,
		Cause:      cause,
	}
}

func disconnectFailedNotification(id, name string, cause error) *Notification {
	return &Notification{
		Level:      NotificationError,
		Message:    fmt.Sprintf("Failed to disconnect from %s: %s", name, causeText(cause)),
		ServerID:   id,
		ServerName: name,
		Cause:      cause,
	}
}

// causeText returns the transport's own message rather than the wrapped
// ConnectionError text, which already names the server.
func causeText(err error) string {
	if err == nil {
		return "unknown error"
	}
	var ce *ConnectionError
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err.Error()
	}
	return err.Error()
}

// EventBusHandler forwards notifications to the event bus
type EventBusHandler struct {
	bus *events.Bus
}

// NewEventBusHandler creates a handler publishing on bus
func NewEventBusHandler(bus *events.Bus) *EventBusHandler {
	return &EventBusHandler{bus: bus}
}

// SendNotification implements NotificationHandler
func (h *EventBusHandler) SendNotification(n *Notification) {
	h.bus.Notify(string(n.Level), n.Message, n.ServerID)
}

// LoggerHandler writes notifications to the structured log
type LoggerHandler struct {
	logger *zap.Logger
}

// NewLoggerHandler creates a handler logging through logger
func NewLoggerHandler(logger *zap.Logger) *LoggerHandler {
	return &LoggerHandler{logger: logger}
}

// SendNotification implements NotificationHandler
func (h *LoggerHandler) SendNotification(n *Notification) {
	fields := []zap.Field{
		zap.String("server", n.ServerID),
		zap.String("message", n.Message),
	}
	if n.Level == NotificationError {
		h.logger.Warn("Server notification", append(fields, zap.Error(n.Cause))...)
		return
	}
	h.logger.Info("Server notification", fields...)
}

// FailureFileHandler mirrors connect failures into failed_servers.log and
// clears a server's entries once it connects again.
type FailureFileHandler struct {
	dataDir string
	logger  *zap.Logger
}

// NewFailureFileHandler creates a handler writing into dataDir
func NewFailureFileHandler(dataDir string, logger *zap.Logger) *FailureFileHandler {
	return &FailureFileHandler{dataDir: dataDir, logger: logger}
}

// SendNotification implements NotificationHandler
func (h *FailureFileHandler) SendNotification(n *Notification) {
	var err error
	switch n.Level {
	case NotificationError:
		err = logs.LogServerFailure(h.dataDir, n.ServerName, causeText(n.Cause), n.Timestamp)
	case NotificationSuccess:
		err = logs.RemoveServerFromFailureLog(h.dataDir, n.ServerName)
	}
	if err != nil {
		h.logger.Debug("Failed to update failure log",
			zap.String("server", n.ServerID),
			zap.Error(err))
	}
}
