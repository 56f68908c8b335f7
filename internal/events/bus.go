// Package events carries change notifications between the registries, the
// console and the shell. Publishers never block; slow subscribers drop events
// and are expected to re-derive state from fresh snapshots.
package events

import (
	"sync"
	"time"

	"mcpconsole-go/internal/config"
)

// EventType represents the type of event
type EventType string

const (
	// Server registry events
	ServerStateChanged   EventType = "server_state_changed"
	ServerMetricsUpdated EventType = "server_metrics_updated"
	ServersReplaced      EventType = "servers_replaced"

	// Profile registry events
	ProfileActivationStarted EventType = "profile_activation_started"
	ProfileActivated         EventType = "profile_activated"
	ProfileDeactivated       EventType = "profile_deactivated"
	ProfilesReplaced         EventType = "profiles_replaced"

	// Console events
	ViewChanged EventType = "view_changed"

	// Notification carries a user-facing success/error string
	Notification EventType = "notification"

	// ConfigReloaded fires after a new configuration revision was applied
	ConfigReloaded EventType = "config_reloaded"
)

// Notification levels
const (
	LevelSuccess = "success"
	LevelError   = "error"
	LevelInfo    = "info"
)

// NotificationData is the payload of Notification events
type NotificationData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ViewChangeData is the payload of ViewChanged events
type ViewChangeData struct {
	OldView          string `json:"old_view"`
	NewView          string `json:"new_view"`
	SelectedServerID string `json:"selected_server_id,omitempty"`
	FellBack         bool   `json:"fell_back,omitempty"`
}

// Event represents a single event in the system
type Event struct {
	Type      EventType   `json:"type"`
	ServerID  string      `json:"server_id,omitempty"`
	ProfileID string      `json:"profile_id,omitempty"`
	OldState  string      `json:"old_state,omitempty"`
	NewState  string      `json:"new_state,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Bus is a thread-safe event bus for pub/sub messaging
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	wildcard    []chan Event
	closed      bool
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
	}
}

func closedChannel() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Subscribe subscribes to a specific event type and returns a channel for receiving events
// The channel is buffered to prevent blocking publishers
func (b *Bus) Subscribe(eventType EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return closedChannel()
	}

	ch := make(chan Event, config.EventChannelBufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	return ch
}

// SubscribeAll subscribes to every event type, including ones first published later
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return closedChannel()
	}

	ch := make(chan Event, config.EventChannelBufferSizeAll)
	b.wildcard = append(b.wildcard, ch)
	return ch
}

// Unsubscribe removes a subscription channel and closes it
func (b *Bus) Unsubscribe(eventType EventType, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	subscribers := b.subscribers[eventType]
	for i, subscriber := range subscribers {
		if subscriber == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			b.subscribers[eventType] = subscribers[:len(subscribers)-1]
			close(subscriber)
			break
		}
	}

	// Clean up empty subscriber lists
	if len(b.subscribers[eventType]) == 0 {
		delete(b.subscribers, eventType)
	}
}

// UnsubscribeAll removes a channel obtained from SubscribeAll and closes it
func (b *Bus) UnsubscribeAll(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for i, subscriber := range b.wildcard {
		if subscriber == ch {
			b.wildcard = append(b.wildcard[:i], b.wildcard[i+1:]...)
			close(subscriber)
			return
		}
	}
}

// Publish publishes an event to all subscribers of that event type
// This method is non-blocking - if a subscriber's channel is full, the event is dropped
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	// Set timestamp if not already set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			// Channel is full, drop event to prevent blocking
		}
	}
	for _, ch := range b.wildcard {
		select {
		case ch <- event:
		default:
		}
	}
}

// Notify publishes a user-facing notification
func (b *Bus) Notify(level, message, serverID string) {
	b.Publish(Event{
		Type:     Notification,
		ServerID: serverID,
		Data:     NotificationData{Level: level, Message: message},
	})
}

// Close closes the event bus and all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for _, subscribers := range b.subscribers {
		for _, ch := range subscribers {
			close(ch)
		}
	}
	for _, ch := range b.wildcard {
		close(ch)
	}

	b.subscribers = make(map[EventType][]chan Event)
	b.wildcard = nil
}

// SubscriberCount returns the number of subscribers for a specific event type
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers[eventType])
}

// TotalSubscribers returns the total number of subscriber channels, wildcard included
func (b *Bus) TotalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := len(b.wildcard)
	for _, subscribers := range b.subscribers {
		total += len(subscribers)
	}
	return total
}

// IsClosed returns whether the bus has been closed
func (b *Bus) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.closed
}
