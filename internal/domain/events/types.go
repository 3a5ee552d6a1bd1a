// Package events defines all event types used in rdev.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// File events
	EventTypeFileChanged EventType = "file_changed"

	// Session lifecycle events
	EventTypeSessionStarted EventType = "session_started"
	EventTypeSessionStopped EventType = "session_stopped"
	EventTypeSessionError   EventType = "session_error"

	// Cycle events
	EventTypeSyncCompleted EventType = "sync_completed"
	EventTypeRunCompleted  EventType = "run_completed"

	// Background task events
	EventTypeTaskStarted EventType = "task_started"
	EventTypeTaskStatus  EventType = "task_status"

	// Stream control acknowledgements
	EventTypeSubscription EventType = "subscription"
)

// Event is the base interface for all events.
type Event interface {
	// Type returns the event type.
	Type() EventType

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// ToJSON serializes the event to JSON.
	ToJSON() ([]byte, error)

	// GetSessionID returns the session ID (may be empty).
	GetSessionID() string
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType EventType   `json:"event"`
	EventTime time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload"`
}

// GetSessionID returns the session ID.
func (e *BaseEvent) GetSessionID() string {
	return e.SessionID
}

// Type returns the event type.
func (e *BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// ToJSON serializes the event to JSON.
func (e *BaseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent creates a new base event with the given type and payload.
func NewEvent(eventType EventType, payload interface{}) *BaseEvent {
	return &BaseEvent{
		EventType: eventType,
		EventTime: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewSessionEvent creates a new event carrying session context.
func NewSessionEvent(eventType EventType, sessionID string, payload interface{}) *BaseEvent {
	return &BaseEvent{
		EventType: eventType,
		EventTime: time.Now().UTC(),
		SessionID: sessionID,
		Payload:   payload,
	}
}
