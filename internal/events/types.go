package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event
type Type string

// Event types the core emits
const (
	TaskCreated         Type = "TaskCreated"
	TaskAssigned        Type = "TaskAssigned"
	TaskStarted         Type = "TaskStarted"
	TaskCompleted       Type = "TaskCompleted"
	TaskBlocked         Type = "TaskBlocked"
	LeaseExpired        Type = "LeaseExpired"
	LeaseReclaimed      Type = "LeaseReclaimed"
	AgentRegistered     Type = "AgentRegistered"
	ProjectStateChanged Type = "ProjectStateChanged"
	AssignmentFailed    Type = "AssignmentFailed"
)

// TypeAll subscribes a handler to every event type
const TypeAll Type = "*"

// Event is an immutable record of something that happened in the core
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      Type                   `json:"event_type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// New creates an event with a fresh ID and a UTC timestamp
func New(eventType Type, source string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Source:    source,
		Data:      data,
	}
}
