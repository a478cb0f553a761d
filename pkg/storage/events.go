package storage

import (
	"fmt"
	"time"
)

// EventType represents the type of storage event emitted.
type EventType string

// Storage event type constants.
const (
	EventSessionCreated EventType = "session.created"
	EventSessionsPurged EventType = "session.purged"

	EventWorkerInserted EventType = "worker.inserted"
	EventWorkerClaimed  EventType = "worker.claimed"
	EventWorkerUpdated  EventType = "worker.updated"

	EventMacroCreated   EventType = "macro.created"
	EventMacroStarted   EventType = "macro.started"
	EventMacroFinished  EventType = "macro.finished"
	EventMacroArtifacts EventType = "macro.artifacts"
)

// Event represents a change inside the storage layer that other subsystems can react to.
type Event struct {
	Type         EventType `json:"type"`
	SessionToken string    `json:"sessionToken,omitempty"`
	EntityID     string    `json:"entityId,omitempty"`
	Data         any       `json:"data,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Observer reacts to storage events.
type Observer interface {
	HandleStorageEvent(Event)
}

// ObserverFunc is a helper to turn a function into an Observer.
type ObserverFunc func(Event)

// HandleStorageEvent implements the Observer interface.
func (f ObserverFunc) HandleStorageEvent(e Event) {
	f(e)
}

func newEvent(eventType EventType, token string, entityID any, data any) Event {
	entity := ""
	if entityID != nil {
		entity = fmt.Sprintf("%v", entityID)
	}
	return Event{
		Type:         eventType,
		SessionToken: token,
		EntityID:     entity,
		Data:         data,
		Timestamp:    time.Now(),
	}
}
