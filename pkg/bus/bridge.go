package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/odvcencio/intest/pkg/storage"
)

// StorageBridge forwards storage events to the message bus. Register it
// with Store.AddObserver.
type StorageBridge struct {
	bus     MessageBus
	timeout time.Duration
	logger  *log.Logger
}

// NewStorageBridge creates a bridge publishing on mb.
func NewStorageBridge(mb MessageBus, logger *log.Logger) *StorageBridge {
	if logger == nil {
		logger = log.Default()
	}
	return &StorageBridge{bus: mb, timeout: 5 * time.Second, logger: logger}
}

// EventPayload is the JSON body of every bridged event.
type EventPayload struct {
	Type         storage.EventType `json:"type"`
	SessionToken string            `json:"sessionToken,omitempty"`
	EntityID     string            `json:"entityId,omitempty"`
	Data         any               `json:"data,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// HandleStorageEvent implements storage.Observer.
func (b *StorageBridge) HandleStorageEvent(event storage.Event) {
	if b == nil || b.bus == nil {
		return
	}
	payload, err := json.Marshal(EventPayload{
		Type:         event.Type,
		SessionToken: event.SessionToken,
		EntityID:     event.EntityID,
		Data:         event.Data,
		Timestamp:    event.Timestamp,
	})
	if err != nil {
		b.logger.Printf("bus bridge: encode %s: %v", event.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.bus.Publish(ctx, SubjectFor(event), payload); err != nil && err != ErrClosed {
		b.logger.Printf("bus bridge: publish %s: %v", event.Type, err)
	}
}

// SubjectFor maps a storage event to its subject:
// intest.worker.<id>, intest.macro.<token>.<macroID> or intest.session.<token>.
func SubjectFor(event storage.Event) string {
	switch event.Type {
	case storage.EventWorkerInserted, storage.EventWorkerClaimed, storage.EventWorkerUpdated:
		return fmt.Sprintf("%s.%s", SubjectWorker, Token(event.EntityID))
	case storage.EventMacroCreated, storage.EventMacroStarted, storage.EventMacroFinished, storage.EventMacroArtifacts:
		return fmt.Sprintf("%s.%s.%s", SubjectMacro, Token(event.SessionToken), Token(event.EntityID))
	default:
		return fmt.Sprintf("%s.%s", SubjectSession, Token(event.SessionToken))
	}
}
