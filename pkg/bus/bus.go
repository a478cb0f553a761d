// Package bus fans scheduler events out to observers. The default bus is
// in-process; configuring a NATS URL publishes the same subjects to a NATS
// server so external dashboards can follow worker and macro progress.
package bus

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrTimeout      = errors.New("bus: request timed out")
	ErrNoResponders = errors.New("bus: no responders")
	ErrClosed       = errors.New("bus: closed")
)

// Subject names. Worker and macro subjects carry a trailing id token.
const (
	SubjectPrefix     = "intest"
	SubjectWorker     = SubjectPrefix + ".worker"
	SubjectMacro      = SubjectPrefix + ".macro"
	SubjectSession    = SubjectPrefix + ".session"
	SubjectPoolStatus = SubjectPrefix + ".pool.status"
)

// MessageBus carries pool events and status requests. Implementations are
// safe for concurrent use.
type MessageBus interface {
	// Publish is fire and forget.
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe accepts NATS wildcards: "intest.worker.*" follows every slot.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)
	// Request waits for the first reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

// MessageHandler handles one message. A non-nil return value is sent back
// when the message expects a reply.
type MessageHandler func(msg *Message) []byte

type Message struct {
	Subject string
	Data    []byte
	ReplyTo string
}

type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config selects and configures the bus. An empty URL selects the
// in-memory bus.
type Config struct {
	URL     string
	Name    string
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{Name: "intest", Timeout: 30 * time.Second}
}

// New returns a NATS bus when cfg.URL is set and a memory bus otherwise.
func New(cfg Config) (MessageBus, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return NewMemoryBus(), nil
	}
	return NewNATSBus(cfg)
}

// Token makes s usable as a single subject token.
func Token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
