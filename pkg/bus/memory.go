package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer bounds each subscription's backlog. Publish never blocks:
// a subscriber that falls this far behind loses messages.
const subscriberBuffer = 256

// MemoryBus is the in-process MessageBus used when no NATS URL is
// configured. It supports wildcards and request/reply but keeps nothing.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*memorySubscription
	nextID uint64
	closed atomic.Bool
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uint64]*memorySubscription)}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.deliver(&Message{Subject: subject, Data: data})
	return nil
}

// deliver hands msg to every live subscription whose pattern matches and
// returns how many matched.
func (b *MemoryBus) deliver(msg *Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := 0
	for _, sub := range b.subs {
		if !matchSubject(sub.subject, msg.Subject) {
			continue
		}
		matched++
		select {
		case sub.messages <- msg:
		case <-sub.done:
		default:
		}
	}
	return matched
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	b.nextID++
	sub := &memorySubscription{
		id:       b.nextID,
		subject:  subject,
		messages: make(chan *Message, subscriberBuffer),
		done:     make(chan struct{}),
		handler:  handler,
		bus:      b,
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	inbox := "_INBOX." + uuid.NewString()
	replies := make(chan []byte, 1)
	sub, err := b.Subscribe(ctx, inbox, func(msg *Message) []byte {
		select {
		case replies <- msg.Data:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if b.deliver(&Message{Subject: subject, Data: data, ReplyTo: inbox}) == 0 {
		return nil, ErrNoResponders
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops every subscription. A second Close returns ErrClosed.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*memorySubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

type memorySubscription struct {
	id       uint64
	subject  string
	messages chan *Message
	done     chan struct{}
	once     sync.Once
	handler  MessageHandler
	bus      *MemoryBus
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg := <-s.messages:
			reply := s.handler(msg)
			if reply != nil && msg.ReplyTo != "" {
				_ = s.bus.Publish(ctx, msg.ReplyTo, reply)
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// matchSubject reports whether subject matches pattern. "*" matches exactly
// one token; a trailing ">" matches one or more.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	want := strings.Split(pattern, ".")
	got := strings.Split(subject, ".")
	for i, tok := range want {
		if tok == ">" {
			return i == len(want)-1 && len(got) > i
		}
		if i >= len(got) {
			return false
		}
		if tok != "*" && tok != got[i] {
			return false
		}
	}
	return len(want) == len(got)
}
