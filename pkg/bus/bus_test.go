package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/intest/pkg/storage"
)

func collect(t *testing.T, mb MessageBus, pattern string) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	sub, err := mb.Subscribe(context.Background(), pattern, func(*Message) []byte {
		n.Add(1)
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return &n
}

func TestMemoryBusDeliversToSubject(t *testing.T) {
	mb := NewMemoryBus()
	defer mb.Close()
	ctx := context.Background()

	received := make(chan *Message, 1)
	sub, err := mb.Subscribe(ctx, "intest.worker.1", func(msg *Message) []byte {
		received <- msg
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	assert.Equal(t, "intest.worker.1", sub.Subject())

	require.NoError(t, mb.Publish(ctx, "intest.worker.1", []byte(`{"status":"idle"}`)))

	select {
	case msg := <-received:
		assert.Equal(t, "intest.worker.1", msg.Subject)
		assert.JSONEq(t, `{"status":"idle"}`, string(msg.Data))
		assert.Empty(t, msg.ReplyTo)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemoryBusWildcards(t *testing.T) {
	mb := NewMemoryBus()
	defer mb.Close()
	ctx := context.Background()

	workers := collect(t, mb, SubjectWorker+".*")
	everything := collect(t, mb, SubjectPrefix+".>")

	require.NoError(t, mb.Publish(ctx, "intest.worker.0", nil))
	require.NoError(t, mb.Publish(ctx, "intest.worker.1", nil))
	require.NoError(t, mb.Publish(ctx, "intest.macro.tok.M1", nil))
	require.NoError(t, mb.Publish(ctx, "other.worker.1", nil))

	assert.Eventually(t, func() bool {
		return workers.Load() == 2 && everything.Load() == 3
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryBusFansOut(t *testing.T) {
	mb := NewMemoryBus()
	defer mb.Close()

	counters := []*atomic.Int32{
		collect(t, mb, SubjectPoolStatus),
		collect(t, mb, SubjectPoolStatus),
		collect(t, mb, SubjectPoolStatus),
	}
	require.NoError(t, mb.Publish(context.Background(), SubjectPoolStatus, nil))

	assert.Eventually(t, func() bool {
		for _, c := range counters {
			if c.Load() != 1 {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryBusRequestReply(t *testing.T) {
	mb := NewMemoryBus()
	defer mb.Close()
	ctx := context.Background()

	sub, err := mb.Subscribe(ctx, SubjectPoolStatus, func(msg *Message) []byte {
		assert.NotEmpty(t, msg.ReplyTo)
		return append([]byte("queued="), msg.Data...)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reply, err := mb.Request(ctx, SubjectPoolStatus, []byte("3"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "queued=3", string(reply))
}

func TestMemoryBusRequestErrors(t *testing.T) {
	mb := NewMemoryBus()
	defer mb.Close()
	ctx := context.Background()

	_, err := mb.Request(ctx, SubjectPoolStatus, nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoResponders)

	silent := collect(t, mb, SubjectPoolStatus)
	_, err = mb.Request(ctx, SubjectPoolStatus, nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Eventually(t, func() bool { return silent.Load() == 1 }, time.Second, 10*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = mb.Request(cancelled, SubjectPoolStatus, nil, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	mb := NewMemoryBus()
	defer mb.Close()
	ctx := context.Background()

	var n atomic.Int32
	sub, err := mb.Subscribe(ctx, "intest.session.tok", func(*Message) []byte {
		n.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, mb.Publish(ctx, "intest.session.tok", nil))
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, mb.Publish(ctx, "intest.session.tok", nil))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
}

func TestMemoryBusClosed(t *testing.T) {
	mb := NewMemoryBus()
	ctx := context.Background()
	collect(t, mb, SubjectWorker+".*")

	require.NoError(t, mb.Close())
	assert.ErrorIs(t, mb.Close(), ErrClosed)
	assert.ErrorIs(t, mb.Publish(ctx, "intest.worker.1", nil), ErrClosed)
	_, err := mb.Subscribe(ctx, "intest.worker.1", nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = mb.Request(ctx, SubjectPoolStatus, nil, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"intest.pool.status", "intest.pool.status", true},
		{"intest.pool.status", "intest.pool", false},
		{"intest.worker.*", "intest.worker.3", true},
		{"intest.worker.*", "intest.worker", false},
		{"intest.worker.*", "intest.worker.3.extra", false},
		{"intest.*.3", "intest.worker.3", true},
		{"intest.*.3", "intest.worker.4", false},
		{"intest.>", "intest.worker.3", true},
		{"intest.>", "intest.macro.tok.M1", true},
		{"intest.>", "intest", false},
		{"intest.>.x", "intest.a.x", false},
		{"intest.macro.>", "intest.session.tok", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubject(tt.pattern, tt.subject))
		})
	}
}

func TestRequestErrorMapping(t *testing.T) {
	assert.ErrorIs(t, requestError(nats.ErrNoResponders), ErrNoResponders)
	assert.ErrorIs(t, requestError(nats.ErrTimeout), ErrTimeout)
	assert.ErrorIs(t, requestError(context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, requestError(nats.ErrConnectionClosed), ErrClosed)

	other := errors.New("permissions violation")
	assert.Equal(t, other, requestError(other))
}

func TestNewWithoutURLIsMemory(t *testing.T) {
	mb, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mb.Close()
	if _, ok := mb.(*MemoryBus); !ok {
		t.Fatalf("expected *MemoryBus, got %T", mb)
	}
}

func TestToken(t *testing.T) {
	tests := map[string]string{
		"":       "_",
		"abc":    "abc",
		"a.b":    "a_b",
		"x*y>z":  "x_y_z",
		"job 42": "job_42",
		"M-1":    "M-1",
	}
	for in, want := range tests {
		if got := Token(in); got != want {
			t.Errorf("Token(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		event storage.Event
		want  string
	}{
		{storage.Event{Type: storage.EventWorkerUpdated, EntityID: "3"}, "intest.worker.3"},
		{storage.Event{Type: storage.EventWorkerClaimed, EntityID: "0"}, "intest.worker.0"},
		{storage.Event{Type: storage.EventMacroFinished, SessionToken: "tok", EntityID: "M.1"}, "intest.macro.tok.M_1"},
		{storage.Event{Type: storage.EventSessionCreated, SessionToken: "tok"}, "intest.session.tok"},
		{storage.Event{Type: storage.EventSessionsPurged}, "intest.session._"},
	}
	for _, tt := range tests {
		if got := SubjectFor(tt.event); got != tt.want {
			t.Errorf("SubjectFor(%s) = %q, want %q", tt.event.Type, got, tt.want)
		}
	}
}

func TestStorageBridgePublishes(t *testing.T) {
	mb := NewMemoryBus()
	defer mb.Close()

	received := make(chan *Message, 1)
	if _, err := mb.Subscribe(context.Background(), SubjectMacro+".>", func(msg *Message) []byte {
		received <- msg
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bridge := NewStorageBridge(mb, log.New(io.Discard, "", 0))
	bridge.HandleStorageEvent(storage.Event{
		Type:         storage.EventMacroStarted,
		SessionToken: "tok",
		EntityID:     "M1",
		Data:         map[string]any{"worker": 2},
		Timestamp:    time.Now(),
	})

	select {
	case msg := <-received:
		if msg.Subject != "intest.macro.tok.M1" {
			t.Errorf("subject = %q", msg.Subject)
		}
		var payload EventPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.Type != storage.EventMacroStarted || payload.EntityID != "M1" {
			t.Errorf("unexpected payload %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("bridge did not publish")
	}
}

func TestStorageBridgeClosedBusIsQuiet(t *testing.T) {
	mb := NewMemoryBus()
	mb.Close()
	bridge := NewStorageBridge(mb, log.New(io.Discard, "", 0))
	bridge.HandleStorageEvent(storage.Event{Type: storage.EventWorkerUpdated, EntityID: "1"})

	var nilBridge *StorageBridge
	nilBridge.HandleStorageEvent(storage.Event{})
}
