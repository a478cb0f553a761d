package storage

import (
	"context"
	"sync"
	"time"

	"github.com/odvcencio/intest/pkg/logging"
)

// BatchWriter batches protocol events and flushes them when the batch is
// full or maxWait has passed since the first buffered event. It satisfies
// logging.Sink, so a Logger can write through it instead of the Store.
//
// Usage:
//
//	writer := store.NewBatchWriter(100, 100*time.Millisecond)
//	defer writer.Close()
//	logger := logging.New(logging.Options{Sink: writer, Enabled: true})
//
// ListProtocol flushes first, so a dump always sees every event appended
// before it.
type BatchWriter struct {
	store   *Store
	batch   []logging.Event
	maxSize int
	maxWait time.Duration
	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
	flushed int
	onError func(error)
}

var _ logging.Sink = (*BatchWriter)(nil)

// NewBatchWriter creates a new batch writer with the specified batch size and
// maximum wait time.
func (s *Store) NewBatchWriter(maxSize int, maxWait time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 100
	}
	if maxWait <= 0 {
		maxWait = 100 * time.Millisecond
	}
	return &BatchWriter{
		store:   s,
		batch:   make([]logging.Event, 0, maxSize),
		maxSize: maxSize,
		maxWait: maxWait,
	}
}

// OnError sets the handler for failures of timer-driven flushes.
func (bw *BatchWriter) OnError(fn func(error)) {
	bw.mu.Lock()
	bw.onError = fn
	bw.mu.Unlock()
}

// AppendProtocol buffers event. If the batch reaches maxSize it is flushed
// immediately.
func (bw *BatchWriter) AppendProtocol(ctx context.Context, event logging.Event) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return ErrStoreClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	bw.batch = append(bw.batch, event)

	if len(bw.batch) >= bw.maxSize {
		return bw.flushLocked(ctx)
	}
	if len(bw.batch) == 1 {
		bw.startTimer()
	}
	return nil
}

// ListProtocol flushes pending events and reads from the store.
func (bw *BatchWriter) ListProtocol(ctx context.Context, token string) ([]logging.Event, error) {
	if err := bw.Flush(ctx); err != nil {
		return nil, err
	}
	return bw.store.ListProtocol(ctx, token)
}

// Flush manually flushes the current batch.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked(ctx)
}

// Close flushes any remaining events and rejects further appends.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	bw.closed = true
	return bw.flushLocked(context.Background())
}

// flushLocked must be called with the lock held.
func (bw *BatchWriter) flushLocked(ctx context.Context) error {
	if bw.timer != nil {
		bw.timer.Stop()
		bw.timer = nil
	}
	if len(bw.batch) == 0 {
		return nil
	}

	batch := bw.batch
	bw.batch = make([]logging.Event, 0, bw.maxSize)
	if err := bw.store.AppendProtocolBatch(ctx, batch); err != nil {
		return err
	}
	bw.flushed += len(batch)
	return nil
}

// startTimer must be called with the lock held.
func (bw *BatchWriter) startTimer() {
	if bw.timer != nil {
		bw.timer.Stop()
	}
	bw.timer = time.AfterFunc(bw.maxWait, func() {
		bw.mu.Lock()
		defer bw.mu.Unlock()
		if err := bw.flushLocked(context.Background()); err != nil && bw.onError != nil {
			bw.onError(err)
		}
	})
}

// BatchSize returns the current number of buffered events.
func (bw *BatchWriter) BatchSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.batch)
}

// FlushedCount returns the total number of events written so far.
func (bw *BatchWriter) FlushedCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushed
}
