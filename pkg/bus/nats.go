package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes the bus subjects on a NATS server so processes outside
// intest can follow the pool.
type NATSBus struct {
	conn   *nats.Conn
	closed atomic.Bool
}

// NewNATSBus connects to cfg.URL. The connection reconnects forever; a
// broker restart never stops the pool.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.DrainTimeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	return &NATSBus{conn: conn}, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub, err := b.conn.Subscribe(subject, func(in *nats.Msg) {
		reply := handler(&Message{Subject: in.Subject, Data: in.Data, ReplyTo: in.Reply})
		if len(reply) > 0 && in.Reply != "" {
			_ = in.Respond(reply)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return natsSubscription{sub}, nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := b.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, requestError(err)
	}
	return msg.Data, nil
}

// requestError maps client errors onto the bus sentinels.
func requestError(err error) error {
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return ErrNoResponders
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, nats.ErrConnectionClosed):
		return ErrClosed
	}
	return err
}

// Close drains the connection so events published during teardown still
// reach the server.
func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s natsSubscription) Subject() string {
	return s.sub.Subject
}
