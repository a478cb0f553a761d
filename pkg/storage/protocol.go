package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/odvcencio/intest/pkg/logging"
)

var _ logging.Sink = (*Store)(nil)

// AppendProtocol persists one log event for its session token.
func (s *Store) AppendProtocol(ctx context.Context, event logging.Event) error {
	return s.AppendProtocolBatch(ctx, []logging.Event{event})
}

// AppendProtocolBatch persists events in a single transaction.
func (s *Store) AppendProtocolBatch(ctx context.Context, events []logging.Event) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO protocol (session_token, timestamp, level, category, event_type, worker_id, macro_id, message, details_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, ev := range events {
			token := ev.SessionToken
			if token == "" {
				token = SystemToken
			}
			ts := ev.Timestamp
			if ts.IsZero() {
				ts = s.now()
			}
			var workerID any
			if ev.WorkerID != nil {
				workerID = *ev.WorkerID
			}
			var details any
			if len(ev.Details) > 0 {
				data, err := json.Marshal(ev.Details)
				if err != nil {
					return fmt.Errorf("encode details: %w", err)
				}
				details = string(data)
			}
			if _, err := stmt.ExecContext(ctx,
				token,
				ts.UnixMilli(),
				string(ev.Level),
				string(ev.Category),
				ev.EventType,
				workerID,
				ev.MacroID,
				ev.Message,
				details,
			); err != nil {
				return fmt.Errorf("append protocol: %w", err)
			}
		}
		return tx.Commit()
	})
}

// ListProtocol returns every event recorded for token, oldest first.
func (s *Store) ListProtocol(ctx context.Context, token string) ([]logging.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, level, category, event_type, worker_id, macro_id, message, details_json
		FROM protocol WHERE session_token = ? ORDER BY id
	`, token)
	if err != nil {
		return nil, fmt.Errorf("list protocol: %w", err)
	}
	defer rows.Close()

	var out []logging.Event
	for rows.Next() {
		var (
			ev       logging.Event
			ts       int64
			level    string
			category string
			workerID sql.NullInt64
			details  sql.NullString
		)
		if err := rows.Scan(&ts, &level, &category, &ev.EventType, &workerID, &ev.MacroID, &ev.Message, &details); err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts)
		ev.Level = logging.Level(level)
		ev.Category = logging.Category(category)
		ev.SessionToken = token
		if workerID.Valid {
			id := int(workerID.Int64)
			ev.WorkerID = &id
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
