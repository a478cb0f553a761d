package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/intest/pkg/macro"
)

// MacroRecord is one submitted macro execution.
type MacroRecord struct {
	ID                int64         `json:"-"`
	SessionToken      string        `json:"sessionToken"`
	MacroID           string        `json:"macroId"`
	Entries           []macro.Entry `json:"entries"`
	Status            macro.Status  `json:"status"`
	Message           string        `json:"message,omitempty"`
	Record            bool          `json:"record"`
	RecordPath        string        `json:"recordPath,omitempty"`
	Log               bool          `json:"log"`
	LogPath           string        `json:"logPath,omitempty"`
	RecordingArtifact string        `json:"recordingArtifact,omitempty"`
	LogArtifact       string        `json:"logArtifact,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	StartedAt         *time.Time    `json:"startedAt,omitempty"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty"`
}

// CreateMacro stores a new macro in status pending.
func (s *Store) CreateMacro(ctx context.Context, rec *MacroRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rec == nil || rec.SessionToken == "" || rec.MacroID == "" {
		return fmt.Errorf("create macro: session token and macro id are required")
	}
	entriesJSON, err := macro.EncodeEntries(rec.Entries)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.Status = macro.StatusPending

	err = s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO macros (session_token, macro_id, entries_json, status, record_flag, record_path,
			                    log_flag, log_path, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.SessionToken,
			rec.MacroID,
			entriesJSON,
			string(rec.Status),
			rec.Record,
			rec.RecordPath,
			rec.Log,
			rec.LogPath,
			rec.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		rec.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMacro
		}
		return fmt.Errorf("create macro: %w", err)
	}
	s.notify(newEvent(EventMacroCreated, rec.SessionToken, rec.MacroID, nil))
	return nil
}

const macroColumns = `id, session_token, macro_id, entries_json, status, message, record_flag, record_path,
	log_flag, log_path, recording_artifact, log_artifact, created_at, started_at, completed_at`

func scanMacro(scanner interface{ Scan(...any) error }) (*MacroRecord, error) {
	var (
		rec         MacroRecord
		entriesJSON string
		status      string
		createdAt   sql.NullInt64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.SessionToken,
		&rec.MacroID,
		&entriesJSON,
		&status,
		&rec.Message,
		&rec.Record,
		&rec.RecordPath,
		&rec.Log,
		&rec.LogPath,
		&rec.RecordingArtifact,
		&rec.LogArtifact,
		&createdAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	entries, err := macro.DecodeEntries(entriesJSON)
	if err != nil {
		return nil, err
	}
	rec.Entries = entries
	rec.Status = macro.Status(status)
	rec.CreatedAt = fromMillis(createdAt)
	if t := fromMillis(startedAt); !t.IsZero() {
		rec.StartedAt = &t
	}
	if t := fromMillis(completedAt); !t.IsZero() {
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// GetMacro returns the macro for (token, macroID).
func (s *Store) GetMacro(ctx context.Context, token, macroID string) (*MacroRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+macroColumns+` FROM macros WHERE session_token = ? AND macro_id = ?`,
		token, macroID,
	)
	rec, err := scanMacro(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMacroNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get macro %s: %w", macroID, err)
	}
	return rec, nil
}

// ListMacros returns every macro of a session in submission order.
func (s *Store) ListMacros(ctx context.Context, token string) ([]MacroRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+macroColumns+` FROM macros WHERE session_token = ? ORDER BY id`,
		token,
	)
	if err != nil {
		return nil, fmt.Errorf("list macros: %w", err)
	}
	defer rows.Close()

	var out []MacroRecord
	for rows.Next() {
		rec, err := scanMacro(rows)
		if err != nil {
			return nil, fmt.Errorf("scan macro: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CountMacros returns the number of macros per status.
func (s *Store) CountMacros(ctx context.Context) (map[macro.Status]int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM macros GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count macros: %w", err)
	}
	defer rows.Close()

	out := make(map[macro.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[macro.Status(status)] = n
	}
	return out, rows.Err()
}

// MarkMacroRunning moves a pending macro to running and stamps startedAt.
func (s *Store) MarkMacroRunning(ctx context.Context, token, macroID string, at time.Time) error {
	return s.transitionMacro(ctx, token, macroID, macro.StatusRunning, "", at, EventMacroStarted)
}

// FinishMacro moves a pending or running macro to a terminal status and
// stamps completedAt. Finished macros are immutable: a second call returns
// ErrStaleTransition.
func (s *Store) FinishMacro(ctx context.Context, token, macroID string, status macro.Status, message string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finish macro: %q is not terminal", status)
	}
	return s.transitionMacro(ctx, token, macroID, status, message, at, EventMacroFinished)
}

func (s *Store) transitionMacro(ctx context.Context, token, macroID string, to macro.Status, message string, at time.Time, event EventType) error {
	if err := s.ready(); err != nil {
		return err
	}
	if at.IsZero() {
		at = s.now()
	}

	// Only statuses from which `to` is reachable qualify.
	var from []any
	for _, st := range []macro.Status{macro.StatusPending, macro.StatusRunning} {
		if macro.CanTransition(st, to) {
			from = append(from, string(st))
		}
	}
	if len(from) == 0 {
		return ErrStaleTransition
	}

	var query string
	args := []any{string(to)}
	if to == macro.StatusRunning {
		query = `UPDATE macros SET status = ?, started_at = ?`
		args = append(args, at.UnixMilli())
	} else {
		// A macro that fails before it was marked running still gets both stamps.
		query = `UPDATE macros SET status = ?, message = ?, completed_at = ?, started_at = COALESCE(started_at, ?)`
		args = append(args, message, at.UnixMilli(), at.UnixMilli())
	}
	query += ` WHERE session_token = ? AND macro_id = ? AND status IN (?` + strings.Repeat(", ?", len(from)-1) + `)`
	args = append(args, token, macroID)
	args = append(args, from...)

	var affected int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update macro %s: %w", macroID, err)
	}
	if affected == 0 {
		if _, err := s.GetMacro(ctx, token, macroID); err != nil {
			return err
		}
		return ErrStaleTransition
	}
	s.notify(newEvent(event, token, macroID, to))
	return nil
}

// SetMacroArtifacts records artifact names. Allowed after the macro
// finished; empty names leave the stored value unchanged.
func (s *Store) SetMacroArtifacts(ctx context.Context, token, macroID, recording, logName string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if recording == "" && logName == "" {
		return nil
	}
	var affected int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE macros
			SET recording_artifact = CASE WHEN ? != '' THEN ? ELSE recording_artifact END,
			    log_artifact = CASE WHEN ? != '' THEN ? ELSE log_artifact END
			WHERE session_token = ? AND macro_id = ?
		`, recording, recording, logName, logName, token, macroID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("set macro artifacts: %w", err)
	}
	if affected == 0 {
		return ErrMacroNotFound
	}
	s.notify(newEvent(EventMacroArtifacts, token, macroID, nil))
	return nil
}
