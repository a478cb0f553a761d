package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/intest/pkg/macro"
)

// WorkerRecord is the externally visible state of one pool slot.
type WorkerRecord struct {
	ID           int          `json:"id"`
	UnitID       string       `json:"unitId"`
	Status       macro.Status `json:"status"`
	Action       macro.Action `json:"action"`
	Message      string       `json:"message,omitempty"`
	MacroID      string       `json:"macroId,omitempty"`
	SessionToken string       `json:"sessionToken,omitempty"`
	Claimed      bool         `json:"claimed"`
	Exited       bool         `json:"exited"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Idle reports whether the dispatcher may hand this worker a task.
func (w WorkerRecord) Idle() bool {
	return !w.Exited && !w.Claimed && w.Status.Idle()
}

// WorkerReport is what a worker reports on each transition.
type WorkerReport struct {
	ID           int
	Status       macro.Status
	Action       macro.Action
	Message      string
	MacroID      string
	SessionToken string
}

// ResetWorkers clears every worker record. Called once at pool startup.
func (s *Store) ResetWorkers(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM workers`)
		return err
	})
}

// InsertWorker creates the record for slot id in status pending, action
// init. The record starts claimed: the init task is already on its way.
func (s *Store) InsertWorker(ctx context.Context, id int, unitID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	now := s.now()
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO workers (id, unit_id, status, action, claimed, exited, updated_at)
			VALUES (?, ?, ?, ?, 1, 0, ?)
			ON CONFLICT(id) DO UPDATE SET
				unit_id = excluded.unit_id,
				status = excluded.status,
				action = excluded.action,
				message = '',
				macro_id = '',
				session_token = '',
				claimed = 1,
				exited = 0,
				updated_at = excluded.updated_at
		`, id, unitID, string(macro.StatusPending), string(macro.ActionInit), now.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("insert worker %d: %w", id, err)
	}
	s.notify(newEvent(EventWorkerInserted, "", id, unitID))
	return nil
}

// UpdateWorker applies a worker report and releases any dispatch claim.
func (s *Store) UpdateWorker(ctx context.Context, report WorkerReport) error {
	if err := s.ready(); err != nil {
		return err
	}
	var affected int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE workers
			SET status = ?, action = ?, message = ?, macro_id = ?, session_token = ?,
			    claimed = 0, updated_at = ?
			WHERE id = ?
		`,
			string(report.Status),
			string(report.Action),
			report.Message,
			report.MacroID,
			report.SessionToken,
			s.now().UnixMilli(),
			report.ID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update worker %d: %w", report.ID, err)
	}
	if affected == 0 {
		return ErrWorkerNotFound
	}
	s.notify(newEvent(EventWorkerUpdated, report.SessionToken, report.ID, report))
	return nil
}

// MarkWorkerExited flags a slot whose worker goroutine is gone. The status
// it last reported is kept.
func (s *Store) MarkWorkerExited(ctx context.Context, id int, message string) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE workers SET exited = 1, claimed = 0, message = ?, updated_at = ? WHERE id = ?
		`, message, s.now().UnixMilli(), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark worker %d exited: %w", id, err)
	}
	return nil
}

// ClaimIdleWorker atomically claims the lowest-numbered idle worker and
// returns its id. ok is false when no worker is idle. The select and the
// status change happen in one conditional update, so two dispatch passes
// can never claim the same worker.
func (s *Store) ClaimIdleWorker(ctx context.Context) (id int, ok bool, err error) {
	if err := s.ready(); err != nil {
		return 0, false, err
	}
	err = s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			UPDATE workers
			SET status = ?, claimed = 1, updated_at = ?
			WHERE id = (
				SELECT id FROM workers
				WHERE status IN (?, ?) AND claimed = 0 AND exited = 0
				ORDER BY id LIMIT 1
			) AND claimed = 0
			RETURNING id
		`,
			string(macro.StatusPending),
			s.now().UnixMilli(),
			string(macro.StatusPending),
			string(macro.StatusCompleted),
		)
		return row.Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("claim worker: %w", err)
	}
	s.notify(newEvent(EventWorkerClaimed, "", id, nil))
	return id, true, nil
}

// ReleaseClaim drops a claim that could not be followed by a send.
func (s *Store) ReleaseClaim(ctx context.Context, id int) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE workers SET claimed = 0 WHERE id = ?`, id)
		return err
	})
}

const workerColumns = `id, unit_id, status, action, message, macro_id, session_token, claimed, exited, updated_at`

func scanWorker(scanner interface{ Scan(...any) error }) (*WorkerRecord, error) {
	var (
		rec       WorkerRecord
		status    string
		action    string
		claimed   int
		exited    int
		updatedAt sql.NullInt64
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.UnitID,
		&status,
		&action,
		&rec.Message,
		&rec.MacroID,
		&rec.SessionToken,
		&claimed,
		&exited,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = macro.Status(status)
	rec.Action = macro.Action(action)
	rec.Claimed = claimed != 0
	rec.Exited = exited != 0
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// GetWorker returns the record for slot id.
func (s *Store) GetWorker(ctx context.Context, id int) (*WorkerRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	rec, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker %d: %w", id, err)
	}
	return rec, nil
}

// ListWorkers returns every worker record in slot order.
func (s *Store) ListWorkers(ctx context.Context) ([]WorkerRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []WorkerRecord
	for rows.Next() {
		rec, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
