package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/intest/pkg/logging"
)

// SystemToken is the session that system-level protocol entries belong to.
const SystemToken = logging.SystemToken

// Session is one authenticated client job. Sessions are never mutated after
// creation.
type Session struct {
	Token     string    `json:"token"`
	JobNumber int       `json:"jobNumber"`
	System    string    `json:"system"`
	Operator  string    `json:"operator"`
	Tenant    string    `json:"tenant"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the session is past its expiry at now. The system
// session never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// CreateSession stores a freshly issued session.
func (s *Store) CreateSession(ctx context.Context, session *Session) error {
	if err := s.ready(); err != nil {
		return err
	}
	if session == nil || strings.TrimSpace(session.Token) == "" {
		return fmt.Errorf("create session: token is required")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (token, job_number, system, operator, tenant, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			session.Token,
			session.JobNumber,
			session.System,
			session.Operator,
			session.Tenant,
			session.ExpiresAt.UnixMilli(),
			session.CreatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("create session: %w", err)
	}

	clone := *session
	s.notify(newEvent(EventSessionCreated, session.Token, session.JobNumber, clone))
	return nil
}

// GetSession returns the session for token regardless of expiry.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		session   Session
		expiresAt int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, job_number, system, operator, tenant, expires_at, created_at
		FROM sessions WHERE token = ?
	`, token).Scan(
		&session.Token,
		&session.JobNumber,
		&session.System,
		&session.Operator,
		&session.Tenant,
		&expiresAt,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if expiresAt > 0 {
		session.ExpiresAt = time.UnixMilli(expiresAt)
	}
	session.CreatedAt = time.UnixMilli(createdAt)
	return &session, nil
}

// ValidSession returns the session for token if it exists and has not
// expired at now. Expired rows are left in place.
func (s *Store) ValidSession(ctx context.Context, token string, now time.Time) (*Session, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Expired(now) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// CleanupExpiredSessions deletes sessions that expired before now together
// with their macros and protocol. It returns the number of sessions removed.
func (s *Store) CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var removed int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE expires_at > 0 AND expires_at <= ?`,
			now.UnixMilli(),
		)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	if removed > 0 {
		s.notify(newEvent(EventSessionsPurged, "", nil, removed))
	}
	return removed, nil
}
