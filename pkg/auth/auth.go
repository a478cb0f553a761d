// Package auth issues session tokens and checks them against the session
// store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/storage"
)

var (
	ErrNoToken        = errors.New("no authentication token provided")
	ErrInvalidToken   = errors.New("invalid authentication token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionExists  = errors.New("session already exists")
)

// Params identify the client job a token is issued for.
type Params struct {
	System    string
	JobNumber int
	Operator  string
	Tenant    string
}

// ParseParams validates raw path values. The error lists every missing
// field.
func ParseParams(system, job, operator, tenant string) (Params, error) {
	p := Params{
		System:   strings.TrimSpace(system),
		Operator: strings.TrimSpace(operator),
		Tenant:   strings.TrimSpace(tenant),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(job)); err == nil && n > 0 {
		p.JobNumber = n
	}

	var missing []string
	if p.System == "" {
		missing = append(missing, "system")
	}
	if p.JobNumber == 0 {
		missing = append(missing, "job")
	}
	if p.Operator == "" {
		missing = append(missing, "operator")
	}
	if p.Tenant == "" {
		missing = append(missing, "tenant")
	}
	if len(missing) > 0 {
		return p, apperrors.New(apperrors.ErrCodeInvalidInput, strings.Join(missing, " ")+" is missing").
			WithContext("missing", missing)
	}
	return p, nil
}

// Claims are the JWT claims of a session token.
type Claims struct {
	System    string `json:"sys"`
	JobNumber int    `json:"job"`
	Operator  string `json:"op"`
	Tenant    string `json:"tenant"`
	jwt.RegisteredClaims
}

// SessionStore is the part of the store auth needs.
type SessionStore interface {
	CreateSession(ctx context.Context, session *storage.Session) error
	ValidSession(ctx context.Context, token string, now time.Time) (*storage.Session, error)
}

// Issuer signs HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. ttl is the lifetime of every token.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source used for issuing and verifying.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

// Issue signs a token for p. Tokens carry no random id: the same
// parameters issued within the same second yield the same token.
func (i *Issuer) Issue(p Params) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := &Claims{
		System:    p.System,
		JobNumber: p.JobNumber,
		Operator:  p.Operator,
		Tenant:    p.Tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks the signature and expiry of token.
func (i *Issuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate issues a token for p and stores its session.
func (i *Issuer) Authenticate(ctx context.Context, store SessionStore, p Params) (*storage.Session, error) {
	token, expires, err := i.Issue(p)
	if err != nil {
		return nil, err
	}
	session := &storage.Session{
		Token:     token,
		JobNumber: p.JobNumber,
		System:    p.System,
		Operator:  p.Operator,
		Tenant:    p.Tenant,
		ExpiresAt: expires,
		CreatedAt: i.now(),
	}
	if err := store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, storage.ErrSessionExists) {
			return nil, ErrSessionExists
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "create session")
	}
	return session, nil
}

// Check resolves token to a live session. Unknown and expired sessions are
// rejected with ErrCodeUnauthorized or ErrCodeSessionExpired; nothing is
// written.
func Check(ctx context.Context, store SessionStore, token string, now time.Time) (*storage.Session, error) {
	if token == "" {
		return nil, apperrors.Wrap(ErrNoToken, apperrors.ErrCodeUnauthorized, "unauthorized")
	}
	session, err := store.ValidSession(ctx, token, now)
	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, storage.ErrSessionExpired):
		return nil, apperrors.Wrap(ErrExpiredToken, apperrors.ErrCodeSessionExpired, "session expired")
	case errors.Is(err, storage.ErrSessionNotFound):
		return nil, apperrors.Wrap(ErrUnknownSession, apperrors.ErrCodeUnauthorized, "unauthorized")
	default:
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "read session")
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
