// Package auth issues and validates bearer tokens, and owns the single
// admin credential.
package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

// InvalidReason classifies why a token failed validation, so the HTTP edge
// can decide on headers/messages without re-deriving the reason.
type InvalidReason string

const (
	ReasonMalformed          InvalidReason = "malformed"
	ReasonExpired            InvalidReason = "expired"
	ReasonBootMismatch       InvalidReason = "token-boot-mismatch"
	ReasonRevoked            InvalidReason = "revoked"
	ReasonMissingClaims      InvalidReason = "missing-claims"
	ReasonInvalidCredentials InvalidReason = "invalid-credentials"
)

// TokenError wraps an InvalidReason as an error the HTTP edge can inspect.
type TokenError struct {
	Reason InvalidReason
	cause  error
}

func (e *TokenError) Error() string {
	if e.cause != nil {
		return string(e.Reason) + ": " + e.cause.Error()
	}
	return string(e.Reason)
}

func (e *TokenError) Unwrap() error { return e.cause }

// claims is the JWT payload shape this gateway issues.
type claims struct {
	jwt.RegisteredClaims
	BootID string `json:"bid"`
}

// Principal is the result of successfully validating a token.
type Principal struct {
	Subject string
	JTI     string
	Expires time.Time
}

// Store issues tokens, validates them against the revocation deny-list,
// and manages the single admin credential.
type Store struct {
	db            *sql.DB
	secretKey     string
	tokenTTL      time.Duration
	bootID        string
	defaultUser   string
	defaultPasswd string
	clock         clockwork.Clock
}

// Config configures a new Store.
type Config struct {
	DB              *sql.DB
	SecretKey       string
	TokenTTL        time.Duration
	DefaultUsername string
	DefaultPassword string
	Clock           clockwork.Clock
}

// New constructs a Store with a fresh boot id, invalidating every
// previously issued token the instant the process restarts.
func New(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, trace.BadParameter("db is required")
	}
	if cfg.SecretKey == "" {
		return nil, trace.BadParameter("secret key is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 8 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Store{
		db:            cfg.DB,
		secretKey:     cfg.SecretKey,
		tokenTTL:      cfg.TokenTTL,
		bootID:        uuid.NewString(),
		defaultUser:   cfg.DefaultUsername,
		defaultPasswd: cfg.DefaultPassword,
		clock:         cfg.Clock,
	}, nil
}

// BootID returns the process boot id embedded in every issued token.
func (s *Store) BootID() string { return s.bootID }

// Issue mints a new signed token for subject.
func (s *Store) Issue(subject string) (token string, expiresAt time.Time, err error) {
	now := s.clock.Now().UTC()
	expiresAt = now.Add(s.tokenTTL)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		BootID: s.bootID,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString([]byte(s.secretKey))
	if err != nil {
		return "", time.Time{}, trace.Wrap(err)
	}
	return signed, expiresAt, nil
}

func (s *Store) parse(rawToken string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(rawToken, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, trace.BadParameter("unexpected signing method")
		}
		return []byte(s.secretKey), nil
	})
	if err != nil {
		reason := ReasonMalformed
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			reason = ReasonExpired
		}
		return nil, &TokenError{Reason: reason, cause: err}
	}
	if c.Subject == "" || c.ID == "" {
		return nil, &TokenError{Reason: ReasonMissingClaims}
	}
	return &c, nil
}

// Validate decodes and verifies rawToken per spec: signature, expiry,
// required claims, boot id, and the revocation deny-list, in that order.
func (s *Store) Validate(ctx context.Context, rawToken string) (*Principal, error) {
	c, err := s.parse(rawToken)
	if err != nil {
		return nil, err
	}
	if c.BootID != s.bootID {
		return nil, &TokenError{Reason: ReasonBootMismatch}
	}
	revoked, err := s.isRevoked(ctx, c.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if revoked {
		return nil, &TokenError{Reason: ReasonRevoked}
	}
	var expires time.Time
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.Time
	}
	return &Principal{Subject: c.Subject, JTI: c.ID, Expires: expires}, nil
}

// Refresh validates rawToken, revokes its jti, and issues a replacement.
func (s *Store) Refresh(ctx context.Context, rawToken string) (token string, expiresAt time.Time, err error) {
	p, err := s.Validate(ctx, rawToken)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.revoke(ctx, p.JTI, p.Expires); err != nil {
		return "", time.Time{}, trace.Wrap(err)
	}
	s.pruneExpiredRevocations(ctx)
	return s.Issue(p.Subject)
}

// Logout revokes the jti carried by rawToken. An unparseable token is
// accepted silently, matching the original's idempotent-logout contract.
func (s *Store) Logout(ctx context.Context, rawToken string) error {
	c, err := s.parse(rawToken)
	if err != nil {
		return nil
	}
	expires := s.clock.Now().UTC()
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.Time
	}
	return s.revoke(ctx, c.ID, expires)
}

func (s *Store) revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at, revoked_at) VALUES (?, ?, ?)
		 ON CONFLICT(jti) DO NOTHING`, jti, expiresAt, s.clock.Now().UTC())
	return err
}

func (s *Store) isRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`, jti).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) pruneExpiredRevocations(ctx context.Context) {
	// Best-effort; failures here are not load-bearing for the refresh that
	// triggered the prune.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, s.clock.Now().UTC())
}

// VerifyPassword checks password against the stored admin credential, or,
// if no row exists yet, against the configured default using a
// constant-time comparison.
func (s *Store) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hashed_password FROM admin_credentials WHERE username = ?`, username).Scan(&hash)
	if err == sql.ErrNoRows {
		if username != s.defaultUser {
			return false, nil
		}
		return subtle.ConstantTimeCompare([]byte(password), []byte(s.defaultPasswd)) == 1, nil
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// ChangePassword verifies currentPassword via VerifyPassword, then upserts
// a bcrypt hash of newPassword. newPassword must be at least 8 characters.
func (s *Store) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return trace.BadParameter("new password must be at least 8 characters")
	}
	ok, err := s.VerifyPassword(ctx, username, currentPassword)
	if err != nil {
		return trace.Wrap(err)
	}
	if !ok {
		return trace.AccessDenied("current password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO admin_credentials (username, hashed_password, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET hashed_password = excluded.hashed_password, updated_at = excluded.updated_at`,
		username, string(hash), s.clock.Now().UTC())
	return trace.Wrap(err)
}
