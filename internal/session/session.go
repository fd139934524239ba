package session

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// Session is the server-side record behind an access token. Revocation and
// MFA gating live here; the token itself only names the row.
//
// MFAPending sessions exist between a successful password check and a
// successful TOTP code: they carry no token and grant nothing.
type Session struct {
	ID            string
	TenantID      string
	UserID        string
	SecurityStamp string // stamp the user had at issuance
	MFAPending    bool
	Revoked       bool
	IPAddress     string
	UserAgent     string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	LastSeenAt    time.Time
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsIdle checks if the session has been idle for too long
func (s *Session) IsIdle(idleTimeout time.Duration) bool {
	return time.Since(s.LastSeenAt) > idleTimeout
}

// Repository defines the interface for session persistence
type Repository interface {
	// Create creates a new session
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by ID
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Update updates session state (last seen, MFA gate, revocation)
	Update(ctx context.Context, session *Session) error

	// Delete deletes a session
	Delete(ctx context.Context, sessionID string) error

	// RevokeByUserID marks all of a user's sessions revoked
	RevokeByUserID(ctx context.Context, userID string) error

	// DeleteExpired deletes expired and stale pending sessions, returning
	// how many rows went away
	DeleteExpired(ctx context.Context) (int64, error)
}
