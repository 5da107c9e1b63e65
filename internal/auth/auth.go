// Package auth covers session authentication for the token issuance
// endpoints: bcrypt password hashing and opaque server-side sessions.
// Image access tokens are a separate mechanism (internal/token); sessions
// are stateful so logout can revoke immediately, image tokens are not.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/raakeshmj/imagegate/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSession          = errors.New("no valid session")
)

// SessionTTL is how long a login lasts. Session cookies and the stored
// session share this lifetime.
const SessionTTL = 7 * 24 * time.Hour

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SessionManager issues and resolves opaque session IDs.
type SessionManager struct {
	sessions store.SessionRepository
	ttl      time.Duration
}

func NewSessionManager(sessions store.SessionRepository, ttl time.Duration) *SessionManager {
	return &SessionManager{sessions: sessions, ttl: ttl}
}

func (m *SessionManager) Create(ctx context.Context, userID string) (*store.Session, error) {
	now := time.Now()
	s := &store.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.sessions.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Resolve maps a session ID to its user ID. Expired and unknown sessions
// both come back as ErrNoSession.
func (m *SessionManager) Resolve(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrNoSession
	}
	s, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", ErrNoSession
	}
	return s.UserID, nil
}

func (m *SessionManager) Destroy(ctx context.Context, sessionID string) error {
	return m.sessions.DeleteSession(ctx, sessionID)
}
