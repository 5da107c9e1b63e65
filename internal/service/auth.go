package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raakeshmj/imagegate/internal/auth"
	"github.com/raakeshmj/imagegate/internal/store"
)

// AuthService backs the login/register/logout endpoints and resolves
// session cookies for the token issuance handlers.
type AuthService struct {
	users    store.UserRepository
	sessions *auth.SessionManager
}

func NewAuthService(users store.UserRepository, sessions *auth.SessionManager) *AuthService {
	return &AuthService{users: users, sessions: sessions}
}

func (s *AuthService) Register(ctx context.Context, username, email, password string) (*store.User, *store.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 6 {
		return nil, nil, auth.ErrInvalidCredentials
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, nil, err
	}

	session, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*store.User, *store.Session, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		// Burn a bcrypt comparison anyway so a missing user and a wrong
		// password take comparable time.
		auth.CheckPasswordHash(password, "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0G1C5y8mC0FJbexn0vYobkxhGhe")
		return nil, nil, auth.ErrInvalidCredentials
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, nil, auth.ErrInvalidCredentials
	}

	session, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Destroy(ctx, sessionID)
}

// ResolveSession maps a session cookie to its user. The user record is
// re-checked so a deleted account cannot keep minting image tokens from
// an old cookie.
func (s *AuthService) ResolveSession(ctx context.Context, sessionID string) (*store.User, error) {
	userID, err := s.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, auth.ErrNoSession
	}
	return user, nil
}
