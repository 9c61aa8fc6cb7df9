// Package auth orchestrates login, registration, and logout against the
// users API and the session store.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskdeck-dev/taskdeck/internal/api"
	"github.com/taskdeck-dev/taskdeck/internal/session"
)

// Service performs the login/logout flows
type Service struct {
	api   *api.Client
	store *session.Store
	log   zerolog.Logger
}

// New creates an auth Service
func New(apiClient *api.Client, store *session.Store, log zerolog.Logger) *Service {
	return &Service{
		api:   apiClient,
		store: store,
		log:   log,
	}
}

// Login authenticates by email. When the user does not exist it returns
// api.ErrUserNotFound so the caller can offer registration. The users
// endpoint is the contract's only token issuer, so a successful login
// re-posts the known user to obtain a fresh token pair.
func (s *Service) Login(ctx context.Context, email string) (*session.User, error) {
	if _, err := s.api.GetUserByEmail(ctx, email); err != nil {
		return nil, err
	}
	return s.establish(ctx, email)
}

// Register creates the user and logs it in
func (s *Service) Register(ctx context.Context, email string) (*session.User, error) {
	return s.establish(ctx, email)
}

// Logout clears the session and its persisted snapshot
func (s *Service) Logout() {
	s.store.Clear()
	s.log.Debug().Msg("Session cleared")
}

// establish obtains a token pair for email and installs the session
func (s *Service) establish(ctx context.Context, email string) (*session.User, error) {
	user, tokens, err := s.api.CreateUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain credentials: %w", err)
	}

	now := time.Now()
	s.store.SetSession(session.Session{
		User:            user,
		AccessToken:     tokens.AccessToken,
		RefreshToken:    tokens.RefreshToken,
		IsAuthenticated: true,
		LoginTime:       now,
		LastActivity:    now,
	})

	s.log.Debug().Str("email", email).Msg("Session established")
	return user, nil
}
