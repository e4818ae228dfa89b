// Package session holds the bearer token and user profile of the signed-in
// user for the lifetime of the client session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/logging"
)

// User is the minimal profile returned by the backend at login.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

// Credentials is what the store persists.
type Credentials struct {
	Token     string    `json:"token"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// Store is the explicit session context handed to the API client. It is
// created at login and invalidated at logout or on a 401 response.
type Store struct {
	backend Backend
	key     string
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore returns a store persisting under the given profile name.
func NewStore(backend Backend, profile string, logger *zap.Logger) *Store {
	if profile == "" {
		profile = "default"
	}
	return &Store{
		backend: backend,
		key:     fmt.Sprintf("kyc:session:%s", profile),
		logger:  logger.Named("session_store"),
		now:     time.Now,
	}
}

// Save persists a token and profile. JWT tokens expire with their exp claim.
func (s *Store) Save(ctx context.Context, token string, user User) error {
	if token == "" {
		return errors.New("session: empty token")
	}
	creds := Credentials{Token: token, User: user, SavedAt: s.now().UTC()}

	var ttl time.Duration
	if exp, ok := tokenExpiry(token); ok {
		creds.ExpiresAt = exp
		ttl = exp.Sub(s.now())
		if ttl <= 0 {
			return errors.New("session: token already expired")
		}
	}

	payload, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, s.key, string(payload), ttl); err != nil {
		return logging.NewOperationError("session.save", "", err)
	}
	s.logger.Info("session saved", zap.String("user_id", user.ID), zap.Time("expires_at", creds.ExpiresAt))
	return nil
}

// Credentials returns the stored credentials, false when signed out.
func (s *Store) Credentials(ctx context.Context) (*Credentials, bool) {
	raw, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to read session", zap.Error(err))
		}
		return nil, false
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		s.logger.Warn("discarding undecodable session", zap.Error(err))
		s.discard(ctx)
		return nil, false
	}
	if !creds.ExpiresAt.IsZero() && !s.now().Before(creds.ExpiresAt) {
		s.logger.Info("session expired", zap.Time("expires_at", creds.ExpiresAt))
		s.discard(ctx)
		return nil, false
	}
	return &creds, true
}

// Token returns the bearer token when signed in.
func (s *Store) Token(ctx context.Context) (string, bool) {
	creds, ok := s.Credentials(ctx)
	if !ok {
		return "", false
	}
	return creds.Token, true
}

// User returns the signed-in profile.
func (s *Store) User(ctx context.Context) (*User, bool) {
	creds, ok := s.Credentials(ctx)
	if !ok {
		return nil, false
	}
	return &creds.User, true
}

// Clear removes the stored token and profile.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Del(ctx, s.key); err != nil {
		return logging.NewOperationError("session.clear", "", err)
	}
	s.logger.Info("session cleared")
	return nil
}

func (s *Store) discard(ctx context.Context) {
	if err := s.Clear(ctx); err != nil {
		s.logger.Error("failed to clear session", zap.Error(err))
	}
}

// tokenExpiry reads the exp claim without verifying the signature: the
// client never holds the signing key. Opaque tokens have no expiry.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
