package identity

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Service errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// adminSubject is the single admin principal this service knows about.
const adminSubject = "admin"

// Service authenticates the admin operator against a bcrypt password
// hash from configuration and issues API tokens.
type Service struct {
	passwordHash []byte
	auth         *Authenticator
}

// NewService creates an identity service.
func NewService(passwordHash string, auth *Authenticator) (*Service, error) {
	if passwordHash == "" {
		return nil, errors.New("identity: admin password hash is required")
	}
	// Catch a malformed hash at startup rather than on first login.
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte("probe")); err != nil &&
		!errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return nil, errors.New("identity: admin password hash is not a valid bcrypt hash")
	}

	return &Service{
		passwordHash: []byte(passwordHash),
		auth:         auth,
	}, nil
}

// Login checks the admin password and returns a fresh token.
func (s *Service) Login(_ context.Context, password string) (string, time.Time, error) {
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.auth.IssueToken(adminSubject)
}

// ValidateToken validates an API token and returns its subject. It
// satisfies the httputil.TokenValidator interface for middleware wiring.
func (s *Service) ValidateToken(ctx context.Context, token string) (string, error) {
	return s.auth.ValidateToken(ctx, token)
}
