package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/kinoteka/kinoteka/internal/shared"
)

// Service handles authentication flows.
type Service struct {
	repo   Repository
	tokens *Tokens
}

// NewService creates a Service instance.
func NewService(repo Repository, tokens *Tokens) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// Authenticate checks the credentials and issues a bearer token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Token, error) {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Token{}, shared.ErrInvalidCredentials
		}
		return Token{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Token{}, shared.ErrInvalidCredentials
	}
	if !account.Active() {
		return Token{}, shared.ErrInactiveAccount
	}
	return s.tokens.Issue(account.ID)
}

// Resolve verifies the token and loads the current actor behind it.
func (s *Service) Resolve(ctx context.Context, raw string) (shared.Actor, error) {
	id, err := s.tokens.Verify(raw)
	if err != nil {
		return shared.Actor{}, err
	}
	actor, err := s.repo.LoadActor(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Actor{}, ErrInvalidToken
		}
		return shared.Actor{}, err
	}
	if !actor.Active {
		return shared.Actor{}, shared.ErrInactiveAccount
	}
	return actor, nil
}
