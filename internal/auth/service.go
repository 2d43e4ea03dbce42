package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/salespulse/salespulse/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenManager
	logger *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, tokens: tokens, logger: logger}
}

// Authenticate validates email/password credentials. Unknown, inactive and
// mismatching accounts are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return TokenResponse{}, err
	}
	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return TokenResponse{}, err
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("touch last login", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	return TokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}
