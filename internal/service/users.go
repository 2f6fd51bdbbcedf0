package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/Cypherspark/mailing/internal/cache"
	"github.com/Cypherspark/mailing/internal/core"
)

// Authenticate resolves the caller. Unknown ids are unauthenticated and
// blocked users are refused.
func (s *Service) Authenticate(ctx context.Context, userID int64) (core.User, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.User{}, core.ErrUnauthenticated
	}
	if err != nil {
		return core.User{}, err
	}
	if !u.IsActive {
		return core.User{}, core.ErrUserBlocked
	}
	return u, nil
}

func (s *Service) RegisterUser(ctx context.Context, email string) (core.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return core.User{}, err
	}
	u, err := s.repo.CreateUser(ctx, email, false)
	if err != nil {
		return core.User{}, err
	}
	s.invalidate(ctx, cache.UsersListKey, cache.UsersStatsKey)
	return u, nil
}

// HomeStats is the caller's dashboard.
func (s *Service) HomeStats(ctx context.Context, a core.Actor) (core.HomeStats, error) {
	return cached(ctx, s, cache.HomeStatsKey(a.UserID), cache.HomeStatsTTL, func() (core.HomeStats, error) {
		return s.repo.HomeStats(ctx, a.UserID)
	})
}

func normalizeEmail(v string) (string, error) {
	v = strings.TrimSpace(v)
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return "", fmt.Errorf("%w: invalid email %q", core.ErrValidation, v)
	}
	return strings.ToLower(v), nil
}
