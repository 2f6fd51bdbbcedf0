package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Cypherspark/mailing/internal/cache"
	"github.com/Cypherspark/mailing/internal/core"
)

func validateMessage(in core.MessageInput) (core.MessageInput, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	if in.Subject == "" {
		return in, fmt.Errorf("%w: subject is required", core.ErrValidation)
	}
	if strings.TrimSpace(in.Body) == "" {
		return in, fmt.Errorf("%w: body is required", core.ErrValidation)
	}
	return in, nil
}

func (s *Service) CreateMessage(ctx context.Context, a core.Actor, in core.MessageInput) (core.Message, error) {
	in, err := validateMessage(in)
	if err != nil {
		return core.Message{}, err
	}
	return s.repo.CreateMessage(ctx, ptr(a.UserID), in)
}

func (s *Service) GetMessage(ctx context.Context, a core.Actor, id int64) (core.Message, error) {
	m, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return core.Message{}, err
	}
	res := core.Resource{Kind: core.KindMessage, ID: m.ID, OwnerID: m.OwnerID}
	if err := core.Authorize(ctx, a, res, s.repo); err != nil {
		return core.Message{}, err
	}
	return m, nil
}

func (s *Service) UpdateMessage(ctx context.Context, a core.Actor, id int64, in core.MessageInput) (core.Message, error) {
	if _, err := s.GetMessage(ctx, a, id); err != nil {
		return core.Message{}, err
	}
	in, err := validateMessage(in)
	if err != nil {
		return core.Message{}, err
	}
	return s.repo.UpdateMessage(ctx, id, in)
}

// DeleteMessage cascades to the campaigns that use it.
func (s *Service) DeleteMessage(ctx context.Context, a core.Actor, id int64) error {
	if _, err := s.GetMessage(ctx, a, id); err != nil {
		return err
	}
	owners, err := s.repo.OwnersReferencing(ctx, core.KindMessage, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteMessage(ctx, id); err != nil {
		return err
	}
	for _, o := range owners {
		s.invalidateOwner(ctx, ptr(o))
	}
	if len(owners) > 0 {
		s.invalidate(ctx, cache.UsersListKey)
	}
	return nil
}

func (s *Service) ListMessages(ctx context.Context, a core.Actor) ([]core.Message, error) {
	return s.repo.ListMessages(ctx, visibility(a))
}
