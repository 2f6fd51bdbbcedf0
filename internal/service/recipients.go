package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Cypherspark/mailing/internal/core"
)

func validateRecipient(in core.RecipientInput) (core.RecipientInput, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return in, err
	}
	in.Email = email
	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		return in, fmt.Errorf("%w: full_name is required", core.ErrValidation)
	}
	if in.Comment != nil && strings.TrimSpace(*in.Comment) == "" {
		in.Comment = nil
	}
	return in, nil
}

func (s *Service) CreateRecipient(ctx context.Context, a core.Actor, in core.RecipientInput) (core.Recipient, error) {
	in, err := validateRecipient(in)
	if err != nil {
		return core.Recipient{}, err
	}
	return s.repo.CreateRecipient(ctx, ptr(a.UserID), in)
}

func (s *Service) GetRecipient(ctx context.Context, a core.Actor, id int64) (core.Recipient, error) {
	r, err := s.repo.GetRecipient(ctx, id)
	if err != nil {
		return core.Recipient{}, err
	}
	res := core.Resource{Kind: core.KindRecipient, ID: r.ID, OwnerID: r.OwnerID}
	if err := core.Authorize(ctx, a, res, s.repo); err != nil {
		return core.Recipient{}, err
	}
	return r, nil
}

func (s *Service) UpdateRecipient(ctx context.Context, a core.Actor, id int64, in core.RecipientInput) (core.Recipient, error) {
	if _, err := s.GetRecipient(ctx, a, id); err != nil {
		return core.Recipient{}, err
	}
	in, err := validateRecipient(in)
	if err != nil {
		return core.Recipient{}, err
	}
	return s.repo.UpdateRecipient(ctx, id, in)
}

// DeleteRecipient drops the recipient from every campaign, so the owners
// of those campaigns get fresh stats.
func (s *Service) DeleteRecipient(ctx context.Context, a core.Actor, id int64) error {
	if _, err := s.GetRecipient(ctx, a, id); err != nil {
		return err
	}
	owners, err := s.repo.OwnersReferencing(ctx, core.KindRecipient, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRecipient(ctx, id); err != nil {
		return err
	}
	for _, o := range owners {
		s.invalidateOwner(ctx, ptr(o))
	}
	return nil
}

func (s *Service) ListRecipients(ctx context.Context, a core.Actor) ([]core.Recipient, error) {
	return s.repo.ListRecipients(ctx, visibility(a))
}
