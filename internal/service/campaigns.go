package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cypherspark/mailing/internal/cache"
	"github.com/Cypherspark/mailing/internal/core"
	"github.com/Cypherspark/mailing/internal/dispatch"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
)

// checkCampaignInput validates the schedule and that the actor may use the
// referenced message and recipients.
func (s *Service) checkCampaignInput(ctx context.Context, a core.Actor, in core.CampaignInput, creating bool) error {
	if err := core.ValidateWindow(s.Now(), in.StartTime, in.EndTime, creating); err != nil {
		return err
	}
	if in.MessageID == 0 {
		return fmt.Errorf("%w: message_id is required", core.ErrValidation)
	}
	if _, err := s.GetMessage(ctx, a, in.MessageID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("%w: message %d does not exist", core.ErrValidation, in.MessageID)
		}
		return err
	}
	for _, rid := range in.RecipientIDs {
		if _, err := s.GetRecipient(ctx, a, rid); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return fmt.Errorf("%w: recipient %d does not exist", core.ErrValidation, rid)
			}
			return err
		}
	}
	return nil
}

func (s *Service) CreateCampaign(ctx context.Context, a core.Actor, in core.CampaignInput) (core.Campaign, error) {
	if err := s.checkCampaignInput(ctx, a, in, true); err != nil {
		return core.Campaign{}, err
	}
	owner := ptr(a.UserID)
	c, err := s.repo.CreateCampaign(ctx, owner, in)
	if err != nil {
		return core.Campaign{}, err
	}
	s.invalidateOwner(ctx, owner, cache.UsersListKey)
	return c, nil
}

func (s *Service) loadCampaign(ctx context.Context, a core.Actor, id int64) (core.Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return core.Campaign{}, err
	}
	res := core.Resource{Kind: core.KindCampaign, ID: c.ID, OwnerID: c.OwnerID}
	if err := core.Authorize(ctx, a, res, s.repo); err != nil {
		return core.Campaign{}, err
	}
	return c, nil
}

// GetCampaign refreshes a created or running campaign's status from its
// window. Completed and manager-forced statuses are returned as stored.
func (s *Service) GetCampaign(ctx context.Context, a core.Actor, id int64) (core.Campaign, error) {
	c, err := s.loadCampaign(ctx, a, id)
	if err != nil {
		return core.Campaign{}, err
	}
	if c.Status != core.StatusCreated && c.Status != core.StatusRunning {
		return c, nil
	}
	next := core.ComputeStatus(s.Now(), c.StartTime, c.EndTime, c.Status)
	if next == c.Status {
		return c, nil
	}
	swapped, err := s.repo.SwapCampaignStatus(ctx, c.ID, c.Status, next)
	if err != nil {
		return core.Campaign{}, err
	}
	if !swapped {
		// someone else moved it first
		return s.repo.GetCampaign(ctx, id)
	}
	c.Status = next
	s.invalidateOwner(ctx, c.OwnerID, cache.UsersListKey)
	return c, nil
}

func (s *Service) UpdateCampaign(ctx context.Context, a core.Actor, id int64, in core.CampaignInput) (core.Campaign, error) {
	c, err := s.loadCampaign(ctx, a, id)
	if err != nil {
		return core.Campaign{}, err
	}
	if err := s.checkCampaignInput(ctx, a, in, false); err != nil {
		return core.Campaign{}, err
	}
	updated, err := s.repo.UpdateCampaign(ctx, id, in)
	if err != nil {
		return core.Campaign{}, err
	}
	s.invalidateOwner(ctx, c.OwnerID)
	return updated, nil
}

func (s *Service) DeleteCampaign(ctx context.Context, a core.Actor, id int64) error {
	c, err := s.loadCampaign(ctx, a, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCampaign(ctx, id); err != nil {
		return err
	}
	s.invalidateOwner(ctx, c.OwnerID, cache.UsersListKey)
	return nil
}

// ListCampaigns returns the caller's campaigns, or all of them for a manager.
func (s *Service) ListCampaigns(ctx context.Context, a core.Actor) ([]core.Campaign, error) {
	key := cache.CampaignListKey(a.UserID)
	if a.Manager {
		key = cache.AllCampaignsKey
	}
	return cached(ctx, s, key, cache.CampaignListTTL, func() ([]core.Campaign, error) {
		return s.repo.ListCampaigns(ctx, visibility(a))
	})
}

func (s *Service) ListAttempts(ctx context.Context, a core.Actor, campaignID int64, limit, offset int) ([]core.DeliveryAttempt, error) {
	if _, err := s.loadCampaign(ctx, a, campaignID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultAttemptLimit
	}
	if limit > maxAttemptLimit {
		limit = maxAttemptLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAttempts(ctx, campaignID, limit, offset)
}

// Dispatch is the user-facing trigger: access check, then a headless run.
func (s *Service) Dispatch(ctx context.Context, a core.Actor, campaignID int64) (dispatch.Result, error) {
	if _, err := s.loadCampaign(ctx, a, campaignID); err != nil {
		return dispatch.Result{}, err
	}
	return s.RunDispatch(ctx, campaignID)
}

// RunDispatch runs a campaign without an access check. It is the entry
// point for the scheduler and the operator CLI.
func (s *Service) RunDispatch(ctx context.Context, campaignID int64) (dispatch.Result, error) {
	res, err := s.runner.Run(ctx, campaignID)
	if errors.Is(err, core.ErrNotFound) {
		return res, err
	}
	// status or counters may have moved even on a failed run
	if c, gerr := s.repo.GetCampaign(context.WithoutCancel(ctx), campaignID); gerr == nil {
		s.invalidateOwner(ctx, c.OwnerID, cache.UsersListKey)
	}
	return res, err
}
