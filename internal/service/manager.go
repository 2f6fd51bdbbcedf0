package service

import (
	"context"
	"fmt"

	"github.com/Cypherspark/mailing/internal/cache"
	"github.com/Cypherspark/mailing/internal/core"
)

type UsersOverview struct {
	Users []core.UserSummary `json:"users"`
	Stats core.UserStats     `json:"stats"`
}

func (s *Service) ListUsers(ctx context.Context, a core.Actor) (UsersOverview, error) {
	if err := core.RequireManager(a); err != nil {
		return UsersOverview{}, err
	}
	users, err := cached(ctx, s, cache.UsersListKey, cache.UsersListTTL, func() ([]core.UserSummary, error) {
		return s.repo.ListUserSummaries(ctx)
	})
	if err != nil {
		return UsersOverview{}, err
	}
	stats, err := cached(ctx, s, cache.UsersStatsKey, cache.UsersStatsTTL, func() (core.UserStats, error) {
		return s.repo.UserStats(ctx)
	})
	if err != nil {
		return UsersOverview{}, err
	}
	return UsersOverview{Users: users, Stats: stats}, nil
}

// ToggleUserBlock blocks an active user (their running campaigns become
// blocked) or unblocks a blocked one (blocked campaigns are recomputed).
func (s *Service) ToggleUserBlock(ctx context.Context, a core.Actor, userID int64) (core.User, error) {
	if err := core.RequireManager(a); err != nil {
		return core.User{}, err
	}
	if userID == a.UserID {
		return core.User{}, fmt.Errorf("%w: managers cannot block themselves", core.ErrValidation)
	}
	u, err := s.repo.ToggleUserBlock(ctx, userID, s.Now())
	if err != nil {
		return core.User{}, err
	}
	s.invalidateOwner(ctx, ptr(userID), cache.UsersListKey, cache.UsersStatsKey)
	s.log.WithField("user_id", userID).WithField("active", u.IsActive).Info("user block toggled")
	return u, nil
}

// ToggleCampaign disables a running campaign or re-enables a disabled one.
// Other statuses are returned unchanged.
func (s *Service) ToggleCampaign(ctx context.Context, a core.Actor, id int64) (core.Campaign, error) {
	if err := core.RequireManager(a); err != nil {
		return core.Campaign{}, err
	}
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return core.Campaign{}, err
	}
	next, changed := core.ToggleStatus(s.Now(), c.StartTime, c.EndTime, c.Status)
	if !changed {
		return c, nil
	}
	return s.swapStatus(ctx, c, next)
}

// DisableCampaign is the quick path: it only ever stops a running campaign.
func (s *Service) DisableCampaign(ctx context.Context, a core.Actor, id int64) (core.Campaign, error) {
	if err := core.RequireManager(a); err != nil {
		return core.Campaign{}, err
	}
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return core.Campaign{}, err
	}
	if c.Status != core.StatusRunning {
		return c, nil
	}
	return s.swapStatus(ctx, c, core.StatusManagerDisabled)
}

func (s *Service) swapStatus(ctx context.Context, c core.Campaign, next core.Status) (core.Campaign, error) {
	ok, err := s.repo.SwapCampaignStatus(ctx, c.ID, c.Status, next)
	if err != nil {
		return core.Campaign{}, err
	}
	if !ok {
		return core.Campaign{}, fmt.Errorf("%w: campaign %d status changed concurrently", core.ErrConflict, c.ID)
	}
	s.log.WithField("campaign_id", c.ID).WithField("from", c.Status).WithField("to", next).Info("campaign status forced")
	c.Status = next
	s.invalidateOwner(ctx, c.OwnerID, cache.UsersListKey, cache.UsersStatsKey)
	return c, nil
}
