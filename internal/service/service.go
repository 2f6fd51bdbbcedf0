// Package service holds the use cases behind the API, the scheduler and
// the operator CLI. Every entity operation goes through core.Authorize,
// and every mutation invalidates the exact cache keys it affects.
package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Cypherspark/mailing/internal/cache"
	"github.com/Cypherspark/mailing/internal/core"
	"github.com/Cypherspark/mailing/internal/dispatch"
)

// Repository is implemented by *core.Store.
type Repository interface {
	core.ReferenceChecker

	CreateUser(ctx context.Context, email string, manager bool) (core.User, error)
	GetUser(ctx context.Context, id int64) (core.User, error)
	ListUserSummaries(ctx context.Context) ([]core.UserSummary, error)
	UserStats(ctx context.Context) (core.UserStats, error)
	ToggleUserBlock(ctx context.Context, id int64, now time.Time) (core.User, error)
	HomeStats(ctx context.Context, userID int64) (core.HomeStats, error)
	OwnersReferencing(ctx context.Context, kind core.Kind, id int64) ([]int64, error)

	CreateRecipient(ctx context.Context, ownerID *int64, in core.RecipientInput) (core.Recipient, error)
	GetRecipient(ctx context.Context, id int64) (core.Recipient, error)
	UpdateRecipient(ctx context.Context, id int64, in core.RecipientInput) (core.Recipient, error)
	DeleteRecipient(ctx context.Context, id int64) error
	ListRecipients(ctx context.Context, visibleTo *int64) ([]core.Recipient, error)

	CreateMessage(ctx context.Context, ownerID *int64, in core.MessageInput) (core.Message, error)
	GetMessage(ctx context.Context, id int64) (core.Message, error)
	UpdateMessage(ctx context.Context, id int64, in core.MessageInput) (core.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, visibleTo *int64) ([]core.Message, error)

	CreateCampaign(ctx context.Context, ownerID *int64, in core.CampaignInput) (core.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (core.Campaign, error)
	UpdateCampaign(ctx context.Context, id int64, in core.CampaignInput) (core.Campaign, error)
	DeleteCampaign(ctx context.Context, id int64) error
	ListCampaigns(ctx context.Context, ownerID *int64) ([]core.Campaign, error)
	SwapCampaignStatus(ctx context.Context, id int64, prev, next core.Status) (bool, error)
	ListAttempts(ctx context.Context, campaignID int64, limit, offset int) ([]core.DeliveryAttempt, error)
}

// Runner executes a dispatch run; *dispatch.Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, campaignID int64) (dispatch.Result, error)
}

type Service struct {
	repo   Repository
	cache  cache.Cache
	runner Runner
	log    logrus.FieldLogger

	Now func() time.Time
}

func New(repo Repository, c cache.Cache, runner Runner, log logrus.FieldLogger) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{repo: repo, cache: c, runner: runner, log: log, Now: time.Now}
}

// cached is read-through over the best-effort cache. Cache failures are
// logged and the loader result is returned.
func cached[T any](ctx context.Context, s *Service, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	var v T
	hit, err := s.cache.Get(ctx, key, &v)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache get")
	}
	if hit {
		return v, nil
	}
	v, err = load()
	if err != nil {
		return v, err
	}
	if err := s.cache.Set(ctx, key, v, ttl); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache set")
	}
	return v, nil
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.WithError(err).WithField("keys", keys).Warn("cache invalidate")
	}
}

// invalidateOwner drops everything derived from the owner's campaigns.
func (s *Service) invalidateOwner(ctx context.Context, ownerID *int64, extra ...string) {
	var keys []string
	if ownerID != nil {
		keys = cache.OwnerKeys(*ownerID)
	} else {
		keys = []string{cache.AllCampaignsKey}
	}
	s.invalidate(ctx, append(keys, extra...)...)
}

func ptr[T any](v T) *T { return &v }

// visibility is nil for managers, who see everything.
func visibility(a core.Actor) *int64 {
	if a.Manager {
		return nil
	}
	return ptr(a.UserID)
}
