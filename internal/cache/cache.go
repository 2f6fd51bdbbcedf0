// Package cache is a best-effort read cache. Nothing read from it is
// authoritative; callers fall back to the store on any miss or error.
package cache

import (
	"context"
	"strconv"
	"time"
)

type Cache interface {
	// Get decodes the cached value into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const (
	HomeStatsTTL    = 120 * time.Second
	CampaignListTTL = 60 * time.Second
	UsersListTTL    = 300 * time.Second
	UsersStatsTTL   = 120 * time.Second

	UsersListKey  = "users_list_managers"
	UsersStatsKey = "users_stats"
	// AllCampaignsKey holds the manager view of the campaign list.
	AllCampaignsKey = "mailings_list:all"
)

func HomeStatsKey(userID int64) string {
	return "user_home_stats:" + strconv.FormatInt(userID, 10)
}

func CampaignListKey(userID int64) string {
	return "mailings_list:" + strconv.FormatInt(userID, 10)
}

// OwnerKeys is every key derived from one owner's data.
func OwnerKeys(ownerIDs ...int64) []string {
	keys := make([]string, 0, 2*len(ownerIDs)+1)
	for _, id := range ownerIDs {
		keys = append(keys, HomeStatsKey(id), CampaignListKey(id))
	}
	return append(keys, AllCampaignsKey)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Nop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error               { return nil }
