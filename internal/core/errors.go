package core

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflict")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrUserBlocked        = errors.New("user is blocked")
	ErrOutOfWindow        = errors.New("campaign is outside its sending window")
	ErrNoRecipients       = errors.New("campaign has no recipients")
	ErrNoAttempts         = errors.New("no delivery attempts were made")
	ErrCampaignDisabled   = errors.New("campaign is disabled or blocked")
	ErrDispatchInProgress = errors.New("dispatch already in progress")
)
