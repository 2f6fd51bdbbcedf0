package core

import (
	"context"
	"fmt"
)

// Actor is the caller an operation runs on behalf of.
type Actor struct {
	UserID  int64
	Manager bool
}

type Kind string

const (
	KindCampaign  Kind = "campaign"
	KindRecipient Kind = "recipient"
	KindMessage   Kind = "message"
)

type Resource struct {
	Kind    Kind
	ID      int64
	OwnerID *int64
}

// ReferenceChecker reports whether ownerID owns a campaign that points at the resource.
type ReferenceChecker interface {
	ReferencedByOwner(ctx context.Context, kind Kind, id, ownerID int64) (bool, error)
}

// Authorize is the single access rule for every entity:
// managers may act on anything, users on what they own, and for
// recipients and messages also on what one of their campaigns references.
func Authorize(ctx context.Context, a Actor, r Resource, refs ReferenceChecker) error {
	if a.Manager {
		return nil
	}
	if r.OwnerID != nil && *r.OwnerID == a.UserID {
		return nil
	}
	if r.Kind == KindCampaign || refs == nil {
		return fmt.Errorf("%w: %s %d", ErrForbidden, r.Kind, r.ID)
	}
	ok, err := refs.ReferencedByOwner(ctx, r.Kind, r.ID, a.UserID)
	if err != nil {
		return fmt.Errorf("check %s %d references: %w", r.Kind, r.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %d", ErrForbidden, r.Kind, r.ID)
	}
	return nil
}

// RequireManager guards manager-only actions.
func RequireManager(a Actor) error {
	if !a.Manager {
		return fmt.Errorf("%w: manager role required", ErrForbidden)
	}
	return nil
}
