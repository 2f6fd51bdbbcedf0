package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Cypherspark/mailing/internal/core"
	database "github.com/Cypherspark/mailing/internal/db"
)

func newStore(t *testing.T) *core.Store {
	return core.NewStore(database.StartTestPostgres(t))
}

type fixture struct {
	owner      core.User
	msg        core.Message
	recipients []core.Recipient
	campaign   core.Campaign
}

func seed(t *testing.T, s *core.Store, email string, n int, start, end time.Time) fixture {
	t.Helper()
	ctx := context.Background()
	u, err := s.CreateUser(ctx, email, false)
	require.NoError(t, err)
	f := fixture{owner: u}

	f.msg, err = s.CreateMessage(ctx, &u.ID, core.MessageInput{Subject: "Hello", Body: "Body"})
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < n; i++ {
		r, err := s.CreateRecipient(ctx, &u.ID, core.RecipientInput{
			Email:    email[:1] + string(rune('a'+i)) + "@rcpt.example.com",
			FullName: "R",
		})
		require.NoError(t, err)
		f.recipients = append(f.recipients, r)
		ids = append(ids, r.ID)
	}
	f.campaign, err = s.CreateCampaign(ctx, &u.ID, core.CampaignInput{
		StartTime: start, EndTime: end, MessageID: f.msg.ID, RecipientIDs: ids,
	})
	require.NoError(t, err)
	return f
}

func TestCampaignCRUD(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	f := seed(t, s, "crud@example.com", 3, now.Add(time.Hour), now.Add(2*time.Hour))

	require.Equal(t, core.StatusCreated, f.campaign.Status)
	require.Len(t, f.campaign.RecipientIDs, 3)
	require.Equal(t, f.owner.ID, *f.campaign.OwnerID)

	// duplicates collapse and the set is replaced
	upd, err := s.UpdateCampaign(ctx, f.campaign.ID, core.CampaignInput{
		StartTime:    now.Add(3 * time.Hour),
		EndTime:      now.Add(4 * time.Hour),
		MessageID:    f.msg.ID,
		RecipientIDs: []int64{f.recipients[0].ID, f.recipients[0].ID},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{f.recipients[0].ID}, upd.RecipientIDs)
	require.True(t, upd.StartTime.Equal(now.Add(3*time.Hour)))

	list, err := s.ListCampaigns(ctx, &f.owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteCampaign(ctx, f.campaign.ID))
	_, err = s.GetCampaign(ctx, f.campaign.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
	require.ErrorIs(t, s.DeleteCampaign(ctx, f.campaign.ID), core.ErrNotFound)
}

func TestConstraintsMapToTaxonomy(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f := seed(t, s, "c@example.com", 1, now.Add(time.Hour), now.Add(2*time.Hour))

	_, err := s.CreateRecipient(ctx, nil, core.RecipientInput{Email: f.recipients[0].Email, FullName: "dup"})
	require.ErrorIs(t, err, core.ErrConflict)

	_, err = s.CreateCampaign(ctx, &f.owner.ID, core.CampaignInput{
		StartTime: now.Add(2 * time.Hour), EndTime: now.Add(time.Hour), MessageID: f.msg.ID,
	})
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = s.CreateCampaign(ctx, &f.owner.ID, core.CampaignInput{
		StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour), MessageID: 987654,
	})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestRecordAttemptsAndCompleteRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f := seed(t, s, "run@example.com", 3, now.Add(-time.Minute), now.Add(time.Hour))

	rcpts, err := s.ListCampaignRecipients(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Len(t, rcpts, 3)
	require.Less(t, rcpts[0].ID, rcpts[1].ID)

	for i, r := range rcpts {
		st := core.AttemptSuccess
		if i == 2 {
			st = core.AttemptFailed
		}
		a, err := s.RecordAttempt(ctx, core.DeliveryAttempt{
			CampaignID:     f.campaign.ID,
			RecipientID:    &r.ID,
			RecipientEmail: r.Email,
			Status:         st,
			ServerResponse: "ok",
		})
		require.NoError(t, err)
		require.NotZero(t, a.ID)
		require.False(t, a.AttemptedAt.IsZero())
	}
	require.NoError(t, s.CompleteRun(ctx, f.campaign.ID, f.campaign.OwnerID, 2, 1))

	u, err := s.GetUser(ctx, f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, 2, u.SuccessfulMailingCount)
	require.Equal(t, 1, u.UnsuccessfulMailingCount)
	require.Equal(t, 3, u.MessagesCount)

	c, err := s.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusCompleted, c.Status)

	page, err := s.ListAttempts(ctx, f.campaign.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	rest, err := s.ListAttempts(ctx, f.campaign.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	// attempts outlive their recipient
	require.NoError(t, s.DeleteRecipient(ctx, rcpts[0].ID))
	all, err := s.ListAttempts(ctx, f.campaign.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	var orphaned int
	for _, a := range all {
		if a.RecipientID == nil {
			orphaned++
			require.Equal(t, rcpts[0].Email, a.RecipientEmail)
		}
	}
	require.Equal(t, 1, orphaned)
}

func TestSwapCampaignStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f := seed(t, s, "swap@example.com", 1, now.Add(time.Hour), now.Add(2*time.Hour))

	ok, err := s.SwapCampaignStatus(ctx, f.campaign.ID, core.StatusCreated, core.StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SwapCampaignStatus(ctx, f.campaign.ID, core.StatusCreated, core.StatusCompleted)
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, s.SetCampaignStatus(ctx, 424242, core.StatusRunning), core.ErrNotFound)
}

func TestToggleUserBlock_CascadesToCampaigns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f := seed(t, s, "block@example.com", 1, now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, s.SetCampaignStatus(ctx, f.campaign.ID, core.StatusRunning))

	u, err := s.ToggleUserBlock(ctx, f.owner.ID, now)
	require.NoError(t, err)
	require.False(t, u.IsActive)
	c, err := s.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusBlocked, c.Status)

	// unblocking after the window closed recomputes to completed
	u, err = s.ToggleUserBlock(ctx, f.owner.ID, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, u.IsActive)
	c, err = s.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusCompleted, c.Status)

	st, err := s.UserStats(ctx)
	require.NoError(t, err)
	require.Equal(t, core.UserStats{Total: 1, Active: 1, Blocked: 0}, st)
}

func TestVisibilityAndReferences(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	a := seed(t, s, "alice@example.com", 1, now.Add(time.Hour), now.Add(2*time.Hour))
	b := seed(t, s, "bob@example.com", 1, now.Add(time.Hour), now.Add(2*time.Hour))

	// bob's campaign also targets alice's recipient
	_, err := s.UpdateCampaign(ctx, b.campaign.ID, core.CampaignInput{
		StartTime: b.campaign.StartTime, EndTime: b.campaign.EndTime, MessageID: b.msg.ID,
		RecipientIDs: []int64{b.recipients[0].ID, a.recipients[0].ID},
	})
	require.NoError(t, err)

	ok, err := s.ReferencedByOwner(ctx, core.KindRecipient, a.recipients[0].ID, b.owner.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.ReferencedByOwner(ctx, core.KindMessage, a.msg.ID, b.owner.ID)
	require.NoError(t, err)
	require.False(t, ok)

	owners, err := s.OwnersReferencing(ctx, core.KindRecipient, a.recipients[0].ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{a.owner.ID, b.owner.ID}, owners)

	visible, err := s.ListRecipients(ctx, &b.owner.ID)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	all, err := s.ListRecipients(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	msgs, err := s.ListMessages(ctx, &a.owner.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	hs, err := s.HomeStats(ctx, b.owner.ID)
	require.NoError(t, err)
	require.Equal(t, 1, hs.CampaignCount)
	require.Equal(t, 2, hs.RecipientsCount)

	// deleting a message removes the campaigns built on it
	require.NoError(t, s.DeleteMessage(ctx, a.msg.ID))
	_, err = s.GetCampaign(ctx, a.campaign.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestDueCampaigns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	open := seed(t, s, "due@example.com", 1, now.Add(-time.Minute), now.Add(time.Hour))
	seed(t, s, "later@example.com", 1, now.Add(time.Hour), now.Add(2*time.Hour))
	empty := seed(t, s, "empty@example.com", 0, now.Add(-time.Minute), now.Add(time.Hour))

	ids, err := s.DueCampaigns(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{open.campaign.ID}, ids)
	require.NotContains(t, ids, empty.campaign.ID)
}

func TestDueCampaigns_SelectionRules(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	start, end := now.Add(-time.Minute), now.Add(time.Hour)

	// refreshed to running by a read, nothing sent yet
	viewed := seed(t, s, "viewed@example.com", 1, start, end)
	ok, err := s.SwapCampaignStatus(ctx, viewed.campaign.ID, core.StatusCreated, core.StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	// running with an attempt already on record
	sent := seed(t, s, "sent@example.com", 1, start, end)
	require.NoError(t, s.SetCampaignStatus(ctx, sent.campaign.ID, core.StatusRunning))
	_, err = s.RecordAttempt(ctx, core.DeliveryAttempt{
		CampaignID:     sent.campaign.ID,
		RecipientID:    &sent.recipients[0].ID,
		RecipientEmail: sent.recipients[0].Email,
		Status:         core.AttemptSuccess,
	})
	require.NoError(t, err)

	done := seed(t, s, "done@example.com", 1, start, end)
	require.NoError(t, s.SetCampaignStatus(ctx, done.campaign.ID, core.StatusCompleted))

	disabled := seed(t, s, "disabled@example.com", 1, start, end)
	require.NoError(t, s.SetCampaignStatus(ctx, disabled.campaign.ID, core.StatusManagerDisabled))

	// owner blocked while the campaign was still waiting for its window
	blocked := seed(t, s, "blocked@example.com", 1, now.Add(time.Hour), now.Add(2*time.Hour))
	u, err := s.ToggleUserBlock(ctx, blocked.owner.ID, now)
	require.NoError(t, err)
	require.False(t, u.IsActive)
	c, err := s.GetCampaign(ctx, blocked.campaign.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusCreated, c.Status)

	orphan, err := s.CreateCampaign(ctx, nil, core.CampaignInput{
		StartTime: start, EndTime: end, MessageID: viewed.msg.ID,
		RecipientIDs: []int64{viewed.recipients[0].ID},
	})
	require.NoError(t, err)

	later := now.Add(90 * time.Minute)
	ids, err := s.DueCampaigns(ctx, later, 10)
	require.NoError(t, err)
	require.NotContains(t, ids, blocked.campaign.ID)

	ids, err = s.DueCampaigns(ctx, now, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{viewed.campaign.ID, orphan.ID}, ids)

	// unblocking makes the owner's campaign eligible again
	_, err = s.ToggleUserBlock(ctx, blocked.owner.ID, now)
	require.NoError(t, err)
	ids, err = s.DueCampaigns(ctx, later, 10)
	require.NoError(t, err)
	require.Contains(t, ids, blocked.campaign.ID)
}
