package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Cypherspark/mailing/internal/db"
)

type Store struct{ DB *db.DB }

func NewStore(d *db.DB) *Store { return &Store{DB: d} }

// mapErr translates driver errors into the package taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503", "23514":
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.ConstraintName)
		}
	}
	return err
}

// ---- users ----

const userCols = `id, email, is_active, is_manager, successful_mailing_count, unsuccessful_mailing_count, messages_count, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.IsActive, &u.IsManager,
		&u.SuccessfulMailingCount, &u.UnsuccessfulMailingCount, &u.MessagesCount, &u.CreatedAt)
	return u, mapErr(err)
}

func (s *Store) CreateUser(ctx context.Context, email string, manager bool) (User, error) {
	return scanUser(s.DB.Pool.QueryRow(ctx,
		`INSERT INTO users(email, is_manager) VALUES($1,$2) RETURNING `+userCols, email, manager))
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(s.DB.Pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

// ListUserSummaries returns non-manager users ordered by email with their campaign counts.
func (s *Store) ListUserSummaries(ctx context.Context) ([]UserSummary, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT u.id, u.email, u.is_active, u.is_manager, u.successful_mailing_count,
		       u.unsuccessful_mailing_count, u.messages_count, u.created_at,
		       COUNT(c.id),
		       COUNT(c.id) FILTER (WHERE c.status='running')
		FROM users u
		LEFT JOIN campaigns c ON c.owner_id = u.id
		WHERE NOT u.is_manager
		GROUP BY u.id
		ORDER BY u.email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []UserSummary{}
	for rows.Next() {
		var us UserSummary
		if err := rows.Scan(&us.ID, &us.Email, &us.IsActive, &us.IsManager,
			&us.SuccessfulMailingCount, &us.UnsuccessfulMailingCount, &us.MessagesCount, &us.CreatedAt,
			&us.CampaignCount, &us.ActiveCampaignCount); err != nil {
			return nil, err
		}
		out = append(out, us)
	}
	return out, rows.Err()
}

func (s *Store) UserStats(ctx context.Context) (UserStats, error) {
	var st UserStats
	err := s.DB.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_active),
		       COUNT(*) FILTER (WHERE NOT is_active)
		FROM users WHERE NOT is_manager`).Scan(&st.Total, &st.Active, &st.Blocked)
	return st, err
}

// ToggleUserBlock flips is_active. Blocking moves the user's running
// campaigns to blocked; unblocking recomputes blocked campaigns from their window.
func (s *Store) ToggleUserBlock(ctx context.Context, id int64, now time.Time) (User, error) {
	var u User
	err := s.DB.WithTx(ctx, func(tx pgx.Tx) error {
		var active bool
		if err := tx.QueryRow(ctx, `SELECT is_active FROM users WHERE id=$1 FOR UPDATE`, id).Scan(&active); err != nil {
			return mapErr(err)
		}
		if active {
			if _, err := tx.Exec(ctx,
				`UPDATE campaigns SET status=$2 WHERE owner_id=$1 AND status=$3`,
				id, StatusBlocked, StatusRunning); err != nil {
				return err
			}
		} else {
			rows, err := tx.Query(ctx,
				`SELECT id, start_time, end_time FROM campaigns WHERE owner_id=$1 AND status=$2 FOR UPDATE`,
				id, StatusBlocked)
			if err != nil {
				return err
			}
			type win struct {
				id         int64
				start, end time.Time
			}
			var ws []win
			for rows.Next() {
				var w win
				if err := rows.Scan(&w.id, &w.start, &w.end); err != nil {
					rows.Close()
					return err
				}
				ws = append(ws, w)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			for _, w := range ws {
				if _, err := tx.Exec(ctx, `UPDATE campaigns SET status=$2 WHERE id=$1`,
					w.id, NaturalStatus(now, w.start, w.end)); err != nil {
					return err
				}
			}
		}
		var err error
		u, err = scanUser(tx.QueryRow(ctx,
			`UPDATE users SET is_active = NOT is_active WHERE id=$1 RETURNING `+userCols, id))
		return err
	})
	return u, err
}

func (s *Store) HomeStats(ctx context.Context, userID int64) (HomeStats, error) {
	var hs HomeStats
	err := s.DB.Pool.QueryRow(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM campaigns WHERE owner_id=u.id),
		  (SELECT COUNT(*) FROM campaigns WHERE owner_id=u.id AND status='running'),
		  (SELECT COUNT(DISTINCT cr.recipient_id)
		     FROM campaign_recipients cr JOIN campaigns c ON c.id = cr.campaign_id
		    WHERE c.owner_id=u.id),
		  u.successful_mailing_count, u.unsuccessful_mailing_count, u.messages_count
		FROM users u WHERE u.id=$1`, userID).Scan(
		&hs.CampaignCount, &hs.ActiveCampaignCount, &hs.RecipientsCount,
		&hs.SuccessfulMailingCount, &hs.UnsuccessfulMailingCount, &hs.MessagesCount)
	return hs, mapErr(err)
}

// ---- access ----

func (s *Store) ReferencedByOwner(ctx context.Context, kind Kind, id, ownerID int64) (bool, error) {
	var q string
	switch kind {
	case KindRecipient:
		q = `SELECT EXISTS (SELECT 1 FROM campaign_recipients cr JOIN campaigns c ON c.id = cr.campaign_id
			WHERE cr.recipient_id=$1 AND c.owner_id=$2)`
	case KindMessage:
		q = `SELECT EXISTS (SELECT 1 FROM campaigns WHERE message_id=$1 AND owner_id=$2)`
	default:
		return false, nil
	}
	var ok bool
	err := s.DB.Pool.QueryRow(ctx, q, id, ownerID).Scan(&ok)
	return ok, err
}

// OwnersReferencing lists the owners of campaigns that use a recipient or message.
func (s *Store) OwnersReferencing(ctx context.Context, kind Kind, id int64) ([]int64, error) {
	var q string
	switch kind {
	case KindRecipient:
		q = `SELECT DISTINCT c.owner_id FROM campaign_recipients cr JOIN campaigns c ON c.id = cr.campaign_id
			WHERE cr.recipient_id=$1 AND c.owner_id IS NOT NULL`
	case KindMessage:
		q = `SELECT DISTINCT owner_id FROM campaigns WHERE message_id=$1 AND owner_id IS NOT NULL`
	default:
		return nil, nil
	}
	rows, err := s.DB.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ---- recipients ----

func scanRecipient(row pgx.Row) (Recipient, error) {
	var r Recipient
	err := row.Scan(&r.ID, &r.Email, &r.FullName, &r.Comment, &r.OwnerID)
	return r, mapErr(err)
}

func (s *Store) CreateRecipient(ctx context.Context, ownerID *int64, in RecipientInput) (Recipient, error) {
	return scanRecipient(s.DB.Pool.QueryRow(ctx, `
		INSERT INTO recipients(email, full_name, comment, owner_id) VALUES($1,$2,$3,$4)
		RETURNING id, email, full_name, comment, owner_id`, in.Email, in.FullName, in.Comment, ownerID))
}

func (s *Store) GetRecipient(ctx context.Context, id int64) (Recipient, error) {
	return scanRecipient(s.DB.Pool.QueryRow(ctx,
		`SELECT id, email, full_name, comment, owner_id FROM recipients WHERE id=$1`, id))
}

func (s *Store) UpdateRecipient(ctx context.Context, id int64, in RecipientInput) (Recipient, error) {
	return scanRecipient(s.DB.Pool.QueryRow(ctx, `
		UPDATE recipients SET email=$2, full_name=$3, comment=$4 WHERE id=$1
		RETURNING id, email, full_name, comment, owner_id`, id, in.Email, in.FullName, in.Comment))
}

func (s *Store) DeleteRecipient(ctx context.Context, id int64) error {
	tag, err := s.DB.Pool.Exec(ctx, `DELETE FROM recipients WHERE id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecipients returns everything when visibleTo is nil, otherwise what
// that user owns or references from one of their campaigns.
func (s *Store) ListRecipients(ctx context.Context, visibleTo *int64) ([]Recipient, error) {
	q := `SELECT id, email, full_name, comment, owner_id FROM recipients r`
	var args []any
	if visibleTo != nil {
		q += ` WHERE r.owner_id=$1 OR EXISTS (
			SELECT 1 FROM campaign_recipients cr JOIN campaigns c ON c.id = cr.campaign_id
			WHERE cr.recipient_id = r.id AND c.owner_id=$1)`
		args = append(args, *visibleTo)
	}
	q += ` ORDER BY r.id`
	rows, err := s.DB.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Recipient{}
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- messages ----

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.Subject, &m.Body, &m.OwnerID)
	return m, mapErr(err)
}

func (s *Store) CreateMessage(ctx context.Context, ownerID *int64, in MessageInput) (Message, error) {
	return scanMessage(s.DB.Pool.QueryRow(ctx, `
		INSERT INTO messages(subject, body, owner_id) VALUES($1,$2,$3)
		RETURNING id, subject, body, owner_id`, in.Subject, in.Body, ownerID))
}

func (s *Store) GetMessage(ctx context.Context, id int64) (Message, error) {
	return scanMessage(s.DB.Pool.QueryRow(ctx,
		`SELECT id, subject, body, owner_id FROM messages WHERE id=$1`, id))
}

func (s *Store) UpdateMessage(ctx context.Context, id int64, in MessageInput) (Message, error) {
	return scanMessage(s.DB.Pool.QueryRow(ctx, `
		UPDATE messages SET subject=$2, body=$3 WHERE id=$1
		RETURNING id, subject, body, owner_id`, id, in.Subject, in.Body))
}

// DeleteMessage also removes every campaign that uses the message.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	tag, err := s.DB.Pool.Exec(ctx, `DELETE FROM messages WHERE id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, visibleTo *int64) ([]Message, error) {
	q := `SELECT id, subject, body, owner_id FROM messages m`
	var args []any
	if visibleTo != nil {
		q += ` WHERE m.owner_id=$1 OR EXISTS (SELECT 1 FROM campaigns c WHERE c.message_id = m.id AND c.owner_id=$1)`
		args = append(args, *visibleTo)
	}
	q += ` ORDER BY m.id`
	rows, err := s.DB.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- campaigns ----

const campaignSelect = `
	SELECT c.id, c.start_time, c.end_time, c.status, c.owner_id, c.message_id, c.created_at,
	       ARRAY(SELECT cr.recipient_id FROM campaign_recipients cr
	             WHERE cr.campaign_id = c.id ORDER BY cr.recipient_id)
	FROM campaigns c`

func scanCampaign(row pgx.Row) (Campaign, error) {
	var c Campaign
	err := row.Scan(&c.ID, &c.StartTime, &c.EndTime, &c.Status, &c.OwnerID, &c.MessageID, &c.CreatedAt, &c.RecipientIDs)
	return c, mapErr(err)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func linkRecipients(ctx context.Context, tx pgx.Tx, campaignID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO campaign_recipients(campaign_id, recipient_id)
		SELECT $1, unnest($2::bigint[])`, campaignID, dedupe(ids))
	return mapErr(err)
}

func (s *Store) CreateCampaign(ctx context.Context, ownerID *int64, in CampaignInput) (Campaign, error) {
	var id int64
	err := s.DB.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO campaigns(start_time, end_time, status, owner_id, message_id)
			VALUES($1,$2,$3,$4,$5) RETURNING id`,
			in.StartTime, in.EndTime, StatusCreated, ownerID, in.MessageID).Scan(&id)
		if err != nil {
			return mapErr(err)
		}
		return linkRecipients(ctx, tx, id, in.RecipientIDs)
	})
	if err != nil {
		return Campaign{}, err
	}
	return s.GetCampaign(ctx, id)
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (Campaign, error) {
	return scanCampaign(s.DB.Pool.QueryRow(ctx, campaignSelect+` WHERE c.id=$1`, id))
}

// UpdateCampaign replaces schedule, message and recipient set. Status is untouched.
func (s *Store) UpdateCampaign(ctx context.Context, id int64, in CampaignInput) (Campaign, error) {
	err := s.DB.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE campaigns SET start_time=$2, end_time=$3, message_id=$4 WHERE id=$1`,
			id, in.StartTime, in.EndTime, in.MessageID)
		if err != nil {
			return mapErr(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM campaign_recipients WHERE campaign_id=$1`, id); err != nil {
			return err
		}
		return linkRecipients(ctx, tx, id, in.RecipientIDs)
	})
	if err != nil {
		return Campaign{}, err
	}
	return s.GetCampaign(ctx, id)
}

func (s *Store) DeleteCampaign(ctx context.Context, id int64) error {
	tag, err := s.DB.Pool.Exec(ctx, `DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCampaigns returns all campaigns when ownerID is nil.
func (s *Store) ListCampaigns(ctx context.Context, ownerID *int64) ([]Campaign, error) {
	q := campaignSelect
	var args []any
	if ownerID != nil {
		q += ` WHERE c.owner_id=$1`
		args = append(args, *ownerID)
	}
	q += ` ORDER BY c.id`
	rows, err := s.DB.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetCampaignStatus(ctx context.Context, id int64, st Status) error {
	tag, err := s.DB.Pool.Exec(ctx, `UPDATE campaigns SET status=$2 WHERE id=$1`, id, st)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapCampaignStatus sets next only if the stored status is still prev.
func (s *Store) SwapCampaignStatus(ctx context.Context, id int64, prev, next Status) (bool, error) {
	tag, err := s.DB.Pool.Exec(ctx, `UPDATE campaigns SET status=$3 WHERE id=$1 AND status=$2`, id, prev, next)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListCampaignRecipients returns recipients in primary-key order.
func (s *Store) ListCampaignRecipients(ctx context.Context, campaignID int64) ([]Recipient, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT r.id, r.email, r.full_name, r.comment, r.owner_id
		FROM campaign_recipients cr JOIN recipients r ON r.id = cr.recipient_id
		WHERE cr.campaign_id=$1
		ORDER BY r.id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DueCampaigns returns campaigns whose window contains now, that have at
// least one recipient and no recorded attempts. A running status only means
// the window is open, so it does not exclude a campaign. Campaigns of blocked
// owners are skipped; ownerless ones stay eligible.
func (s *Store) DueCampaigns(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT c.id FROM campaigns c
		LEFT JOIN users u ON u.id = c.owner_id
		WHERE c.status IN ($1, $2) AND c.start_time <= $3 AND c.end_time >= $3
		  AND (c.owner_id IS NULL OR u.is_active)
		  AND EXISTS (SELECT 1 FROM campaign_recipients cr WHERE cr.campaign_id = c.id)
		  AND NOT EXISTS (SELECT 1 FROM delivery_attempts da WHERE da.campaign_id = c.id)
		ORDER BY c.start_time, c.id
		LIMIT $4`, StatusCreated, StatusRunning, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ---- attempts ----

func (s *Store) RecordAttempt(ctx context.Context, a DeliveryAttempt) (DeliveryAttempt, error) {
	err := s.DB.Pool.QueryRow(ctx, `
		INSERT INTO delivery_attempts(campaign_id, recipient_id, recipient_email, status, server_response)
		VALUES($1,$2,$3,$4,$5)
		RETURNING id, attempted_at`,
		a.CampaignID, a.RecipientID, a.RecipientEmail, a.Status, a.ServerResponse).Scan(&a.ID, &a.AttemptedAt)
	return a, mapErr(err)
}

// CompleteRun adds the run's counts to the owner and marks the campaign
// completed in one transaction.
func (s *Store) CompleteRun(ctx context.Context, campaignID int64, ownerID *int64, success, fail int) error {
	return s.DB.WithTx(ctx, func(tx pgx.Tx) error {
		if ownerID != nil {
			_, err := tx.Exec(ctx, `
				UPDATE users SET successful_mailing_count = successful_mailing_count + $2,
				                 unsuccessful_mailing_count = unsuccessful_mailing_count + $3,
				                 messages_count = messages_count + $4
				WHERE id=$1`, *ownerID, success, fail, success+fail)
			if err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `UPDATE campaigns SET status=$2 WHERE id=$1`, campaignID, StatusCompleted)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListAttempts pages the attempt log newest first.
func (s *Store) ListAttempts(ctx context.Context, campaignID int64, limit, offset int) ([]DeliveryAttempt, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT id, campaign_id, recipient_id, recipient_email, attempted_at, status, server_response
		FROM delivery_attempts WHERE campaign_id=$1
		ORDER BY attempted_at DESC, id DESC
		LIMIT $2 OFFSET $3`, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DeliveryAttempt{}
	for rows.Next() {
		var a DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.CampaignID, &a.RecipientID, &a.RecipientEmail, &a.AttemptedAt, &a.Status, &a.ServerResponse); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
