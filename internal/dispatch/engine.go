// Package dispatch runs one campaign: it sends the campaign's message to
// every recipient, records one delivery attempt per recipient, adds the
// run to the owner's counters and marks the campaign completed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Cypherspark/mailing/internal/core"
	"github.com/Cypherspark/mailing/internal/lock"
	"github.com/Cypherspark/mailing/internal/metrics"
	"github.com/Cypherspark/mailing/internal/provider"
)

// Store is the persistence the engine needs.
type Store interface {
	GetCampaign(ctx context.Context, id int64) (core.Campaign, error)
	GetMessage(ctx context.Context, id int64) (core.Message, error)
	ListCampaignRecipients(ctx context.Context, campaignID int64) ([]core.Recipient, error)
	SetCampaignStatus(ctx context.Context, id int64, st core.Status) error
	RecordAttempt(ctx context.Context, a core.DeliveryAttempt) (core.DeliveryAttempt, error)
	CompleteRun(ctx context.Context, campaignID int64, ownerID *int64, success, fail int) error
}

type Result struct {
	Success int `json:"success"`
	Fail    int `json:"fail"`
	Total   int `json:"total"`
}

type Options struct {
	From        string
	SendTimeout time.Duration // per recipient
	QPS         float64       // sustained transport rate
	Burst       int
}

type Dispatcher struct {
	store   Store
	mailer  provider.Mailer
	locks   lock.Locker
	limiter *rate.Limiter
	opt     Options
	log     logrus.FieldLogger

	// Now is the clock used for window checks.
	Now func() time.Time
}

func New(store Store, mailer provider.Mailer, locks lock.Locker, log logrus.FieldLogger, opt Options) *Dispatcher {
	if opt.SendTimeout <= 0 {
		opt.SendTimeout = 10 * time.Second
	}
	if opt.QPS <= 0 {
		opt.QPS = 10
	}
	if opt.Burst < 1 {
		opt.Burst = 1
	}
	return &Dispatcher{
		store:   store,
		mailer:  mailer,
		locks:   locks,
		limiter: rate.NewLimiter(rate.Limit(opt.QPS), opt.Burst),
		opt:     opt,
		log:     log,
		Now:     time.Now,
	}
}

// LockKey names the per-campaign run lock.
func LockKey(campaignID int64) string { return fmt.Sprintf("campaign:%d", campaignID) }

// Run executes one dispatch run. Precondition failures (not found, disabled,
// out of window, no recipients) return before anything is written. Once
// sending starts every recipient gets exactly one attempt; transport errors
// become failed attempts and never stop the loop.
func (d *Dispatcher) Run(ctx context.Context, campaignID int64) (Result, error) {
	log := d.log.WithField("campaign_id", campaignID)

	l := d.locks.NewLock(LockKey(campaignID))
	ok, err := l.Acquire(ctx)
	if err != nil {
		metrics.DispatchRuns.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("campaign %d: %w", campaignID, err)
	}
	if !ok {
		metrics.DispatchRuns.WithLabelValues("busy").Inc()
		return Result{}, fmt.Errorf("campaign %d: %w", campaignID, core.ErrDispatchInProgress)
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("release dispatch lock")
		}
	}()

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	res, err := d.run(ctx, log, campaignID)
	metrics.DispatchRuns.WithLabelValues(outcome(err)).Inc()
	return res, err
}

func (d *Dispatcher) run(ctx context.Context, log *logrus.Entry, campaignID int64) (Result, error) {
	c, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Result{}, fmt.Errorf("campaign %d: %w", campaignID, err)
	}
	if c.Status.Override() {
		return Result{}, fmt.Errorf("campaign %d is %s: %w", c.ID, c.Status, core.ErrCampaignDisabled)
	}
	now := d.Now()
	if !core.InWindow(now, c.StartTime, c.EndTime) {
		return Result{}, fmt.Errorf("campaign %d window %s..%s, now %s: %w", c.ID,
			c.StartTime.Format(time.RFC3339), c.EndTime.Format(time.RFC3339), now.Format(time.RFC3339),
			core.ErrOutOfWindow)
	}
	recipients, err := d.store.ListCampaignRecipients(ctx, c.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return Result{}, fmt.Errorf("campaign %d: %w", c.ID, core.ErrNoRecipients)
	}
	msg, err := d.store.GetMessage(ctx, c.MessageID)
	if err != nil {
		return Result{}, fmt.Errorf("message %d: %w", c.MessageID, err)
	}

	if err := d.store.SetCampaignStatus(ctx, c.ID, core.StatusRunning); err != nil {
		return Result{}, fmt.Errorf("mark running: %w", err)
	}
	log.WithField("recipients", len(recipients)).Info("dispatch started")

	// Writes outlive caller cancellation so the log stays complete.
	wctx := context.WithoutCancel(ctx)

	var res Result
	for _, r := range recipients {
		a := d.deliver(ctx, c, msg, r)
		if _, err := d.store.RecordAttempt(wctx, a); err != nil {
			log.WithError(err).WithField("recipient", r.Email).Error("record attempt")
			return res, fmt.Errorf("record attempt for recipient %d: %w", r.ID, err)
		}
		if a.Status == core.AttemptSuccess {
			res.Success++
		} else {
			res.Fail++
		}
		res.Total++
	}

	if res.Total == 0 {
		return res, fmt.Errorf("campaign %d: %w", c.ID, core.ErrNoAttempts)
	}
	if err := d.store.CompleteRun(wctx, c.ID, c.OwnerID, res.Success, res.Fail); err != nil {
		return res, fmt.Errorf("complete run: %w", err)
	}
	log.WithFields(logrus.Fields{
		"success": res.Success,
		"fail":    res.Fail,
		"total":   res.Total,
	}).Info("dispatch completed")
	return res, nil
}

// deliver sends to one recipient and builds the attempt row. It never fails.
func (d *Dispatcher) deliver(ctx context.Context, c core.Campaign, msg core.Message, r core.Recipient) core.DeliveryAttempt {
	rid := r.ID
	a := core.DeliveryAttempt{
		CampaignID:     c.ID,
		RecipientID:    &rid,
		RecipientEmail: r.Email,
	}
	mail := provider.Mail{
		From:    d.opt.From,
		To:      r.Email,
		Subject: msg.Subject,
		Body:    ComposeBody(r, msg),
	}

	id, err := d.send(ctx, mail)
	if err != nil {
		kind := provider.Classify(err)
		a.Status = core.AttemptFailed
		a.ServerResponse = describe(kind, err)
		metrics.DeliveryAttempts.WithLabelValues(string(a.Status), string(kind)).Inc()
		d.log.WithFields(logrus.Fields{
			"campaign_id": c.ID,
			"recipient":   r.Email,
			"kind":        kind,
		}).WithError(err).Warn("delivery failed")
		return a
	}
	a.Status = core.AttemptSuccess
	a.ServerResponse = "accepted: " + id
	metrics.DeliveryAttempts.WithLabelValues(string(a.Status), "").Inc()
	return a
}

func (d *Dispatcher) send(ctx context.Context, m provider.Mail) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", &provider.Error{Kind: provider.KindConnection, Err: err}
	}
	sctx, cancel := context.WithTimeout(ctx, d.opt.SendTimeout)
	defer cancel()

	start := time.Now()
	id, err := d.mailer.Send(sctx, m)
	metrics.TransportDuration.Observe(time.Since(start).Seconds())
	return id, err
}

func describe(kind provider.ErrorKind, err error) string {
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Err != nil {
		err = pe.Err
	}
	return fmt.Sprintf("%s: %v", kind, err)
}

// ComposeBody personalises the template for one recipient.
func ComposeBody(r core.Recipient, m core.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello, %s!\n\n", r.FullName)
	b.WriteString(m.Body)
	if r.Comment != nil && strings.TrimSpace(*r.Comment) != "" {
		fmt.Fprintf(&b, "\n\nNote: %s", *r.Comment)
	}
	b.WriteString("\n\n--\nThis message was sent automatically.")
	return b.String()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrOutOfWindow):
		return "out_of_window"
	case errors.Is(err, core.ErrNoRecipients):
		return "no_recipients"
	case errors.Is(err, core.ErrCampaignDisabled):
		return "disabled"
	case errors.Is(err, core.ErrNoAttempts):
		return "no_attempts"
	}
	return "error"
}
