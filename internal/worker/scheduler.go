// Package worker runs the scheduled invocation of campaign dispatch.
package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Cypherspark/mailing/internal/core"
	"github.com/Cypherspark/mailing/internal/dispatch"
	"github.com/Cypherspark/mailing/internal/metrics"
)

type SchedulerOptions struct {
	Interval  time.Duration // base scan period, jittered by ±20%
	BatchSize int           // max campaigns started per scan
}

// DueLister finds campaigns whose window is open and that never ran.
type DueLister interface {
	DueCampaigns(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// Runner is satisfied by *service.Service.
type Runner interface {
	RunDispatch(ctx context.Context, campaignID int64) (dispatch.Result, error)
}

// RunScheduler scans for due campaigns until ctx is done. Campaigns are
// dispatched one after another; a failed campaign is logged and skipped.
func RunScheduler(ctx context.Context, due DueLister, runner Runner, log logrus.FieldLogger, opt SchedulerOptions) error {
	if opt.Interval <= 0 {
		opt.Interval = 30 * time.Second
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 20
	}
	log.WithField("interval", opt.Interval.String()).Info("scheduler started")

	for {
		Scan(ctx, due, runner, log, opt.BatchSize, time.Now())

		t := time.NewTimer(jitter(opt.Interval, 0.20))
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info("scheduler stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Scan runs a single pass and returns how many campaigns were dispatched.
func Scan(ctx context.Context, due DueLister, runner Runner, log logrus.FieldLogger, limit int, now time.Time) int {
	ids, err := due.DueCampaigns(ctx, now, limit)
	if err != nil {
		metrics.SchedulerScans.WithLabelValues("error").Inc()
		log.WithError(err).Warn("due campaigns query failed")
		return 0
	}
	metrics.SchedulerScans.WithLabelValues("ok").Inc()

	started := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		l := log.WithField("campaign_id", id)
		res, err := runner.RunDispatch(ctx, id)
		switch {
		case err == nil:
			started++
			l.WithFields(logrus.Fields{"success": res.Success, "fail": res.Fail}).Info("scheduled dispatch finished")
		case errors.Is(err, core.ErrDispatchInProgress):
			l.Debug("campaign busy, skipped")
		default:
			l.WithError(err).Warn("scheduled dispatch failed")
		}
	}
	return started
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := int64(float64(d) * frac)
	if delta <= 0 {
		return d
	}
	// random in [-delta, +delta]
	n := rand.Int63n(2*delta+1) - delta
	return d + time.Duration(n)
}
