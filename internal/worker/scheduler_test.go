package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Cypherspark/mailing/internal/core"
	"github.com/Cypherspark/mailing/internal/dispatch"
)

type fakeDue struct {
	ids   []int64
	err   error
	limit int
	calls int
}

func (f *fakeDue) DueCampaigns(_ context.Context, _ time.Time, limit int) ([]int64, error) {
	f.calls++
	f.limit = limit
	return f.ids, f.err
}

type fakeRunner struct {
	errs map[int64]error
	ran  []int64
}

func (f *fakeRunner) RunDispatch(_ context.Context, id int64) (dispatch.Result, error) {
	f.ran = append(f.ran, id)
	if err := f.errs[id]; err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{Success: 1, Total: 1}, nil
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestScan_ContinuesPastFailures(t *testing.T) {
	due := &fakeDue{ids: []int64{1, 2, 3, 4}}
	run := &fakeRunner{errs: map[int64]error{
		2: core.ErrDispatchInProgress,
		3: errors.New("smtp down"),
	}}

	n := Scan(context.Background(), due, run, quietLog(), 7, time.Now())
	require.Equal(t, 2, n)
	require.Equal(t, []int64{1, 2, 3, 4}, run.ran)
	require.Equal(t, 7, due.limit)
}

func TestScan_QueryError(t *testing.T) {
	due := &fakeDue{err: errors.New("db gone")}
	run := &fakeRunner{}
	require.Zero(t, Scan(context.Background(), due, run, quietLog(), 5, time.Now()))
	require.Empty(t, run.ran)
}

func TestScan_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := &fakeRunner{}
	Scan(ctx, &fakeDue{ids: []int64{1, 2}}, run, quietLog(), 5, time.Now())
	require.Empty(t, run.ran)
}

func TestRunScheduler_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	due := &fakeDue{}
	err := RunScheduler(ctx, due, &fakeRunner{}, quietLog(), SchedulerOptions{Interval: 10 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, due.calls, 1)
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second, 0.2)
		require.GreaterOrEqual(t, d, 800*time.Millisecond)
		require.LessOrEqual(t, d, 1200*time.Millisecond)
	}
	require.Equal(t, time.Second, jitter(time.Second, 0))
}
