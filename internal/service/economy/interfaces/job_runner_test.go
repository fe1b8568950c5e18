package interfaces

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"jeutaime/internal/pkg/zookeeper"
	"jeutaime/internal/service/economy/domain"
)

type fakeLocker struct {
	err      error
	acquired atomic.Int32
	released atomic.Int32
}

func (l *fakeLocker) Acquire(ctx context.Context, resourceID string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired.Add(1)
	return func() { l.released.Add(1) }, nil
}

func newRunner(locker JobLocker) *JobRunner {
	return NewJobRunner(time.UTC, locker, time.Second, noop.NewTracerProvider().Tracer("test"))
}

func TestJobRunnerRunOnceHoldsLock(t *testing.T) {
	locker := &fakeLocker{}
	r := newRunner(locker)
	require.NoError(t, r.Register("compose_weekly", "0 1 * * 1", func(ctx context.Context) (domain.JobReport, error) {
		assert.Equal(t, int32(1), locker.acquired.Load())
		assert.Zero(t, locker.released.Load())
		return domain.JobReport{Processed: 3}, nil
	}))

	report, err := r.RunOnce(context.Background(), "compose_weekly")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, int32(1), locker.released.Load())
}

func TestJobRunnerSkipsWhenLockIsHeldElsewhere(t *testing.T) {
	r := newRunner(&fakeLocker{err: zookeeper.ErrLockTimeout})
	ran := false
	require.NoError(t, r.Register("sweep", "0 1 * * *", func(ctx context.Context) (domain.JobReport, error) {
		ran = true
		return domain.JobReport{}, nil
	}))

	_, err := r.RunOnce(context.Background(), "sweep")
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestJobRunnerPropagatesLockFailure(t *testing.T) {
	r := newRunner(&fakeLocker{err: errors.New("zk: connection closed")})
	require.NoError(t, r.Register("sweep", "0 1 * * *", func(ctx context.Context) (domain.JobReport, error) {
		return domain.JobReport{}, nil
	}))

	_, err := r.RunOnce(context.Background(), "sweep")
	assert.Error(t, err)
}

func TestJobRunnerRegistration(t *testing.T) {
	r := newRunner(nil)
	noopJob := func(ctx context.Context) (domain.JobReport, error) { return domain.JobReport{}, nil }

	assert.Error(t, r.Register("bad", "not a cron", noopJob))
	require.NoError(t, r.Register("daily_bonus", "0 0 * * *", noopJob))
	assert.Error(t, r.Register("daily_bonus", "0 0 * * *", noopJob))

	_, err := r.RunOnce(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestJobRunnerRunStopsOnCancel(t *testing.T) {
	r := newRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}
