package retry

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gobors/internal/borserr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRetryerDefaultTimeout(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer(WithDefaultTimeout(time.Second), WithInitialInterval(100*time.Millisecond))
	t.Cleanup(r.Stop)

	err := r.Run(context.Background(), func(context.Context) error {
		return borserr.NewRetryableAnytimeError(errors.New("err"))
	}, nil)

	assert.ErrorIsf(t, err, context.DeadlineExceeded, "err: %+v", err)
}

func TestRetryAfterInThePast(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer(WithInitialInterval(100 * time.Millisecond))
	t.Cleanup(r.Stop)

	ctx, cancelFunc := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelFunc()

	var retryTimes []time.Time

	err := r.Run(ctx, func(context.Context) error {
		retryTimes = append(retryTimes, time.Now())
		return borserr.NewRetryableError(errors.New("err"), time.Now().Add(-time.Second))
	}, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.GreaterOrEqual(t, len(retryTimes), 2)

	for i := 1; i < len(retryTimes); i++ {
		d := retryTimes[i].Sub(retryTimes[i-1])
		require.GreaterOrEqualf(t, int64(d), minInterval(r),
			"time between retry %d and %d is %s, expected >=%dns",
			i-1, i, d, minInterval(r),
		)
	}
}

func TestRetryAfterAfterDeadlineFailsImmediately(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer()
	t.Cleanup(r.Stop)

	ctx, cancelFunc := context.WithTimeout(context.Background(), time.Second)
	defer cancelFunc()

	var calls int
	err := r.Run(ctx, func(context.Context) error {
		calls++
		return borserr.NewRetryableError(errors.New("rate limited"), time.Now().Add(time.Hour))
	}, nil)

	assert.True(t, borserr.IsRetryable(err))
	assert.Equal(t, 1, calls)
}

func TestNonRetryableErrorIsReturned(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer()
	t.Cleanup(r.Stop)

	permErr := errors.New("permanent")
	var calls int
	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		return permErr
	}, nil)

	assert.ErrorIs(t, err, permErr)
	assert.Equal(t, 1, calls)
}

func TestSucceedsAfterRetry(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer(WithInitialInterval(10 * time.Millisecond))
	t.Cleanup(r.Stop)

	var calls atomic.Int32
	err := r.Run(context.Background(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return borserr.NewRetryableAnytimeError(errors.New("err"))
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStopAbortsRun(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer(WithInitialInterval(time.Hour))

	errCh := make(chan error)
	go func() {
		errCh <- r.Run(context.Background(), func(context.Context) error {
			return borserr.NewRetryableAnytimeError(errors.New("err"))
		}, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	r.Stop()
	assert.NotPanics(t, r.Stop)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop()")
	}
}

func minInterval(retryer *Retryer) int64 {
	return int64(math.Floor(float64(retryer.backoffInitialInterval) * (1 - retryer.backoffRandomizationFactor)))
}
