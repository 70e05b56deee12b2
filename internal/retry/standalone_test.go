package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Jitter:       fixedJitter{value: 0.5},
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	var invocations int32
	result, err := Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&invocations, 1)
		return 42, nil
	}, fastOptions())

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, int32(1), invocations)
}

func TestDo_RetryThenSucceed(t *testing.T) {
	opts := fastOptions()
	var retryCalls int32
	opts.OnRetry = func(attempt int, err error, delay time.Duration) {
		atomic.AddInt32(&retryCalls, 1)
	}

	var invocations int32
	result, err := Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&invocations, 1) < 3 {
			return nil, errors.New("connection timeout")
		}
		return "done", nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, int32(3), invocations)
	assert.Equal(t, int32(2), retryCalls, "每次重试前回调一次")
}

func TestDo_MaxRetriesExceeded(t *testing.T) {
	var invocations int32
	_, err := Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&invocations, 1)
		return nil, errors.New("network error")
	}, fastOptions())

	require.Error(t, err)
	assert.Equal(t, int32(3), invocations)

	var maxErr *MaxRetriesExceededError
	require.ErrorAs(t, err, &maxErr)
	assert.Len(t, maxErr.Attempts, 3)
}

func TestDo_NonRetryableAbortsImmediately(t *testing.T) {
	var invocations int32
	_, err := Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&invocations, 1)
		return nil, errors.New("invalid argument")
	}, fastOptions())

	require.Error(t, err)
	assert.Equal(t, int32(1), invocations)

	var nonRetryable *NonRetryableError
	require.ErrorAs(t, err, &nonRetryable)
}

func TestDo_CustomRetryablePatterns(t *testing.T) {
	opts := fastOptions()
	opts.RetryableErrors = []string{"flaky"}

	var invocations int32
	_, err := Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&invocations, 1)
		return nil, errors.New("flaky backend")
	}, opts)

	var maxErr *MaxRetriesExceededError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, int32(3), invocations, "自定义模式命中时应重试")

	// 覆盖模式后内置模式失效
	invocations = 0
	_, err = Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&invocations, 1)
		return nil, errors.New("network error")
	}, opts)

	var nonRetryable *NonRetryableError
	require.ErrorAs(t, err, &nonRetryable)
	assert.Equal(t, int32(1), invocations)
}

func TestDo_DefaultsApplied(t *testing.T) {
	opts := Options{}
	opts.applyDefaults()

	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, time.Second, opts.InitialDelay)
	assert.Equal(t, 30*time.Second, opts.MaxDelay)
	assert.NotNil(t, opts.Jitter)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := fastOptions()
	opts.InitialDelay = 100 * time.Millisecond
	opts.MaxDelay = 200 * time.Millisecond

	var invocations int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&invocations, 1)
		return nil, errors.New("network error")
	}, opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled, "退避等待期间取消应立即返回")
	assert.Equal(t, int32(1), invocations)
}
