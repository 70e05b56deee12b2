package tracking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blob-relay/config"
	"blob-relay/internal/retry"
)

func newTestTracker(t *testing.T) *AttemptTracker {
	t.Helper()
	tracker, err := NewAttemptTracker(config.TrackingConfig{
		Enabled: true,
		Database: &config.DatabaseBackendConfig{
			Type: "sqlite",
			Path: filepath.Join(t.TempDir(), "attempts.db"),
		},
		BufferSize:    100,
		BatchSize:     10,
		FlushInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	return tracker
}

func TestAttemptTracker_RecordAndQuery(t *testing.T) {
	tracker := newTestTracker(t)
	defer tracker.Close()

	tracker.RecordAttempt(retry.AttemptRecord{
		OperationID:   "op-12345",
		Label:         "put:photo.jpg",
		Attempt:       1,
		Endpoint:      "node-a",
		Success:       false,
		ErrorCategory: "rate_limit",
		ErrorMessage:  "status 429: too many requests",
		Delay:         1500 * time.Millisecond,
		Duration:      42 * time.Millisecond,
		Timestamp:     time.Now(),
	})
	tracker.RecordAttempt(retry.AttemptRecord{
		OperationID: "op-12345",
		Label:       "put:photo.jpg",
		Attempt:     2,
		Endpoint:    "node-b",
		Success:     true,
		Duration:    18 * time.Millisecond,
		Timestamp:   time.Now(),
	})

	var logs []AttemptLog
	require.Eventually(t, func() bool {
		var err error
		logs, err = tracker.QueryAttempts(context.Background(), QueryFilter{OperationID: "op-12345"})
		return err == nil && len(logs) == 2
	}, 2*time.Second, 20*time.Millisecond, "刷新间隔到期后记录应可查询")

	// 按时间倒序，第二次尝试在前
	success := logs[0]
	failure := logs[1]
	if !success.Success {
		success, failure = failure, success
	}

	assert.Equal(t, "op-12345", failure.OperationID)
	assert.Equal(t, "put:photo.jpg", failure.Label)
	assert.Equal(t, 1, failure.Attempt)
	assert.Equal(t, "node-a", failure.Endpoint)
	assert.False(t, failure.Success)
	assert.Equal(t, "rate_limit", failure.ErrorCategory)
	assert.Equal(t, "status 429: too many requests", failure.ErrorMessage)
	assert.Equal(t, int64(1500), failure.DelayMs)
	assert.Equal(t, int64(42), failure.DurationMs)

	assert.Equal(t, 2, success.Attempt)
	assert.Equal(t, "node-b", success.Endpoint)
	assert.True(t, success.Success)
	assert.Empty(t, success.ErrorCategory)
}

func TestAttemptTracker_QueryFilters(t *testing.T) {
	tracker := newTestTracker(t)
	defer tracker.Close()

	for i := 0; i < 5; i++ {
		endpoint := "node-a"
		if i%2 == 1 {
			endpoint = "node-b"
		}
		tracker.RecordAttempt(retry.AttemptRecord{
			OperationID: "op-filter",
			Attempt:     i + 1,
			Endpoint:    endpoint,
			Success:     true,
			Timestamp:   time.Now(),
		})
	}

	require.Eventually(t, func() bool {
		logs, err := tracker.QueryAttempts(context.Background(), QueryFilter{OperationID: "op-filter"})
		return err == nil && len(logs) == 5
	}, 2*time.Second, 20*time.Millisecond)

	logs, err := tracker.QueryAttempts(context.Background(), QueryFilter{Endpoint: "node-b"})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = tracker.QueryAttempts(context.Background(), QueryFilter{OperationID: "op-filter", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	logs, err = tracker.QueryAttempts(context.Background(), QueryFilter{OperationID: "missing"})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAttemptTracker_CloseFlushesPending(t *testing.T) {
	tracker, err := NewAttemptTracker(config.TrackingConfig{
		Enabled: true,
		Database: &config.DatabaseBackendConfig{
			Type: "sqlite",
			Path: filepath.Join(t.TempDir(), "attempts.db"),
		},
		BufferSize:    100,
		BatchSize:     100,
		FlushInterval: time.Hour, // 只有Close才会触发刷新
	})
	require.NoError(t, err)

	tracker.RecordAttempt(retry.AttemptRecord{
		OperationID: "op-close",
		Attempt:     1,
		Endpoint:    "node-a",
		Success:     true,
		Timestamp:   time.Now(),
	})

	// Close后通过底层适配器直接验证
	adapter := tracker.adapter
	require.NoError(t, tracker.Close())

	require.NoError(t, adapter.Open())
	defer adapter.Close()

	var count int
	err = adapter.GetDB().QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM attempt_logs WHERE operation_id = ?", "op-close").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "Close应刷新未落库的记录")
}

func TestAttemptTracker_DisabledIsNoop(t *testing.T) {
	tracker, err := NewAttemptTracker(config.TrackingConfig{Enabled: false})
	require.NoError(t, err)

	tracker.RecordAttempt(retry.AttemptRecord{OperationID: "op-x", Attempt: 1})

	logs, err := tracker.QueryAttempts(context.Background(), QueryFilter{})
	require.NoError(t, err)
	assert.Nil(t, logs)

	stats, err := tracker.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalAttempts)

	require.NoError(t, tracker.Close())
}

func TestAttemptTracker_GetStats(t *testing.T) {
	tracker := newTestTracker(t)
	defer tracker.Close()

	for i := 0; i < 3; i++ {
		tracker.RecordAttempt(retry.AttemptRecord{
			OperationID: "op-stats",
			Attempt:     i + 1,
			Endpoint:    "node-a",
			Success:     true,
			Timestamp:   time.Now(),
		})
	}

	require.Eventually(t, func() bool {
		stats, err := tracker.GetStats(context.Background())
		return err == nil && stats.TotalAttempts == 3
	}, 2*time.Second, 20*time.Millisecond)
}
