package endpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blob-relay/config"
)

func newTestTracker() *Tracker {
	return NewTracker(
		config.PoolConfig{
			HealthThreshold: 0.5,
			HealthIncrement: 0.1,
			HealthDecrement: 0.2,
		},
		config.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     30 * time.Second,
		},
	)
}

func newTestEndpoint(name string) *Endpoint {
	return NewEndpoint(config.NodeConfig{Name: name, URL: "http://" + name + ".example.com"})
}

func TestTracker_HealthScoring(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")
	failure := errors.New("network error")

	assert.Equal(t, 1.0, ep.GetHealth(), "新节点健康评分应为1.0")

	tracker.RecordFailure(ep, failure)
	assert.InDelta(t, 0.8, ep.GetHealth(), 1e-9)
	assert.Equal(t, 1, ep.GetStatus().ConsecutiveFailures)
	assert.False(t, ep.GetStatus().LastFailureAt.IsZero())

	tracker.RecordSuccess(ep)
	assert.InDelta(t, 0.9, ep.GetHealth(), 1e-9)
	assert.Equal(t, 0, ep.GetStatus().ConsecutiveFailures, "成功应清零连续失败计数")
}

func TestTracker_HealthClamps(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")
	failure := errors.New("network error")

	// 评分下界为0
	for i := 0; i < 10; i++ {
		tracker.RecordFailure(ep, failure)
	}
	assert.Equal(t, 0.0, ep.GetHealth())

	// 评分上界为1.0
	for i := 0; i < 20; i++ {
		tracker.RecordSuccess(ep)
	}
	assert.Equal(t, 1.0, ep.GetHealth())
}

func TestTracker_CircuitOpensAfterThreshold(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")
	failure := errors.New("network error")

	tracker.RecordFailure(ep, failure)
	tracker.RecordFailure(ep, failure)
	assert.Equal(t, CircuitClosed, ep.GetCircuitState(), "未达阈值时熔断器保持关闭")
	assert.True(t, tracker.IsAvailable(ep))

	tracker.RecordFailure(ep, failure)
	assert.Equal(t, CircuitOpen, ep.GetCircuitState(), "连续失败达到阈值应打开熔断器")
	assert.False(t, tracker.IsAvailable(ep), "熔断打开且未到冷却期的节点不可用")
}

func TestTracker_HalfOpenAfterResetTimeout(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")
	failure := errors.New("network error")

	now := time.Now()
	tracker.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tracker.RecordFailure(ep, failure)
	}
	require.Equal(t, CircuitOpen, ep.GetCircuitState())

	// 冷却期未满
	now = now.Add(29 * time.Second)
	assert.False(t, tracker.IsAvailable(ep))
	assert.Equal(t, CircuitOpen, ep.GetCircuitState())

	// 冷却期满，可用性检查本身完成Open→HalfOpen转换
	now = now.Add(2 * time.Second)
	assert.True(t, tracker.IsAvailable(ep))
	assert.Equal(t, CircuitHalfOpen, ep.GetCircuitState())
}

func TestTracker_HalfOpenTrialSuccess(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")
	failure := errors.New("network error")

	now := time.Now()
	tracker.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tracker.RecordFailure(ep, failure)
	}
	now = now.Add(31 * time.Second)
	require.True(t, tracker.IsAvailable(ep))
	require.Equal(t, CircuitHalfOpen, ep.GetCircuitState())

	tracker.RecordSuccess(ep)
	assert.Equal(t, CircuitClosed, ep.GetCircuitState(), "试探成功应关闭熔断器")
	assert.True(t, tracker.IsAvailable(ep))
}

func TestTracker_HalfOpenTrialFailureReopens(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")
	failure := errors.New("network error")

	now := time.Now()
	tracker.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tracker.RecordFailure(ep, failure)
	}
	now = now.Add(31 * time.Second)
	require.True(t, tracker.IsAvailable(ep))

	tracker.RecordFailure(ep, failure)
	assert.Equal(t, CircuitOpen, ep.GetCircuitState(), "试探失败应重新打开熔断器")

	// 冷却起点被刷新，需要再等完整的reset_timeout
	now = now.Add(29 * time.Second)
	assert.False(t, tracker.IsAvailable(ep))
	now = now.Add(2 * time.Second)
	assert.True(t, tracker.IsAvailable(ep))
}

func TestTracker_SingleHalfOpenTrial(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")
	failure := errors.New("network error")

	now := time.Now()
	tracker.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tracker.RecordFailure(ep, failure)
	}
	now = now.Add(31 * time.Second)

	assert.True(t, tracker.TryAcquire(ep), "半开状态第一个试探请求应被放行")
	assert.False(t, tracker.TryAcquire(ep), "试探在途时其余请求应被拒绝")
	assert.True(t, tracker.IsAvailable(ep), "试探在途不影响可用性判定")

	// 试探结果出来后释放额度
	tracker.RecordSuccess(ep)
	assert.True(t, tracker.TryAcquire(ep), "熔断器关闭后正常放行")
}

func TestTracker_ReleaseClearsTrialWithoutScoring(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")
	failure := errors.New("network error")

	now := time.Now()
	tracker.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tracker.RecordFailure(ep, failure)
	}
	now = now.Add(31 * time.Second)

	require.True(t, tracker.TryAcquire(ep))
	healthBefore := ep.GetHealth()

	tracker.Release(ep)
	assert.Equal(t, healthBefore, ep.GetHealth(), "释放不应改变健康评分")
	assert.True(t, tracker.TryAcquire(ep), "释放后试探额度可再次获取")
}

func TestTracker_IsHealthy(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")
	failure := errors.New("network error")

	assert.True(t, tracker.IsHealthy(ep))

	// 1.0 -> 0.8 -> 0.6 -> 0.4，跌破0.5阈值
	tracker.RecordFailure(ep, failure)
	tracker.RecordFailure(ep, failure)
	assert.True(t, tracker.IsHealthy(ep))
	tracker.RecordFailure(ep, failure)
	assert.False(t, tracker.IsHealthy(ep))
}

func TestTracker_Snapshot(t *testing.T) {
	tracker := newTestTracker()
	ep := newTestEndpoint("node-a")

	tracker.RecordFailure(ep, errors.New("network error"))

	snapshot := tracker.Snapshot(ep)
	assert.Equal(t, "node-a", snapshot.Name)
	assert.Equal(t, "http://node-a.example.com", snapshot.URL)
	assert.InDelta(t, 0.8, snapshot.Health, 1e-9)
	assert.Equal(t, 1, snapshot.ConsecutiveFailures)
	assert.Equal(t, "closed", snapshot.CircuitState)
}
