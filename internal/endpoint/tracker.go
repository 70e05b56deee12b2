package endpoint

import (
	"fmt"
	"log/slog"
	"time"

	"blob-relay/config"
	"blob-relay/internal/events"
)

// Tracker maintains per-node health scores and circuit breaker state.
// 所有状态变更都在端点自身的锁内完成，多个并发执行共享同一个Tracker是安全的。
type Tracker struct {
	healthIncrement  float64
	healthDecrement  float64
	healthThreshold  float64
	failureThreshold int
	resetTimeout     time.Duration

	// EventBus for decoupled event publishing
	eventBus events.EventBus

	// 时间源，测试中可替换
	now func() time.Time
}

// NewTracker creates a health tracker from pool and circuit breaker configuration
func NewTracker(poolCfg config.PoolConfig, cbCfg config.CircuitBreakerConfig) *Tracker {
	return &Tracker{
		healthIncrement:  poolCfg.HealthIncrement,
		healthDecrement:  poolCfg.HealthDecrement,
		healthThreshold:  poolCfg.HealthThreshold,
		failureThreshold: cbCfg.FailureThreshold,
		resetTimeout:     cbCfg.ResetTimeout,
		now:              time.Now,
	}
}

// SetEventBus 设置EventBus事件总线
func (t *Tracker) SetEventBus(eventBus events.EventBus) {
	t.eventBus = eventBus
}

// RecordSuccess 记录一次成功尝试
// 提升健康评分、清零连续失败计数；HalfOpen试探成功时关闭熔断器
func (t *Tracker) RecordSuccess(ep *Endpoint) {
	ep.mutex.Lock()

	wasBelowThreshold := ep.Status.Health < t.healthThreshold
	ep.Status.Health = ep.Status.Health + t.healthIncrement
	if ep.Status.Health > 1.0 {
		ep.Status.Health = 1.0
	}
	ep.Status.ConsecutiveFailures = 0

	oldState := ep.Status.CircuitState
	if ep.Status.CircuitState == CircuitHalfOpen {
		ep.Status.CircuitState = CircuitClosed
		ep.Status.CircuitOpenedAt = time.Time{}
	}
	ep.Status.TrialInFlight = false

	newState := ep.Status.CircuitState
	health := ep.Status.Health
	ep.mutex.Unlock()

	if oldState != newState {
		slog.Info(fmt.Sprintf("✅ [熔断器] 节点试探成功，熔断器关闭: %s", ep.Config.Name))
		t.notifyCircuitChange(ep, oldState, newState)
	}
	if wasBelowThreshold && health >= t.healthThreshold {
		t.notifyHealthChange(ep, true, health)
	}
}

// RecordFailure 记录一次失败尝试
// 降低健康评分、累加连续失败计数，并根据熔断规则打开熔断器
func (t *Tracker) RecordFailure(ep *Endpoint, err error) {
	ep.mutex.Lock()

	wasAboveThreshold := ep.Status.Health >= t.healthThreshold
	ep.Status.Health = ep.Status.Health - t.healthDecrement
	if ep.Status.Health < 0 {
		ep.Status.Health = 0
	}
	ep.Status.ConsecutiveFailures++
	ep.Status.LastFailureAt = t.now()

	oldState := ep.Status.CircuitState
	switch ep.Status.CircuitState {
	case CircuitHalfOpen:
		// 试探失败，重新打开熔断器并刷新冷却起点
		ep.Status.CircuitState = CircuitOpen
		ep.Status.CircuitOpenedAt = t.now()
	case CircuitClosed:
		if ep.Status.ConsecutiveFailures >= t.failureThreshold {
			ep.Status.CircuitState = CircuitOpen
			ep.Status.CircuitOpenedAt = t.now()
		}
	}
	ep.Status.TrialInFlight = false

	newState := ep.Status.CircuitState
	health := ep.Status.Health
	fails := ep.Status.ConsecutiveFailures
	ep.mutex.Unlock()

	if oldState != newState {
		slog.Warn(fmt.Sprintf("⚡ [熔断器] 节点熔断器打开: %s - 连续失败: %d次, 错误: %v",
			ep.Config.Name, fails, err))
		t.notifyCircuitChange(ep, oldState, newState)
	}
	if wasAboveThreshold && health < t.healthThreshold {
		slog.Warn(fmt.Sprintf("❌ [健康追踪] 节点健康评分跌破阈值: %s - 评分: %.2f, 连续失败: %d次",
			ep.Config.Name, health, fails))
		t.notifyHealthChange(ep, false, health)
	}
}

// IsAvailable 判断节点当前是否可以接收请求
// Open状态下冷却期满时，此检查本身完成Open→HalfOpen转换
func (t *Tracker) IsAvailable(ep *Endpoint) bool {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()

	switch ep.Status.CircuitState {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		return true
	case CircuitOpen:
		if t.now().Sub(ep.Status.CircuitOpenedAt) >= t.resetTimeout {
			ep.Status.CircuitState = CircuitHalfOpen
			ep.Status.TrialInFlight = false
			slog.Info(fmt.Sprintf("🔍 [熔断器] 节点进入半开状态，允许试探请求: %s", ep.Config.Name))
			return true
		}
		return false
	default:
		return false
	}
}

// TryAcquire 尝试为一次请求占用节点
// HalfOpen状态下同一时刻只允许一个试探请求在途，其余请求需要选择其他节点
func (t *Tracker) TryAcquire(ep *Endpoint) bool {
	if !t.IsAvailable(ep) {
		return false
	}

	ep.mutex.Lock()
	defer ep.mutex.Unlock()

	if ep.Status.CircuitState == CircuitHalfOpen {
		if ep.Status.TrialInFlight {
			return false
		}
		ep.Status.TrialInFlight = true
	}
	return true
}

// Release 释放节点占用而不更新健康评分
// 用于不可重试错误等不归咎于节点本身的结果，保证半开试探额度不被永久占用
func (t *Tracker) Release(ep *Endpoint) {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	ep.Status.TrialInFlight = false
}

// IsHealthy reports whether the node's health score is at or above the configured threshold
func (t *Tracker) IsHealthy(ep *Endpoint) bool {
	ep.mutex.RLock()
	defer ep.mutex.RUnlock()
	return ep.Status.Health >= t.healthThreshold
}

// Snapshot returns the observability snapshot of a node
func (t *Tracker) Snapshot(ep *Endpoint) NodeHealth {
	ep.mutex.RLock()
	defer ep.mutex.RUnlock()
	return NodeHealth{
		Name:                ep.Config.Name,
		URL:                 ep.Config.URL,
		Health:              ep.Status.Health,
		ConsecutiveFailures: ep.Status.ConsecutiveFailures,
		LastFailureAt:       ep.Status.LastFailureAt,
		CircuitState:        ep.Status.CircuitState.String(),
	}
}

// notifyCircuitChange 通过EventBus发布熔断器状态变化事件
func (t *Tracker) notifyCircuitChange(ep *Endpoint, from, to CircuitState) {
	if t.eventBus == nil {
		return
	}

	t.eventBus.Publish(events.Event{
		Type:     events.EventCircuitStateChanged,
		Source:   "health_tracker",
		Priority: events.PriorityHigh,
		Data: map[string]interface{}{
			"node":       ep.Config.Name,
			"from_state": from.String(),
			"to_state":   to.String(),
		},
	})
}

// notifyHealthChange 通过EventBus发布节点健康状态变化事件
func (t *Tracker) notifyHealthChange(ep *Endpoint, healthy bool, health float64) {
	if t.eventBus == nil {
		return
	}

	eventType := events.EventNodeHealthy
	priority := events.PriorityHigh
	if !healthy {
		eventType = events.EventNodeUnhealthy
		priority = events.PriorityCritical
	}

	t.eventBus.Publish(events.Event{
		Type:     eventType,
		Source:   "health_tracker",
		Priority: priority,
		Data: map[string]interface{}{
			"node":    ep.Config.Name,
			"healthy": healthy,
			"health":  health,
		},
	})
}
