package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"blob-relay/config"
	"blob-relay/internal/endpoint"
	"blob-relay/internal/events"
	"blob-relay/internal/utils"
)

// Operation 可重试的操作回调
// 回调收到选中的节点描述符，应返回结果或携带消息/状态码的错误。
// 传入的context在单次尝试超时或整体截止时间到达时被取消，操作自行决定是否配合。
type Operation func(ctx context.Context, ep *endpoint.Endpoint) (interface{}, error)

// OnRetryFunc 每次重试前调用一次的回调
type OnRetryFunc func(attempt int, err error, delay time.Duration)

// AttemptRecord 单次尝试的审计记录
type AttemptRecord struct {
	OperationID   string
	Label         string
	Attempt       int
	Endpoint      string
	Success       bool
	ErrorCategory string
	ErrorMessage  string
	Delay         time.Duration
	Duration      time.Duration
	Timestamp     time.Time
}

// AttemptRecorder 尝试审计记录器接口
// 在此处定义接口，避免与tracking包产生循环依赖
type AttemptRecorder interface {
	RecordAttempt(record AttemptRecord)
}

// MetricsRecorder 指标记录器接口
// 在此处定义接口，避免与monitor包产生循环依赖
type MetricsRecorder interface {
	RecordAttempt(node string, success bool, duration time.Duration)
	RecordRetry(node string)
}

// errAttemptTimeout 单次尝试超时的合成错误
// 引擎自身的超时信号始终可重试，不受调用方retryable_error_patterns覆盖影响
var errAttemptTimeout = errors.New("per-attempt timeout exceeded")

// Engine 重试执行引擎
// 组合退避策略、错误分类器、健康追踪器和节点池，
// 在节点池上编排带重试额度、单次超时和整体截止时间的操作执行。
// 每个Engine实例独占自己的节点状态表，多个实例互不干扰。
type Engine struct {
	cfg        *config.Config
	pool       *endpoint.Pool
	tracker    *endpoint.Tracker
	classifier *Classifier
	jitter     JitterSource

	onRetry  OnRetryFunc
	eventBus events.EventBus
	metrics  MetricsRecorder
	recorder AttemptRecorder
}

// NewEngine creates a retry engine over the given node URLs
func NewEngine(nodeURLs []string, cfg *config.Config) *Engine {
	tracker := endpoint.NewTracker(cfg.Pool, cfg.CircuitBreaker)
	return &Engine{
		cfg:        cfg,
		pool:       endpoint.NewPoolFromURLs(nodeURLs, tracker),
		tracker:    tracker,
		classifier: NewClassifier(cfg.Retry.RetryableErrorPatterns),
		jitter:     defaultJitter,
	}
}

// NewEngineWithNodes creates a retry engine over named node configurations
func NewEngineWithNodes(nodes []config.NodeConfig, cfg *config.Config) *Engine {
	tracker := endpoint.NewTracker(cfg.Pool, cfg.CircuitBreaker)
	return &Engine{
		cfg:        cfg,
		pool:       endpoint.NewPool(nodes, tracker),
		tracker:    tracker,
		classifier: NewClassifier(cfg.Retry.RetryableErrorPatterns),
		jitter:     defaultJitter,
	}
}

// SetOnRetry 设置重试回调
func (e *Engine) SetOnRetry(fn OnRetryFunc) {
	e.onRetry = fn
}

// SetEventBus 设置EventBus事件总线
func (e *Engine) SetEventBus(eventBus events.EventBus) {
	e.eventBus = eventBus
	e.tracker.SetEventBus(eventBus)
}

// SetMetrics 设置指标记录器
func (e *Engine) SetMetrics(metrics MetricsRecorder) {
	e.metrics = metrics
}

// SetAttemptRecorder 设置尝试审计记录器
func (e *Engine) SetAttemptRecorder(recorder AttemptRecorder) {
	e.recorder = recorder
}

// SetJitterSource 替换退避抖动源（测试用）
func (e *Engine) SetJitterSource(jitter JitterSource) {
	e.jitter = jitter
}

// GetNodesHealth returns the health snapshot of every node
func (e *Engine) GetNodesHealth() []endpoint.NodeHealth {
	return e.pool.Snapshot()
}

// GetPool returns the engine's node pool
func (e *Engine) GetPool() *endpoint.Pool {
	return e.pool
}

// GetTracker returns the engine's health tracker
func (e *Engine) GetTracker() *endpoint.Tracker {
	return e.tracker
}

// Execute 在节点池上执行操作，自动重试、熔断和截止时间控制
// 单个Execute调用内的尝试严格串行；多个并发Execute共享节点状态是安全的。
func (e *Engine) Execute(ctx context.Context, operation Operation, label string) (interface{}, error) {
	opID := uuid.New().String()[:8]
	start := time.Now()

	maxDuration := e.cfg.Retry.MaxDuration
	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, start.Add(maxDuration))
		defer cancel()
	}

	e.publishEvent(events.EventOperationStarted, events.PriorityNormal, map[string]interface{}{
		"operation_id": opID,
		"label":        label,
	})

	maxRetries := e.cfg.Retry.MaxRetries
	var attemptErrors []AttemptError
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		// 调用方取消或整体截止时间到达时立即停止
		if ctx.Err() != nil {
			return nil, e.finishDeadline(ctx, opID, label, start, maxDuration, lastErr)
		}

		// 可用节点数低于下限时快速失败，操作不会被调用
		available := e.pool.CountAvailable()
		if available < e.cfg.Pool.MinHealthyEndpoints {
			err := &InsufficientHealthyNodesError{Available: available, Required: e.cfg.Pool.MinHealthyEndpoints}
			slog.Warn(fmt.Sprintf("⚠️ [重试执行] [%s] 可用节点不足: %d/%d，立即终止 (操作: %s)",
				opID, available, e.cfg.Pool.MinHealthyEndpoints, label))
			e.publishCompleted(opID, label, false, attempt-1, start)
			return nil, err
		}

		ep := e.pool.Select(e.cfg.Pool.Strategy)
		if ep == nil {
			// 半开试探额度被并发请求占满，等同于没有可用节点
			err := &InsufficientHealthyNodesError{Available: 0, Required: e.cfg.Pool.MinHealthyEndpoints}
			slog.Warn(fmt.Sprintf("⚠️ [重试执行] [%s] 无法选出可用节点，立即终止 (操作: %s)", opID, label))
			e.publishCompleted(opID, label, false, attempt-1, start)
			return nil, err
		}

		slog.Debug(fmt.Sprintf("🎯 [重试执行] [%s] 选择节点: %s (尝试 %d/%d, 操作: %s)",
			opID, ep.Config.Name, attempt, maxRetries, label))

		attemptStart := time.Now()
		result, err := e.invokeWithTimeout(ctx, operation, ep)
		attemptDuration := time.Since(attemptStart)

		if err == nil {
			e.tracker.RecordSuccess(ep)
			e.recordAttempt(opID, label, attempt, ep.Config.Name, true, nil, 0, attemptDuration)
			slog.Info(fmt.Sprintf("✅ [重试执行] [%s] 操作成功: 节点 %s, 尝试 %d, 耗时 %s (操作: %s)",
				opID, ep.Config.Name, attempt, utils.FormatResponseTime(attemptDuration), label))
			e.publishCompleted(opID, label, true, attempt, start)
			return result, nil
		}

		// 整体截止时间在尝试过程中到达
		if ctx.Err() != nil && !errors.Is(err, errAttemptTimeout) {
			e.tracker.Release(ep)
			return nil, e.finishDeadline(ctx, opID, label, start, maxDuration, err)
		}

		if !errors.Is(err, errAttemptTimeout) && !e.classifier.IsRetryable(err) {
			// 不可重试错误不惩罚节点健康评分，但需要释放半开试探额度
			e.tracker.Release(ep)
			e.recordAttempt(opID, label, attempt, ep.Config.Name, false, err, 0, attemptDuration)
			slog.Warn(fmt.Sprintf("❌ [重试执行] [%s] 不可重试错误，立即终止: %v (节点: %s, 操作: %s)",
				opID, err, ep.Config.Name, label))
			e.publishCompleted(opID, label, false, attempt, start)
			return nil, &NonRetryableError{Err: err}
		}

		// 可重试失败：先同步更新健康与熔断状态，再决定下一步
		e.tracker.RecordFailure(ep, err)
		lastErr = err
		attemptErrors = append(attemptErrors, AttemptError{Attempt: attempt, Endpoint: ep.Config.Name, Err: err})

		if attempt == maxRetries {
			e.recordAttempt(opID, label, attempt, ep.Config.Name, false, err, 0, attemptDuration)
			break
		}

		delay := e.computeAttemptDelay(attempt, err)
		e.recordAttempt(opID, label, attempt, ep.Config.Name, false, err, delay, attemptDuration)

		if e.onRetry != nil {
			e.onRetry(attempt, err, delay)
		}
		if e.metrics != nil {
			e.metrics.RecordRetry(ep.Config.Name)
		}

		slog.Info(fmt.Sprintf("🔄 [重试执行] [%s] 尝试 %d/%d 失败，%s 后重试: %v (节点: %s, 操作: %s)",
			opID, attempt, maxRetries, utils.FormatResponseTime(delay), err, ep.Config.Name, label))

		e.publishEvent(events.EventOperationRetried, events.PriorityNormal, map[string]interface{}{
			"operation_id": opID,
			"label":        label,
			"attempt":      attempt,
			"node":         ep.Config.Name,
			"delay":        delay.String(),
			"error":        err.Error(),
		})

		// 退避前检查整体截止时间
		if maxDuration > 0 && time.Since(start)+delay >= maxDuration {
			elapsed := time.Since(start)
			slog.Warn(fmt.Sprintf("⏱️ [重试执行] [%s] 整体截止时间已到，放弃重试 (已耗时 %s, 操作: %s)",
				opID, utils.FormatResponseTime(elapsed), label))
			e.publishCompleted(opID, label, false, attempt, start)
			return nil, &OperationTimedOutError{Label: label, Elapsed: elapsed, Limit: maxDuration, LastErr: err}
		}

		if !e.sleep(ctx, delay) {
			return nil, e.finishDeadline(ctx, opID, label, start, maxDuration, err)
		}
	}

	slog.Warn(fmt.Sprintf("❌ [重试执行] [%s] 重试额度耗尽: %d 次尝试全部失败 (操作: %s)",
		opID, len(attemptErrors), label))
	e.publishCompleted(opID, label, false, maxRetries, start)
	return nil, &MaxRetriesExceededError{Label: label, Attempts: attemptErrors}
}

// invokeWithTimeout 执行单次尝试，与单次超时赛跑
// 超时产生可重试的合成错误；在途的操作不会被强制终止，只有操作自身配合context才会中断。
func (e *Engine) invokeWithTimeout(ctx context.Context, operation Operation, ep *endpoint.Endpoint) (interface{}, error) {
	perAttempt := e.cfg.Retry.PerAttemptTimeout
	attemptCtx := ctx
	if perAttempt > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, perAttempt)
		defer cancel()
	}

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := operation(attemptCtx, ep)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if perAttempt > 0 && ctx.Err() == nil {
			// 单次尝试超时，操作继续在后台运行直至自行结束
			return nil, fmt.Errorf("attempt timeout after %v: %w", perAttempt, errAttemptTimeout)
		}
		return nil, ctx.Err()
	}
}

// computeAttemptDelay 计算下一次尝试前的退避延迟
// 启用自适应延迟时，限流错误延迟×3，超时错误延迟×1.5，上限放宽到max_delay的2倍
func (e *Engine) computeAttemptDelay(attempt int, err error) time.Duration {
	delay := ComputeDelayWithSource(attempt, e.cfg.Retry.InitialDelay, e.cfg.Retry.MaxDelay, e.jitter)

	if !e.cfg.Retry.AdaptiveDelay {
		return delay
	}

	switch e.classifyWithTimeout(err) {
	case CategoryRateLimit:
		delay *= 3
	case CategoryTimeout:
		delay = time.Duration(float64(delay) * 1.5)
	default:
		return delay
	}

	adaptiveMax := e.cfg.Retry.MaxDelay * 2
	if delay > adaptiveMax {
		delay = adaptiveMax
	}
	return delay
}

// classifyWithTimeout 分类错误，引擎自身的超时信号固定归入timeout类别
func (e *Engine) classifyWithTimeout(err error) ErrorCategory {
	if errors.Is(err, errAttemptTimeout) {
		return CategoryTimeout
	}
	return e.classifier.Classify(err)
}

// sleep 可中断的退避等待，返回false表示context先被取消
func (e *Engine) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// finishDeadline 区分整体截止超时和调用方取消，返回对应错误
func (e *Engine) finishDeadline(ctx context.Context, opID, label string, start time.Time, maxDuration time.Duration, lastErr error) error {
	elapsed := time.Since(start)
	if maxDuration > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		slog.Warn(fmt.Sprintf("⏱️ [重试执行] [%s] 整体截止时间已到 (已耗时 %s, 操作: %s)",
			opID, utils.FormatResponseTime(elapsed), label))
		e.publishCompleted(opID, label, false, 0, start)
		return &OperationTimedOutError{Label: label, Elapsed: elapsed, Limit: maxDuration, LastErr: lastErr}
	}
	e.publishCompleted(opID, label, false, 0, start)
	return ctx.Err()
}

// recordAttempt 写入指标和审计记录
func (e *Engine) recordAttempt(opID, label string, attempt int, node string, success bool, err error, delay, duration time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordAttempt(node, success, duration)
	}
	if e.recorder == nil {
		return
	}

	record := AttemptRecord{
		OperationID: opID,
		Label:       label,
		Attempt:     attempt,
		Endpoint:    node,
		Success:     success,
		Delay:       delay,
		Duration:    duration,
		Timestamp:   time.Now(),
	}
	if err != nil {
		record.ErrorCategory = e.classifyWithTimeout(err).String()
		record.ErrorMessage = err.Error()
	}
	e.recorder.RecordAttempt(record)
}

func (e *Engine) publishEvent(eventType events.EventType, priority events.EventPriority, data map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Publish(events.Event{
		Type:     eventType,
		Source:   "retry_engine",
		Priority: priority,
		Data:     data,
	})
}

func (e *Engine) publishCompleted(opID, label string, success bool, attempts int, start time.Time) {
	e.publishEvent(events.EventOperationCompleted, events.PriorityNormal, map[string]interface{}{
		"operation_id": opID,
		"label":        label,
		"success":      success,
		"attempts":     attempts,
		"duration":     time.Since(start).String(),
	})
}
