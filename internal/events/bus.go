package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventBus 接口
type EventBus interface {
	// 发布事件
	Publish(event Event)

	// 设置 SSE 推送器
	SetSSEBroadcaster(broadcaster SSEBroadcaster)

	// 启动和停止
	Start() error
	Stop() error

	// 获取统计信息
	GetStats() BusStats
}

// SSE 广播器接口
type SSEBroadcaster interface {
	BroadcastEvent(eventType string, data map[string]interface{})
	IsActive() bool
}

// 事件过滤器
type EventFilter struct {
	// 是否推送给 SSE
	ShouldBroadcast func(event Event) bool

	// 频率限制（防止过度推送）
	RateLimit time.Duration
}

// EventBus 实现
type eventBus struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	eventChan      chan Event
	sseBroadcaster SSEBroadcaster

	filters      map[EventType]EventFilter
	rateLimiters map[EventType]*rateLimiter

	stats   BusStats
	statsMu sync.RWMutex

	// runMu保护running标志，并保证Stop关闭通道时没有在途的Publish发送
	runMu   sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// 统计信息
type BusStats struct {
	TotalEvents      int64                   `json:"total_events"`
	ProcessedEvents  int64                   `json:"processed_events"`
	DroppedEvents    int64                   `json:"dropped_events"`
	EventsByType     map[EventType]int64     `json:"events_by_type"`
	EventsByPriority map[EventPriority]int64 `json:"events_by_priority"`
	StartTime        time.Time               `json:"start_time"`
}

// 频率限制器
type rateLimiter struct {
	lastTime time.Time
	limit    time.Duration
	mu       sync.Mutex
}

func (rl *rateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastTime) >= rl.limit {
		rl.lastTime = now
		return true
	}
	return false
}

// NewEventBus 创建新的EventBus实例
func NewEventBus(logger *slog.Logger) EventBus {
	ctx, cancel := context.WithCancel(context.Background())

	bus := &eventBus{
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
		eventChan:    make(chan Event, 1000), // 缓冲区大小
		filters:      make(map[EventType]EventFilter),
		rateLimiters: make(map[EventType]*rateLimiter),
		stats: BusStats{
			EventsByType:     make(map[EventType]int64),
			EventsByPriority: make(map[EventPriority]int64),
			StartTime:        time.Now(),
		},
	}

	// 设置默认过滤器
	bus.setupDefaultFilters()

	return bus
}

// 设置默认过滤器
func (eb *eventBus) setupDefaultFilters() {
	// 操作事件过滤器 - 高频率但重要
	eb.filters[EventOperationStarted] = EventFilter{
		ShouldBroadcast: func(event Event) bool { return true },
		RateLimit:       100 * time.Millisecond,
	}

	eb.filters[EventOperationRetried] = EventFilter{
		ShouldBroadcast: func(event Event) bool { return true },
		RateLimit:       100 * time.Millisecond,
	}

	eb.filters[EventOperationCompleted] = EventFilter{
		ShouldBroadcast: func(event Event) bool { return true },
		RateLimit:       100 * time.Millisecond,
	}

	// 节点健康事件过滤器 - 关键事件，立即推送
	eb.filters[EventNodeHealthy] = EventFilter{
		ShouldBroadcast: func(event Event) bool { return true },
		RateLimit:       0, // 无限制
	}

	eb.filters[EventNodeUnhealthy] = EventFilter{
		ShouldBroadcast: func(event Event) bool { return true },
		RateLimit:       0, // 无限制
	}

	eb.filters[EventCircuitStateChanged] = EventFilter{
		ShouldBroadcast: func(event Event) bool { return true },
		RateLimit:       0, // 无限制
	}

	// 系统事件过滤器 - 重要系统事件
	eb.filters[EventSystemError] = EventFilter{
		ShouldBroadcast: func(event Event) bool { return true },
		RateLimit:       0, // 无限制
	}

	eb.filters[EventConfigChanged] = EventFilter{
		ShouldBroadcast: func(event Event) bool { return true },
		RateLimit:       0, // 无限制
	}

	// 初始化频率限制器
	for eventType, filter := range eb.filters {
		if filter.RateLimit > 0 {
			eb.rateLimiters[eventType] = &rateLimiter{
				limit: filter.RateLimit,
			}
		}
	}
}

// Publish 发布事件
func (eb *eventBus) Publish(event Event) {
	eb.runMu.RLock()
	defer eb.runMu.RUnlock()

	if !eb.running {
		eb.logger.Debug("EventBus not running, dropping event", "type", event.Type)
		return
	}

	// 设置时间戳
	event.Timestamp = time.Now()

	// 更新统计信息
	eb.updateStats(event, "total")

	select {
	case eb.eventChan <- event:
		// 事件发送成功
	default:
		// 缓冲区满，丢弃事件
		eb.updateStats(event, "dropped")
		eb.logger.Warn("EventBus buffer full, dropping event", "type", event.Type, "source", event.Source)
	}
}

// SetSSEBroadcaster 设置SSE广播器
func (eb *eventBus) SetSSEBroadcaster(broadcaster SSEBroadcaster) {
	eb.sseBroadcaster = broadcaster
}

// Start 启动EventBus
func (eb *eventBus) Start() error {
	eb.runMu.Lock()
	defer eb.runMu.Unlock()

	if eb.running {
		return nil
	}

	eb.running = true
	eb.wg.Add(1)

	go eb.eventProcessor()

	eb.logger.Info("EventBus started")
	return nil
}

// Stop 停止EventBus
func (eb *eventBus) Stop() error {
	eb.runMu.Lock()
	if !eb.running {
		eb.runMu.Unlock()
		return nil
	}

	eb.running = false
	eb.cancel()
	// 写锁保证此刻没有Publish在向通道发送
	close(eb.eventChan)
	eb.runMu.Unlock()

	eb.wg.Wait()

	eb.logger.Info("EventBus stopped")
	return nil
}

// GetStats 获取统计信息
func (eb *eventBus) GetStats() BusStats {
	eb.statsMu.RLock()
	defer eb.statsMu.RUnlock()

	// 深拷贝统计信息
	stats := BusStats{
		TotalEvents:      eb.stats.TotalEvents,
		ProcessedEvents:  eb.stats.ProcessedEvents,
		DroppedEvents:    eb.stats.DroppedEvents,
		EventsByType:     make(map[EventType]int64),
		EventsByPriority: make(map[EventPriority]int64),
		StartTime:        eb.stats.StartTime,
	}

	for k, v := range eb.stats.EventsByType {
		stats.EventsByType[k] = v
	}
	for k, v := range eb.stats.EventsByPriority {
		stats.EventsByPriority[k] = v
	}

	return stats
}

// 事件处理器
func (eb *eventBus) eventProcessor() {
	defer eb.wg.Done()

	eb.logger.Debug("EventBus processor started")

	for {
		select {
		case event, ok := <-eb.eventChan:
			if !ok {
				eb.logger.Debug("EventBus processor stopped")
				return
			}

			eb.processEvent(event)

		case <-eb.ctx.Done():
			eb.logger.Debug("EventBus processor context cancelled")
			return
		}
	}
}

// 处理单个事件
func (eb *eventBus) processEvent(event Event) {
	// 更新处理统计
	eb.updateStats(event, "processed")

	// 获取事件过滤器
	filter, exists := eb.filters[event.Type]
	if !exists {
		eb.logger.Debug("No filter for event type", "type", event.Type)
		return
	}

	// 检查是否应该广播
	if !filter.ShouldBroadcast(event) {
		eb.logger.Debug("Event filtered out", "type", event.Type)
		return
	}

	// 检查频率限制
	if limiter, exists := eb.rateLimiters[event.Type]; exists {
		if !limiter.Allow() {
			eb.logger.Debug("Event rate limited", "type", event.Type)
			return
		}
	}

	// 检查SSE广播器是否可用
	if eb.sseBroadcaster == nil {
		eb.logger.Debug("No SSE broadcaster set")
		return
	}

	if !eb.sseBroadcaster.IsActive() {
		eb.logger.Debug("SSE broadcaster not active")
		return
	}

	// 广播事件
	if frontendEventType, exists := EventTypeMapping[event.Type]; exists {
		eb.sseBroadcaster.BroadcastEvent(frontendEventType, event.Data)
		eb.logger.Debug("Event broadcasted", "type", event.Type, "frontend_type", frontendEventType)
	} else {
		eb.logger.Warn("No frontend mapping for event type", "type", event.Type)
	}
}

// 更新统计信息
func (eb *eventBus) updateStats(event Event, statType string) {
	eb.statsMu.Lock()
	defer eb.statsMu.Unlock()

	switch statType {
	case "total":
		eb.stats.TotalEvents++
		eb.stats.EventsByType[event.Type]++
		eb.stats.EventsByPriority[event.Priority]++
	case "processed":
		eb.stats.ProcessedEvents++
	case "dropped":
		eb.stats.DroppedEvents++
	}
}
