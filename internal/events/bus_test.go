package events

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectingBroadcaster 收集广播事件的测试桩
type collectingBroadcaster struct {
	mu     sync.Mutex
	events []string
	active bool
}

func (b *collectingBroadcaster) BroadcastEvent(eventType string, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *collectingBroadcaster) IsActive() bool {
	return b.active
}

func (b *collectingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func TestEventBus_PublishBeforeStartIsDropped(t *testing.T) {
	bus := NewEventBus(slog.Default())

	bus.Publish(Event{Type: EventNodeHealthy, Source: "test"})

	stats := bus.GetStats()
	assert.Equal(t, int64(0), stats.TotalEvents, "未启动的总线应丢弃事件")
}

func TestEventBus_PublishAndBroadcast(t *testing.T) {
	bus := NewEventBus(slog.Default())
	broadcaster := &collectingBroadcaster{active: true}
	bus.SetSSEBroadcaster(broadcaster)

	require.NoError(t, bus.Start())
	defer bus.Stop()

	bus.Publish(Event{
		Type:     EventCircuitStateChanged,
		Source:   "test",
		Priority: PriorityHigh,
		Data:     map[string]interface{}{"node": "node-a"},
	})

	require.Eventually(t, func() bool {
		return broadcaster.count() == 1
	}, time.Second, 10*time.Millisecond, "事件应被推送到SSE广播器")

	stats := bus.GetStats()
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.EventsByType[EventCircuitStateChanged])
	assert.Equal(t, int64(1), stats.EventsByPriority[PriorityHigh])
}

func TestEventBus_InactiveBroadcasterSkipped(t *testing.T) {
	bus := NewEventBus(slog.Default())
	broadcaster := &collectingBroadcaster{active: false}
	bus.SetSSEBroadcaster(broadcaster)

	require.NoError(t, bus.Start())
	defer bus.Stop()

	bus.Publish(Event{Type: EventNodeUnhealthy, Source: "test"})

	require.Eventually(t, func() bool {
		return bus.GetStats().ProcessedEvents == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, broadcaster.count(), "无在线客户端时不应广播")
}

func TestEventBus_StartStopIdempotent(t *testing.T) {
	bus := NewEventBus(slog.Default())

	require.NoError(t, bus.Start())
	require.NoError(t, bus.Start())
	require.NoError(t, bus.Stop())
	require.NoError(t, bus.Stop())
}

func TestEventBus_ConcurrentPublishDuringStop(t *testing.T) {
	bus := NewEventBus(slog.Default())
	require.NoError(t, bus.Start())

	// 关闭期间的并发发布不应触发向已关闭通道发送
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(Event{Type: EventOperationCompleted, Source: "test"})
			}
		}()
	}

	require.NoError(t, bus.Stop())
	wg.Wait()

	// 停止后的发布被静默丢弃
	bus.Publish(Event{Type: EventOperationCompleted, Source: "test"})
}

func TestEventTypeMapping_CoversAllTypes(t *testing.T) {
	types := []EventType{
		EventOperationStarted, EventOperationRetried, EventOperationCompleted,
		EventNodeHealthy, EventNodeUnhealthy, EventCircuitStateChanged,
		EventSystemError, EventConfigChanged,
	}
	for _, eventType := range types {
		_, ok := EventTypeMapping[eventType]
		assert.True(t, ok, "事件类型 %s 缺少前端映射", eventType)
	}
}
