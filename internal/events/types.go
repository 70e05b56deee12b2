package events

import "time"

// 事件类型枚举
type EventType string

const (
	// 操作生命周期事件
	EventOperationStarted   EventType = "operation_started"
	EventOperationRetried   EventType = "operation_retried"
	EventOperationCompleted EventType = "operation_completed"

	// 节点健康事件
	EventNodeHealthy         EventType = "node_healthy"
	EventNodeUnhealthy       EventType = "node_unhealthy"
	EventCircuitStateChanged EventType = "circuit_state_changed"

	// 系统级事件
	EventSystemError   EventType = "system_error"
	EventConfigChanged EventType = "config_changed"
)

// 事件优先级
type EventPriority int

const (
	PriorityLow      EventPriority = iota // 批量处理，如统计数据
	PriorityNormal                        // 延迟处理，如操作完成
	PriorityHigh                          // 立即处理，如健康状态变化
	PriorityCritical                      // 紧急处理，如系统错误
)

// 事件结构
type Event struct {
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // 事件来源组件
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
}

// 前端事件类型映射
var EventTypeMapping = map[EventType]string{
	EventOperationStarted:    "operation",
	EventOperationRetried:    "operation",
	EventOperationCompleted:  "operation",
	EventNodeHealthy:         "node",
	EventNodeUnhealthy:       "node",
	EventCircuitStateChanged: "node",
	EventSystemError:         "status",
	EventConfigChanged:       "config",
}
