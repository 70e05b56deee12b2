package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sseMessage 推送给前端的单条SSE消息
type sseMessage struct {
	Event string
	Data  string
}

// SSEManager 管理SSE客户端连接并向其广播事件
// 实现events.SSEBroadcaster接口，由EventBus驱动。
type SSEManager struct {
	mu      sync.RWMutex
	clients map[string]chan sseMessage
	logger  *slog.Logger
}

// NewSSEManager 创建SSE连接管理器
func NewSSEManager(logger *slog.Logger) *SSEManager {
	return &SSEManager{
		clients: make(map[string]chan sseMessage),
		logger:  logger,
	}
}

// AddClient 注册一个新的SSE客户端，返回客户端ID和消息通道
func (m *SSEManager) AddClient() (string, chan sseMessage) {
	clientID := uuid.New().String()[:8]
	ch := make(chan sseMessage, 64)

	m.mu.Lock()
	m.clients[clientID] = ch
	count := len(m.clients)
	m.mu.Unlock()

	m.logger.Info(fmt.Sprintf("📡 SSE客户端已连接: %s (当前连接数: %d)", clientID, count))
	return clientID, ch
}

// RemoveClient 注销SSE客户端
func (m *SSEManager) RemoveClient(clientID string) {
	m.mu.Lock()
	if ch, ok := m.clients[clientID]; ok {
		delete(m.clients, clientID)
		close(ch)
	}
	count := len(m.clients)
	m.mu.Unlock()

	m.logger.Info(fmt.Sprintf("📡 SSE客户端已断开: %s (当前连接数: %d)", clientID, count))
}

// BroadcastEvent 向所有客户端广播事件，客户端缓冲满时丢弃
func (m *SSEManager) BroadcastEvent(eventType string, data map[string]interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      eventType,
		"data":      data,
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		m.logger.Error("SSE事件序列化失败", "error", err)
		return
	}

	message := sseMessage{Event: eventType, Data: string(payload)}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for clientID, ch := range m.clients {
		select {
		case ch <- message:
		default:
			m.logger.Debug("SSE客户端缓冲区已满，丢弃事件", "client", clientID, "type", eventType)
		}
	}
}

// IsActive 是否有客户端在线
func (m *SSEManager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients) > 0
}

// ClientCount 当前在线客户端数
func (m *SSEManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CloseAll 关闭所有客户端连接
func (m *SSEManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for clientID, ch := range m.clients {
		delete(m.clients, clientID)
		close(ch)
	}
}
