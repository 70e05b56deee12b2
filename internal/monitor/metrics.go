package monitor

import (
	"sync"
	"time"
)

// Metrics contains all monitoring metrics for the executor
type Metrics struct {
	mu sync.RWMutex

	// Attempt metrics
	TotalAttempts      int64
	SuccessfulAttempts int64
	FailedAttempts     int64
	TotalRetries       int64

	// Response time metrics
	TotalResponseTime time.Duration
	MinResponseTime   time.Duration
	MaxResponseTime   time.Duration

	// Per-node metrics
	NodeStats map[string]*NodeMetrics

	// System metrics
	StartTime time.Time

	// Historical data (circular buffer)
	AttemptHistory   []AttemptDataPoint
	MaxHistoryPoints int
}

// NodeMetrics tracks metrics for a specific node
type NodeMetrics struct {
	Name               string
	TotalAttempts      int64
	SuccessfulAttempts int64
	FailedAttempts     int64
	RetryCount         int64
	TotalResponseTime  time.Duration
	MinResponseTime    time.Duration
	MaxResponseTime    time.Duration
	LastUsed           time.Time
}

// AttemptDataPoint represents attempt counters at a point in time
type AttemptDataPoint struct {
	Timestamp  time.Time
	Total      int64
	Successful int64
	Failed     int64
	Retries    int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		NodeStats:        make(map[string]*NodeMetrics),
		StartTime:        time.Now(),
		AttemptHistory:   make([]AttemptDataPoint, 0),
		MaxHistoryPoints: 300, // 5 minutes of data at 1-second intervals
	}
}

// RecordAttempt records a single attempt against a node
func (m *Metrics) RecordAttempt(node string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalAttempts++
	m.TotalResponseTime += duration
	if m.MinResponseTime == 0 || duration < m.MinResponseTime {
		m.MinResponseTime = duration
	}
	if duration > m.MaxResponseTime {
		m.MaxResponseTime = duration
	}

	stats := m.nodeStatsLocked(node)
	stats.TotalAttempts++
	stats.TotalResponseTime += duration
	stats.LastUsed = time.Now()
	if stats.MinResponseTime == 0 || duration < stats.MinResponseTime {
		stats.MinResponseTime = duration
	}
	if duration > stats.MaxResponseTime {
		stats.MaxResponseTime = duration
	}

	if success {
		m.SuccessfulAttempts++
		stats.SuccessfulAttempts++
	} else {
		m.FailedAttempts++
		stats.FailedAttempts++
	}
}

// RecordRetry records a retry decision for a node
func (m *Metrics) RecordRetry(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRetries++
	m.nodeStatsLocked(node).RetryCount++
}

func (m *Metrics) nodeStatsLocked(node string) *NodeMetrics {
	stats, ok := m.NodeStats[node]
	if !ok {
		stats = &NodeMetrics{Name: node}
		m.NodeStats[node] = stats
	}
	return stats
}

// RecordHistoryPoint appends the current counters to the circular history buffer
func (m *Metrics) RecordHistoryPoint() {
	m.mu.Lock()
	defer m.mu.Unlock()

	point := AttemptDataPoint{
		Timestamp:  time.Now(),
		Total:      m.TotalAttempts,
		Successful: m.SuccessfulAttempts,
		Failed:     m.FailedAttempts,
		Retries:    m.TotalRetries,
	}

	m.AttemptHistory = append(m.AttemptHistory, point)
	if len(m.AttemptHistory) > m.MaxHistoryPoints {
		m.AttemptHistory = m.AttemptHistory[len(m.AttemptHistory)-m.MaxHistoryPoints:]
	}
}

// Summary is a read-only snapshot of the aggregate counters
type Summary struct {
	TotalAttempts      int64          `json:"total_attempts"`
	SuccessfulAttempts int64          `json:"successful_attempts"`
	FailedAttempts     int64          `json:"failed_attempts"`
	TotalRetries       int64          `json:"total_retries"`
	AvgResponseTime    time.Duration  `json:"avg_response_time"`
	MinResponseTime    time.Duration  `json:"min_response_time"`
	MaxResponseTime    time.Duration  `json:"max_response_time"`
	Uptime             time.Duration  `json:"uptime"`
	Nodes              []NodeMetrics  `json:"nodes"`
}

// GetSummary returns a consistent snapshot of all counters
func (m *Metrics) GetSummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := Summary{
		TotalAttempts:      m.TotalAttempts,
		SuccessfulAttempts: m.SuccessfulAttempts,
		FailedAttempts:     m.FailedAttempts,
		TotalRetries:       m.TotalRetries,
		MinResponseTime:    m.MinResponseTime,
		MaxResponseTime:    m.MaxResponseTime,
		Uptime:             time.Since(m.StartTime),
	}
	if m.TotalAttempts > 0 {
		summary.AvgResponseTime = m.TotalResponseTime / time.Duration(m.TotalAttempts)
	}

	summary.Nodes = make([]NodeMetrics, 0, len(m.NodeStats))
	for _, stats := range m.NodeStats {
		summary.Nodes = append(summary.Nodes, *stats)
	}
	return summary
}

// GetHistory returns a copy of the attempt history buffer
func (m *Metrics) GetHistory() []AttemptDataPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := make([]AttemptDataPoint, len(m.AttemptHistory))
	copy(history, m.AttemptHistory)
	return history
}
