package endpoint

import (
	"sync"
	"time"

	"blob-relay/config"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the human readable circuit state name
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// NodeStatus represents the learned health state of a node
type NodeStatus struct {
	Health              float64 // [0,1] 健康评分
	ConsecutiveFailures int
	LastFailureAt       time.Time // 零值表示从未失败
	CircuitState        CircuitState
	CircuitOpenedAt     time.Time
	TrialInFlight       bool // HalfOpen状态下是否已有试探请求在途
}

// Endpoint represents a storage node with its configuration and learned status
type Endpoint struct {
	Config config.NodeConfig
	Status NodeStatus
	mutex  sync.RWMutex
}

// NewEndpoint creates an endpoint starting at full health with a closed circuit
func NewEndpoint(cfg config.NodeConfig) *Endpoint {
	return &Endpoint{
		Config: cfg,
		Status: NodeStatus{
			Health:       1.0,
			CircuitState: CircuitClosed,
		},
	}
}

// GetStatus returns a copy of the node status
func (e *Endpoint) GetStatus() NodeStatus {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.Status
}

// GetHealth returns the current health score of the node
func (e *Endpoint) GetHealth() float64 {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.Status.Health
}

// GetCircuitState returns the current circuit state of the node
func (e *Endpoint) GetCircuitState() CircuitState {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.Status.CircuitState
}

// NodeHealth is the observability snapshot of a single node
type NodeHealth struct {
	Name                string    `json:"name"`
	URL                 string    `json:"url"`
	Health              float64   `json:"health"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	CircuitState        string    `json:"circuit_state"`
}
