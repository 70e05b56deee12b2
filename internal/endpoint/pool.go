package endpoint

import (
	"sync"

	"blob-relay/config"
)

// Pool manages the node set and selects the next node to try.
// 节点集合在创建时固定，健康与熔断状态由Tracker在每次尝试后更新。
type Pool struct {
	endpoints []*Endpoint
	tracker   *Tracker

	// round_robin游标
	cursorMu sync.Mutex
	cursor   int
}

// NewPool creates a pool from the configured node list
func NewPool(nodes []config.NodeConfig, tracker *Tracker) *Pool {
	endpoints := make([]*Endpoint, len(nodes))
	for i, nodeCfg := range nodes {
		endpoints[i] = NewEndpoint(nodeCfg)
	}
	return &Pool{
		endpoints: endpoints,
		tracker:   tracker,
	}
}

// NewPoolFromURLs creates a pool from a plain URL list, naming each node by its URL
func NewPoolFromURLs(urls []string, tracker *Tracker) *Pool {
	nodes := make([]config.NodeConfig, len(urls))
	for i, url := range urls {
		nodes[i] = config.NodeConfig{Name: url, URL: url}
	}
	return NewPool(nodes, tracker)
}

// Select picks the next node to try according to the strategy.
// 返回nil表示当前没有可用节点（全部熔断或半开试探额度已被占用）。
func (p *Pool) Select(strategy string) *Endpoint {
	switch strategy {
	case "round_robin":
		return p.selectRoundRobin()
	default:
		return p.selectHealthFirst()
	}
}

// selectHealthFirst 在所有可用节点中选择健康评分最高的节点
// 评分相同时优先连续失败次数少的节点，再按配置顺序取先出现者。
// 选中节点的半开试探额度被并发请求抢占时，换下一个候选重新选择。
func (p *Pool) selectHealthFirst() *Endpoint {
	skipped := make(map[*Endpoint]bool)

	for {
		var best *Endpoint
		var bestStatus NodeStatus

		for _, ep := range p.endpoints {
			if skipped[ep] || !p.tracker.IsAvailable(ep) {
				continue
			}
			status := ep.GetStatus()
			if status.CircuitState == CircuitHalfOpen && status.TrialInFlight {
				continue
			}
			if best == nil ||
				status.Health > bestStatus.Health ||
				(status.Health == bestStatus.Health && status.ConsecutiveFailures < bestStatus.ConsecutiveFailures) {
				best = ep
				bestStatus = status
			}
		}

		if best == nil {
			return nil
		}
		if p.tracker.TryAcquire(best) {
			return best
		}
		skipped[best] = true
	}
}

// selectRoundRobin 按固定顺序轮转选择节点
// 只跳过熔断未到冷却期的节点，健康评分不参与排序
func (p *Pool) selectRoundRobin() *Endpoint {
	p.cursorMu.Lock()
	defer p.cursorMu.Unlock()

	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		ep := p.endpoints[idx]
		if p.tracker.TryAcquire(ep) {
			p.cursor = idx + 1
			return ep
		}
	}
	return nil
}

// CountAvailable returns the number of nodes currently passing the availability check
func (p *Pool) CountAvailable() int {
	count := 0
	for _, ep := range p.endpoints {
		if p.tracker.IsAvailable(ep) {
			count++
		}
	}
	return count
}

// Endpoints returns all endpoints in configuration order
func (p *Pool) Endpoints() []*Endpoint {
	return p.endpoints
}

// GetEndpointByName returns an endpoint by name
func (p *Pool) GetEndpointByName(name string) *Endpoint {
	for _, ep := range p.endpoints {
		if ep.Config.Name == name {
			return ep
		}
	}
	return nil
}

// Snapshot returns the observability snapshot of every node in configuration order
func (p *Pool) Snapshot() []NodeHealth {
	snapshots := make([]NodeHealth, len(p.endpoints))
	for i, ep := range p.endpoints {
		snapshots[i] = p.tracker.Snapshot(ep)
	}
	return snapshots
}
