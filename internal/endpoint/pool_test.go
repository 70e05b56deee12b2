package endpoint

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blob-relay/config"
)

func newTestPool(names ...string) (*Pool, *Tracker) {
	tracker := newTestTracker()
	nodes := make([]config.NodeConfig, len(names))
	for i, name := range names {
		nodes[i] = config.NodeConfig{Name: name, URL: "http://" + name + ".example.com"}
	}
	return NewPool(nodes, tracker), tracker
}

func TestPool_RoundRobinRotation(t *testing.T) {
	pool, _ := newTestPool("a", "b", "c")

	var selected []string
	for i := 0; i < 6; i++ {
		ep := pool.Select("round_robin")
		require.NotNil(t, ep)
		selected = append(selected, ep.Config.Name)
	}

	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, selected)
}

func TestPool_RoundRobinSkipsOpenCircuit(t *testing.T) {
	pool, tracker := newTestPool("a", "b", "c")
	failure := errors.New("network error")

	// 打开节点b的熔断器
	b := pool.GetEndpointByName("b")
	for i := 0; i < 3; i++ {
		tracker.RecordFailure(b, failure)
	}

	var selected []string
	for i := 0; i < 4; i++ {
		ep := pool.Select("round_robin")
		require.NotNil(t, ep)
		selected = append(selected, ep.Config.Name)
	}

	assert.Equal(t, []string{"a", "c", "a", "c"}, selected, "熔断节点应被跳过")
}

func TestPool_HealthFirstPicksHighestScore(t *testing.T) {
	pool, tracker := newTestPool("a", "b", "c")
	failure := errors.New("network error")

	tracker.RecordFailure(pool.GetEndpointByName("a"), failure)
	tracker.RecordFailure(pool.GetEndpointByName("a"), failure)
	tracker.RecordFailure(pool.GetEndpointByName("b"), failure)

	ep := pool.Select("health_first")
	require.NotNil(t, ep)
	assert.Equal(t, "c", ep.Config.Name, "应选择健康评分最高的节点")
}

func TestPool_HealthFirstTieBreaksByInsertionOrder(t *testing.T) {
	pool, _ := newTestPool("a", "b", "c")

	ep := pool.Select("health_first")
	require.NotNil(t, ep)
	assert.Equal(t, "a", ep.Config.Name, "评分相同时按配置顺序取先出现者")
}

func TestPool_SelectReturnsNilWhenAllOpen(t *testing.T) {
	pool, tracker := newTestPool("a", "b")
	failure := errors.New("network error")

	for _, ep := range pool.Endpoints() {
		for i := 0; i < 3; i++ {
			tracker.RecordFailure(ep, failure)
		}
	}

	assert.Nil(t, pool.Select("health_first"))
	assert.Nil(t, pool.Select("round_robin"))
	assert.Equal(t, 0, pool.CountAvailable())
}

func TestPool_CountAvailable(t *testing.T) {
	pool, tracker := newTestPool("a", "b", "c")
	failure := errors.New("network error")

	assert.Equal(t, 3, pool.CountAvailable())

	b := pool.GetEndpointByName("b")
	for i := 0; i < 3; i++ {
		tracker.RecordFailure(b, failure)
	}
	assert.Equal(t, 2, pool.CountAvailable(), "熔断打开的节点不计入可用数")

	// 健康评分低但熔断关闭的节点仍然可用
	a := pool.GetEndpointByName("a")
	tracker.RecordFailure(a, failure)
	tracker.RecordFailure(a, failure)
	assert.Equal(t, 2, pool.CountAvailable())
}

func TestPool_HealthFirstSkipsOccupiedHalfOpenTrial(t *testing.T) {
	pool, tracker := newTestPool("a")
	failure := errors.New("network error")

	now := time.Now()
	tracker.now = func() time.Time { return now }

	// 打开a的熔断器并进入半开状态
	a := pool.GetEndpointByName("a")
	for i := 0; i < 3; i++ {
		tracker.RecordFailure(a, failure)
	}
	now = now.Add(31 * time.Second)
	require.True(t, tracker.TryAcquire(a), "占用半开试探额度")

	assert.Nil(t, pool.Select("health_first"), "试探额度被占用的半开节点应被跳过")

	// 试探结束后恢复可选
	tracker.RecordSuccess(a)
	ep := pool.Select("health_first")
	require.NotNil(t, ep)
	assert.Equal(t, "a", ep.Config.Name)
}

func TestPool_HealthFirstFallsBackWhenTrialSlotContended(t *testing.T) {
	pool, tracker := newTestPool("a", "b")
	failure := errors.New("network error")

	now := time.Now()
	tracker.now = func() time.Time { return now }

	// 两个节点都打开熔断器并越过冷却期
	for _, ep := range pool.Endpoints() {
		for i := 0; i < 3; i++ {
			tracker.RecordFailure(ep, failure)
		}
	}
	now = now.Add(31 * time.Second)

	// 并发选择：两个请求分别拿到不同节点的试探额度，谁都不应空手而归
	var wg sync.WaitGroup
	results := make([]*Endpoint, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = pool.Select("health_first")
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].Config.Name, results[1].Config.Name, "并发请求应分配到不同的半开节点")
}

func TestPool_NewPoolFromURLs(t *testing.T) {
	tracker := newTestTracker()
	pool := NewPoolFromURLs([]string{"http://x.example.com", "http://y.example.com"}, tracker)

	require.Len(t, pool.Endpoints(), 2)
	assert.Equal(t, "http://x.example.com", pool.Endpoints()[0].Config.Name, "无名节点以URL作为名称")

	snapshot := pool.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, 1.0, snapshot[0].Health)
}
