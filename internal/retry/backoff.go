package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// JitterSource 抖动随机源
// 可注入的随机源，测试中可替换为确定性序列
type JitterSource interface {
	// Float64 returns a value in [0,1)
	Float64() float64
}

// lockedJitter is the default jitter source, safe for concurrent use
type lockedJitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (j *lockedJitter) Float64() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rng.Float64()
}

// NewJitterSource creates a concurrency-safe jitter source seeded from the clock
func NewJitterSource() JitterSource {
	return &lockedJitter{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

var defaultJitter = NewJitterSource()

// jitterSpread 抖动系数范围：[-0.2, +0.2]
const jitterSpread = 0.2

// ComputeDelay 计算指数退避延迟
// 算法: base = initialDelay * 2^(attempt-1)，乘以[0.8, 1.2]范围内的抖动系数，
// 结果始终限制在[initialDelay, maxDelay]区间内，超大attempt不会溢出。
func ComputeDelay(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	return ComputeDelayWithSource(attempt, initialDelay, maxDelay, defaultJitter)
}

// ComputeDelayWithSource 使用指定抖动源计算指数退避延迟
func ComputeDelayWithSource(attempt int, initialDelay, maxDelay time.Duration, jitter JitterSource) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}

	// 指数基数用浮点计算，大attempt时直接饱和到maxDelay
	base := float64(initialDelay) * math.Pow(2, float64(attempt-1))

	// jitterFactor 均匀分布于 [-0.2, +0.2]
	jitterFactor := jitter.Float64()*2*jitterSpread - jitterSpread
	delay := base * (1 + jitterFactor)

	if math.IsInf(delay, 1) || math.IsNaN(delay) || delay > float64(maxDelay) {
		return maxDelay
	}
	if delay < float64(initialDelay) {
		return initialDelay
	}
	return time.Duration(delay)
}
