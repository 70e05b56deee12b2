package retry

import (
	"context"
	"log/slog"
	"time"
)

// Options 单目标重试辅助函数的选项
// 零值字段使用默认值：3次尝试、1秒初始延迟、30秒最大延迟
type Options struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	RetryableErrors []string
	OnRetry         OnRetryFunc
	Jitter          JitterSource
}

func (o *Options) applyDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Jitter == nil {
		o.Jitter = defaultJitter
	}
}

// Do 对单一目标执行带指数退避的重试
// 不涉及节点池、健康评分和熔断器，适合对固定资源的简单重试场景。
func Do(ctx context.Context, operation func(ctx context.Context) (interface{}, error), opts Options) (interface{}, error) {
	opts.applyDefaults()
	classifier := NewClassifier(opts.RetryableErrors)

	var attemptErrors []AttemptError
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}

		if !classifier.IsRetryable(err) {
			return nil, &NonRetryableError{Err: err}
		}

		attemptErrors = append(attemptErrors, AttemptError{Attempt: attempt, Err: err})
		if attempt == opts.MaxRetries {
			break
		}

		delay := ComputeDelayWithSource(attempt, opts.InitialDelay, opts.MaxDelay, opts.Jitter)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, delay)
		}
		slog.Debug("🔄 [单目标重试] 尝试失败，等待后重试",
			"attempt", attempt, "max_retries", opts.MaxRetries, "delay", delay.String(), "error", err.Error())

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return nil, &MaxRetriesExceededError{Attempts: attemptErrors}
}
