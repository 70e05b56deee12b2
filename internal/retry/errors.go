package retry

import (
	"fmt"
	"strings"
	"time"
)

// NonRetryableError 包装被分类为不可重试的原始错误
// 执行器遇到此类错误时立即终止，不消耗剩余重试额度
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable error: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// InsufficientHealthyNodesError 可用节点数低于配置下限
// 在调用操作之前快速失败，表示节点池出现系统性故障
type InsufficientHealthyNodesError struct {
	Available int
	Required  int
}

func (e *InsufficientHealthyNodesError) Error() string {
	return fmt.Sprintf("insufficient healthy nodes: %d available, %d required", e.Available, e.Required)
}

// OperationTimedOutError 整体执行超出max_duration截止时间
type OperationTimedOutError struct {
	Label   string
	Elapsed time.Duration
	Limit   time.Duration
	LastErr error
}

func (e *OperationTimedOutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("operation %q timed out after %v (limit %v), last error: %v",
			e.Label, e.Elapsed.Round(time.Millisecond), e.Limit, e.LastErr)
	}
	return fmt.Sprintf("operation %q timed out after %v (limit %v)",
		e.Label, e.Elapsed.Round(time.Millisecond), e.Limit)
}

func (e *OperationTimedOutError) Unwrap() error {
	return e.LastErr
}

// AttemptError 单次尝试的失败记录
type AttemptError struct {
	Attempt  int
	Endpoint string
	Err      error
}

func (e AttemptError) Error() string {
	return fmt.Sprintf("attempt %d (%s): %v", e.Attempt, e.Endpoint, e.Err)
}

// MaxRetriesExceededError 重试额度耗尽
// 聚合所有尝试的失败信息用于诊断
type MaxRetriesExceededError struct {
	Label    string
	Attempts []AttemptError
}

func (e *MaxRetriesExceededError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "operation %q failed after %d attempts", e.Label, len(e.Attempts))
	for _, attempt := range e.Attempts {
		sb.WriteString("; ")
		sb.WriteString(attempt.Error())
	}
	return sb.String()
}

// Unwrap returns the error of the final attempt
func (e *MaxRetriesExceededError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}
