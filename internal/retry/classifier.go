package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory 错误分类枚举
type ErrorCategory int

const (
	CategoryNonRetryable ErrorCategory = iota
	CategoryNetwork
	CategoryTimeout
	CategoryRateLimit
	CategoryServer
)

// String returns the human readable category name
func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryTimeout:
		return "timeout"
	case CategoryRateLimit:
		return "rate_limit"
	case CategoryServer:
		return "server"
	default:
		return "non_retryable"
	}
}

// StatusError 携带HTTP状态码的错误
// 操作回调可返回它（或任何实现StatusCode() int的错误）让分类器按状态码判断
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.Code)
}

// StatusCode returns the HTTP status code of the error
func (e *StatusError) StatusCode() int {
	return e.Code
}

type statusCoder interface {
	StatusCode() int
}

// 内置可重试错误模式（大小写不敏感的子串匹配）
var defaultRetryablePatterns = []string{
	"network",
	"timeout",
	"connection",
	"econnrefused",
	"econnreset",
	"429",
	"rate limit",
	"503",
}

// Classifier 判断错误是否值得重试
// 调用方提供的模式集合会完全取代内置集合（包括状态码匹配），而不是与其合并
type Classifier struct {
	patterns  []string
	overrides bool
}

// NewClassifier creates a classifier.
// 传入nil或空集合时使用内置模式；否则只使用调用方的模式。
func NewClassifier(overridePatterns []string) *Classifier {
	if len(overridePatterns) == 0 {
		return &Classifier{patterns: defaultRetryablePatterns}
	}
	patterns := make([]string, len(overridePatterns))
	for i, p := range overridePatterns {
		patterns[i] = strings.ToLower(p)
	}
	return &Classifier{patterns: patterns, overrides: true}
}

// IsRetryable 判断错误是否可重试
func (c *Classifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// 状态码匹配只在使用内置模式时生效；调用方覆盖模式后完全按其模式判断
	if !c.overrides {
		if code, ok := errorStatusCode(err); ok {
			if code == 429 || code == 503 {
				return true
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
	}

	message := strings.ToLower(err.Error())
	for _, pattern := range c.patterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}

// Classify 返回错误的分类，用于自适应延迟和审计记录
func (c *Classifier) Classify(err error) ErrorCategory {
	if err == nil || !c.IsRetryable(err) {
		return CategoryNonRetryable
	}

	if code, ok := errorStatusCode(err); ok {
		switch code {
		case 429:
			return CategoryRateLimit
		case 503:
			return CategoryServer
		}
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "429") || strings.Contains(message, "rate limit"):
		return CategoryRateLimit
	case strings.Contains(message, "timeout") || errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case strings.Contains(message, "503"):
		return CategoryServer
	case strings.Contains(message, "network") || strings.Contains(message, "connection") ||
		strings.Contains(message, "econnrefused") || strings.Contains(message, "econnreset"):
		return CategoryNetwork
	default:
		// 自定义模式命中但无法归入具体类别时按网络错误处理
		return CategoryNetwork
	}
}

// errorStatusCode 在错误链中查找HTTP状态码
func errorStatusCode(err error) (int, bool) {
	for err != nil {
		if sc, ok := err.(statusCoder); ok {
			return sc.StatusCode(), true
		}
		err = errors.Unwrap(err)
	}
	return 0, false
}
