// Package utils 提供通用的格式化工具函数
package utils

import (
	"fmt"
	"time"
)

// FormatResponseTime 友好格式化耗时显示
// 用法: utils.FormatResponseTime(duration)
func FormatResponseTime(duration time.Duration) string {
	if duration == 0 {
		return "0ms"
	}

	ms := float64(duration.Nanoseconds()) / 1e6

	if ms < 1 {
		us := float64(duration.Nanoseconds()) / 1e3
		if us < 1 {
			return "< 1μs"
		}
		return fmt.Sprintf("%.0fμs", us)
	} else if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	} else if ms < 60000 {
		seconds := ms / 1000
		if seconds < 10 {
			return fmt.Sprintf("%.1fs", seconds)
		}
		return fmt.Sprintf("%.0fs", seconds)
	} else {
		minutes := int(ms / 60000)
		seconds := (ms - float64(minutes*60000)) / 1000
		return fmt.Sprintf("%dm%.0fs", minutes, seconds)
	}
}

// FormatHealth 格式化健康评分显示（0.0-1.0转百分比）
// 用法: utils.FormatHealth(0.75) => "75.0%"
func FormatHealth(health float64) string {
	return fmt.Sprintf("%.1f%%", health*100)
}

// FormatPercentage 格式化百分比显示
// 用法: utils.FormatPercentage(succeeded, total)
func FormatPercentage(value, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	percentage := float64(value) / float64(total) * 100
	return fmt.Sprintf("%.1f%%", percentage)
}

// FormatFileSize 格式化字节数显示
// 用法: utils.FormatFileSize(bytes)
func FormatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
