package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatResponseTime(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Nanosecond, "< 1μs"},
		{800 * time.Microsecond, "800μs"},
		{42 * time.Millisecond, "42ms"},
		{999 * time.Millisecond, "999ms"},
		{1500 * time.Millisecond, "1.5s"},
		{12 * time.Second, "12s"},
		{90 * time.Second, "1m30s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatResponseTime(tt.duration), "duration=%v", tt.duration)
	}
}

func TestFormatHealth(t *testing.T) {
	assert.Equal(t, "100.0%", FormatHealth(1.0))
	assert.Equal(t, "75.0%", FormatHealth(0.75))
	assert.Equal(t, "0.0%", FormatHealth(0))
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "0.0%", FormatPercentage(5, 0), "除零应返回0.0%")
	assert.Equal(t, "50.0%", FormatPercentage(1, 2))
	assert.Equal(t, "33.3%", FormatPercentage(1, 3))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.0 KB", FormatFileSize(1024))
	assert.Equal(t, "1.5 MB", FormatFileSize(1536*1024))
	assert.Equal(t, "2.0 GB", FormatFileSize(2*1024*1024*1024))
}
