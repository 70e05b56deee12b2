package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
nodes:
  - name: "node-a"
    url: "http://node-a.example.com"
`

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, "health_first", cfg.Pool.Strategy)
	assert.Equal(t, 1, cfg.Pool.MinHealthyEndpoints)
	assert.Equal(t, 0.5, cfg.Pool.HealthThreshold)
	assert.Equal(t, 0.1, cfg.Pool.HealthIncrement)
	assert.Equal(t, 0.2, cfg.Pool.HealthDecrement)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.ResetTimeout)
	assert.Equal(t, 1000, cfg.Tracking.BufferSize)
	assert.Equal(t, 90, cfg.Tracking.RetentionDays)
}

func TestLoadConfig_FullConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, `
server:
  host: "0.0.0.0"
  port: 9090
retry:
  initial_delay: "500ms"
  max_delay: "10s"
  max_retries: 5
  max_duration: "2m"
  per_attempt_timeout: "15s"
  adaptive_delay: true
  retryable_error_patterns:
    - "custom transient"
pool:
  strategy: "round_robin"
  min_healthy_endpoints: 2
circuit_breaker:
  failure_threshold: 3
  reset_timeout: "1m"
nodes:
  - name: "node-a"
    url: "http://node-a.example.com"
  - name: "node-b"
    url: "https://node-b.example.com"
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Retry.MaxDuration)
	assert.Equal(t, 15*time.Second, cfg.Retry.PerAttemptTimeout)
	assert.True(t, cfg.Retry.AdaptiveDelay)
	assert.Equal(t, []string{"custom transient"}, cfg.Retry.RetryableErrorPatterns)
	assert.Equal(t, "round_robin", cfg.Pool.Strategy)
	assert.Equal(t, 2, cfg.Pool.MinHealthyEndpoints)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.CircuitBreaker.ResetTimeout)
	require.Len(t, cfg.Nodes, 2)
}

func TestLoadConfig_NodeNameDefaultsToURL(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, `
nodes:
  - url: "http://node-a.example.com"
`))
	require.NoError(t, err)
	assert.Equal(t, "http://node-a.example.com", cfg.Nodes[0].Name)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"无节点", `pool: {strategy: "health_first"}`},
		{"缺少URL", `
nodes:
  - name: "node-a"
`},
		{"非法URL协议", `
nodes:
  - name: "node-a"
    url: "ftp://node-a.example.com"
`},
		{"节点名称重复", `
nodes:
  - name: "dup"
    url: "http://a.example.com"
  - name: "dup"
    url: "http://b.example.com"
`},
		{"未知策略", `
pool:
  strategy: "random"
nodes:
  - url: "http://a.example.com"
`},
		{"下限超过节点数", `
pool:
  min_healthy_endpoints: 3
nodes:
  - url: "http://a.example.com"
`},
		{"initial大于max", `
retry:
  initial_delay: "1m"
  max_delay: "1s"
nodes:
  - url: "http://a.example.com"
`},
		{"未知数据库类型", `
tracking:
  enabled: true
  database:
    type: "postgres"
nodes:
  - url: "http://a.example.com"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestConfig_NodeURLs(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, `
nodes:
  - name: "node-a"
    url: "http://a.example.com"
  - name: "node-b"
    url: "http://b.example.com"
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.example.com", "http://b.example.com"}, cfg.NodeURLs())
}
