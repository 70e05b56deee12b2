package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Retry          RetryConfig          `yaml:"retry"`
	Pool           PoolConfig           `yaml:"pool"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Tracking       TrackingConfig       `yaml:"tracking"`
	Web            WebConfig            `yaml:"web"` // Web dashboard configuration
	TUI            TUIConfig            `yaml:"tui"` // TUI configuration
	Proxy          ProxyConfig          `yaml:"proxy"`
	Nodes          []NodeConfig         `yaml:"nodes"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// RetryConfig 重试引擎配置
type RetryConfig struct {
	InitialDelay           time.Duration `yaml:"initial_delay"`
	MaxDelay               time.Duration `yaml:"max_delay"`
	MaxRetries             int           `yaml:"max_retries"`
	MaxDuration            time.Duration `yaml:"max_duration"`        // 整体截止时间，0表示不限制
	PerAttemptTimeout      time.Duration `yaml:"per_attempt_timeout"` // 单次尝试超时，0表示不限制
	AdaptiveDelay          bool          `yaml:"adaptive_delay"`      // 限流/超时错误使用加长延迟
	RetryableErrorPatterns []string      `yaml:"retryable_error_patterns,omitempty"`
}

// PoolConfig 节点池与负载均衡配置
type PoolConfig struct {
	Strategy            string  `yaml:"strategy"` // "health_first" or "round_robin"
	MinHealthyEndpoints int     `yaml:"min_healthy_endpoints"`
	HealthThreshold     float64 `yaml:"health_threshold"`
	HealthIncrement     float64 `yaml:"health_increment"`
	HealthDecrement     float64 `yaml:"health_decrement"`
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// TrackingConfig 尝试审计记录配置
type TrackingConfig struct {
	Enabled bool `yaml:"enabled"`

	// 数据库后端配置，未配置时默认使用 data/attempts.db 的SQLite
	Database *DatabaseBackendConfig `yaml:"database,omitempty"`

	BufferSize      int           `yaml:"buffer_size"`      // Event buffer size, default: 1000
	BatchSize       int           `yaml:"batch_size"`       // Batch write size, default: 100
	FlushInterval   time.Duration `yaml:"flush_interval"`   // Force flush interval, default: 30s
	RetentionDays   int           `yaml:"retention_days"`   // Data retention days (0=permanent), default: 90
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // Cleanup task execution interval, default: 24h
}

// DatabaseBackendConfig 数据库后端配置
type DatabaseBackendConfig struct {
	Type string `yaml:"type"` // "sqlite" | "mysql"

	// SQLite配置
	Path string `yaml:"path,omitempty"`

	// MySQL配置
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// 连接池配置
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable Web dashboard, default: false
	Host    string `yaml:"host"`    // Web dashboard host, default: localhost
	Port    int    `yaml:"port"`    // Web dashboard port, default: 8088
}

type TUIConfig struct {
	Enabled        bool          `yaml:"enabled"`         // Enable TUI monitor, default: false
	UpdateInterval time.Duration `yaml:"update_interval"` // TUI refresh interval, default: 1s
}

type ProxyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Type     string `yaml:"type"`     // "http", "https", "socks5"
	URL      string `yaml:"url"`      // Complete proxy URL
	Host     string `yaml:"host"`     // Proxy host
	Port     int    `yaml:"port"`     // Proxy port
	Username string `yaml:"username"` // Optional auth username
	Password string `yaml:"password"` // Optional auth password
}

type NodeConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	config.setDefaults()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Pool.Strategy == "" {
		c.Pool.Strategy = "health_first"
	}
	if c.Pool.MinHealthyEndpoints == 0 {
		c.Pool.MinHealthyEndpoints = 1
	}
	if c.Pool.HealthThreshold == 0 {
		c.Pool.HealthThreshold = 0.5
	}
	if c.Pool.HealthIncrement == 0 {
		c.Pool.HealthIncrement = 0.1
	}
	if c.Pool.HealthDecrement == 0 {
		c.Pool.HealthDecrement = 0.2
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.ResetTimeout == 0 {
		c.CircuitBreaker.ResetTimeout = 30 * time.Second
	}
	if c.Tracking.BufferSize == 0 {
		c.Tracking.BufferSize = 1000
	}
	if c.Tracking.BatchSize == 0 {
		c.Tracking.BatchSize = 100
	}
	if c.Tracking.FlushInterval == 0 {
		c.Tracking.FlushInterval = 30 * time.Second
	}
	if c.Tracking.RetentionDays == 0 {
		c.Tracking.RetentionDays = 90
	}
	if c.Tracking.CleanupInterval == 0 {
		c.Tracking.CleanupInterval = 24 * time.Hour
	}
	if c.Web.Host == "" {
		c.Web.Host = "localhost"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8088
	}
	if c.TUI.UpdateInterval == 0 {
		c.TUI.UpdateInterval = time.Second
	}

	// Node names default to their URL
	for i := range c.Nodes {
		if c.Nodes[i].Name == "" {
			c.Nodes[i].Name = c.Nodes[i].URL
		}
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("至少需要配置一个节点")
	}

	seen := make(map[string]bool)
	for _, node := range c.Nodes {
		if node.URL == "" {
			return fmt.Errorf("节点 '%s' 缺少URL配置", node.Name)
		}
		if !strings.HasPrefix(node.URL, "http://") && !strings.HasPrefix(node.URL, "https://") {
			return fmt.Errorf("节点 '%s' 的URL必须以http://或https://开头", node.Name)
		}
		if seen[node.Name] {
			return fmt.Errorf("节点名称 '%s' 重复", node.Name)
		}
		seen[node.Name] = true
	}

	switch c.Pool.Strategy {
	case "health_first", "round_robin":
	default:
		return fmt.Errorf("未知的负载均衡策略: %s (支持 health_first, round_robin)", c.Pool.Strategy)
	}

	if c.Pool.MinHealthyEndpoints < 0 {
		return fmt.Errorf("min_healthy_endpoints 不能为负数")
	}
	if c.Pool.MinHealthyEndpoints > len(c.Nodes) {
		return fmt.Errorf("min_healthy_endpoints (%d) 超过节点总数 (%d)", c.Pool.MinHealthyEndpoints, len(c.Nodes))
	}
	if c.Pool.HealthThreshold < 0 || c.Pool.HealthThreshold > 1 {
		return fmt.Errorf("health_threshold 必须在 [0,1] 范围内")
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("max_retries 必须大于等于1")
	}
	if c.Retry.InitialDelay > c.Retry.MaxDelay {
		return fmt.Errorf("initial_delay (%v) 不能大于 max_delay (%v)", c.Retry.InitialDelay, c.Retry.MaxDelay)
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold 必须大于等于1")
	}

	if c.Tracking.Enabled && c.Tracking.Database != nil {
		switch c.Tracking.Database.Type {
		case "", "sqlite", "mysql":
		default:
			return fmt.Errorf("未知的数据库类型: %s (支持 sqlite, mysql)", c.Tracking.Database.Type)
		}
		if c.Tracking.Database.Type == "mysql" {
			if c.Tracking.Database.Host == "" || c.Tracking.Database.Database == "" {
				return fmt.Errorf("mysql数据库配置缺少host或database")
			}
		}
	}

	return nil
}

// NodeURLs returns the URLs of all configured nodes
func (c *Config) NodeURLs() []string {
	urls := make([]string, len(c.Nodes))
	for i, node := range c.Nodes {
		urls[i] = node.URL
	}
	return urls
}
