package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"blob-relay/config"
)

// mysqlSchema MySQL建表语句
// MySQL驱动不支持一次执行多条语句，按语句分别执行
var mysqlSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS attempt_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		operation_id VARCHAR(64) NOT NULL,
		label VARCHAR(255) NOT NULL DEFAULT '',
		attempt INT NOT NULL,
		endpoint VARCHAR(255) NOT NULL,
		success TINYINT NOT NULL DEFAULT 0,
		error_category VARCHAR(32) NOT NULL DEFAULT '',
		error_message TEXT,
		delay_ms BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_attempt_logs_operation_id (operation_id),
		INDEX idx_attempt_logs_endpoint (endpoint),
		INDEX idx_attempt_logs_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// MySQLAdapter MySQL数据库适配器实现
type MySQLAdapter struct {
	config config.DatabaseBackendConfig
	db     *sql.DB
	logger *slog.Logger
}

// NewMySQLAdapter 创建MySQL适配器实例
func NewMySQLAdapter(cfg config.DatabaseBackendConfig) *MySQLAdapter {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = time.Hour
	}
	return &MySQLAdapter{
		config: cfg,
		logger: slog.Default(),
	}
}

// Open 建立MySQL数据库连接
func (m *MySQLAdapter) Open() error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=Local",
		m.config.Username, m.config.Password, m.config.Host, m.config.Port, m.config.Database)

	m.logger.Info("正在连接MySQL数据库", "host", m.config.Host, "port", m.config.Port, "database", m.config.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}

	db.SetMaxOpenConns(m.config.MaxOpenConns)
	db.SetMaxIdleConns(m.config.MaxIdleConns)
	db.SetConnMaxLifetime(m.config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	m.db = db
	m.logger.Info("✅ MySQL数据库连接成功")
	return nil
}

// Close 关闭数据库连接
func (m *MySQLAdapter) Close() error {
	if m.db != nil {
		m.logger.Info("正在关闭MySQL数据库连接")
		return m.db.Close()
	}
	return nil
}

// Ping 测试数据库连接
func (m *MySQLAdapter) Ping(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("database not connected")
	}
	return m.db.PingContext(ctx)
}

// GetDB 获取数据库连接
func (m *MySQLAdapter) GetDB() *sql.DB {
	return m.db
}

// InitSchema 初始化MySQL数据库Schema
func (m *MySQLAdapter) InitSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range mysqlSchemaStatements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	m.logger.Info("✅ MySQL数据库Schema初始化完成")
	return nil
}

// BuildLimitOffset 构建分页查询
func (m *MySQLAdapter) BuildLimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if offset <= 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

// GetDatabaseType 返回数据库类型标识
func (m *MySQLAdapter) GetDatabaseType() string {
	return "mysql"
}
