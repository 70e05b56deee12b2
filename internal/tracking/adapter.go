package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"blob-relay/config"
)

// DatabaseAdapter 定义数据库操作接口
// 抽象SQLite和MySQL的差异，让上层代码无需关心具体实现
type DatabaseAdapter interface {
	Open() error
	Close() error
	Ping(ctx context.Context) error

	GetDB() *sql.DB

	// 数据库初始化
	InitSchema() error

	// SQL语法适配 - 处理SQLite和MySQL的语法差异
	BuildLimitOffset(limit, offset int) string

	// 类型标识
	GetDatabaseType() string
}

// DatabaseStats 数据库统计信息
type DatabaseStats struct {
	TotalAttempts  int64      `json:"total_attempts"`
	EarliestRecord *time.Time `json:"earliest_record,omitempty"`
	LatestRecord   *time.Time `json:"latest_record,omitempty"`
}

// NewDatabaseAdapter 数据库适配器工厂函数
func NewDatabaseAdapter(cfg config.DatabaseBackendConfig) (DatabaseAdapter, error) {
	switch databaseType(cfg) {
	case "sqlite":
		return NewSQLiteAdapter(cfg), nil
	case "mysql":
		return NewMySQLAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// databaseType 从配置推断数据库类型
func databaseType(cfg config.DatabaseBackendConfig) string {
	if cfg.Type != "" {
		return cfg.Type
	}
	if cfg.Host != "" || cfg.Database != "" {
		return "mysql"
	}
	return "sqlite"
}
