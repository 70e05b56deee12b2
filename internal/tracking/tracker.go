package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"blob-relay/config"
	"blob-relay/internal/retry"
)

// AttemptTracker 尝试审计跟踪器
// 通过缓冲通道异步批量落库，记录路径上不做任何阻塞IO。
// 实现retry.AttemptRecorder接口，可直接挂到执行引擎上。
type AttemptTracker struct {
	config  config.TrackingConfig
	adapter DatabaseAdapter

	eventChan chan retry.AttemptRecord
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

// NewAttemptTracker 创建尝试审计跟踪器
// 未启用时返回空实现，所有记录调用直接丢弃。
func NewAttemptTracker(cfg config.TrackingConfig) (*AttemptTracker, error) {
	if !cfg.Enabled {
		return &AttemptTracker{config: cfg}, nil
	}

	dbCfg := config.DatabaseBackendConfig{Type: "sqlite"}
	if cfg.Database != nil {
		dbCfg = *cfg.Database
	}

	adapter, err := NewDatabaseAdapter(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database adapter: %w", err)
	}
	if err := adapter.Open(); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := adapter.InitSchema(); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tracker := &AttemptTracker{
		config:    cfg,
		adapter:   adapter,
		eventChan: make(chan retry.AttemptRecord, cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	tracker.wg.Add(1)
	go tracker.processEvents()

	if cfg.RetentionDays > 0 {
		tracker.wg.Add(1)
		go tracker.periodicCleanup()
	}

	slog.Info("✅ 尝试审计跟踪器初始化完成",
		"database_type", adapter.GetDatabaseType(),
		"buffer_size", cfg.BufferSize,
		"batch_size", cfg.BatchSize)

	return tracker, nil
}

// RecordAttempt 记录一次尝试，缓冲区满时丢弃而不阻塞执行路径
func (t *AttemptTracker) RecordAttempt(record retry.AttemptRecord) {
	if !t.config.Enabled || t.eventChan == nil {
		return
	}

	select {
	case t.eventChan <- record:
	default:
		t.mu.Lock()
		t.dropped++
		dropped := t.dropped
		t.mu.Unlock()
		slog.Warn("⚠️ [审计] 缓冲区已满，丢弃尝试记录", "dropped_total", dropped)
	}
}

// Close 停止跟踪器，刷新剩余记录后关闭数据库
func (t *AttemptTracker) Close() error {
	if !t.config.Enabled || t.adapter == nil {
		return nil
	}

	t.cancel()
	close(t.eventChan)
	t.wg.Wait()
	return t.adapter.Close()
}

// processEvents 批量消费尝试记录
// 达到batch_size或flush_interval超时都会触发落库
func (t *AttemptTracker) processEvents() {
	defer t.wg.Done()

	batch := make([]retry.AttemptRecord, 0, t.config.BatchSize)
	ticker := time.NewTicker(t.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := t.writeBatch(batch); err != nil {
			slog.Error("❌ [审计] 批量写入失败", "error", err, "batch_size", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case record, ok := <-t.eventChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= t.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// writeBatch 单事务写入一批尝试记录
func (t *AttemptTracker) writeBatch(batch []retry.AttemptRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := t.adapter.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO attempt_logs
		(operation_id, label, attempt, endpoint, success, error_category, error_message, delay_ms, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range batch {
		success := 0
		if record.Success {
			success = 1
		}
		_, err := stmt.ExecContext(ctx,
			record.OperationID, record.Label, record.Attempt, record.Endpoint,
			success, record.ErrorCategory, record.ErrorMessage,
			record.Delay.Milliseconds(), record.Duration.Milliseconds(),
			record.Timestamp.Format("2006-01-02 15:04:05.000000"))
		if err != nil {
			return fmt.Errorf("failed to insert attempt record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	slog.Debug("📊 [审计] 批量写入完成", "batch_size", len(batch))
	return nil
}

// periodicCleanup 定期清理超过保留期的记录
func (t *AttemptTracker) periodicCleanup() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanupExpired()
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *AttemptTracker) cleanupExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -t.config.RetentionDays)
	result, err := t.adapter.GetDB().ExecContext(ctx,
		"DELETE FROM attempt_logs WHERE created_at < ?",
		cutoff.Format("2006-01-02 15:04:05.000000"))
	if err != nil {
		slog.Error("❌ [审计] 过期记录清理失败", "error", err)
		return
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		slog.Info("🧹 [审计] 过期记录清理完成", "deleted", rows, "retention_days", t.config.RetentionDays)
	}
}

// AttemptLog 查询返回的尝试记录
type AttemptLog struct {
	ID            int64     `json:"id"`
	OperationID   string    `json:"operation_id"`
	Label         string    `json:"label"`
	Attempt       int       `json:"attempt"`
	Endpoint      string    `json:"endpoint"`
	Success       bool      `json:"success"`
	ErrorCategory string    `json:"error_category"`
	ErrorMessage  string    `json:"error_message"`
	DelayMs       int64     `json:"delay_ms"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     string    `json:"created_at"`
}

// QueryFilter 查询过滤条件
type QueryFilter struct {
	OperationID string
	Endpoint    string
	Limit       int
	Offset      int
}

// QueryAttempts 查询尝试记录，按时间倒序
func (t *AttemptTracker) QueryAttempts(ctx context.Context, filter QueryFilter) ([]AttemptLog, error) {
	if !t.config.Enabled || t.adapter == nil {
		return nil, nil
	}

	var conditions []string
	var args []interface{}
	if filter.OperationID != "" {
		conditions = append(conditions, "operation_id = ?")
		args = append(args, filter.OperationID)
	}
	if filter.Endpoint != "" {
		conditions = append(conditions, "endpoint = ?")
		args = append(args, filter.Endpoint)
	}

	query := `SELECT id, operation_id, label, attempt, endpoint, success,
		error_category, error_message, delay_ms, duration_ms, created_at FROM attempt_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query += t.adapter.BuildLimitOffset(filter.Limit, filter.Offset)

	rows, err := t.adapter.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var logs []AttemptLog
	for rows.Next() {
		var log AttemptLog
		var success int
		if err := rows.Scan(&log.ID, &log.OperationID, &log.Label, &log.Attempt, &log.Endpoint,
			&success, &log.ErrorCategory, &log.ErrorMessage, &log.DelayMs, &log.DurationMs, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		log.Success = success == 1
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// GetStats 返回数据库统计信息
func (t *AttemptTracker) GetStats(ctx context.Context) (*DatabaseStats, error) {
	if !t.config.Enabled || t.adapter == nil {
		return &DatabaseStats{}, nil
	}

	stats := &DatabaseStats{}
	err := t.adapter.GetDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM attempt_logs").Scan(&stats.TotalAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	return stats, nil
}
