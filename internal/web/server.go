package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"blob-relay/config"
	"blob-relay/internal/events"
	"blob-relay/internal/monitor"
	"blob-relay/internal/retry"
	"blob-relay/internal/tracking"
)

// WebServer 节点池监控Web服务
type WebServer struct {
	server     *http.Server
	ginEngine  *gin.Engine
	logger     *slog.Logger
	config     *config.Config
	engine     *retry.Engine
	metrics    *monitor.Metrics
	tracker    *tracking.AttemptTracker
	sseManager *SSEManager
	startTime  time.Time
}

// NewWebServer creates the monitoring web server
func NewWebServer(cfg *config.Config, engine *retry.Engine, metrics *monitor.Metrics, tracker *tracking.AttemptTracker, logger *slog.Logger, eventBus events.EventBus) *WebServer {
	// 设置gin为release模式以减少日志输出
	gin.SetMode(gin.ReleaseMode)

	ginEngine := gin.New()
	ginEngine.Use(ginLoggerMiddleware(logger))
	ginEngine.Use(gin.Recovery())

	ws := &WebServer{
		ginEngine:  ginEngine,
		logger:     logger,
		config:     cfg,
		engine:     engine,
		metrics:    metrics,
		tracker:    tracker,
		sseManager: NewSSEManager(logger),
		startTime:  time.Now(),
	}

	// EventBus事件通过SSE管理器推送给前端
	if eventBus != nil {
		eventBus.SetSSEBroadcaster(ws.sseManager)
	}

	ws.setupRoutes()
	return ws
}

// Start 启动Web服务器
func (ws *WebServer) Start() error {
	addr := fmt.Sprintf("%s:%d", ws.config.Web.Host, ws.config.Web.Port)

	ws.server = &http.Server{
		Addr:         addr,
		Handler:      ws.ginEngine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE连接需要禁用写入超时
		IdleTimeout:  300 * time.Second,
	}

	ws.logger.Info(fmt.Sprintf("🌐 Web监控界面启动中... - 地址: %s", addr))

	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error(fmt.Sprintf("❌ Web服务器启动失败: %v", err))
		}
	}()

	ws.logger.Info(fmt.Sprintf("✅ Web监控界面启动成功！访问地址: http://%s", addr))
	return nil
}

// Stop 优雅关闭Web服务器
func (ws *WebServer) Stop(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}

	ws.logger.Info("🛑 正在关闭Web服务器...")
	ws.sseManager.CloseAll()

	err := ws.server.Shutdown(ctx)
	if err != nil {
		ws.logger.Error(fmt.Sprintf("❌ Web服务器关闭失败: %v", err))
	} else {
		ws.logger.Info("✅ Web服务器已安全关闭")
	}
	return err
}

// UpdateConfig 热更新配置
func (ws *WebServer) UpdateConfig(newConfig *config.Config) {
	ws.config = newConfig
	ws.logger.Info("🔄 Web服务器配置已更新")
}

// setupRoutes 设置路由
func (ws *WebServer) setupRoutes() {
	ws.ginEngine.GET("/healthz", ws.handleHealthz)

	api := ws.ginEngine.Group("/api/v1")
	{
		api.GET("/status", ws.handleStatus)
		api.GET("/nodes", ws.handleNodes)
		api.GET("/metrics", ws.handleMetrics)
		api.GET("/attempts", ws.handleAttempts)
		api.GET("/stream", ws.handleSSE)
	}
}

// ginLoggerMiddleware 创建gin的日志中间件
func ginLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		if c.Request.Method != "GET" || (!strings.Contains(path, "/static") && path != "/favicon.ico") {
			clientIP := c.ClientIP()
			method := c.Request.Method
			statusCode := c.Writer.Status()

			if raw != "" {
				path = path + "?" + raw
			}

			if statusCode >= 400 {
				logger.Warn(fmt.Sprintf("🌐 Web请求 %s %s %d %v %s",
					method, path, statusCode, latency, clientIP))
			} else {
				logger.Debug(fmt.Sprintf("🌐 Web请求 %s %s %d %v %s",
					method, path, statusCode, latency, clientIP))
			}
		}
	}
}
