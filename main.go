package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"blob-relay/config"
	"blob-relay/internal/events"
	"blob-relay/internal/monitor"
	"blob-relay/internal/retry"
	"blob-relay/internal/storage"
	"blob-relay/internal/tracking"
	"blob-relay/internal/tui"
	"blob-relay/internal/web"
)

var (
	configPath  = flag.String("config", "config/example.yaml", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information")
	enableTUI   = flag.Bool("tui", false, "Enable TUI monitor")
	disableTUI  = flag.Bool("no-tui", false, "Disable TUI monitor")
	enableWeb   = flag.Bool("web", false, "Enable Web interface")
	webPort     = flag.Int("web-port", 8088, "Web interface port (default: 8088)")

	// Build-time variables (set via ldflags)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Blob Relay\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	// Setup initial logger (will be updated when config is loaded)
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"})
	slog.SetDefault(logger)

	// Create configuration watcher
	configWatcher, err := config.NewConfigWatcher(*configPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create configuration watcher: %v\n", err)
		os.Exit(1)
	}
	defer configWatcher.Close()

	cfg := configWatcher.GetConfig()

	// Apply command line overrides
	if *enableWeb {
		cfg.Web.Enabled = true
	}
	if *webPort != 8088 {
		cfg.Web.Port = *webPort
	}
	tuiEnabled := cfg.TUI.Enabled
	if *enableTUI {
		tuiEnabled = true
	}
	if *disableTUI {
		tuiEnabled = false
	}

	// Update logger with config settings
	logger = setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("🚀 Blob Relay 启动中...",
		"version", version,
		"config_file", *configPath,
		"nodes_count", len(cfg.Nodes),
		"strategy", cfg.Pool.Strategy)

	// Initialize EventBus
	eventBus := events.NewEventBus(logger)
	if err := eventBus.Start(); err != nil {
		logger.Error(fmt.Sprintf("❌ EventBus启动失败: %v", err))
		os.Exit(1)
	}
	defer func() {
		if err := eventBus.Stop(); err != nil {
			logger.Error(fmt.Sprintf("❌ EventBus关闭失败: %v", err))
		}
	}()

	// Initialize attempt tracker
	attemptTracker, err := tracking.NewAttemptTracker(cfg.Tracking)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ 尝试审计跟踪器初始化失败: %v", err))
		os.Exit(1)
	}
	defer func() {
		if err := attemptTracker.Close(); err != nil {
			logger.Error(fmt.Sprintf("❌ 尝试审计跟踪器关闭失败: %v", err))
		}
	}()

	// Create retry engine over the configured node pool
	metrics := monitor.NewMetrics()
	engine := retry.NewEngineWithNodes(cfg.Nodes, cfg)
	engine.SetEventBus(eventBus)
	engine.SetMetrics(metrics)
	if cfg.Tracking.Enabled {
		engine.SetAttemptRecorder(attemptTracker)
	}

	// Create blob storage client
	storageClient, err := storage.NewClient(engine, cfg)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ 存储客户端初始化失败: %v", err))
		os.Exit(1)
	}

	// Collect metrics history for trend charts
	historyStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.RecordHistoryPoint()
			case <-historyStop:
				return
			}
		}
	}()
	defer close(historyStop)

	var webServer *web.WebServer

	// Setup configuration reload callback to update components
	configWatcher.AddReloadCallback(func(newCfg *config.Config) {
		newLogger := setupLogger(newCfg.Logging)
		slog.SetDefault(newLogger)

		if webServer != nil {
			webServer.UpdateConfig(newCfg)
		}

		// 节点列表与重试参数在引擎创建时固化，变更需重启生效
		if len(newCfg.Nodes) != len(cfg.Nodes) {
			newLogger.Warn("⚠️ 节点列表变更需要重启后生效")
		}

		eventBus.Publish(events.Event{
			Type:     events.EventConfigChanged,
			Source:   "config_watcher",
			Priority: events.PriorityHigh,
			Data:     map[string]interface{}{"config_file": *configPath},
		})
	})
	logger.Info("🔄 配置文件自动重载已启用")

	// Setup relay HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/blobs/", newBlobHandler(storageClient, logger))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("🌐 中继服务器启动中...", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Give server a moment to start
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErr:
		logger.Error(fmt.Sprintf("❌ 服务器启动失败: %v", err))
		os.Exit(1)
	default:
		logger.Info(fmt.Sprintf("✅ 中继服务器启动成功！地址: http://%s:%d", cfg.Server.Host, cfg.Server.Port))
	}

	// Start Web server if enabled
	if cfg.Web.Enabled {
		webServer = web.NewWebServer(cfg, engine, metrics, attemptTracker, logger, eventBus)
		if err := webServer.Start(); err != nil {
			logger.Error(fmt.Sprintf("❌ Web服务器启动失败: %v", err))
		}
	}

	// Start TUI if enabled, otherwise wait for interrupt signal
	if tuiEnabled {
		logger.Info("🖥️ TUI模式已启用，启动终端监控界面")
		tuiMonitor := tui.NewMonitor(engine, metrics, cfg.TUI.UpdateInterval)

		tuiErr := make(chan error, 1)
		go func() {
			tuiErr <- tuiMonitor.Run()
		}()

		select {
		case err := <-serverErr:
			logger.Error(fmt.Sprintf("❌ 服务器运行时错误(在TUI模式): %v", err))
			tuiMonitor.Stop()
			os.Exit(1)
		case err := <-tuiErr:
			logger.Info("📱 TUI界面已关闭")
			if err != nil {
				logger.Error(fmt.Sprintf("TUI运行错误: %v", err))
			}
		}
	} else {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErr:
			logger.Error(fmt.Sprintf("❌ 服务器运行时错误: %v", err))
			os.Exit(1)
		case sig := <-interrupt:
			logger.Info(fmt.Sprintf("📡 收到终止信号，开始优雅关闭... - 信号: %v", sig))
		}
	}

	// Graceful shutdown
	logger.Info("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if webServer != nil {
		webServer.Stop(ctx)
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("❌ 服务器关闭失败: %v", err))
		os.Exit(1)
	}

	logger.Info("✅ 服务器已安全关闭")
}

// newBlobHandler 创建块存储中继处理器
// 所有请求经由重试引擎转发到节点池
func newBlobHandler(client *storage.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/blobs/")
		if key == "" {
			http.Error(w, "missing blob key", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodGet:
			data, err := client.Get(r.Context(), key)
			if err != nil {
				writeRelayError(w, err, logger)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(data)

		case http.MethodPut:
			data, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			if err := client.Put(r.Context(), key, data); err != nil {
				writeRelayError(w, err, logger)
				return
			}
			w.WriteHeader(http.StatusCreated)

		case http.MethodDelete:
			if err := client.Delete(r.Context(), key); err != nil {
				writeRelayError(w, err, logger)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		case http.MethodHead:
			exists, err := client.Exists(r.Context(), key)
			if err != nil {
				writeRelayError(w, err, logger)
				return
			}
			if exists {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// writeRelayError 将引擎错误映射为HTTP响应
func writeRelayError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var status int
	switch err.(type) {
	case *retry.InsufficientHealthyNodesError:
		status = http.StatusServiceUnavailable
	case *retry.OperationTimedOutError:
		status = http.StatusGatewayTimeout
	case *retry.MaxRetriesExceededError:
		status = http.StatusBadGateway
	case *retry.NonRetryableError:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	logger.Warn(fmt.Sprintf("❌ 中继请求失败: %v", err))
	http.Error(w, err.Error(), status)
}

// setupLogger configures the structured logger
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
