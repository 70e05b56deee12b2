package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"blob-relay/internal/tracking"
	"blob-relay/internal/utils"
)

// handleHealthz 健康检查
func (ws *WebServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus 服务状态
func (ws *WebServer) handleStatus(c *gin.Context) {
	uptime := time.Since(ws.startTime)
	c.JSON(http.StatusOK, gin.H{
		"status":      "running",
		"uptime":      uptime.String(),
		"start_time":  ws.startTime.Format("2006-01-02 15:04:05"),
		"strategy":    ws.config.Pool.Strategy,
		"node_count":  len(ws.config.Nodes),
		"sse_clients": ws.sseManager.ClientCount(),
	})
}

// handleNodes 节点健康快照
func (ws *WebServer) handleNodes(c *gin.Context) {
	snapshots := ws.engine.GetNodesHealth()

	nodes := make([]gin.H, 0, len(snapshots))
	for _, node := range snapshots {
		entry := gin.H{
			"name":                 node.Name,
			"url":                  node.URL,
			"health":               node.Health,
			"health_display":       utils.FormatHealth(node.Health),
			"consecutive_failures": node.ConsecutiveFailures,
			"circuit_state":        node.CircuitState,
		}
		if !node.LastFailureAt.IsZero() {
			entry["last_failure_at"] = node.LastFailureAt.Format("2006-01-02 15:04:05")
		}
		nodes = append(nodes, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"total": len(nodes),
	})
}

// handleMetrics 执行指标汇总
func (ws *WebServer) handleMetrics(c *gin.Context) {
	if ws.metrics == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}

	summary := ws.metrics.GetSummary()
	c.JSON(http.StatusOK, gin.H{
		"total_attempts":      summary.TotalAttempts,
		"successful_attempts": summary.SuccessfulAttempts,
		"failed_attempts":     summary.FailedAttempts,
		"total_retries":       summary.TotalRetries,
		"success_rate":        utils.FormatPercentage(summary.SuccessfulAttempts, summary.TotalAttempts),
		"avg_response_time":   utils.FormatResponseTime(summary.AvgResponseTime),
		"min_response_time":   utils.FormatResponseTime(summary.MinResponseTime),
		"max_response_time":   utils.FormatResponseTime(summary.MaxResponseTime),
		"uptime":              summary.Uptime.String(),
		"nodes":               summary.Nodes,
	})
}

// handleAttempts 查询尝试审计记录
func (ws *WebServer) handleAttempts(c *gin.Context) {
	if ws.tracker == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "attempts": []any{}})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	logs, err := ws.tracker.QueryAttempts(c.Request.Context(), tracking.QueryFilter{
		OperationID: c.Query("operation_id"),
		Endpoint:    c.Query("endpoint"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempts": logs,
		"count":    len(logs),
	})
}

// handleSSE 服务器推送事件流
func (ws *WebServer) handleSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	clientID, ch := ws.sseManager.AddClient()
	defer ws.sseManager.RemoveClient(clientID)

	// 连接确认
	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"client_id\":\"%s\"}\n\n", clientID)
	c.Writer.Flush()

	// 心跳保持连接
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case message, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", message.Event, message.Data)
			c.Writer.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
