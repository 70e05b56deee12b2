// Package tui 提供终端节点健康监控界面
package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"blob-relay/internal/monitor"
	"blob-relay/internal/retry"
	"blob-relay/internal/utils"
)

// Monitor 终端监控界面
// 周期性刷新节点健康表格和执行指标汇总，按q或Ctrl+C退出。
type Monitor struct {
	app      *tview.Application
	table    *tview.Table
	summary  *tview.TextView
	engine   *retry.Engine
	metrics  *monitor.Metrics
	interval time.Duration
	stopChan chan struct{}
}

// NewMonitor creates a terminal monitor over the engine's node pool
func NewMonitor(engine *retry.Engine, metrics *monitor.Metrics, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}

	m := &Monitor{
		app:      tview.NewApplication(),
		table:    tview.NewTable().SetBorders(false),
		summary:  tview.NewTextView().SetDynamicColors(true),
		engine:   engine,
		metrics:  metrics,
		interval: interval,
		stopChan: make(chan struct{}),
	}

	m.table.SetBorder(true).SetTitle(" 节点健康状态 ")
	m.summary.SetBorder(true).SetTitle(" 执行指标 ")

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(m.table, 0, 3, true).
		AddItem(m.summary, 0, 1, false)

	m.app.SetRoot(layout, true)
	m.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyCtrlC {
			m.app.Stop()
			return nil
		}
		return event
	})

	return m
}

// Run 运行监控界面，阻塞直到退出
func (m *Monitor) Run() error {
	go m.refreshLoop()
	defer close(m.stopChan)

	m.render()
	return m.app.Run()
}

// Stop 停止监控界面
func (m *Monitor) Stop() {
	m.app.Stop()
}

func (m *Monitor) refreshLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.app.QueueUpdateDraw(m.render)
		case <-m.stopChan:
			return
		}
	}
}

// render 重绘节点表格和指标汇总
func (m *Monitor) render() {
	m.table.Clear()

	headers := []string{"节点", "URL", "健康评分", "连续失败", "熔断状态", "最近失败"}
	for col, header := range headers {
		m.table.SetCell(0, col, tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	for row, node := range m.engine.GetNodesHealth() {
		stateColor := tcell.ColorGreen
		switch node.CircuitState {
		case "open":
			stateColor = tcell.ColorRed
		case "half_open":
			stateColor = tcell.ColorOrange
		}

		healthColor := tcell.ColorGreen
		if node.Health < 0.5 {
			healthColor = tcell.ColorRed
		} else if node.Health < 0.8 {
			healthColor = tcell.ColorOrange
		}

		lastFailure := "-"
		if !node.LastFailureAt.IsZero() {
			lastFailure = node.LastFailureAt.Format("15:04:05")
		}

		m.table.SetCell(row+1, 0, tview.NewTableCell(node.Name))
		m.table.SetCell(row+1, 1, tview.NewTableCell(node.URL))
		m.table.SetCell(row+1, 2, tview.NewTableCell(utils.FormatHealth(node.Health)).SetTextColor(healthColor))
		m.table.SetCell(row+1, 3, tview.NewTableCell(fmt.Sprintf("%d", node.ConsecutiveFailures)))
		m.table.SetCell(row+1, 4, tview.NewTableCell(node.CircuitState).SetTextColor(stateColor))
		m.table.SetCell(row+1, 5, tview.NewTableCell(lastFailure))
	}

	if m.metrics != nil {
		summary := m.metrics.GetSummary()
		m.summary.SetText(fmt.Sprintf(
			"总尝试: %d  成功: [green]%d[white]  失败: [red]%d[white]  重试: %d\n成功率: %s  平均耗时: %s  运行时长: %s\n\n按 [yellow]q[white] 退出",
			summary.TotalAttempts, summary.SuccessfulAttempts, summary.FailedAttempts, summary.TotalRetries,
			utils.FormatPercentage(summary.SuccessfulAttempts, summary.TotalAttempts),
			utils.FormatResponseTime(summary.AvgResponseTime),
			summary.Uptime.Round(time.Second)))
	}
}
