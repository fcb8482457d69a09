package monitor

import (
	"time"

	"dex-router/internal/mode"
	"dex-router/internal/order"
	"dex-router/internal/riskadvisor"
	"dex-router/internal/router"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRoutingDecision EventType = "routing_decision"
	EventModeSwitch      EventType = "mode_switch"
	EventRiskReport      EventType = "risk_report"
	EventExecution       EventType = "execution"
	EventError           EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RoutingPayload 记录一次路由决策。
type RoutingPayload struct {
	Asset  string        `json:"asset"`
	Result router.Result `json:"result"`
}

// ModePayload 记录一次模式决策。
type ModePayload struct {
	Asset  string               `json:"asset"`
	Result mode.SelectionResult `json:"result"`
}

// RiskReportPayload 记录风险顾问的评估结论。
type RiskReportPayload struct {
	Report riskadvisor.Report `json:"report"`
}

// ExecutionPayload 记录订单执行结果。
type ExecutionPayload struct {
	Order  order.Order    `json:"order"`
	Result order.Executed `json:"result"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
