package monitor

import (
	"time"

	"trades-core/internal/ai"
	"trades-core/internal/executor"
	"trades-core/internal/feature"
	"trades-core/internal/risk"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventOrder             EventType = "order"
	EventExecutorLifecycle EventType = "executor_lifecycle"
	EventControllerAction  EventType = "controller_action"
	EventAIDecision        EventType = "ai_decision"
	EventRiskEvaluation    EventType = "risk_evaluation"
	EventError             EventType = "error"
)

// 执行器生命周期阶段。
const (
	LifecycleCreated    = "created"
	LifecycleTerminated = "terminated"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OrderEventPayload 记录交易所订单事件。
type OrderEventPayload struct {
	Event executor.OrderEvent `json:"event"`
}

// ExecutorLifecyclePayload 记录执行器生命周期变化。
type ExecutorLifecyclePayload struct {
	Stage    string                `json:"stage"`
	Snapshot executor.ExecutorInfo `json:"snapshot"`
}

// ControllerActionPayload 记录控制器动作的处理结果。
type ControllerActionPayload struct {
	ControllerID string `json:"controller_id"`
	ActionType   string `json:"action_type"`
	ExecutorID   string `json:"executor_id,omitempty"`
	Accepted     bool   `json:"accepted"`
	Reason       string `json:"reason,omitempty"`
}

// AIDecisionPayload 记录AI决策。
type AIDecisionPayload struct {
	ControllerID string             `json:"controller_id"`
	Decision     ai.Decision        `json:"decision"`
	Features     feature.FeatureSet `json:"features"`
}

// RiskEvaluationPayload 记录风控评估过程。
type RiskEvaluationPayload struct {
	Input  risk.EvaluationInput  `json:"input"`
	Result risk.EvaluationResult `json:"result"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
