package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusType 描述风险评估结果状态。
type StatusType string

const (
	StatusProceed StatusType = "proceed"
	StatusDeny    StatusType = "deny"
)

// EvaluationInput 为开仓前的风险评估输入。
type EvaluationInput struct {
	ControllerID    string
	TradingPair     string
	ActiveExecutors int             // 当前未终结的执行器数量
	ProposedQuote   decimal.Decimal // 本次开仓占用的计价货币金额
	Timestamp       time.Time
}

// DailyStatus 表示当日风控状态。
type DailyStatus struct {
	TradingDate string
	RealizedPnl decimal.Decimal
	TradeCount  int
	Halted      bool
}

// EvaluationResult 为风险评估输出。
type EvaluationResult struct {
	Status      StatusType
	DailyStatus DailyStatus
	Notes       []string
}

// Allowed 判断评估结果是否放行。
func (r EvaluationResult) Allowed() bool {
	return r.Status == StatusProceed
}
