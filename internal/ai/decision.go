package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Decision 表示大模型返回的执行器操作建议。
type Decision struct {
	TradingPair     string  `json:"trading_pair"`
	Action          string  `json:"action"`
	ExecutorID      string  `json:"executor_id"`
	AmountPct       float64 `json:"amount_pct"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	OrderPreference string  `json:"order_preference"`
	RiskComment     string  `json:"risk_comment"`
}

// 可选的 action 取值。
const (
	ActionOpenLong  = "OPEN_LONG"
	ActionOpenShort = "OPEN_SHORT"
	ActionStop      = "STOP"
	ActionHold      = "HOLD"
)

var (
	validActions = map[string]struct{}{
		ActionOpenLong:  {},
		ActionOpenShort: {},
		ActionStop:      {},
		ActionHold:      {},
	}
	validOrderPreferences = map[string]struct{}{
		"MARKET": {},
		"LIMIT":  {},
		"AUTO":   {},
	}
)

// NormalizedAction 返回大写去空格后的 action。
func (d Decision) NormalizedAction() string {
	return strings.ToUpper(strings.TrimSpace(d.Action))
}

// IsOpen 判断该决策是否要求开仓。
func (d Decision) IsOpen() bool {
	action := d.NormalizedAction()
	return action == ActionOpenLong || action == ActionOpenShort
}

// Validate 校验决策字段合法性。
func (d Decision) Validate() error {
	if strings.TrimSpace(d.TradingPair) == "" {
		return errors.New("trading_pair 不能为空")
	}

	action := d.NormalizedAction()
	if action == "" {
		return errors.New("action 不能为空")
	}
	if _, ok := validActions[action]; !ok {
		return fmt.Errorf("action 字段取值非法: %s", d.Action)
	}

	if action == ActionStop && strings.TrimSpace(d.ExecutorID) == "" {
		return errors.New("executor_id 不能为空 (STOP)")
	}

	if d.IsOpen() {
		if d.AmountPct <= 0 || d.AmountPct > 1 {
			return fmt.Errorf("amount_pct 必须位于 (0,1]，当前为 %f", d.AmountPct)
		}
	}

	if d.StopLossPct < 0 || d.StopLossPct > 0.5 {
		return fmt.Errorf("stop_loss_pct 必须位于 [0,0.5]，当前为 %f", d.StopLossPct)
	}
	if d.TakeProfitPct < 0 || d.TakeProfitPct > 0.5 {
		return fmt.Errorf("take_profit_pct 必须位于 [0,0.5]，当前为 %f", d.TakeProfitPct)
	}

	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", d.Confidence)
	}

	if strings.TrimSpace(d.Reasoning) == "" {
		return errors.New("reasoning 不能为空")
	}

	orderPref := strings.ToUpper(strings.TrimSpace(d.OrderPreference))
	if orderPref != "" {
		if _, ok := validOrderPreferences[orderPref]; !ok {
			return fmt.Errorf("order_preference 字段取值非法: %s", d.OrderPreference)
		}
	}

	return nil
}
