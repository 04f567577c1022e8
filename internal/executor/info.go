package executor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutorInfo 是执行器某一时刻的完整快照。
// 执行器每个控制周期产出一份，供编排、归档与监控读取；
// 快照是值拷贝，读取方不会看到后续变化。
type ExecutorInfo struct {
	ID             string         `json:"id"`
	Type           ConfigType     `json:"type"`
	ControllerID   string         `json:"controller_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Status         RunnableStatus `json:"status"`
	CloseType      CloseType      `json:"close_type,omitempty"`
	CloseTimestamp time.Time      `json:"close_timestamp,omitzero"`

	Config Config `json:"config"`

	NetPnlPct         decimal.Decimal `json:"net_pnl_pct"`
	NetPnlQuote       decimal.Decimal `json:"net_pnl_quote"`
	CumFeesQuote      decimal.Decimal `json:"cum_fees_quote"`
	FilledAmountQuote decimal.Decimal `json:"filled_amount_quote"`

	IsActive  bool `json:"is_active"`
	IsTrading bool `json:"is_trading"`

	CustomInfo map[string]any `json:"custom_info,omitempty"`
}

// Side 返回快照对应的交易方向，套利执行器无单一方向时返回空。
func (i ExecutorInfo) Side() Side {
	switch cfg := i.Config.(type) {
	case PositionExecutorConfig:
		return cfg.Side
	case DCAExecutorConfig:
		return cfg.Side
	default:
		return ""
	}
}

// Summary 返回一行人读摘要，用于日志与状态页。
func (i ExecutorInfo) Summary() string {
	id := i.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s %s [%s/%s] pnl=%s (%s) filled=%s",
		i.Type, id, i.Status, i.closeTypeLabel(),
		i.NetPnlPct.StringFixed(4), i.NetPnlQuote.StringFixed(6),
		i.FilledAmountQuote.StringFixed(6))
}

func (i ExecutorInfo) closeTypeLabel() string {
	if i.CloseType == CloseTypeNone {
		return "-"
	}
	return string(i.CloseType)
}

// UnmarshalJSON 按 type 字段还原具体配置变体。
func (i *ExecutorInfo) UnmarshalJSON(data []byte) error {
	type alias ExecutorInfo
	shadow := struct {
		*alias
		Config json.RawMessage `json:"config"`
	}{alias: (*alias)(i)}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return fmt.Errorf("executor: 解析快照失败: %w", err)
	}
	if len(shadow.Config) == 0 || string(shadow.Config) == "null" {
		i.Config = nil
		return nil
	}
	cfg, err := decodeConfig(i.Type, shadow.Config)
	if err != nil {
		return err
	}
	i.Config = cfg
	return nil
}

// decodeConfig 按配置类型还原联合类型中的具体变体。
func decodeConfig(typ ConfigType, raw []byte) (Config, error) {
	switch typ {
	case ConfigTypePosition:
		var cfg PositionExecutorConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("executor: 解析 position 配置失败: %w", err)
		}
		return cfg, nil
	case ConfigTypeDCA:
		var cfg DCAExecutorConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("executor: 解析 dca 配置失败: %w", err)
		}
		return cfg, nil
	case ConfigTypeArbitrage:
		var cfg ArbitrageExecutorConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("executor: 解析 arbitrage 配置失败: %w", err)
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("executor: 未知配置类型 %q", typ)
	}
}
