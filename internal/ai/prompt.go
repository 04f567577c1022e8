package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"trades-core/internal/feature"
)

const decisionTemplate = `
你是一个专业的加密货币量化交易员。你的任务是根据市场数据特征与当前在途的仓位状态，在遵循严格风险约束的前提下给出下一步操作建议。

当前市场数据：
{{ .FeaturesJSON }}

当前组合状态：
- 在途仓位数量: {{ .State.ActivePositions }}
- 当日已实现盈亏: {{ .State.RealizedPnlQuote }} (计价货币)
{{- if .State.Positions }}
在途仓位明细：
{{- range .State.Positions }}
- [{{ .ID }}] 方向 {{ .Side }}，入场价 {{ .EntryPrice }}，持仓 {{ .AgeMinutes }} 分钟，净收益 {{ .NetPnlPct }}%
{{- end }}
{{- else }}
当前没有在途仓位。
{{- end }}

制定决策时请遵循：
1. 先判断趋势与动量，确认是否存在高胜率方向；
2. 已有同向仓位时优先 HOLD，避免重复开仓；
3. 趋势反转或风险显著上升时，用 STOP 提前结束对应仓位；
4. 保守处理不确定情形，宁可 HOLD 错过机会；
5. amount_pct 表示相对单笔预算的比例，禁止超过 1。

请严格输出唯一的 JSON 对象，格式如下：
{
  "trading_pair": "{{ .Features.TradingPair }}",
  "action": "OPEN_LONG|OPEN_SHORT|STOP|HOLD",        // OPEN_LONG: 开多, OPEN_SHORT: 开空, STOP: 结束指定仓位, HOLD: 观望
  "executor_id": "...",                             // 仅 action=STOP 时必填，取在途仓位明细中的 ID
  "amount_pct": 0.0-1.0,                              // 仅 OPEN 时必填，相对单笔预算的比例
  "stop_loss_pct": 0.0-0.5,                           // 可选，亏损达到该比例止损，填 0 使用默认
  "take_profit_pct": 0.0-0.5,                         // 可选，盈利达到该比例止盈，填 0 使用默认
  "confidence": 0.0-1.0,                              // 决策信心度
  "reasoning": "...",                                // 支撑结论的关键理由
  "order_preference": "MARKET|LIMIT|AUTO",           // 下单方式偏好，若无特别要求可返回 "AUTO"
  "risk_comment": "..."                              // 特别风险提示或注意事项
}

注意事项：
- action=HOLD 时其余数值字段请填 0，executor_id 留空。
- 止损和止盈为比例而非价格，例如 0.02 代表 2%。
- 所有字段均需填写，不要输出 JSON 以外的任何内容。
`

var tmpl = template.Must(template.New("decision").Parse(decisionTemplate))

// PositionBrief 描述一条在途仓位，供提示词渲染。
type PositionBrief struct {
	ID         string
	Side       string
	EntryPrice string
	AgeMinutes int
	NetPnlPct  string
}

// PortfolioState 汇总提示词需要的组合状态。
type PortfolioState struct {
	ActivePositions  int
	RealizedPnlQuote string
	Positions        []PositionBrief
}

// PromptContext 用于渲染提示词。
type PromptContext struct {
	Features     feature.FeatureSet
	State        PortfolioState
	FeaturesJSON string
}

// BuildPrompt 将特征与组合状态渲染成提示词字符串。
func BuildPrompt(features feature.FeatureSet, state PortfolioState) (string, error) {
	featuresJSONBytes, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化特征失败: %w", err)
	}

	ctx := PromptContext{
		Features:     features,
		State:        state,
		FeaturesJSON: string(featuresJSONBytes),
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
