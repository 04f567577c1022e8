package controller

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-core/internal/ai"
	"trades-core/internal/config"
	"trades-core/internal/executor"
	"trades-core/internal/feature"
	"trades-core/internal/risk"
)

// 未配置 min_confidence 时的采纳门槛。
const defaultMinConfidence = 0.6

var hundred = decimal.NewFromInt(100)

// AIAdvised 把行情特征与在途仓位交给大模型，
// 将通过校验、信心门槛与风控的建议翻译成执行器指令。
type AIAdvised struct {
	cfg     config.ControllerConfig
	advisor Advisor
	guard   Guard
	logger  *zap.Logger
}

// NewAIAdvised 创建模型建议控制器。
func NewAIAdvised(cfg config.ControllerConfig, advisor Advisor, guard Guard, logger *zap.Logger) *AIAdvised {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIAdvised{cfg: cfg, advisor: advisor, guard: guard, logger: logger}
}

// ID 返回控制器标识。
func (c *AIAdvised) ID() string { return c.cfg.ID }

// Update 产出本轮指令：归档已终结执行器，再按模型建议开仓或止损。
func (c *AIAdvised) Update(ctx context.Context, view View) []executor.Action {
	actions := storeTerminated(c.cfg.ID, view.Executors)

	if view.Market == nil {
		return actions
	}
	snap, err := view.Market(ctx)
	if err != nil {
		c.logger.Warn("获取行情快照失败",
			zap.String("controller_id", c.cfg.ID),
			zap.Error(err))
		return actions
	}

	decision, err := c.advisor.GenerateDecision(ctx, snap.Features, portfolioState(view))
	if err != nil {
		c.logger.Warn("获取AI决策失败",
			zap.String("controller_id", c.cfg.ID),
			zap.Error(err))
		return actions
	}

	switch decision.NormalizedAction() {
	case ai.ActionHold:
		return actions
	case ai.ActionStop:
		return append(actions, c.stopActions(view, decision)...)
	case ai.ActionOpenLong, ai.ActionOpenShort:
		return append(actions, c.openActions(ctx, view, snap, decision)...)
	default:
		return actions
	}
}

func (c *AIAdvised) minConfidence() float64 {
	if c.cfg.MinConfidence > 0 {
		return c.cfg.MinConfidence
	}
	return defaultMinConfidence
}

// stopActions 校验模型点名的执行器确实在途，再下发提前停止。
func (c *AIAdvised) stopActions(view View, decision ai.Decision) []executor.Action {
	target := strings.TrimSpace(decision.ExecutorID)
	for _, info := range view.Executors {
		if info.ID != target {
			continue
		}
		if info.Status == executor.StatusTerminated {
			return nil
		}
		c.logger.Info("采纳AI止损建议",
			zap.String("controller_id", c.cfg.ID),
			zap.String("executor_id", target),
			zap.String("reasoning", decision.Reasoning))
		return []executor.Action{executor.NewStopAction(c.cfg.ID, target)}
	}

	c.logger.Warn("AI建议停止的执行器不存在",
		zap.String("controller_id", c.cfg.ID),
		zap.String("executor_id", target))
	return nil
}

func (c *AIAdvised) openActions(ctx context.Context, view View, snap feature.Snapshot, decision ai.Decision) []executor.Action {
	if decision.Confidence < c.minConfidence() {
		c.logger.Info("AI决策信心不足，忽略开仓建议",
			zap.String("controller_id", c.cfg.ID),
			zap.Float64("confidence", decision.Confidence),
			zap.Float64("min_confidence", c.minConfidence()))
		return nil
	}

	price := decimal.NewFromFloat(snap.LastClose())
	if !price.IsPositive() {
		return nil
	}

	amount := c.cfg.Amount.Mul(decimal.NewFromFloat(decision.AmountPct))
	if !amount.IsPositive() {
		return nil
	}

	input := risk.EvaluationInput{
		ControllerID:    c.cfg.ID,
		TradingPair:     c.cfg.TradingPair,
		ActiveExecutors: view.GlobalActive,
		ProposedQuote:   amount.Mul(price),
		Timestamp:       view.Timestamp,
	}
	if !allowOpen(ctx, c.guard, c.logger, input) {
		return nil
	}

	side := executor.SideBuy
	if decision.NormalizedAction() == ai.ActionOpenShort {
		side = executor.SideSell
	}

	openType := executor.OrderTypeMarket
	if strings.ToUpper(strings.TrimSpace(decision.OrderPreference)) == "LIMIT" {
		openType = executor.OrderTypeLimit
	}

	barrier := barrierFromConfig(c.cfg.Barrier, openType)
	if decision.StopLossPct > 0 {
		barrier.StopLoss = decimal.NewFromFloat(decision.StopLossPct)
	}
	if decision.TakeProfitPct > 0 {
		barrier.TakeProfit = decimal.NewFromFloat(decision.TakeProfitPct)
	}

	positionCfg := executor.PositionExecutorConfig{
		ConfigBase: executor.ConfigBase{
			ID:           executor.NewExecutorID(c.cfg.ID, view.Timestamp, c.cfg.TradingPair, string(side), "ai"),
			Timestamp:    view.Timestamp,
			ControllerID: c.cfg.ID,
		},
		Exchange:    c.cfg.Exchange,
		TradingPair: c.cfg.TradingPair,
		Side:        side,
		Amount:      amount,
		Barrier:     barrier,
	}

	c.logger.Info("采纳AI开仓建议",
		zap.String("controller_id", c.cfg.ID),
		zap.String("trading_pair", c.cfg.TradingPair),
		zap.String("side", string(side)),
		zap.Float64("confidence", decision.Confidence),
		zap.String("amount", amount.String()))

	return []executor.Action{executor.NewCreateAction(c.cfg.ID, positionCfg)}
}

// portfolioState 把执行器快照整理成提示词需要的组合状态。
func portfolioState(view View) ai.PortfolioState {
	state := ai.PortfolioState{
		RealizedPnlQuote: view.Daily.RealizedPnl.String(),
	}
	for _, info := range view.Executors {
		if info.Status == executor.StatusTerminated {
			continue
		}
		state.ActivePositions++
		state.Positions = append(state.Positions, ai.PositionBrief{
			ID:         info.ID,
			Side:       strings.ToUpper(string(info.Side())),
			EntryPrice: entryPriceOf(info),
			AgeMinutes: ageMinutes(info, view.Timestamp),
			NetPnlPct:  info.NetPnlPct.Mul(hundred).StringFixed(2),
		})
	}
	return state
}

func entryPriceOf(info executor.ExecutorInfo) string {
	if v, ok := info.CustomInfo["current_position_average_price"]; ok {
		if d, ok := v.(decimal.Decimal); ok && d.IsPositive() {
			return d.String()
		}
	}
	switch cfg := info.Config.(type) {
	case executor.PositionExecutorConfig:
		if cfg.EntryPrice.IsPositive() {
			return cfg.EntryPrice.String()
		}
	case executor.DCAExecutorConfig:
		if p := cfg.TargetPositionAveragePrice(); p.IsPositive() {
			return p.String()
		}
	}
	return "0"
}

func ageMinutes(info executor.ExecutorInfo, now time.Time) int {
	if info.Config == nil {
		return 0
	}
	created := info.Config.Base().Timestamp
	if created.IsZero() || now.Before(created) {
		return 0
	}
	return int(now.Sub(created).Minutes())
}
