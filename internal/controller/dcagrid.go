package controller

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-core/internal/config"
	"trades-core/internal/executor"
	"trades-core/internal/risk"
)

// 回撤判定阈值：RSI 跌破后视作回调，布设买入阶梯。
const dipRSIThreshold = 45.0

var one = decimal.NewFromInt(1)

// DCAGrid 是逢跌分批买入控制器：检测到回调时，
// 以最新价为起点向下铺设等距价格阶梯，交给 DCA 执行器分批建仓。
type DCAGrid struct {
	cfg    config.ControllerConfig
	guard  Guard
	logger *zap.Logger
}

// NewDCAGrid 创建分批建仓控制器。
func NewDCAGrid(cfg config.ControllerConfig, guard Guard, logger *zap.Logger) *DCAGrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DCAGrid{cfg: cfg, guard: guard, logger: logger}
}

// ID 返回控制器标识。
func (c *DCAGrid) ID() string { return c.cfg.ID }

// Update 产出本轮指令。一组阶梯视作一个逻辑仓位，旧仓位未终结前不再开新仓。
func (c *DCAGrid) Update(ctx context.Context, view View) []executor.Action {
	actions := storeTerminated(c.cfg.ID, view.Executors)

	if activeCount(view.Executors) > 0 {
		return actions
	}
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

	if snap.Primary.RSI > dipRSIThreshold {
		return actions
	}

	price := decimal.NewFromFloat(snap.LastClose())
	if !price.IsPositive() {
		return actions
	}

	input := risk.EvaluationInput{
		ControllerID:    c.cfg.ID,
		TradingPair:     c.cfg.TradingPair,
		ActiveExecutors: view.GlobalActive,
		ProposedQuote:   c.cfg.DCA.AmountQuote,
		Timestamp:       view.Timestamp,
	}
	if !allowOpen(ctx, c.guard, c.logger, input) {
		return actions
	}

	dcaCfg := c.buildLadderConfig(price, view.Timestamp)
	c.logger.Info("回调信号触发分批建仓",
		zap.String("controller_id", c.cfg.ID),
		zap.String("trading_pair", c.cfg.TradingPair),
		zap.Int("levels", len(dcaCfg.Prices)),
		zap.Float64("rsi", snap.Primary.RSI))

	return append(actions, executor.NewCreateAction(c.cfg.ID, dcaCfg))
}

// buildLadderConfig 以 price 为首级、按 step_pct 向下铺设等距阶梯。
// 金额按级平均分配，余数并入最后一级，保证总额精确等于 amount_quote。
func (c *DCAGrid) buildLadderConfig(price decimal.Decimal, ts time.Time) executor.DCAExecutorConfig {
	levels := c.cfg.DCA.Levels
	step := c.cfg.DCA.StepPct

	prices := make([]decimal.Decimal, levels)
	for i := 0; i < levels; i++ {
		factor := one.Sub(step.Mul(decimal.NewFromInt(int64(i))))
		prices[i] = price.Mul(factor)
	}

	total := c.cfg.DCA.AmountQuote
	amounts := make([]decimal.Decimal, levels)
	per := total.Div(decimal.NewFromInt(int64(levels))).Round(8)
	remainder := total
	for i := 0; i < levels-1; i++ {
		amounts[i] = per
		remainder = remainder.Sub(per)
	}
	amounts[levels-1] = remainder

	mode := executor.DCAModeMaker
	if c.cfg.DCA.Mode == string(executor.DCAModeTaker) {
		mode = executor.DCAModeTaker
	}

	var trailing *executor.TrailingStop
	if c.cfg.Barrier.TrailingActivation.IsPositive() && c.cfg.Barrier.TrailingDelta.IsPositive() {
		trailing = &executor.TrailingStop{
			ActivationPrice: c.cfg.Barrier.TrailingActivation,
			TrailingDelta:   c.cfg.Barrier.TrailingDelta,
		}
	}

	return executor.DCAExecutorConfig{
		ConfigBase: executor.ConfigBase{
			ID:           executor.NewExecutorID(c.cfg.ID, ts, c.cfg.TradingPair, "dca"),
			Timestamp:    ts,
			ControllerID: c.cfg.ID,
		},
		Exchange:     c.cfg.Exchange,
		TradingPair:  c.cfg.TradingPair,
		Side:         executor.SideBuy,
		Mode:         mode,
		Prices:       prices,
		AmountsQuote: amounts,
		StopLoss:     c.cfg.Barrier.StopLoss,
		TakeProfit:   c.cfg.Barrier.TakeProfit,
		TimeLimit:    c.cfg.Barrier.TimeLimit,
		TrailingStop: trailing,
	}
}
