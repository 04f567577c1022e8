package controller

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-core/internal/config"
	"trades-core/internal/executor"
	"trades-core/internal/feature"
	"trades-core/internal/risk"
)

// RSI 极端区边界，超出后不再顺势追仓。
const (
	rsiOverbought = 70.0
	rsiOversold   = 30.0
)

// Directional 是趋势跟随控制器：短均线与长均线同向且 RSI 未进入
// 极端区时，开出一个带三重屏障的仓位执行器。同一时刻至多持有一个。
type Directional struct {
	cfg    config.ControllerConfig
	guard  Guard
	logger *zap.Logger
}

// NewDirectional 创建趋势跟随控制器。
func NewDirectional(cfg config.ControllerConfig, guard Guard, logger *zap.Logger) *Directional {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directional{cfg: cfg, guard: guard, logger: logger}
}

// ID 返回控制器标识。
func (c *Directional) ID() string { return c.cfg.ID }

// Update 产出本轮指令：先归档已终结的执行器，再视信号决定是否开仓。
func (c *Directional) Update(ctx context.Context, view View) []executor.Action {
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

	side, ok := c.signal(snap)
	if !ok {
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
		ProposedQuote:   c.cfg.Amount.Mul(price),
		Timestamp:       view.Timestamp,
	}
	if !allowOpen(ctx, c.guard, c.logger, input) {
		return actions
	}

	positionCfg := c.buildPositionConfig(side, view.Timestamp)
	c.logger.Info("方向信号触发开仓",
		zap.String("controller_id", c.cfg.ID),
		zap.String("trading_pair", c.cfg.TradingPair),
		zap.String("side", string(side)),
		zap.Float64("rsi", snap.Primary.RSI))

	return append(actions, executor.NewCreateAction(c.cfg.ID, positionCfg))
}

// signal 判定开仓方向：均线排列给方向，RSI 滤掉极端区，
// 高周期趋势反向时放弃。
func (c *Directional) signal(snap feature.Snapshot) (executor.Side, bool) {
	primary := snap.Primary
	higherTrend := snap.Features.Trend.HigherTimeframeTrend

	switch {
	case primary.EMA12 > primary.EMA26 && primary.RSI < rsiOverbought:
		if higherTrend == "bearish" {
			return "", false
		}
		return executor.SideBuy, true
	case primary.EMA12 < primary.EMA26 && primary.RSI > rsiOversold:
		if higherTrend == "bullish" {
			return "", false
		}
		return executor.SideSell, true
	}
	return "", false
}

func (c *Directional) buildPositionConfig(side executor.Side, ts time.Time) executor.PositionExecutorConfig {
	return executor.PositionExecutorConfig{
		ConfigBase: executor.ConfigBase{
			ID:           executor.NewExecutorID(c.cfg.ID, ts, c.cfg.TradingPair, string(side)),
			Timestamp:    ts,
			ControllerID: c.cfg.ID,
		},
		Exchange:    c.cfg.Exchange,
		TradingPair: c.cfg.TradingPair,
		Side:        side,
		Amount:      c.cfg.Amount,
		Barrier:     barrierFromConfig(c.cfg.Barrier, executor.OrderTypeMarket),
	}
}

// barrierFromConfig 把控制器屏障参数翻译成执行器的三重屏障。
func barrierFromConfig(cfg config.BarrierConfig, openType executor.OrderType) executor.TripleBarrier {
	barrier := executor.TripleBarrier{
		StopLoss:      cfg.StopLoss,
		TakeProfit:    cfg.TakeProfit,
		TimeLimit:     cfg.TimeLimit,
		OpenOrderType: openType,
	}
	if cfg.TrailingActivation.IsPositive() && cfg.TrailingDelta.IsPositive() {
		barrier.TrailingStop = &executor.TrailingStop{
			ActivationPrice: cfg.TrailingActivation,
			TrailingDelta:   cfg.TrailingDelta,
		}
	}
	return barrier
}
