package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-core/internal/controller"
	"trades-core/internal/exchange"
	"trades-core/internal/executor"
	"trades-core/internal/feature"
	"trades-core/internal/risk"
)

// Result 汇总一次回测的产出。
type Result struct {
	Steps       int
	Orders      int
	Fills       int
	FinalEquity decimal.Decimal
	Metrics     Metrics
	EquityCurve []decimal.Decimal
	Performance executor.PerformanceReport
}

// Engine 用回放网关驱动真实的编排器与控制器：
// 控制器产出的指令、执行器的屏障判断与订单撮合都走实盘同一条路径。
type Engine struct {
	cfg       Config
	gateway   *SimGateway
	orch      *executor.Orchestrator
	collector *feature.Collector
	ctrls     []controller.Controller
	step      time.Duration
	logger    *zap.Logger
}

// NewEngine 构建回测引擎。归档服务承接执行器终结后的快照，
// 通常传入基于内存库的 archive.Repository。
func NewEngine(cfg Config, series []exchange.Candle, ctrls []controller.Controller, persistence executor.PersistenceService, logger *zap.Logger) (*Engine, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("backtest: 回放序列不能为空")
	}
	if len(ctrls) == 0 {
		return nil, fmt.Errorf("backtest: 至少需要一个控制器")
	}
	if persistence == nil {
		return nil, fmt.Errorf("backtest: 归档服务不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.normalize()
	gateway := NewSimGateway(cfg, series)
	orch := executor.NewOrchestrator(gateway, persistence, logger, executor.Options{
		TickInterval: time.Millisecond,
	})
	gateway.Subscribe(orch.DeliverOrderEvent)

	var step time.Duration
	if len(series) > 1 {
		step = series[1].Timestamp.Sub(series[0].Timestamp)
	}

	return &Engine{
		cfg:       cfg,
		gateway:   gateway,
		orch:      orch,
		collector: feature.NewCollector(gateway, nil, logger),
		ctrls:     ctrls,
		step:      step,
		logger:    logger,
	}, nil
}

// Run 顺序回放全部K线，期间驱动控制器评估与订单撮合，
// 结束时提前停止并归档所有执行器，返回绩效汇总。
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var curve []decimal.Decimal
	steps := 0

	for {
		candle, ok := e.gateway.Advance()
		if !ok {
			break
		}
		steps++

		// 撮合与屏障评估靠执行器自身的tick，推进后留出反应时间。
		if err := e.pause(ctx); err != nil {
			return Result{}, err
		}

		if e.gateway.Revealed() >= e.cfg.Lookback {
			e.updateControllers(ctx, candle)
			if err := e.pause(ctx); err != nil {
				return Result{}, err
			}
		}

		curve = append(curve, e.gateway.MarkToMarket())
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.orch.Stop(stopCtx); err != nil {
		e.logger.Warn("停止执行器时出错", zap.Error(err))
	}

	perf, err := e.orch.GlobalPerformanceReport(context.Background())
	if err != nil {
		return Result{}, fmt.Errorf("汇总回测报表失败: %w", err)
	}

	final := e.gateway.MarkToMarket()
	curve = append(curve, final)

	return Result{
		Steps:       steps,
		Orders:      e.gateway.OrderCount(),
		Fills:       e.gateway.FillCount(),
		FinalEquity: final,
		Metrics:     calculateMetrics(curve, e.step),
		EquityCurve: curve,
		Performance: perf,
	}, nil
}

func (e *Engine) updateControllers(ctx context.Context, candle exchange.Candle) {
	report := e.orch.ExecutorsReport()
	globalActive := 0
	for _, infos := range report {
		for _, info := range infos {
			if info.Status.IsActive() {
				globalActive++
			}
		}
	}

	perf, err := e.orch.GlobalPerformanceReport(ctx)
	if err != nil {
		e.logger.Warn("汇总回测报表失败", zap.Error(err))
	}

	view := controller.View{
		Timestamp:    candle.Timestamp,
		GlobalActive: globalActive,
		Daily: risk.DailyStatus{
			TradingDate: candle.Timestamp.Format("2006-01-02"),
			RealizedPnl: perf.RealizedPnlQuote,
		},
		Market: e.marketAccessor(),
	}

	for _, ctrl := range e.ctrls {
		ctrlView := view
		ctrlView.Executors = report[ctrl.ID()]
		actions := ctrl.Update(ctx, ctrlView)
		if len(actions) == 0 {
			continue
		}
		if err := e.orch.ExecuteActions(ctx, actions); err != nil {
			e.logger.Warn("执行指令失败",
				zap.String("controller_id", ctrl.ID()),
				zap.Error(err))
		}
	}
}

func (e *Engine) marketAccessor() controller.MarketAccessor {
	return func(ctx context.Context) (feature.Snapshot, error) {
		return e.collector.Collect(ctx, e.cfg.Exchange, e.cfg.TradingPair, e.cfg.Timeframe, e.cfg.Lookback)
	}
}

func (e *Engine) pause(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.StepInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
