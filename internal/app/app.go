package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-core/internal/ai"
	"trades-core/internal/archive"
	"trades-core/internal/config"
	"trades-core/internal/controller"
	"trades-core/internal/exchange"
	"trades-core/internal/executor"
	"trades-core/internal/feature"
	"trades-core/internal/indicator"
	"trades-core/internal/monitor"
	"trades-core/internal/risk"
	"trades-core/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装交易所网关、编排器与控制器，并驱动调度循环直到收到退出信号。
// 退出时先等各子循环停止，再对编排器做限时停机归档。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("controllers", len(a.cfg.Controllers)),
		zap.Int("accounts", len(a.cfg.Exchange.Accounts)),
	)

	exchangeSvc, err := exchange.NewService(a.cfg.Exchange, a.logger)
	if err != nil {
		return fmt.Errorf("初始化交易所服务失败: %w", err)
	}

	repo, err := archive.NewRepository(a.store.DB(), a.logger)
	if err != nil {
		return fmt.Errorf("初始化归档仓库失败: %w", err)
	}

	riskMgr, err := risk.NewManager(a.cfg.Risk, a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化风险管理失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	orch := executor.NewOrchestrator(exchangeSvc, repo, a.logger, executor.Options{
		TickInterval: a.cfg.Scheduler.TickInterval,
		MaxRetries:   a.cfg.Executors.MaxRetries,
		InboxSize:    a.cfg.Executors.InboxSize,
	})

	var aiClient *ai.Client
	if needsAdvisor(a.cfg.Controllers) {
		aiClient, err = ai.NewClient(a.cfg.OpenAI, a.logger)
		if err != nil {
			return fmt.Errorf("初始化AI客户端失败: %w", err)
		}
	}

	collector := feature.NewCollector(exchangeSvc, indicator.NewCalculator(), a.logger)
	guard := &recordingGuard{inner: riskMgr, monitor: monitorSvc}

	runtimes := make([]controllerRuntime, 0, len(a.cfg.Controllers))
	for _, ctrlCfg := range a.cfg.Controllers {
		deps := controller.Deps{
			Guard:  guard,
			Logger: a.logger,
		}
		if ctrlCfg.Type == config.ControllerTypeAIAdvised {
			deps.Advisor = &recordingAdvisor{
				inner:        aiClient,
				monitor:      monitorSvc,
				controllerID: ctrlCfg.ID,
			}
		}

		ctrl, err := controller.New(ctrlCfg, deps)
		if err != nil {
			return fmt.Errorf("初始化控制器失败 (%s): %w", ctrlCfg.ID, err)
		}
		runtimes = append(runtimes, controllerRuntime{
			ctrl:   ctrl,
			market: marketAccessor(collector, ctrlCfg),
		})
	}

	// 订单事件泵：交易所侧状态变化广播给编排器与监控。
	exchangeSvc.Subscribe(func(ev executor.OrderEvent) {
		orch.DeliverOrderEvent(ev)
		monitorSvc.RecordOrderEvent(context.Background(), ev)
	})

	sched := newScheduler(a.cfg.Scheduler.ControllerInterval, runtimes, orch, riskMgr, monitorSvc, a.logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return exchangeSvc.Run(gctx) })
	group.Go(func() error { return sched.run(gctx) })
	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(gctx, a.cfg.Monitor.ListenAddr, orch, monitorSvc, a.logger); err != nil {
			return fmt.Errorf("启动监控服务失败: %w", err)
		}
	}

	err = group.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if stopErr := orch.Stop(stopCtx); stopErr != nil {
		a.logger.Error("停机归档未完全成功", zap.Error(stopErr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，已停止")
	return nil
}

func needsAdvisor(ctrls []config.ControllerConfig) bool {
	for _, c := range ctrls {
		if c.Type == config.ControllerTypeAIAdvised {
			return true
		}
	}
	return false
}

func marketAccessor(collector *feature.Collector, cfg config.ControllerConfig) controller.MarketAccessor {
	timeframe := cfg.Timeframe
	if timeframe == "" {
		timeframe = "1h"
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 120
	}
	return func(ctx context.Context) (feature.Snapshot, error) {
		return collector.Collect(ctx, cfg.Exchange, cfg.TradingPair, timeframe, lookback)
	}
}

// recordingGuard 在风控评估后落一条监控事件。
type recordingGuard struct {
	inner   *risk.Manager
	monitor *monitor.Service
}

func (g *recordingGuard) Evaluate(ctx context.Context, input risk.EvaluationInput) (risk.EvaluationResult, error) {
	result, err := g.inner.Evaluate(ctx, input)
	if err == nil {
		g.monitor.RecordRisk(ctx, input, result)
	}
	return result, err
}

// recordingAdvisor 把模型决策连同特征一起写入监控事件流。
type recordingAdvisor struct {
	inner        *ai.Client
	monitor      *monitor.Service
	controllerID string
}

func (a *recordingAdvisor) GenerateDecision(ctx context.Context, features feature.FeatureSet, state ai.PortfolioState) (ai.Decision, error) {
	decision, err := a.inner.GenerateDecision(ctx, features, state)
	if err == nil {
		a.monitor.RecordDecision(ctx, a.controllerID, features, decision)
	}
	return decision, err
}
