package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-core/internal/controller"
	"trades-core/internal/executor"
	"trades-core/internal/monitor"
	"trades-core/internal/risk"
)

// controllerRuntime 把控制器与其行情访问器绑在一起。
type controllerRuntime struct {
	ctrl   controller.Controller
	market controller.MarketAccessor
}

// scheduler 驱动控制器决策循环：每个周期把执行器快照、
// 全局在途数量与当日风控状态组装成 View 交给各控制器，
// 并把产出的指令交给编排器执行。
type scheduler struct {
	interval time.Duration
	ctrls    []controllerRuntime
	orch     *executor.Orchestrator
	risk     *risk.Manager
	monitor  *monitor.Service
	logger   *zap.Logger

	// closed 记录已入账的终结执行器，避免重复记盈亏。
	closed map[string]struct{}
}

func newScheduler(
	interval time.Duration,
	ctrls []controllerRuntime,
	orch *executor.Orchestrator,
	riskMgr *risk.Manager,
	monitorSvc *monitor.Service,
	logger *zap.Logger,
) *scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &scheduler{
		interval: interval,
		ctrls:    ctrls,
		orch:     orch,
		risk:     riskMgr,
		monitor:  monitorSvc,
		logger:   logger,
		closed:   make(map[string]struct{}),
	}
}

func (s *scheduler) run(ctx context.Context) error {
	s.step(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("控制器调度循环退出")
			return ctx.Err()
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

func (s *scheduler) step(ctx context.Context) {
	now := time.Now().UTC()
	report := s.orch.ExecutorsReport()

	globalActive := 0
	for _, infos := range report {
		for _, info := range infos {
			if info.Status.IsActive() {
				globalActive++
			}
		}
	}

	s.settleClosedTrades(ctx, report)

	daily, err := s.risk.DailyStatus(ctx, now)
	if err != nil {
		s.logger.Error("读取当日风控状态失败", zap.Error(err))
		s.monitor.RecordError(ctx, "读取当日风控状态失败", err, nil)
		return
	}

	for _, rt := range s.ctrls {
		view := controller.View{
			Timestamp:    now,
			Executors:    report[rt.ctrl.ID()],
			GlobalActive: globalActive,
			Daily:        daily,
			Market:       rt.market,
		}

		actions := rt.ctrl.Update(ctx, view)
		if len(actions) == 0 {
			continue
		}

		execErr := s.orch.ExecuteActions(ctx, actions)
		if execErr != nil {
			s.logger.Error("执行控制器指令失败",
				zap.String("controller", rt.ctrl.ID()),
				zap.Error(execErr),
			)
			s.monitor.RecordError(ctx, "执行控制器指令失败", execErr,
				map[string]interface{}{"controller": rt.ctrl.ID()})
		}
		for _, action := range actions {
			s.monitor.RecordControllerAction(ctx, actionPayload(action, execErr))
		}
	}
}

// settleClosedTrades 把首次观察到的终结执行器计入当日已实现盈亏。
// 执行器归档后从快照消失，closed 集合随之收缩。
func (s *scheduler) settleClosedTrades(ctx context.Context, report map[string][]executor.ExecutorInfo) {
	current := make(map[string]struct{})
	for _, infos := range report {
		for _, info := range infos {
			current[info.ID] = struct{}{}
			if info.Status != executor.StatusTerminated {
				continue
			}
			if _, done := s.closed[info.ID]; done {
				continue
			}

			ts := info.CloseTimestamp
			if ts.IsZero() {
				ts = info.Timestamp
			}
			if _, err := s.risk.RecordClosedTrade(ctx, ts, info.NetPnlQuote); err != nil {
				s.logger.Error("记录平仓盈亏失败",
					zap.String("executor_id", info.ID),
					zap.Error(err),
				)
				continue
			}
			s.monitor.RecordExecutorLifecycle(ctx, "terminated", info)
			s.closed[info.ID] = struct{}{}
		}
	}

	for id := range s.closed {
		if _, ok := current[id]; !ok {
			delete(s.closed, id)
		}
	}
}

func actionPayload(action executor.Action, execErr error) monitor.ControllerActionPayload {
	payload := monitor.ControllerActionPayload{
		ControllerID: action.Controller(),
		Accepted:     execErr == nil,
	}
	if execErr != nil {
		payload.Reason = execErr.Error()
	}

	switch act := action.(type) {
	case executor.CreateExecutorAction:
		payload.ActionType = "create_executor"
		if act.Config != nil {
			payload.ExecutorID = act.Config.Base().ID
		}
	case executor.StopExecutorAction:
		payload.ActionType = "stop_executor"
		payload.ExecutorID = act.ExecutorID
	case executor.StoreExecutorAction:
		payload.ActionType = "store_executor"
		payload.ExecutorID = act.ExecutorID
	default:
		payload.ActionType = fmt.Sprintf("%T", action)
	}
	return payload
}
