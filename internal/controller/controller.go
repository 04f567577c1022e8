package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-core/internal/ai"
	"trades-core/internal/config"
	"trades-core/internal/executor"
	"trades-core/internal/feature"
	"trades-core/internal/risk"
)

// Controller 根据行情与执行器状态产出声明式指令。
// 控制器绝不直接操作执行器，所有变更都经由编排器执行。
type Controller interface {
	ID() string
	Update(ctx context.Context, view View) []executor.Action
}

// MarketAccessor 按需拉取该控制器交易对的行情特征快照。
type MarketAccessor func(ctx context.Context) (feature.Snapshot, error)

// View 是一次控制器评估的输入：本控制器名下执行器的最新快照、
// 全系统在途执行器数量、当日风控状态与行情访问器。
type View struct {
	Timestamp    time.Time
	Executors    []executor.ExecutorInfo
	GlobalActive int
	Daily        risk.DailyStatus
	Market       MarketAccessor
}

// Guard 在发出开仓指令前做风控评估。
type Guard interface {
	Evaluate(ctx context.Context, input risk.EvaluationInput) (risk.EvaluationResult, error)
}

// Advisor 产出模型决策。
type Advisor interface {
	GenerateDecision(ctx context.Context, features feature.FeatureSet, state ai.PortfolioState) (ai.Decision, error)
}

// Deps 汇总构造控制器所需的外部依赖。
type Deps struct {
	Guard   Guard
	Advisor Advisor
	Logger  *zap.Logger
}

// New 按配置类型构造控制器。
func New(cfg config.ControllerConfig, deps Deps) (Controller, error) {
	switch cfg.Type {
	case config.ControllerTypeDirectional:
		return NewDirectional(cfg, deps.Guard, deps.Logger), nil
	case config.ControllerTypeDCAGrid:
		return NewDCAGrid(cfg, deps.Guard, deps.Logger), nil
	case config.ControllerTypeAIAdvised:
		if deps.Advisor == nil {
			return nil, errors.New("controller: ai_advised 控制器需要 AI 客户端")
		}
		return NewAIAdvised(cfg, deps.Advisor, deps.Guard, deps.Logger), nil
	default:
		return nil, fmt.Errorf("controller: 未知控制器类型 %q", cfg.Type)
	}
}

// storeTerminated 为已终结但尚未归档的执行器生成归档指令。
func storeTerminated(controllerID string, infos []executor.ExecutorInfo) []executor.Action {
	var actions []executor.Action
	for _, info := range infos {
		if info.Status == executor.StatusTerminated {
			actions = append(actions, executor.NewStoreAction(controllerID, info.ID))
		}
	}
	return actions
}

// activeCount 统计未终结的执行器数量。
func activeCount(infos []executor.ExecutorInfo) int {
	count := 0
	for _, info := range infos {
		if info.Status != executor.StatusTerminated {
			count++
		}
	}
	return count
}

// allowOpen 调用风控评估，未配置风控时直接放行。
func allowOpen(ctx context.Context, guard Guard, logger *zap.Logger, input risk.EvaluationInput) bool {
	if guard == nil {
		return true
	}
	result, err := guard.Evaluate(ctx, input)
	if err != nil {
		logger.Error("风控评估失败",
			zap.String("controller_id", input.ControllerID),
			zap.Error(err))
		return false
	}
	if !result.Allowed() {
		logger.Info("风控未允许开仓",
			zap.String("controller_id", input.ControllerID),
			zap.String("trading_pair", input.TradingPair),
			zap.Strings("notes", result.Notes))
		return false
	}
	return true
}
