package backtest

import (
	"context"
	"errors"

	"trades-core/internal/ai"
	"trades-core/internal/feature"
)

// AdvisorFunc 允许用函数脚本充当AI顾问，
// 让 ai_advised 控制器不经网络即可参与回测。
type AdvisorFunc func(ctx context.Context, features feature.FeatureSet, state ai.PortfolioState) (ai.Decision, error)

// GenerateDecision 实现控制器的顾问接口。
func (f AdvisorFunc) GenerateDecision(ctx context.Context, features feature.FeatureSet, state ai.PortfolioState) (ai.Decision, error) {
	if f == nil {
		return ai.Decision{}, errors.New("backtest: 顾问函数未实现")
	}
	return f(ctx, features, state)
}
