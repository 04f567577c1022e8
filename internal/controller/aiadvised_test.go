package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"trades-core/internal/ai"
	"trades-core/internal/config"
	"trades-core/internal/executor"
	"trades-core/internal/risk"
)

func aiConfig() config.ControllerConfig {
	return config.ControllerConfig{
		ID:          "ai-1",
		Type:        config.ControllerTypeAIAdvised,
		Exchange:    "binance",
		TradingPair: "BTC-USDT",
		Amount:      d("0.4"),
		Timeframe:   "1h",
		Lookback:    120,
		Barrier: config.BarrierConfig{
			StopLoss:   d("0.02"),
			TakeProfit: d("0.04"),
			TimeLimit:  6 * time.Hour,
		},
	}
}

func openDecision(action string) ai.Decision {
	return ai.Decision{
		TradingPair: "BTC-USDT",
		Action:      action,
		AmountPct:   0.5,
		Confidence:  0.85,
		Reasoning:   "趋势延续，突破后回踩确认",
	}
}

func positionInfo(id string, createdAt time.Time) executor.ExecutorInfo {
	return executor.ExecutorInfo{
		ID:        id,
		Type:      executor.ConfigTypePosition,
		Status:    executor.StatusRunning,
		NetPnlPct: d("0.025"),
		Config: executor.PositionExecutorConfig{
			ConfigBase: executor.ConfigBase{
				ID:           id,
				Timestamp:    createdAt,
				ControllerID: "ai-1",
			},
			Exchange:    "binance",
			TradingPair: "BTC-USDT",
			Side:        executor.SideBuy,
			Amount:      d("0.4"),
		},
		CustomInfo: map[string]any{
			"current_position_average_price": d("64250"),
		},
	}
}

func TestAIAdvisedOpensLongFromDecision(t *testing.T) {
	guard := allowAll()
	advisor := &stubAdvisor{decision: openDecision(ai.ActionOpenLong)}
	ctrl := NewAIAdvised(aiConfig(), advisor, guard, nil)

	ts := time.Date(2024, 3, 3, 15, 0, 0, 0, time.UTC)
	view := viewAt(ts)
	view.Market = marketWith(snapshotWith(105, 100, 55, 64000, "bullish"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	create, ok := actions[0].(executor.CreateExecutorAction)
	if !ok {
		t.Fatalf("expected create action, got %T", actions[0])
	}
	cfg, ok := create.Config.(executor.PositionExecutorConfig)
	if !ok {
		t.Fatalf("expected position config, got %T", create.Config)
	}
	if cfg.Side != executor.SideBuy {
		t.Fatalf("expected buy side, got %s", cfg.Side)
	}
	if !cfg.Amount.Equal(d("0.2")) {
		t.Fatalf("expected amount 0.2 (0.4 * 0.5), got %s", cfg.Amount)
	}
	if cfg.Barrier.OpenOrderType != executor.OrderTypeMarket {
		t.Fatalf("expected market open by default, got %s", cfg.Barrier.OpenOrderType)
	}
	if !cfg.Barrier.StopLoss.Equal(d("0.02")) || !cfg.Barrier.TakeProfit.Equal(d("0.04")) {
		t.Fatalf("expected configured barriers without overrides, got %+v", cfg.Barrier)
	}

	if len(guard.inputs) != 1 {
		t.Fatalf("expected 1 guard evaluation, got %d", len(guard.inputs))
	}
	if !guard.inputs[0].ProposedQuote.Equal(d("12800")) {
		t.Fatalf("expected proposed quote 12800, got %s", guard.inputs[0].ProposedQuote)
	}
}

func TestAIAdvisedOpensShortFromDecision(t *testing.T) {
	advisor := &stubAdvisor{decision: openDecision(ai.ActionOpenShort)}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(98, 100, 45, 64000, "bearish"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	cfg := actions[0].(executor.CreateExecutorAction).Config.(executor.PositionExecutorConfig)
	if cfg.Side != executor.SideSell {
		t.Fatalf("expected sell side, got %s", cfg.Side)
	}
}

func TestAIAdvisedAppliesBarrierOverrides(t *testing.T) {
	decision := openDecision(ai.ActionOpenLong)
	decision.StopLossPct = 0.03
	decision.TakeProfitPct = 0.09
	decision.OrderPreference = " limit "
	advisor := &stubAdvisor{decision: decision}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(105, 100, 55, 64000, "bullish"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	cfg := actions[0].(executor.CreateExecutorAction).Config.(executor.PositionExecutorConfig)
	if !cfg.Barrier.StopLoss.Equal(d("0.03")) {
		t.Fatalf("expected stop loss override 0.03, got %s", cfg.Barrier.StopLoss)
	}
	if !cfg.Barrier.TakeProfit.Equal(d("0.09")) {
		t.Fatalf("expected take profit override 0.09, got %s", cfg.Barrier.TakeProfit)
	}
	if cfg.Barrier.OpenOrderType != executor.OrderTypeLimit {
		t.Fatalf("expected limit open preference, got %s", cfg.Barrier.OpenOrderType)
	}
}

func TestAIAdvisedIgnoresLowConfidence(t *testing.T) {
	decision := openDecision(ai.ActionOpenLong)
	decision.Confidence = 0.3
	advisor := &stubAdvisor{decision: decision}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(105, 100, 55, 64000, "bullish"))

	if actions := ctrl.Update(context.Background(), view); len(actions) != 0 {
		t.Fatalf("expected low confidence to be ignored, got %d actions", len(actions))
	}
}

func TestAIAdvisedHonorsConfiguredMinConfidence(t *testing.T) {
	cfg := aiConfig()
	cfg.MinConfidence = 0.9
	advisor := &stubAdvisor{decision: openDecision(ai.ActionOpenLong)}
	ctrl := NewAIAdvised(cfg, advisor, allowAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(105, 100, 55, 64000, "bullish"))

	if actions := ctrl.Update(context.Background(), view); len(actions) != 0 {
		t.Fatalf("expected 0.85 confidence below raised threshold, got %d actions", len(actions))
	}

	advisor.decision.Confidence = 0.95
	if actions := ctrl.Update(context.Background(), view); len(actions) != 1 {
		t.Fatalf("expected action above raised threshold, got %d", len(actions))
	}
}

func TestAIAdvisedStopsNamedExecutor(t *testing.T) {
	decision := ai.Decision{
		TradingPair: "BTC-USDT",
		Action:      ai.ActionStop,
		ExecutorID:  "EX-1",
		Confidence:  0.8,
		Reasoning:   "结构破位，建议离场",
	}
	advisor := &stubAdvisor{decision: decision}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	ts := time.Now()
	view := viewAt(ts, positionInfo("EX-1", ts.Add(-time.Hour)))
	view.Market = marketWith(snapshotWith(98, 100, 45, 64000, "bearish"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected 1 stop action, got %d", len(actions))
	}
	stop, ok := actions[0].(executor.StopExecutorAction)
	if !ok {
		t.Fatalf("expected stop action, got %T", actions[0])
	}
	if stop.ControllerID != "ai-1" || stop.ExecutorID != "EX-1" {
		t.Fatalf("unexpected stop action %+v", stop)
	}
}

func TestAIAdvisedIgnoresStopForUnknownExecutor(t *testing.T) {
	decision := ai.Decision{
		TradingPair: "BTC-USDT",
		Action:      ai.ActionStop,
		ExecutorID:  "ghost",
		Confidence:  0.8,
		Reasoning:   "止损",
	}
	advisor := &stubAdvisor{decision: decision}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(98, 100, 45, 64000, "bearish"))

	if actions := ctrl.Update(context.Background(), view); len(actions) != 0 {
		t.Fatalf("expected unknown stop target to be ignored, got %d actions", len(actions))
	}
}

func TestAIAdvisedIgnoresStopForTerminatedExecutor(t *testing.T) {
	decision := ai.Decision{
		TradingPair: "BTC-USDT",
		Action:      ai.ActionStop,
		ExecutorID:  "EX-done",
		Confidence:  0.8,
		Reasoning:   "止损",
	}
	advisor := &stubAdvisor{decision: decision}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	view := viewAt(time.Now(), terminatedInfo("EX-done"))
	view.Market = marketWith(snapshotWith(98, 100, 45, 64000, "bearish"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected only the store action, got %d", len(actions))
	}
	if _, ok := actions[0].(executor.StoreExecutorAction); !ok {
		t.Fatalf("expected store action, got %T", actions[0])
	}
}

func TestAIAdvisedHoldKeepsOnlyStores(t *testing.T) {
	decision := ai.Decision{
		TradingPair: "BTC-USDT",
		Action:      ai.ActionHold,
		Confidence:  0.9,
		Reasoning:   "观望",
	}
	advisor := &stubAdvisor{decision: decision}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	view := viewAt(time.Now(), terminatedInfo("EX-old"))
	view.Market = marketWith(snapshotWith(105, 100, 55, 64000, "bullish"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected only the store action, got %d", len(actions))
	}
	if _, ok := actions[0].(executor.StoreExecutorAction); !ok {
		t.Fatalf("expected store action, got %T", actions[0])
	}
}

func TestAIAdvisedSurvivesAdvisorError(t *testing.T) {
	advisor := &stubAdvisor{err: errors.New("model unavailable")}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	view := viewAt(time.Now(), terminatedInfo("EX-old"))
	view.Market = marketWith(snapshotWith(105, 100, 55, 64000, "bullish"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected only the store action, got %d", len(actions))
	}
}

func TestAIAdvisedDeniedByGuard(t *testing.T) {
	advisor := &stubAdvisor{decision: openDecision(ai.ActionOpenLong)}
	ctrl := NewAIAdvised(aiConfig(), advisor, denyAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(105, 100, 55, 64000, "bullish"))

	if actions := ctrl.Update(context.Background(), view); len(actions) != 0 {
		t.Fatalf("expected guard to block open, got %d actions", len(actions))
	}
}

func TestAIAdvisedIgnoresZeroAmountPct(t *testing.T) {
	decision := openDecision(ai.ActionOpenLong)
	decision.AmountPct = 0
	advisor := &stubAdvisor{decision: decision}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(105, 100, 55, 64000, "bullish"))

	if actions := ctrl.Update(context.Background(), view); len(actions) != 0 {
		t.Fatalf("expected zero amount to be ignored, got %d actions", len(actions))
	}
}

func TestAIAdvisedPortfolioStateReflectsView(t *testing.T) {
	advisor := &stubAdvisor{decision: ai.Decision{
		TradingPair: "BTC-USDT",
		Action:      ai.ActionHold,
		Confidence:  0.9,
		Reasoning:   "观望",
	}}
	ctrl := NewAIAdvised(aiConfig(), advisor, allowAll(), nil)

	ts := time.Date(2024, 3, 3, 16, 0, 0, 0, time.UTC)
	view := viewAt(ts,
		positionInfo("EX-1", ts.Add(-30*time.Minute)),
		terminatedInfo("EX-gone"),
	)
	view.Daily = risk.DailyStatus{TradingDate: "2024-03-03", RealizedPnl: d("-12.5")}
	view.Market = marketWith(snapshotWith(105, 100, 55, 64000, "bullish"))

	ctrl.Update(context.Background(), view)

	if len(advisor.states) != 1 {
		t.Fatalf("expected advisor to receive 1 state, got %d", len(advisor.states))
	}
	state := advisor.states[0]
	if state.ActivePositions != 1 {
		t.Fatalf("expected 1 active position, got %d", state.ActivePositions)
	}
	if state.RealizedPnlQuote != "-12.5" {
		t.Fatalf("expected realized pnl -12.5, got %s", state.RealizedPnlQuote)
	}
	if len(state.Positions) != 1 {
		t.Fatalf("expected 1 position brief, got %d", len(state.Positions))
	}
	brief := state.Positions[0]
	if brief.ID != "EX-1" || brief.Side != "BUY" {
		t.Fatalf("unexpected brief identity %+v", brief)
	}
	if brief.EntryPrice != "64250" {
		t.Fatalf("expected entry price 64250, got %s", brief.EntryPrice)
	}
	if brief.AgeMinutes != 30 {
		t.Fatalf("expected age 30 minutes, got %d", brief.AgeMinutes)
	}
	if brief.NetPnlPct != "2.50" {
		t.Fatalf("expected pnl 2.50, got %s", brief.NetPnlPct)
	}
}
