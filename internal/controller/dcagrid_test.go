package controller

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trades-core/internal/config"
	"trades-core/internal/executor"
)

func dcaConfig() config.ControllerConfig {
	return config.ControllerConfig{
		ID:          "grid-1",
		Type:        config.ControllerTypeDCAGrid,
		Exchange:    "binance",
		TradingPair: "ETH-USDT",
		Timeframe:   "1h",
		Lookback:    120,
		Barrier: config.BarrierConfig{
			StopLoss:   d("0.05"),
			TakeProfit: d("0.03"),
			TimeLimit:  12 * time.Hour,
		},
		DCA: config.DCAGridConfig{
			Levels:      3,
			StepPct:     d("0.01"),
			AmountQuote: d("300"),
			Mode:        "maker",
		},
	}
}

func TestDCAGridBuildsLadderOnDip(t *testing.T) {
	guard := allowAll()
	ctrl := NewDCAGrid(dcaConfig(), guard, nil)

	ts := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	view := viewAt(ts)
	view.Market = marketWith(snapshotWith(1990, 2010, 40, 2000, "neutral"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	create, ok := actions[0].(executor.CreateExecutorAction)
	if !ok {
		t.Fatalf("expected create action, got %T", actions[0])
	}
	cfg, ok := create.Config.(executor.DCAExecutorConfig)
	if !ok {
		t.Fatalf("expected dca config, got %T", create.Config)
	}
	if cfg.Side != executor.SideBuy {
		t.Fatalf("expected buy ladder, got %s", cfg.Side)
	}
	if cfg.Mode != executor.DCAModeMaker {
		t.Fatalf("expected maker mode, got %s", cfg.Mode)
	}

	wantPrices := []string{"2000", "1980", "1960"}
	if len(cfg.Prices) != len(wantPrices) {
		t.Fatalf("expected %d levels, got %d", len(wantPrices), len(cfg.Prices))
	}
	for i, want := range wantPrices {
		if !cfg.Prices[i].Equal(d(want)) {
			t.Fatalf("level %d: expected price %s, got %s", i, want, cfg.Prices[i])
		}
	}
	for i, amount := range cfg.AmountsQuote {
		if !amount.Equal(d("100")) {
			t.Fatalf("level %d: expected amount 100, got %s", i, amount)
		}
	}
	if !cfg.StopLoss.Equal(d("0.05")) || !cfg.TakeProfit.Equal(d("0.03")) {
		t.Fatalf("unexpected barrier fields %s / %s", cfg.StopLoss, cfg.TakeProfit)
	}
	if cfg.TimeLimit != 12*time.Hour {
		t.Fatalf("expected 12h time limit, got %s", cfg.TimeLimit)
	}

	if len(guard.inputs) != 1 {
		t.Fatalf("expected 1 guard evaluation, got %d", len(guard.inputs))
	}
	if !guard.inputs[0].ProposedQuote.Equal(d("300")) {
		t.Fatalf("expected proposed quote 300, got %s", guard.inputs[0].ProposedQuote)
	}
}

func TestDCAGridAmountsSumExactly(t *testing.T) {
	cfg := dcaConfig()
	cfg.DCA.AmountQuote = d("100")
	ctrl := NewDCAGrid(cfg, allowAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(1990, 2010, 40, 2000, "neutral"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	dcaCfg := actions[0].(executor.CreateExecutorAction).Config.(executor.DCAExecutorConfig)

	sum := decimal.Zero
	for _, amount := range dcaCfg.AmountsQuote {
		sum = sum.Add(amount)
	}
	if !sum.Equal(d("100")) {
		t.Fatalf("expected amounts to sum to 100 exactly, got %s", sum)
	}
	if got := dcaCfg.AmountsQuote[len(dcaCfg.AmountsQuote)-1]; !got.Equal(d("33.33333334")) {
		t.Fatalf("expected remainder in last level, got %s", got)
	}
	if !dcaCfg.MaxAmountQuote().Equal(d("100")) {
		t.Fatalf("expected max amount 100, got %s", dcaCfg.MaxAmountQuote())
	}
}

func TestDCAGridIdleWhenNoDip(t *testing.T) {
	ctrl := NewDCAGrid(dcaConfig(), allowAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(1990, 2010, 60, 2000, "neutral"))

	if actions := ctrl.Update(context.Background(), view); len(actions) != 0 {
		t.Fatalf("expected no actions above dip threshold, got %d", len(actions))
	}
}

func TestDCAGridSkipsWhileLadderActive(t *testing.T) {
	ctrl := NewDCAGrid(dcaConfig(), allowAll(), nil)

	view := viewAt(time.Now(), activeInfo("EX-dca"))
	view.Market = marketWith(snapshotWith(1990, 2010, 40, 2000, "neutral"))

	if actions := ctrl.Update(context.Background(), view); len(actions) != 0 {
		t.Fatalf("expected no actions while ladder active, got %d", len(actions))
	}
}

func TestDCAGridTakerMode(t *testing.T) {
	cfg := dcaConfig()
	cfg.DCA.Mode = "taker"
	ctrl := NewDCAGrid(cfg, allowAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(1990, 2010, 40, 2000, "neutral"))

	actions := ctrl.Update(context.Background(), view)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	dcaCfg := actions[0].(executor.CreateExecutorAction).Config.(executor.DCAExecutorConfig)
	if dcaCfg.Mode != executor.DCAModeTaker {
		t.Fatalf("expected taker mode, got %s", dcaCfg.Mode)
	}
}

func TestDCAGridDeniedByGuard(t *testing.T) {
	ctrl := NewDCAGrid(dcaConfig(), denyAll(), nil)

	view := viewAt(time.Now())
	view.Market = marketWith(snapshotWith(1990, 2010, 40, 2000, "neutral"))

	if actions := ctrl.Update(context.Background(), view); len(actions) != 0 {
		t.Fatalf("expected guard to block ladder, got %d actions", len(actions))
	}
}
