package ai

import (
	"strings"
	"testing"

	"trades-core/internal/feature"
)

func validOpenDecision() Decision {
	return Decision{
		TradingPair:     "BTC-USDT",
		Action:          "OPEN_LONG",
		AmountPct:       0.5,
		StopLossPct:     0.02,
		TakeProfitPct:   0.04,
		Confidence:      0.8,
		Reasoning:       "趋势与动量同向",
		OrderPreference: "MARKET",
	}
}

func TestParseDecisionExtractsEmbeddedJSON(t *testing.T) {
	content := "以下是我的决策：\n```json\n" +
		`{"trading_pair":"BTC-USDT","action":"open_long","amount_pct":0.25,"confidence":0.7,"reasoning":"突破确认"}` +
		"\n```\n请谨慎执行。"

	decision, err := parseDecision(content)
	if err != nil {
		t.Fatalf("parseDecision returned error: %v", err)
	}
	if decision.TradingPair != "BTC-USDT" {
		t.Fatalf("expected trading pair BTC-USDT, got %s", decision.TradingPair)
	}
	if decision.NormalizedAction() != ActionOpenLong {
		t.Fatalf("expected normalized OPEN_LONG, got %s", decision.NormalizedAction())
	}
	if decision.AmountPct != 0.25 {
		t.Fatalf("expected amount pct 0.25, got %v", decision.AmountPct)
	}
	if err := decision.Validate(); err != nil {
		t.Fatalf("expected parsed decision to validate, got %v", err)
	}
}

func TestExtractJSONFailsWithoutObject(t *testing.T) {
	if _, err := extractJSON("no structured output here"); err == nil {
		t.Fatalf("expected error for content without JSON object")
	}
}

func TestDecisionValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Decision)
		wantErr string
	}{
		{name: "valid open", mutate: func(d *Decision) {}},
		{name: "valid hold", mutate: func(d *Decision) {
			d.Action = "HOLD"
			d.AmountPct = 0
			d.StopLossPct = 0
			d.TakeProfitPct = 0
		}},
		{name: "missing pair", mutate: func(d *Decision) { d.TradingPair = " " }, wantErr: "trading_pair"},
		{name: "unknown action", mutate: func(d *Decision) { d.Action = "REVERSE" }, wantErr: "action 字段取值非法"},
		{name: "stop without executor", mutate: func(d *Decision) {
			d.Action = "STOP"
		}, wantErr: "executor_id"},
		{name: "open without amount", mutate: func(d *Decision) { d.AmountPct = 0 }, wantErr: "amount_pct"},
		{name: "oversized amount", mutate: func(d *Decision) { d.AmountPct = 1.5 }, wantErr: "amount_pct"},
		{name: "stop loss too wide", mutate: func(d *Decision) { d.StopLossPct = 0.9 }, wantErr: "stop_loss_pct"},
		{name: "confidence out of range", mutate: func(d *Decision) { d.Confidence = 1.2 }, wantErr: "confidence"},
		{name: "missing reasoning", mutate: func(d *Decision) { d.Reasoning = "" }, wantErr: "reasoning"},
		{name: "bad order preference", mutate: func(d *Decision) { d.OrderPreference = "ICEBERG" }, wantErr: "order_preference"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := validOpenDecision()
			tc.mutate(&decision)
			err := decision.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid decision, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBuildPromptRendersPortfolio(t *testing.T) {
	features := feature.FeatureSet{
		Exchange:    "binance",
		TradingPair: "ETH-USDT",
		LastPrice:   1850.5,
	}
	state := PortfolioState{
		ActivePositions:  1,
		RealizedPnlQuote: "-12.5",
		Positions: []PositionBrief{
			{ID: "pos-1", Side: "BUY", EntryPrice: "1800", AgeMinutes: 42, NetPnlPct: "2.80"},
		},
	}

	prompt, err := BuildPrompt(features, state)
	if err != nil {
		t.Fatalf("BuildPrompt returned error: %v", err)
	}
	for _, fragment := range []string{"ETH-USDT", "pos-1", "OPEN_LONG|OPEN_SHORT|STOP|HOLD", "-12.5"} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("expected prompt to contain %q", fragment)
		}
	}
}

func TestBuildPromptWithoutPositions(t *testing.T) {
	prompt, err := BuildPrompt(feature.FeatureSet{TradingPair: "BTC-USDT"}, PortfolioState{})
	if err != nil {
		t.Fatalf("BuildPrompt returned error: %v", err)
	}
	if !strings.Contains(prompt, "当前没有在途仓位") {
		t.Fatalf("expected empty portfolio hint in prompt")
	}
}
