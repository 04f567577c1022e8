package backtest

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config 定义一次回测的参数。
type Config struct {
	Exchange    string // 网关对外声明的交易所名称
	TradingPair string // 回放序列对应的交易对
	Timeframe   string // 回放K线的主周期
	Lookback    int    // 特征计算所需的K线窗口

	InitialQuote decimal.Decimal // 初始计价币余额
	InitialBase  decimal.Decimal // 初始基础币余额，做空回测时需要预置
	FeePct       decimal.Decimal // 按成交额收取的手续费率
	SpreadPct    decimal.Decimal // 合成盘口的单边价差比例

	// 每根K线推进后留给执行器的反应时间，
	// 必须大于执行器的 TickInterval 才能保证屏障被评估到。
	StepInterval time.Duration
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.Exchange == "" {
		cfg.Exchange = "sim"
	}
	if !cfg.InitialQuote.IsPositive() {
		cfg.InitialQuote = decimal.NewFromInt(10000)
	}
	if cfg.FeePct.IsNegative() {
		cfg.FeePct = decimal.Zero
	}
	if cfg.SpreadPct.IsNegative() {
		cfg.SpreadPct = decimal.Zero
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = 5 * time.Millisecond
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 120
	}
	return cfg
}
