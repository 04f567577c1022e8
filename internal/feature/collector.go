package feature

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-core/internal/exchange"
	"trades-core/internal/indicator"
)

const (
	minPrimaryCandles = 60
	minHigherCandles  = 30

	defaultLookback  = 200
	defaultBookDepth = 20
)

// DataSource 是特征采集所需的行情来源，实盘与回测各自实现。
type DataSource interface {
	Candles(ctx context.Context, exchangeName, tradingPair, timeframe string, limit int) ([]exchange.Candle, error)
	OrderBook(ctx context.Context, exchangeName, tradingPair string, depth int) (exchange.OrderBookSnapshot, error)
}

// Snapshot 聚合单交易对的原始行情与派生特征。
type Snapshot struct {
	Exchange    string
	TradingPair string
	GeneratedAt time.Time
	Candles     []exchange.Candle
	Book        exchange.OrderBookSnapshot
	Primary     indicator.Result
	Higher      indicator.Result
	Features    FeatureSet
}

// LastClose 返回主周期最后收盘价。
func (s Snapshot) LastClose() float64 {
	return s.Features.LastPrice
}

// Collector 按需采集行情并提取特征。
type Collector struct {
	source DataSource
	calc   *indicator.Calculator
	logger *zap.Logger
}

// NewCollector 创建特征采集器。
func NewCollector(source DataSource, calc *indicator.Calculator, logger *zap.Logger) *Collector {
	if calc == nil {
		calc = indicator.NewCalculator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		source: source,
		calc:   calc,
		logger: logger,
	}
}

// Collect 采集指定交易对的K线、盘口并计算特征。
// 高周期K线与盘口获取失败时降级处理，主周期K线不足则直接报错。
func (c *Collector) Collect(ctx context.Context, exchangeName, tradingPair, timeframe string, lookback int) (Snapshot, error) {
	if lookback <= 0 {
		lookback = defaultLookback
	}

	var (
		primaryCandles []exchange.Candle
		higherCandles  []exchange.Candle
		book           exchange.OrderBookSnapshot
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := c.source.Candles(groupCtx, exchangeName, tradingPair, timeframe, lookback)
		if err != nil {
			return fmt.Errorf("获取主周期K线失败: %w", err)
		}
		primaryCandles = data
		return nil
	})

	group.Go(func() error {
		if timeframe == exchange.Timeframe4h {
			return nil
		}
		data, err := c.source.Candles(groupCtx, exchangeName, tradingPair, exchange.Timeframe4h, lookback)
		if err != nil {
			c.logger.Debug("高周期K线获取失败，趋势过滤降级",
				zap.String("trading_pair", tradingPair),
				zap.Error(err),
			)
			return nil
		}
		higherCandles = data
		return nil
	})

	group.Go(func() error {
		data, err := c.source.OrderBook(groupCtx, exchangeName, tradingPair, defaultBookDepth)
		if err != nil {
			c.logger.Debug("盘口获取失败，市场结构特征降级",
				zap.String("trading_pair", tradingPair),
				zap.Error(err),
			)
			return nil
		}
		book = data
		return nil
	})

	if err := group.Wait(); err != nil {
		return Snapshot{}, err
	}

	if len(primaryCandles) < minPrimaryCandles {
		return Snapshot{}, fmt.Errorf("主周期K线数量不足，至少需要 %d 根，当前 %d", minPrimaryCandles, len(primaryCandles))
	}

	primary, err := c.calc.Compute(tradingPair, timeframe, primaryCandles)
	if err != nil {
		return Snapshot{}, fmt.Errorf("计算主周期指标失败: %w", err)
	}

	var higher indicator.Result
	switch {
	case timeframe == exchange.Timeframe4h:
		higher = primary
	case len(higherCandles) >= minHigherCandles:
		higher, err = c.calc.Compute(tradingPair, exchange.Timeframe4h, higherCandles)
		if err != nil {
			return Snapshot{}, fmt.Errorf("计算高周期指标失败: %w", err)
		}
	}

	now := time.Now().UTC()
	features := FeatureSet{
		Exchange:        exchangeName,
		TradingPair:     tradingPair,
		GeneratedAt:     now,
		LastPrice:       clean(primary.Close),
		Trend:           buildTrendFeatures(primary, higher),
		Momentum:        buildMomentumFeatures(primary),
		Volatility:      buildVolatilityFeatures(primary),
		MarketStructure: buildMarketStructureFeatures(primary, book),
		MarketState:     buildMarketStateFeatures(primary),
	}

	c.logger.Debug("特征提取完成",
		zap.String("exchange", exchangeName),
		zap.String("trading_pair", tradingPair),
		zap.Float64("last_price", features.LastPrice),
	)

	return Snapshot{
		Exchange:    exchangeName,
		TradingPair: tradingPair,
		GeneratedAt: now,
		Candles:     primaryCandles,
		Book:        book,
		Primary:     primary,
		Higher:      higher,
		Features:    features,
	}, nil
}
