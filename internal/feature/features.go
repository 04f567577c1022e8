package feature

import (
	"math"
	"time"

	"trades-core/internal/exchange"
	"trades-core/internal/indicator"
)

// TrendFeatures 描述趋势相关指标。
type TrendFeatures struct {
	EMA12                float64 `json:"ema12"`
	EMA26                float64 `json:"ema26"`
	EMA50                float64 `json:"ema50"`
	EMARank              string  `json:"ema_rank"`
	PriceAboveEMA12      bool    `json:"price_above_ema12"`
	PriceAboveEMA26      bool    `json:"price_above_ema26"`
	PriceAboveEMA50      bool    `json:"price_above_ema50"`
	MACDValue            float64 `json:"macd_value"`
	MACDSignal           float64 `json:"macd_signal"`
	MACDHistogram        float64 `json:"macd_histogram"`
	MACDHistogramChange  float64 `json:"macd_histogram_change"`
	BollingerPosition    float64 `json:"bollinger_position"`
	BollingerBandwidth   float64 `json:"bollinger_bandwidth"`
	HigherTimeframeTrend string  `json:"higher_timeframe_trend"`
}

// MomentumFeatures 描述动量相关指标。
type MomentumFeatures struct {
	RSIValue         float64 `json:"rsi_value"`
	RSIState         string  `json:"rsi_state"`
	VolumeRatio      float64 `json:"volume_ratio"`
	VolumeAverage20  float64 `json:"volume_average20"`
	VolumeDivergence string  `json:"volume_divergence"`
}

// VolatilityFeatures 描述波动率状况。
type VolatilityFeatures struct {
	ATRAbsolute          float64 `json:"atr_absolute"`
	ATRRelative          float64 `json:"atr_relative"`
	RecentVolatility     float64 `json:"recent_volatility"`
	HistoricalVolatility float64 `json:"historical_volatility"`
	VolatilityRatio      float64 `json:"volatility_ratio"`
}

// MarketStructureFeatures 描述市场结构。
type MarketStructureFeatures struct {
	SupportLevel       float64 `json:"support_level"`
	ResistanceLevel    float64 `json:"resistance_level"`
	PriceRange         float64 `json:"price_range"`
	OrderBookImbalance float64 `json:"order_book_imbalance"`
	BidAskSpread       float64 `json:"bid_ask_spread"`
}

// MarketStateFeatures 描述整体市场状态。
type MarketStateFeatures struct {
	ADXValue      float64 `json:"adx_value"`
	TrendStrength string  `json:"trend_strength"`
}

// FeatureSet 汇总单交易对的全部派生特征，用于控制器决策与提示词拼装。
type FeatureSet struct {
	Exchange        string                  `json:"exchange"`
	TradingPair     string                  `json:"trading_pair"`
	GeneratedAt     time.Time               `json:"generated_at"`
	LastPrice       float64                 `json:"last_price"`
	Trend           TrendFeatures           `json:"trend"`
	Momentum        MomentumFeatures        `json:"momentum"`
	Volatility      VolatilityFeatures      `json:"volatility"`
	MarketStructure MarketStructureFeatures `json:"market_structure"`
	MarketState     MarketStateFeatures     `json:"market_state"`
}

func buildTrendFeatures(primary, higher indicator.Result) TrendFeatures {
	closePrice := clean(primary.Close)

	return TrendFeatures{
		EMA12:                clean(primary.EMA12),
		EMA26:                clean(primary.EMA26),
		EMA50:                clean(primary.EMA50),
		EMARank:              determineEMARank(primary.EMA12, primary.EMA26, primary.EMA50),
		PriceAboveEMA12:      closePrice > primary.EMA12,
		PriceAboveEMA26:      closePrice > primary.EMA26,
		PriceAboveEMA50:      closePrice > primary.EMA50,
		MACDValue:            clean(primary.MACD.Value),
		MACDSignal:           clean(primary.MACD.Signal),
		MACDHistogram:        clean(primary.MACD.Histogram),
		MACDHistogramChange:  clean(primary.MACD.Histogram - primary.MACD.PrevHistogram),
		BollingerPosition:    clean(primary.Bollinger.Position),
		BollingerBandwidth:   clean(primary.Bollinger.Bandwidth),
		HigherTimeframeTrend: determineHigherTimeframeTrend(higher),
	}
}

func buildMomentumFeatures(res indicator.Result) MomentumFeatures {
	return MomentumFeatures{
		RSIValue:         clean(res.RSI),
		RSIState:         determineRSIState(res.RSI),
		VolumeRatio:      clean(res.Volume.Ratio),
		VolumeAverage20:  clean(res.Volume.Average20),
		VolumeDivergence: determineVolumeDivergence(res),
	}
}

func buildVolatilityFeatures(res indicator.Result) VolatilityFeatures {
	recentVol, historicalVol, ratio := computeVolatilityRatios(res.Series.Close)

	return VolatilityFeatures{
		ATRAbsolute:          clean(res.ATR.Absolute),
		ATRRelative:          clean(res.ATR.Relative),
		RecentVolatility:     clean(recentVol),
		HistoricalVolatility: clean(historicalVol),
		VolatilityRatio:      clean(ratio),
	}
}

func buildMarketStructureFeatures(res indicator.Result, book exchange.OrderBookSnapshot) MarketStructureFeatures {
	support, resistance := computeSupportResistance(res.Series)

	return MarketStructureFeatures{
		SupportLevel:       clean(support),
		ResistanceLevel:    clean(resistance),
		PriceRange:         clean(resistance - support),
		OrderBookImbalance: clean(computeOrderBookImbalance(book)),
		BidAskSpread:       computeBidAskSpread(book),
	}
}

func buildMarketStateFeatures(res indicator.Result) MarketStateFeatures {
	return MarketStateFeatures{
		ADXValue:      clean(res.ADX),
		TrendStrength: determineTrendStrength(res.ADX),
	}
}

func determineEMARank(ema12, ema26, ema50 float64) string {
	switch {
	case ema12 > ema26 && ema26 > ema50:
		return "bullish_alignment"
	case ema12 < ema26 && ema26 < ema50:
		return "bearish_alignment"
	default:
		return "mixed_alignment"
	}
}

func determineHigherTimeframeTrend(res indicator.Result) string {
	ema12 := clean(res.EMA12)
	ema26 := clean(res.EMA26)

	switch {
	case ema12 == 0 && ema26 == 0:
		return "unknown"
	case ema12 > ema26:
		return "bullish"
	case ema12 < ema26:
		return "bearish"
	default:
		return "neutral"
	}
}

func determineRSIState(rsi float64) string {
	rsi = clean(rsi)
	switch {
	case rsi >= 70:
		return "overbought"
	case rsi <= 30:
		return "oversold"
	default:
		return "neutral"
	}
}

func determineTrendStrength(adx float64) string {
	adx = clean(adx)
	switch {
	case adx < 20:
		return "range"
	case adx < 25:
		return "transition"
	case adx < 40:
		return "trending"
	default:
		return "strong_trend"
	}
}

func determineVolumeDivergence(res indicator.Result) string {
	priceChange := clean(res.Close - res.PreviousClose)
	volumeRatio := clean(res.Volume.Ratio)

	switch {
	case priceChange > 0 && volumeRatio > 1:
		return "rally_with_volume"
	case priceChange > 0 && volumeRatio <= 1:
		return "rally_without_volume"
	case priceChange < 0 && volumeRatio > 1:
		return "selloff_with_volume"
	case priceChange < 0 && volumeRatio <= 1:
		return "selloff_without_volume"
	default:
		return "neutral"
	}
}

func computeVolatilityRatios(closes []float64) (recent, historical, ratio float64) {
	if len(closes) < 2 {
		return 0, 0, 0
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, (closes[i]/prev)-1)
	}

	if len(returns) == 0 {
		return 0, 0, 0
	}

	recentWindow := minInt(14, len(returns))
	historicalWindow := minInt(60, len(returns))

	recent = stdDev(returns[len(returns)-recentWindow:])
	historical = stdDev(returns[len(returns)-historicalWindow:])
	ratio = indicator.SafeDivide(recent, historical)

	return recent, historical, ratio
}

func computeSupportResistance(series indicator.Series) (float64, float64) {
	window := minInt(50, series.Len())
	if window == 0 {
		return 0, 0
	}

	highs := series.High[series.Len()-window:]
	lows := series.Low[series.Len()-window:]

	resistance := highs[0]
	for _, v := range highs {
		if v > resistance {
			resistance = v
		}
	}

	support := lows[0]
	for _, v := range lows {
		if v < support {
			support = v
		}
	}

	return support, resistance
}

func computeOrderBookImbalance(book exchange.OrderBookSnapshot) float64 {
	totalBid := 0.0
	totalAsk := 0.0

	depth := minInt(10, len(book.Bids))
	for i := 0; i < depth; i++ {
		totalBid += book.Bids[i].Amount
	}

	depth = minInt(10, len(book.Asks))
	for i := 0; i < depth; i++ {
		totalAsk += book.Asks[i].Amount
	}

	return indicator.SafeDivide(totalBid-totalAsk, totalBid+totalAsk)
}

func computeBidAskSpread(book exchange.OrderBookSnapshot) float64 {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return 0
	}
	return clean(book.Asks[0].Price - book.Bids[0].Price)
}

func stdDev(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(n)
	return math.Sqrt(variance)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clean(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return value
}
