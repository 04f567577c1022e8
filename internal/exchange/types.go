package exchange

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Timeframe1m 为回测与细粒度行情周期。
	Timeframe1m = "1m"
	// Timeframe1h 为控制器默认决策周期。
	Timeframe1h = "1h"
	// Timeframe4h 为趋势过滤周期。
	Timeframe4h = "4h"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderBookLevel 表示盘口档位。
type OrderBookLevel struct {
	Price  float64
	Amount float64
}

// OrderBookSnapshot 为订单簿快照。
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
	Nonce     int64
}

// BestBid 返回买一价，空盘口返回零。
func (s OrderBookSnapshot) BestBid() decimal.Decimal {
	if len(s.Bids) == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(s.Bids[0].Price)
}

// BestAsk 返回卖一价，空盘口返回零。
func (s OrderBookSnapshot) BestAsk() decimal.Decimal {
	if len(s.Asks) == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(s.Asks[0].Price)
}

// MidPrice 返回买卖一的中间价，单边盘口退化为存在的一边。
func (s OrderBookSnapshot) MidPrice() decimal.Decimal {
	bid := s.BestBid()
	ask := s.BestAsk()
	switch {
	case bid.IsPositive() && ask.IsPositive():
		return bid.Add(ask).Div(decimal.NewFromInt(2))
	case bid.IsPositive():
		return bid
	default:
		return ask
	}
}

// OrderStatus 为交易所侧的订单状态。
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusExpired  OrderStatus = "expired"
	OrderStatusRejected OrderStatus = "rejected"
)

// Terminal 判断状态是否为终态。
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusClosed, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// OrderState 是一次订单查询的归一化结果。
// 成交量与成交额均为累计值。
type OrderState struct {
	ID          string
	Symbol      string
	Status      OrderStatus
	FilledBase  decimal.Decimal
	AvgPrice    decimal.Decimal
	CostQuote   decimal.Decimal
	FeeCost     decimal.Decimal
	FeeCurrency string
	Timestamp   time.Time
}

// FeeInQuote 把手续费折算成计价币。
// 手续费以基础币收取时按成交均价折算，无法识别的币种按零处理。
func (o OrderState) FeeInQuote(baseAsset, quoteAsset string) decimal.Decimal {
	if o.FeeCost.IsZero() {
		return decimal.Zero
	}
	switch strings.ToUpper(o.FeeCurrency) {
	case "", strings.ToUpper(quoteAsset):
		return o.FeeCost
	case strings.ToUpper(baseAsset):
		return o.FeeCost.Mul(o.AvgPrice)
	}
	return decimal.Zero
}

// unifiedSymbol 把交易对转换成 ccxt 统一符号格式。
func unifiedSymbol(tradingPair string) string {
	return strings.ReplaceAll(tradingPair, "-", "/")
}
