package executor

import (
	"github.com/shopspring/decimal"
)

var one = decimal.New(1, 0)

// Side 表示交易方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid 判断方向取值是否合法。
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType 表示订单类型。
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeLimitMaker OrderType = "limit_maker"
)

// IsLimit 判断是否为限价类订单。
func (t OrderType) IsLimit() bool {
	return t == OrderTypeLimit || t == OrderTypeLimitMaker
}

// PriceType 表示行情取价方式。
type PriceType string

const (
	PriceTypeMid     PriceType = "mid"
	PriceTypeBestBid PriceType = "best_bid"
	PriceTypeBestAsk PriceType = "best_ask"
	PriceTypeLast    PriceType = "last"
)

// RunnableStatus 表示执行器生命周期状态。
// 状态只能沿 NOT_STARTED → RUNNING → SHUTTING_DOWN → TERMINATED 推进，
// TERMINATED 为吸收态。
type RunnableStatus string

const (
	StatusNotStarted   RunnableStatus = "not_started"
	StatusRunning      RunnableStatus = "running"
	StatusShuttingDown RunnableStatus = "shutting_down"
	StatusTerminated   RunnableStatus = "terminated"
)

// IsActive 判断执行器是否仍在生命周期内。
func (s RunnableStatus) IsActive() bool {
	return s == StatusNotStarted || s == StatusRunning || s == StatusShuttingDown
}

// CloseType 表示执行器的收尾原因。
type CloseType string

const (
	CloseTypeNone                CloseType = ""
	CloseTypeStopLoss            CloseType = "stop_loss"
	CloseTypeTakeProfit          CloseType = "take_profit"
	CloseTypeTimeLimit           CloseType = "time_limit"
	CloseTypeTrailingStop        CloseType = "trailing_stop"
	CloseTypeEarlyStop           CloseType = "early_stop"
	CloseTypeExpired             CloseType = "expired"
	CloseTypeInsufficientBalance CloseType = "insufficient_balance"
	CloseTypeFailed              CloseType = "failed"
)

// IsPlanned 区分计划内收尾与异常收尾。
func (c CloseType) IsPlanned() bool {
	switch c {
	case CloseTypeStopLoss, CloseTypeTakeProfit, CloseTypeTimeLimit,
		CloseTypeTrailingStop, CloseTypeEarlyStop:
		return true
	}
	return false
}

// TradingRules 描述交易所对单一交易对的下单约束。
type TradingRules struct {
	MinOrderSize    decimal.Decimal
	MinNotionalSize decimal.Decimal
	PriceIncrement  decimal.Decimal
	AmountIncrement decimal.Decimal
}

// amountsReconciled 判断开平仓数量是否已经对平。
// 差额小于交易所最小下单量时视为对平，避免尘埃仓位永远无法平掉。
func amountsReconciled(openFilled, closeFilled decimal.Decimal, rules TradingRules) bool {
	delta := openFilled.Sub(closeFilled).Abs()
	if delta.IsZero() {
		return true
	}
	return rules.MinOrderSize.IsPositive() && delta.LessThan(rules.MinOrderSize)
}
