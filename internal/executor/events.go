package executor

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEventKind 表示订单事件类型。
type OrderEventKind string

const (
	OrderEventCreated   OrderEventKind = "created"
	OrderEventFilled    OrderEventKind = "filled"
	OrderEventCompleted OrderEventKind = "completed"
	OrderEventCanceled  OrderEventKind = "canceled"
	OrderEventFailed    OrderEventKind = "failed"
)

// OrderEvent 携带单个订单的状态变化。
// 成交字段均为累计值，重复投递或丢失中间事件不会破坏订单状态。
type OrderEvent struct {
	Kind        OrderEventKind
	OrderID     string
	Exchange    string
	TradingPair string

	// 累计成交状态，Filled/Completed 事件有效。
	ExecutedBase  decimal.Decimal
	ExecutedQuote decimal.Decimal
	AvgPrice      decimal.Decimal
	FeeQuote      decimal.Decimal

	// 失败原因，Failed 事件有效。
	Reason string

	Timestamp time.Time
}
