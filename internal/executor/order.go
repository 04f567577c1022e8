package executor

import (
	"time"

	"github.com/shopspring/decimal"
)

// orderState 表示订单在交易所侧的粗粒度状态。
type orderState string

const (
	orderStatePending   orderState = "pending"
	orderStateOpen      orderState = "open"
	orderStateCompleted orderState = "completed"
	orderStateCanceled  orderState = "canceled"
	orderStateFailed    orderState = "failed"
)

// TrackedOrder 将本地下发的订单与交易所侧的最新状态绑定在一起。
// 它由创建它的执行器独占持有，所有字段只在执行器自己的控制循环里更新。
type TrackedOrder struct {
	OrderID     string
	Exchange    string
	TradingPair string
	Side        Side
	OrderType   OrderType
	Price       decimal.Decimal
	Amount      decimal.Decimal
	CreatedAt   time.Time

	state         orderState
	executedBase  decimal.Decimal
	executedQuote decimal.Decimal
	avgPrice      decimal.Decimal
	feesQuote     decimal.Decimal
}

// newTrackedOrder 记录一笔刚刚提交的订单。
func newTrackedOrder(orderID string, spec OrderSpec, createdAt time.Time) *TrackedOrder {
	return &TrackedOrder{
		OrderID:     orderID,
		Exchange:    spec.Exchange,
		TradingPair: spec.TradingPair,
		Side:        spec.Side,
		OrderType:   spec.OrderType,
		Price:       spec.Price,
		Amount:      spec.Amount,
		CreatedAt:   createdAt,
		state:       orderStatePending,
	}
}

// Apply 按事件更新订单状态。成交量为累计值，直接覆盖而非叠加。
func (o *TrackedOrder) Apply(ev OrderEvent) {
	switch ev.Kind {
	case OrderEventCreated:
		if o.state == orderStatePending {
			o.state = orderStateOpen
		}
	case OrderEventFilled:
		o.applyFill(ev)
		if o.state == orderStatePending {
			o.state = orderStateOpen
		}
	case OrderEventCompleted:
		o.applyFill(ev)
		o.state = orderStateCompleted
	case OrderEventCanceled:
		o.state = orderStateCanceled
	case OrderEventFailed:
		o.state = orderStateFailed
	}
}

func (o *TrackedOrder) applyFill(ev OrderEvent) {
	if ev.ExecutedBase.GreaterThan(o.executedBase) {
		o.executedBase = ev.ExecutedBase
		o.executedQuote = ev.ExecutedQuote
	}
	if ev.AvgPrice.IsPositive() {
		o.avgPrice = ev.AvgPrice
	}
	if ev.FeeQuote.GreaterThan(o.feesQuote) {
		o.feesQuote = ev.FeeQuote
	}
}

// ExecutedAmountBase 返回累计成交的基础币数量。
func (o *TrackedOrder) ExecutedAmountBase() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	return o.executedBase
}

// ExecutedAmountQuote 返回累计成交的计价币金额。
func (o *TrackedOrder) ExecutedAmountQuote() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	if o.executedQuote.IsPositive() {
		return o.executedQuote
	}
	return o.executedBase.Mul(o.AverageExecutedPrice())
}

// AverageExecutedPrice 返回累计成交均价，无成交时退回委托价。
func (o *TrackedOrder) AverageExecutedPrice() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	if o.avgPrice.IsPositive() {
		return o.avgPrice
	}
	return o.Price
}

// CumFeesQuote 返回累计手续费（计价币）。
func (o *TrackedOrder) CumFeesQuote() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	return o.feesQuote
}

// IsOpen 判断订单是否仍挂在交易所。
func (o *TrackedOrder) IsOpen() bool {
	return o != nil && (o.state == orderStatePending || o.state == orderStateOpen)
}

// IsDone 判断订单是否已经终结（完全成交、撤销或失败）。
func (o *TrackedOrder) IsDone() bool {
	if o == nil {
		return false
	}
	switch o.state {
	case orderStateCompleted, orderStateCanceled, orderStateFailed:
		return true
	}
	return false
}

// IsFullyFilled 判断订单是否已按委托数量全部成交。
func (o *TrackedOrder) IsFullyFilled() bool {
	if o == nil {
		return false
	}
	return o.Amount.IsPositive() && o.executedBase.GreaterThanOrEqual(o.Amount)
}

// HasFills 判断订单是否存在成交。
func (o *TrackedOrder) HasFills() bool {
	return o != nil && o.executedBase.IsPositive()
}

// fillLedger 累计已离开跟踪槽位的订单成交量。
// 订单被撤销、失败或被替换后，其成交不能丢失，否则对平判定会失真。
type fillLedger struct {
	base  decimal.Decimal
	quote decimal.Decimal
	fees  decimal.Decimal
}

func (l *fillLedger) absorb(o *TrackedOrder) {
	if o == nil {
		return
	}
	l.base = l.base.Add(o.ExecutedAmountBase())
	l.quote = l.quote.Add(o.ExecutedAmountQuote())
	l.fees = l.fees.Add(o.CumFeesQuote())
}
