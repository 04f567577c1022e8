package executor

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderSpec 描述一笔待提交的订单。
type OrderSpec struct {
	Exchange    string
	TradingPair string
	Side        Side
	OrderType   OrderType
	Amount      decimal.Decimal
	Price       decimal.Decimal
	ReduceOnly  bool
}

// OrderGateway 是执行器可见的全部交易所能力。
// 执行器不持有比这更宽的依赖；订单回报通过事件收件箱异步送达。
type OrderGateway interface {
	PlaceOrder(ctx context.Context, spec OrderSpec) (string, error)
	CancelOrder(ctx context.Context, exchange, tradingPair, orderID string) error
	Price(ctx context.Context, exchange, tradingPair string, priceType PriceType) (decimal.Decimal, error)
	TradingRules(ctx context.Context, exchange, tradingPair string) (TradingRules, error)
	AvailableBalance(ctx context.Context, exchange, asset string) (decimal.Decimal, error)
}

// PersistenceService 负责归档终结的执行器快照。
type PersistenceService interface {
	StoreOrUpdateExecutor(ctx context.Context, info ExecutorInfo) error
	ExecutorsByController(ctx context.Context, controllerID string) ([]ExecutorInfo, error)
}
