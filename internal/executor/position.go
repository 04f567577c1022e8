package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionExecutor 管理一个带三重屏障的单仓位。
//
// 开仓单成交后，每个控制周期按固定优先级评估屏障：
// 止损、移动止损、止盈，时限独立评估。任一屏障触发后进入收尾阶段，
// 以市价单平掉已成交的净头寸，对平后终结。
type PositionExecutor struct {
	*baseExecutor

	cfg   PositionExecutorConfig
	rules TradingRules

	openOrder       *TrackedOrder
	closeOrder      *TrackedOrder
	takeProfitOrder *TrackedOrder
	failedOrders    []*TrackedOrder

	// 已退役订单（撤销/失败/被替换）的成交保留在台账里。
	openRetired  fillLedger
	closeRetired fillLedger

	trailingArmed   bool
	trailingTrigger decimal.Decimal

	// markPrice 是最近一次取到的平仓侧行情，供无法做网络调用的快照使用。
	markPrice decimal.Decimal
}

// NewPositionExecutor 创建单仓位执行器，配置非法时报错。
func NewPositionExecutor(cfg PositionExecutorConfig, gateway OrderGateway, logger *zap.Logger, opts Options) (*PositionExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Barrier = cfg.Barrier.normalized()
	p := &PositionExecutor{cfg: cfg}
	p.baseExecutor = newBaseExecutor(cfg.ConfigBase, gateway, logger, opts)
	p.baseExecutor.hooks = p
	return p, nil
}

func (p *PositionExecutor) Type() ConfigType { return ConfigTypePosition }

// Config 返回执行器配置（屏障已补全默认值）。
func (p *PositionExecutor) Config() PositionExecutorConfig { return p.cfg }

func (p *PositionExecutor) onStart(ctx context.Context) error {
	rules, err := p.gateway.TradingRules(ctx, p.cfg.Exchange, p.cfg.TradingPair)
	if err != nil {
		return fmt.Errorf("获取交易规则失败: %w", err)
	}
	p.rules = rules

	refPrice := p.cfg.EntryPrice
	if !refPrice.IsPositive() {
		refPrice, err = p.entrySideQuote(ctx)
		if err != nil {
			return fmt.Errorf("获取开仓参考价失败: %w", err)
		}
	}
	ok, err := p.hasSufficientBalance(ctx, p.cfg.Exchange, p.cfg.TradingPair, p.cfg.Side, p.cfg.Amount, refPrice)
	if err != nil {
		return fmt.Errorf("余额检查失败: %w", err)
	}
	if !ok {
		p.logger.Error("余额不足，无法开仓",
			zap.String("amount", p.cfg.Amount.String()),
			zap.String("price", refPrice.String()))
		p.setCloseTypeLocked(CloseTypeInsufficientBalance)
		p.terminateLocked()
		return nil
	}
	if p.expired() {
		p.setCloseTypeLocked(CloseTypeExpired)
		p.terminateLocked()
	}
	return nil
}

func (p *PositionExecutor) onEarlyStop(context.Context) {
	p.beginShutdownLocked(CloseTypeEarlyStop)
}

func (p *PositionExecutor) controlTask(ctx context.Context) {
	switch p.status {
	case StatusRunning:
		p.controlOpenOrder(ctx)
		p.controlBarriers(ctx)
	case StatusShuttingDown:
		p.controlShutdown(ctx)
	}
	p.exhaustRetriesLocked()
}

// controlOpenOrder 维护开仓单：不存在且未到期时按激活区间挂出；
// 已挂出但偏离激活区间时撤回，等待行情回到区间内再重挂。
func (p *PositionExecutor) controlOpenOrder(ctx context.Context) {
	if p.openOrder == nil {
		if p.expired() {
			return
		}
		price, err := p.entryOrderPrice(ctx)
		if err != nil {
			p.logger.Warn("获取开仓价失败", zap.Error(err))
			return
		}
		within, err := p.withinActivationBounds(ctx, price)
		if err != nil {
			p.logger.Warn("激活区间检查失败", zap.Error(err))
			return
		}
		if within {
			p.placeOpenOrder(ctx, price)
		}
		return
	}
	if len(p.cfg.ActivationBounds) == 0 || !p.openOrder.IsOpen() || p.openOrder.HasFills() {
		return
	}
	within, err := p.withinActivationBounds(ctx, p.openOrder.Price)
	if err != nil {
		p.logger.Warn("激活区间检查失败", zap.Error(err))
		return
	}
	if !within {
		if err := p.cancelOrder(ctx, p.openOrder); err != nil {
			p.logger.Warn("撤销开仓单失败", zap.Error(err))
		}
	}
}

func (p *PositionExecutor) controlBarriers(ctx context.Context) {
	if p.positionEstablished() {
		closePrice, err := p.closePrice(ctx)
		if err != nil {
			p.logger.Warn("获取行情失败，本周期跳过屏障评估", zap.Error(err))
		} else {
			p.markPrice = closePrice
			if p.controlStopLoss(ctx, closePrice) {
				return
			}
			if p.controlTrailingStop(ctx, closePrice) {
				return
			}
			if p.controlTakeProfit(ctx, closePrice) {
				return
			}
		}
	}
	p.controlTimeLimit(ctx)
}

// positionEstablished 判断已成交头寸是否达到可管理的最小规模。
func (p *PositionExecutor) positionEstablished() bool {
	open := p.openFilled()
	if !open.IsPositive() || open.LessThan(p.rules.MinOrderSize) {
		return false
	}
	return !p.openFilledQuote().LessThan(p.rules.MinNotionalSize)
}

func (p *PositionExecutor) controlStopLoss(ctx context.Context, closePrice decimal.Decimal) bool {
	sl := p.cfg.Barrier.StopLoss
	if !sl.IsPositive() {
		return false
	}
	if p.netPnlPct(closePrice).LessThanOrEqual(sl.Neg()) {
		p.closeAndCancel(ctx, CloseTypeStopLoss)
		return true
	}
	return false
}

// controlTrailingStop 维护移动止损：净收益率越过激活线后挂起触发线，
// 触发线只朝有利方向棘轮推进，回落穿过触发线即平仓。
func (p *PositionExecutor) controlTrailingStop(ctx context.Context, closePrice decimal.Decimal) bool {
	ts := p.cfg.Barrier.TrailingStop
	if ts == nil {
		return false
	}
	pnl := p.netPnlPct(closePrice)
	if !p.trailingArmed {
		if pnl.GreaterThan(ts.ActivationPrice) {
			p.trailingArmed = true
			p.trailingTrigger = pnl.Sub(ts.TrailingDelta)
			p.logger.Info("移动止损已激活", zap.String("trigger_pnl_pct", p.trailingTrigger.String()))
		}
		return false
	}
	if pnl.LessThan(p.trailingTrigger) {
		p.closeAndCancel(ctx, CloseTypeTrailingStop)
		return true
	}
	if next := pnl.Sub(ts.TrailingDelta); next.GreaterThan(p.trailingTrigger) {
		p.trailingTrigger = next
	}
	return false
}

// controlTakeProfit 维护止盈：限价类型挂出并随成交量变化续挂止盈单，
// 市价类型在净收益率达标时直接平仓。
func (p *PositionExecutor) controlTakeProfit(ctx context.Context, closePrice decimal.Decimal) bool {
	tp := p.cfg.Barrier.TakeProfit
	if !tp.IsPositive() {
		return false
	}
	if p.cfg.Barrier.TakeProfitOrderType.IsLimit() {
		remaining := p.amountToClose()
		if p.takeProfitOrder == nil {
			if remaining.GreaterThanOrEqual(p.rules.MinOrderSize) && remaining.IsPositive() {
				p.placeTakeProfitOrder(ctx, remaining)
			}
		} else if p.takeProfitOrder.IsOpen() && !p.takeProfitOrder.Amount.Equal(remaining) {
			p.renewTakeProfitOrder(ctx, remaining)
		}
		return false
	}
	if p.netPnlPct(closePrice).GreaterThanOrEqual(tp) {
		p.closeAndCancel(ctx, CloseTypeTakeProfit)
		return true
	}
	return false
}

// controlTimeLimit 在持仓到期时平仓；到期仍无成交则撤单并以 EXPIRED 收尾。
func (p *PositionExecutor) controlTimeLimit(ctx context.Context) {
	if !p.expired() {
		return
	}
	if p.openFilled().IsPositive() {
		p.closeAndCancel(ctx, CloseTypeTimeLimit)
		return
	}
	p.closeAndCancel(ctx, CloseTypeExpired)
}

// controlShutdown 推进收尾：全部订单落定且开平数量对平即终结，
// 不平则补发平仓单并消耗一次重试；有订单未落定时继续催撤。
func (p *PositionExecutor) controlShutdown(ctx context.Context) {
	if !p.allOrdersSettled() {
		p.cancelOpenOrders(ctx)
		return
	}
	if amountsReconciled(p.openFilled(), p.closeFilled(), p.rules) {
		p.terminateLocked()
		return
	}
	p.bumpRetriesLocked()
	if err := p.placeCloseOrder(ctx, p.amountToClose()); err != nil {
		p.logger.Warn("补发平仓单失败", zap.Error(err), zap.Int("retries", p.retries))
	}
}

func (p *PositionExecutor) allOrdersSettled() bool {
	open := p.openOrder == nil || p.openOrder.IsDone()
	tp := p.takeProfitOrder == nil || p.takeProfitOrder.IsDone()
	cl := p.closeOrder == nil || p.closeOrder.IsDone()
	return open && tp && cl
}

// closeAndCancel 撤掉开仓单与止盈单、按净头寸挂出市价平仓单并进入收尾。
func (p *PositionExecutor) closeAndCancel(ctx context.Context, ct CloseType) {
	p.cancelOpenOrders(ctx)
	amount := p.amountToClose()
	if amount.IsPositive() && amount.GreaterThanOrEqual(p.rules.MinOrderSize) {
		if err := p.placeCloseOrder(ctx, amount); err != nil {
			p.logger.Warn("平仓下单失败", zap.Error(err))
			p.bumpRetriesLocked()
		}
	}
	p.beginShutdownLocked(ct)
}

func (p *PositionExecutor) placeCloseOrder(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	order, err := p.submitOrder(ctx, OrderSpec{
		Exchange:    p.cfg.Exchange,
		TradingPair: p.cfg.TradingPair,
		Side:        p.cfg.Side.Opposite(),
		OrderType:   OrderTypeMarket,
		Amount:      amount,
		ReduceOnly:  true,
	})
	if err != nil {
		return err
	}
	if p.closeOrder != nil {
		p.closeRetired.absorb(p.closeOrder)
		p.failedOrders = append(p.failedOrders, p.closeOrder)
	}
	p.closeOrder = order
	return nil
}

func (p *PositionExecutor) placeOpenOrder(ctx context.Context, price decimal.Decimal) {
	order, err := p.submitOrder(ctx, OrderSpec{
		Exchange:    p.cfg.Exchange,
		TradingPair: p.cfg.TradingPair,
		Side:        p.cfg.Side,
		OrderType:   p.cfg.Barrier.OpenOrderType,
		Amount:      p.cfg.Amount,
		Price:       price,
	})
	if err != nil {
		p.logger.Warn("开仓下单失败", zap.Error(err))
		p.bumpRetriesLocked()
		return
	}
	p.openOrder = order
}

func (p *PositionExecutor) placeTakeProfitOrder(ctx context.Context, amount decimal.Decimal) {
	price, err := p.takeProfitPrice(ctx)
	if err != nil {
		p.logger.Warn("计算止盈价失败", zap.Error(err))
		return
	}
	order, err := p.submitOrder(ctx, OrderSpec{
		Exchange:    p.cfg.Exchange,
		TradingPair: p.cfg.TradingPair,
		Side:        p.cfg.Side.Opposite(),
		OrderType:   p.cfg.Barrier.TakeProfitOrderType,
		Amount:      amount,
		Price:       price,
		ReduceOnly:  true,
	})
	if err != nil {
		// 止盈挂单失败不消耗重试预算，下个周期再试。
		p.logger.Warn("止盈挂单失败", zap.Error(err))
		return
	}
	p.takeProfitOrder = order
}

// renewTakeProfitOrder 在成交量变化后撤旧挂新，旧单成交并入台账。
func (p *PositionExecutor) renewTakeProfitOrder(ctx context.Context, amount decimal.Decimal) {
	if err := p.cancelOrder(ctx, p.takeProfitOrder); err != nil {
		p.logger.Warn("撤销止盈单失败", zap.Error(err))
		return
	}
	old := p.takeProfitOrder
	p.closeRetired.absorb(old)
	p.failedOrders = append(p.failedOrders, old)
	p.takeProfitOrder = nil
	if amount.IsPositive() && amount.GreaterThanOrEqual(p.rules.MinOrderSize) {
		p.placeTakeProfitOrder(ctx, amount)
	}
}

func (p *PositionExecutor) cancelOpenOrders(ctx context.Context) {
	if err := p.cancelOrder(ctx, p.openOrder); err != nil {
		p.logger.Warn("撤销开仓单失败", zap.Error(err))
	}
	if err := p.cancelOrder(ctx, p.takeProfitOrder); err != nil {
		p.logger.Warn("撤销止盈单失败", zap.Error(err))
	}
}

func (p *PositionExecutor) processOrderEvent(ev OrderEvent) {
	order := p.lookupOrder(ev.OrderID)
	if order == nil {
		return
	}
	order.Apply(ev)
	switch ev.Kind {
	case OrderEventCompleted:
		if order == p.takeProfitOrder {
			p.adoptTakeProfitClose()
		}
	case OrderEventCanceled:
		p.retireOrder(ev.OrderID)
	case OrderEventFailed:
		p.handleOrderFailure(ev)
	}
}

func (p *PositionExecutor) lookupOrder(orderID string) *TrackedOrder {
	for _, o := range []*TrackedOrder{p.openOrder, p.closeOrder, p.takeProfitOrder} {
		if o != nil && o.OrderID == orderID {
			return o
		}
	}
	return nil
}

// adoptTakeProfitClose 把完全成交的止盈单转正为平仓单并进入收尾。
func (p *PositionExecutor) adoptTakeProfitClose() {
	order := p.takeProfitOrder
	p.takeProfitOrder = nil
	if p.closeOrder == nil {
		p.closeOrder = order
	} else {
		p.closeRetired.absorb(order)
	}
	p.beginShutdownLocked(CloseTypeTakeProfit)
}

// retireOrder 把订单移出槽位，成交量并入对应台账。
func (p *PositionExecutor) retireOrder(orderID string) {
	switch {
	case p.openOrder != nil && p.openOrder.OrderID == orderID:
		p.openRetired.absorb(p.openOrder)
		p.failedOrders = append(p.failedOrders, p.openOrder)
		p.openOrder = nil
	case p.closeOrder != nil && p.closeOrder.OrderID == orderID:
		p.closeRetired.absorb(p.closeOrder)
		p.failedOrders = append(p.failedOrders, p.closeOrder)
		p.closeOrder = nil
	case p.takeProfitOrder != nil && p.takeProfitOrder.OrderID == orderID:
		p.closeRetired.absorb(p.takeProfitOrder)
		p.failedOrders = append(p.failedOrders, p.takeProfitOrder)
		p.takeProfitOrder = nil
	}
}

func (p *PositionExecutor) handleOrderFailure(ev OrderEvent) {
	switch {
	case p.openOrder != nil && p.openOrder.OrderID == ev.OrderID:
		p.logger.Error("开仓单失败",
			zap.String("order_id", ev.OrderID),
			zap.String("reason", ev.Reason),
			zap.Int("retries", p.retries))
		p.bumpRetriesLocked()
	case p.closeOrder != nil && p.closeOrder.OrderID == ev.OrderID:
		p.logger.Error("平仓单失败",
			zap.String("order_id", ev.OrderID),
			zap.String("reason", ev.Reason),
			zap.Int("retries", p.retries))
		p.bumpRetriesLocked()
	case p.takeProfitOrder != nil && p.takeProfitOrder.OrderID == ev.OrderID:
		// 止盈单失败不消耗重试预算，控制循环会重新挂出。
		p.logger.Error("止盈单失败",
			zap.String("order_id", ev.OrderID),
			zap.String("reason", ev.Reason))
	}
	p.retireOrder(ev.OrderID)
}

// entryOrderPrice 返回开仓委托价。LIMIT_MAKER 按盘口修正避免吃单。
func (p *PositionExecutor) entryOrderPrice(ctx context.Context) (decimal.Decimal, error) {
	if p.cfg.Barrier.OpenOrderType == OrderTypeLimitMaker {
		quote, err := p.entrySideQuote(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		if !p.cfg.EntryPrice.IsPositive() {
			return quote, nil
		}
		if p.cfg.Side == SideBuy {
			return decimal.Min(p.cfg.EntryPrice, quote), nil
		}
		return decimal.Max(p.cfg.EntryPrice, quote), nil
	}
	if p.cfg.EntryPrice.IsPositive() {
		return p.cfg.EntryPrice, nil
	}
	return p.entrySideQuote(ctx)
}

func (p *PositionExecutor) entrySideQuote(ctx context.Context) (decimal.Decimal, error) {
	if p.cfg.Side == SideBuy {
		return p.gateway.Price(ctx, p.cfg.Exchange, p.cfg.TradingPair, PriceTypeBestBid)
	}
	return p.gateway.Price(ctx, p.cfg.Exchange, p.cfg.TradingPair, PriceTypeBestAsk)
}

// withinActivationBounds 判断委托价与中间价的偏离是否允许挂单。
// 限价类单侧约束只防止挂得太深；市价类围绕委托价取双侧区间防止追价。
func (p *PositionExecutor) withinActivationBounds(ctx context.Context, orderPrice decimal.Decimal) (bool, error) {
	if len(p.cfg.ActivationBounds) == 0 {
		return true, nil
	}
	mid, err := p.gateway.Price(ctx, p.cfg.Exchange, p.cfg.TradingPair, PriceTypeMid)
	if err != nil {
		return false, err
	}
	lower := p.cfg.ActivationBounds[0]
	upper := lower
	if len(p.cfg.ActivationBounds) == 2 {
		upper = p.cfg.ActivationBounds[1]
	}
	if p.cfg.Barrier.OpenOrderType.IsLimit() {
		if p.cfg.Side == SideBuy {
			return orderPrice.GreaterThanOrEqual(mid.Mul(one.Sub(lower))), nil
		}
		return orderPrice.LessThanOrEqual(mid.Mul(one.Add(lower))), nil
	}
	if p.cfg.Side == SideBuy {
		return mid.GreaterThanOrEqual(orderPrice.Mul(one.Sub(lower))) &&
			mid.LessThanOrEqual(orderPrice.Mul(one.Add(upper))), nil
	}
	return mid.GreaterThanOrEqual(orderPrice.Mul(one.Sub(upper))) &&
		mid.LessThanOrEqual(orderPrice.Mul(one.Add(lower))), nil
}

// takeProfitPrice 按开仓均价推算止盈价，LIMIT_MAKER 贴盘口修正。
func (p *PositionExecutor) takeProfitPrice(ctx context.Context) (decimal.Decimal, error) {
	entry := p.entryPrice()
	if p.cfg.Side == SideBuy {
		price := entry.Mul(one.Add(p.cfg.Barrier.TakeProfit))
		if p.cfg.Barrier.TakeProfitOrderType == OrderTypeLimitMaker {
			ask, err := p.gateway.Price(ctx, p.cfg.Exchange, p.cfg.TradingPair, PriceTypeBestAsk)
			if err != nil {
				return decimal.Zero, err
			}
			price = decimal.Max(price, ask)
		}
		return price, nil
	}
	price := entry.Mul(one.Sub(p.cfg.Barrier.TakeProfit))
	if p.cfg.Barrier.TakeProfitOrderType == OrderTypeLimitMaker {
		bid, err := p.gateway.Price(ctx, p.cfg.Exchange, p.cfg.TradingPair, PriceTypeBestBid)
		if err != nil {
			return decimal.Zero, err
		}
		price = decimal.Min(price, bid)
	}
	return price, nil
}

// expired 判断持仓时限是否已过，未配置时限恒为假。
func (p *PositionExecutor) expired() bool {
	tl := p.cfg.Barrier.TimeLimit
	return tl > 0 && !p.now().Before(p.cfg.Timestamp.Add(tl))
}

// entryPrice 返回盈亏计算用的开仓价：有成交取成交均价，否则取配置价。
func (p *PositionExecutor) entryPrice() decimal.Decimal {
	if p.openOrder.HasFills() {
		return p.openOrder.AverageExecutedPrice()
	}
	if p.cfg.EntryPrice.IsPositive() {
		return p.cfg.EntryPrice
	}
	return p.openOrder.AverageExecutedPrice()
}

// closePrice 返回平仓侧价格：平仓单成交后取其均价，否则取当前盘口。
func (p *PositionExecutor) closePrice(ctx context.Context) (decimal.Decimal, error) {
	if p.closeOrder.IsDone() && p.closeOrder.HasFills() {
		return p.closeOrder.AverageExecutedPrice(), nil
	}
	if p.cfg.Side == SideBuy {
		return p.gateway.Price(ctx, p.cfg.Exchange, p.cfg.TradingPair, PriceTypeBestBid)
	}
	return p.gateway.Price(ctx, p.cfg.Exchange, p.cfg.TradingPair, PriceTypeBestAsk)
}

// closePriceView 是 closePrice 的无副作用版本，用于构建快照。
func (p *PositionExecutor) closePriceView() decimal.Decimal {
	if p.closeOrder.IsDone() && p.closeOrder.HasFills() {
		return p.closeOrder.AverageExecutedPrice()
	}
	return p.markPrice
}

func (p *PositionExecutor) openFilled() decimal.Decimal {
	return p.openRetired.base.Add(p.openOrder.ExecutedAmountBase())
}

func (p *PositionExecutor) closeFilled() decimal.Decimal {
	return p.closeRetired.base.
		Add(p.closeOrder.ExecutedAmountBase()).
		Add(p.takeProfitOrder.ExecutedAmountBase())
}

func (p *PositionExecutor) amountToClose() decimal.Decimal {
	return p.openFilled().Sub(p.closeFilled())
}

func (p *PositionExecutor) openFilledQuote() decimal.Decimal {
	return p.openFilled().Mul(p.entryPrice())
}

func (p *PositionExecutor) cumFeesQuote() decimal.Decimal {
	total := p.openRetired.fees.Add(p.closeRetired.fees)
	for _, o := range []*TrackedOrder{p.openOrder, p.closeOrder, p.takeProfitOrder} {
		total = total.Add(o.CumFeesQuote())
	}
	return total
}

// tradePnlPct 返回不含手续费的收益率，无成交或已判失败时为零。
func (p *PositionExecutor) tradePnlPct(closePrice decimal.Decimal) decimal.Decimal {
	entry := p.entryPrice()
	if !p.openFilled().IsPositive() || !entry.IsPositive() || !closePrice.IsPositive() ||
		p.closeType == CloseTypeFailed {
		return decimal.Zero
	}
	if p.cfg.Side == SideBuy {
		return closePrice.Sub(entry).Div(entry)
	}
	return entry.Sub(closePrice).Div(entry)
}

func (p *PositionExecutor) netPnlQuote(closePrice decimal.Decimal) decimal.Decimal {
	trade := p.tradePnlPct(closePrice).Mul(p.openFilled()).Mul(p.entryPrice())
	return trade.Sub(p.cumFeesQuote())
}

func (p *PositionExecutor) netPnlPct(closePrice decimal.Decimal) decimal.Decimal {
	quote := p.openFilledQuote()
	if !quote.IsPositive() {
		return decimal.Zero
	}
	return p.netPnlQuote(closePrice).Div(quote)
}

// Info 构建当前快照。
func (p *PositionExecutor) Info() ExecutorInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := p.infoHeaderLocked(ConfigTypePosition, p.cfg)
	closePrice := p.closePriceView()
	openFilled := p.openFilled()

	info.NetPnlPct = p.netPnlPct(closePrice)
	info.NetPnlQuote = p.netPnlQuote(closePrice)
	info.CumFeesQuote = p.cumFeesQuote()
	info.FilledAmountQuote = p.openFilledQuote().Add(p.closeFilled().Mul(closePrice))
	info.IsTrading = p.status == StatusRunning && openFilled.IsPositive()
	info.CustomInfo = map[string]any{
		"level_id":                       p.cfg.LevelID,
		"side":                           string(p.cfg.Side),
		"current_position_average_price": p.entryPrice(),
		"current_retries":                p.retries,
		"max_retries":                    p.opts.MaxRetries,
	}
	return info
}
