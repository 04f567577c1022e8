package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ArbitrageExecutor 在两个市场间做一买一卖的双腿套利。
//
// 预期价差超过最小盈利率时同时吃入两腿市价单，两腿全部落定即完成退出。
// 任一腿失败会在重试预算内补发；收尾阶段若两腿数量不平，
// 在敞口所在市场反向下单拉平后才终结。
type ArbitrageExecutor struct {
	*baseExecutor

	cfg ArbitrageExecutorConfig

	buyRules  TradingRules
	sellRules TradingRules

	buyOrder     *TrackedOrder
	sellOrder    *TrackedOrder
	unwindOrders []*TrackedOrder
	failedOrders []*TrackedOrder

	longRetired  fillLedger
	shortRetired fillLedger

	lastBuyPrice   decimal.Decimal
	lastSellPrice  decimal.Decimal
	lastSpreadPct  decimal.Decimal
	entryTriggered bool
}

// NewArbitrageExecutor 创建双腿套利执行器，配置非法时报错。
func NewArbitrageExecutor(cfg ArbitrageExecutorConfig, gateway OrderGateway, logger *zap.Logger, opts Options) (*ArbitrageExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &ArbitrageExecutor{cfg: cfg}
	a.baseExecutor = newBaseExecutor(cfg.ConfigBase, gateway, logger, opts)
	a.baseExecutor.hooks = a
	return a, nil
}

func (a *ArbitrageExecutor) Type() ConfigType { return ConfigTypeArbitrage }

// Config 返回执行器配置。
func (a *ArbitrageExecutor) Config() ArbitrageExecutorConfig { return a.cfg }

func (a *ArbitrageExecutor) onStart(ctx context.Context) error {
	buyRules, err := a.gateway.TradingRules(ctx, a.cfg.BuyingMarket.Exchange, a.cfg.BuyingMarket.TradingPair)
	if err != nil {
		return fmt.Errorf("获取买入腿交易规则失败: %w", err)
	}
	sellRules, err := a.gateway.TradingRules(ctx, a.cfg.SellingMarket.Exchange, a.cfg.SellingMarket.TradingPair)
	if err != nil {
		return fmt.Errorf("获取卖出腿交易规则失败: %w", err)
	}
	a.buyRules, a.sellRules = buyRules, sellRules

	if a.cfg.OrderAmount.LessThan(buyRules.MinOrderSize) || a.cfg.OrderAmount.LessThan(sellRules.MinOrderSize) {
		a.logger.Error("下单数量低于交易所下限",
			zap.String("order_amount", a.cfg.OrderAmount.String()))
		a.setCloseTypeLocked(CloseTypeFailed)
		a.terminateLocked()
		return nil
	}

	buyPrice, err := a.gateway.Price(ctx, a.cfg.BuyingMarket.Exchange, a.cfg.BuyingMarket.TradingPair, PriceTypeBestAsk)
	if err != nil {
		return fmt.Errorf("获取买入腿行情失败: %w", err)
	}
	okBuy, err := a.hasSufficientBalance(ctx, a.cfg.BuyingMarket.Exchange, a.cfg.BuyingMarket.TradingPair,
		SideBuy, a.cfg.OrderAmount, buyPrice)
	if err != nil {
		return fmt.Errorf("买入腿余额检查失败: %w", err)
	}
	okSell, err := a.hasSufficientBalance(ctx, a.cfg.SellingMarket.Exchange, a.cfg.SellingMarket.TradingPair,
		SideSell, a.cfg.OrderAmount, decimal.Zero)
	if err != nil {
		return fmt.Errorf("卖出腿余额检查失败: %w", err)
	}
	if !okBuy || !okSell {
		a.logger.Error("余额不足，无法建立套利双腿",
			zap.Bool("buy_leg_ok", okBuy),
			zap.Bool("sell_leg_ok", okSell))
		a.setCloseTypeLocked(CloseTypeInsufficientBalance)
		a.terminateLocked()
	}
	return nil
}

func (a *ArbitrageExecutor) onEarlyStop(context.Context) {
	a.beginShutdownLocked(CloseTypeEarlyStop)
}

func (a *ArbitrageExecutor) controlTask(ctx context.Context) {
	switch a.status {
	case StatusRunning:
		a.controlLegs(ctx)
	case StatusShuttingDown:
		a.controlShutdown(ctx)
	}
	a.exhaustRetriesLocked()
}

// controlLegs 驱动双腿：未入场时等待价差达标，入场后补齐缺失的腿，
// 两腿全部落定即按计划退出。
func (a *ArbitrageExecutor) controlLegs(ctx context.Context) {
	if !a.entryTriggered {
		spread, err := a.refreshSpread(ctx)
		if err != nil {
			a.logger.Warn("获取套利行情失败", zap.Error(err))
			return
		}
		if spread.LessThanOrEqual(a.cfg.MinProfitability) {
			return
		}
		a.entryTriggered = true
		a.logger.Info("价差达标，建立套利双腿",
			zap.String("spread_pct", spread.String()),
			zap.String("min_profitability", a.cfg.MinProfitability.String()))
	}
	if a.buyOrder == nil {
		a.placeLeg(ctx, SideBuy)
	}
	if a.sellOrder == nil {
		a.placeLeg(ctx, SideSell)
	}
	if a.buyOrder.IsDone() && a.sellOrder.IsDone() {
		a.beginShutdownLocked(CloseTypeTakeProfit)
	}
}

// refreshSpread 刷新双边行情并返回预期盈利率。
func (a *ArbitrageExecutor) refreshSpread(ctx context.Context) (decimal.Decimal, error) {
	buyPrice, err := a.gateway.Price(ctx, a.cfg.BuyingMarket.Exchange, a.cfg.BuyingMarket.TradingPair, PriceTypeBestAsk)
	if err != nil {
		return decimal.Zero, err
	}
	sellPrice, err := a.gateway.Price(ctx, a.cfg.SellingMarket.Exchange, a.cfg.SellingMarket.TradingPair, PriceTypeBestBid)
	if err != nil {
		return decimal.Zero, err
	}
	a.lastBuyPrice, a.lastSellPrice = buyPrice, sellPrice
	if !buyPrice.IsPositive() {
		return decimal.Zero, nil
	}
	a.lastSpreadPct = sellPrice.Sub(buyPrice).Div(buyPrice)
	return a.lastSpreadPct, nil
}

func (a *ArbitrageExecutor) placeLeg(ctx context.Context, side Side) {
	market := a.cfg.BuyingMarket
	price := a.lastBuyPrice
	if side == SideSell {
		market = a.cfg.SellingMarket
		price = a.lastSellPrice
	}
	order, err := a.submitOrder(ctx, OrderSpec{
		Exchange:    market.Exchange,
		TradingPair: market.TradingPair,
		Side:        side,
		OrderType:   OrderTypeMarket,
		Amount:      a.cfg.OrderAmount,
		Price:       price,
	})
	if err != nil {
		a.logger.Warn("套利腿下单失败", zap.String("side", string(side)), zap.Error(err))
		a.bumpRetriesLocked()
		return
	}
	if side == SideBuy {
		a.buyOrder = order
	} else {
		a.sellOrder = order
	}
}

// controlShutdown 等待两腿落定，数量不平时在敞口所在市场反向拉平。
func (a *ArbitrageExecutor) controlShutdown(ctx context.Context) {
	if !a.legsSettled() {
		return
	}
	long, short := a.filledByDirection()
	if amountsReconciled(long, short, a.buyRules) {
		a.terminateLocked()
		return
	}
	a.bumpRetriesLocked()
	a.placeUnwindOrder(ctx, long.Sub(short))
}

func (a *ArbitrageExecutor) legsSettled() bool {
	buy := a.buyOrder == nil || a.buyOrder.IsDone()
	sell := a.sellOrder == nil || a.sellOrder.IsDone()
	for _, o := range a.unwindOrders {
		if !o.IsDone() {
			return false
		}
	}
	return buy && sell
}

// filledByDirection 返回买方向与卖方向的累计成交量，含已退场订单。
func (a *ArbitrageExecutor) filledByDirection() (decimal.Decimal, decimal.Decimal) {
	long := a.buyOrder.ExecutedAmountBase().Add(a.longRetired.base)
	short := a.sellOrder.ExecutedAmountBase().Add(a.shortRetired.base)
	for _, o := range a.unwindOrders {
		if o.Side == SideBuy {
			long = long.Add(o.ExecutedAmountBase())
		} else {
			short = short.Add(o.ExecutedAmountBase())
		}
	}
	return long, short
}

// quoteByDirection 返回买方向与卖方向的累计成交金额（计价币）。
func (a *ArbitrageExecutor) quoteByDirection() (decimal.Decimal, decimal.Decimal) {
	long := a.buyOrder.ExecutedAmountQuote().Add(a.longRetired.quote)
	short := a.sellOrder.ExecutedAmountQuote().Add(a.shortRetired.quote)
	for _, o := range a.unwindOrders {
		if o.Side == SideBuy {
			long = long.Add(o.ExecutedAmountQuote())
		} else {
			short = short.Add(o.ExecutedAmountQuote())
		}
	}
	return long, short
}

// placeUnwindOrder 对残余敞口反向下单：多头敞口在买入腿市场卖出，
// 空头敞口在卖出腿市场买回。
func (a *ArbitrageExecutor) placeUnwindOrder(ctx context.Context, exposure decimal.Decimal) {
	market := a.cfg.BuyingMarket
	side := SideSell
	amount := exposure
	if exposure.IsNegative() {
		market = a.cfg.SellingMarket
		side = SideBuy
		amount = exposure.Neg()
	}
	if !amount.IsPositive() {
		return
	}
	order, err := a.submitOrder(ctx, OrderSpec{
		Exchange:    market.Exchange,
		TradingPair: market.TradingPair,
		Side:        side,
		OrderType:   OrderTypeMarket,
		Amount:      amount,
		ReduceOnly:  true,
	})
	if err != nil {
		a.logger.Warn("拉平敞口下单失败", zap.Error(err), zap.Int("retries", a.retries))
		return
	}
	a.unwindOrders = append(a.unwindOrders, order)
}

func (a *ArbitrageExecutor) processOrderEvent(ev OrderEvent) {
	order := a.lookupOrder(ev.OrderID)
	if order == nil {
		return
	}
	order.Apply(ev)
	if ev.Kind != OrderEventFailed && ev.Kind != OrderEventCanceled {
		return
	}
	switch {
	case a.buyOrder != nil && a.buyOrder.OrderID == ev.OrderID:
		a.longRetired.absorb(a.buyOrder)
		a.failedOrders = append(a.failedOrders, a.buyOrder)
		a.buyOrder = nil
	case a.sellOrder != nil && a.sellOrder.OrderID == ev.OrderID:
		a.shortRetired.absorb(a.sellOrder)
		a.failedOrders = append(a.failedOrders, a.sellOrder)
		a.sellOrder = nil
	default:
		for i, o := range a.unwindOrders {
			if o.OrderID == ev.OrderID {
				if o.Side == SideBuy {
					a.longRetired.absorb(o)
				} else {
					a.shortRetired.absorb(o)
				}
				a.failedOrders = append(a.failedOrders, o)
				a.unwindOrders = append(a.unwindOrders[:i], a.unwindOrders[i+1:]...)
				break
			}
		}
	}
	if ev.Kind == OrderEventFailed {
		a.logger.Error("套利订单失败", zap.String("order_id", ev.OrderID), zap.String("reason", ev.Reason))
		a.bumpRetriesLocked()
	}
}

func (a *ArbitrageExecutor) lookupOrder(orderID string) *TrackedOrder {
	for _, o := range []*TrackedOrder{a.buyOrder, a.sellOrder} {
		if o != nil && o.OrderID == orderID {
			return o
		}
	}
	for _, o := range a.unwindOrders {
		if o.OrderID == orderID {
			return o
		}
	}
	return nil
}

func (a *ArbitrageExecutor) cumFeesQuote() decimal.Decimal {
	total := a.buyOrder.CumFeesQuote().Add(a.sellOrder.CumFeesQuote())
	total = total.Add(a.longRetired.fees).Add(a.shortRetired.fees)
	for _, o := range a.unwindOrders {
		total = total.Add(o.CumFeesQuote())
	}
	return total
}

// avgByDirection 返回买方向与卖方向的累计成交均价。
func (a *ArbitrageExecutor) avgByDirection() (decimal.Decimal, decimal.Decimal) {
	long, short := a.filledByDirection()
	longQuote, shortQuote := a.quoteByDirection()
	longAvg, shortAvg := decimal.Zero, decimal.Zero
	if long.IsPositive() {
		longAvg = longQuote.Div(long)
	}
	if short.IsPositive() {
		shortAvg = shortQuote.Div(short)
	}
	return longAvg, shortAvg
}

// netPnlQuote 按两个方向可配对的成交量计算已实现盈亏。
func (a *ArbitrageExecutor) netPnlQuote() decimal.Decimal {
	long, short := a.filledByDirection()
	matched := decimal.Min(long, short)
	if !matched.IsPositive() {
		return a.cumFeesQuote().Neg()
	}
	longAvg, shortAvg := a.avgByDirection()
	return matched.Mul(shortAvg.Sub(longAvg)).Sub(a.cumFeesQuote())
}

func (a *ArbitrageExecutor) netPnlPct() decimal.Decimal {
	long, short := a.filledByDirection()
	matched := decimal.Min(long, short)
	longAvg, _ := a.avgByDirection()
	notional := matched.Mul(longAvg)
	if !notional.IsPositive() {
		return decimal.Zero
	}
	return a.netPnlQuote().Div(notional)
}

// Info 构建当前快照。
func (a *ArbitrageExecutor) Info() ExecutorInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	info := a.infoHeaderLocked(ConfigTypeArbitrage, a.cfg)
	long, short := a.filledByDirection()
	longQuote, shortQuote := a.quoteByDirection()

	info.NetPnlQuote = a.netPnlQuote()
	info.NetPnlPct = a.netPnlPct()
	info.CumFeesQuote = a.cumFeesQuote()
	info.FilledAmountQuote = longQuote.Add(shortQuote)
	info.IsTrading = a.status == StatusRunning && (long.IsPositive() || short.IsPositive())
	info.CustomInfo = map[string]any{
		"buying_market":     a.cfg.BuyingMarket.String(),
		"selling_market":    a.cfg.SellingMarket.String(),
		"min_profitability": a.cfg.MinProfitability,
		"last_spread_pct":   a.lastSpreadPct,
		"last_buy_price":    a.lastBuyPrice,
		"last_sell_price":   a.lastSellPrice,
		"exposure":          long.Sub(short),
		"entry_triggered":   a.entryTriggered,
		"current_retries":   a.retries,
		"max_retries":       a.opts.MaxRetries,
	}
	return info
}
