package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DCAExecutor 管理一组同向分批建仓级别，整组视作一个逻辑仓位。
//
// 各级别按激活区间逐档挂出，屏障条件作用于全部已成交级别的加权均价：
// 挂单模式的止损要求整组级别都已落定，吃单模式直接按计价币亏损额止损。
// 收尾时撤掉未成交级别，以一笔市价单平掉净头寸。
type DCAExecutor struct {
	*baseExecutor

	cfg    DCAExecutorConfig
	bounds []decimal.Decimal
	rules  TradingRules

	openOrders   []*TrackedOrder
	closeOrders  []*TrackedOrder
	failedOrders []*TrackedOrder

	trailingArmed   bool
	trailingTrigger decimal.Decimal

	markPrice decimal.Decimal
}

// NewDCAExecutor 创建分批建仓执行器，配置非法时报错。
func NewDCAExecutor(cfg DCAExecutorConfig, gateway OrderGateway, logger *zap.Logger, opts Options) (*DCAExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &DCAExecutor{cfg: cfg, bounds: cfg.normalizedActivationBounds()}
	d.baseExecutor = newBaseExecutor(cfg.ConfigBase, gateway, logger, opts)
	d.baseExecutor.hooks = d
	return d, nil
}

func (d *DCAExecutor) Type() ConfigType { return ConfigTypeDCA }

// Config 返回执行器配置。
func (d *DCAExecutor) Config() DCAExecutorConfig { return d.cfg }

func (d *DCAExecutor) nLevels() int { return len(d.cfg.Prices) }

func (d *DCAExecutor) onStart(ctx context.Context) error {
	rules, err := d.gateway.TradingRules(ctx, d.cfg.Exchange, d.cfg.TradingPair)
	if err != nil {
		return fmt.Errorf("获取交易规则失败: %w", err)
	}
	d.rules = rules

	for i, amountQuote := range d.cfg.AmountsQuote {
		amountBase := amountQuote.Div(d.cfg.Prices[i])
		if amountQuote.LessThan(rules.MinNotionalSize) || amountBase.LessThan(rules.MinOrderSize) {
			d.logger.Error("级别金额低于交易所下限",
				zap.Int("level", i),
				zap.String("amount_quote", amountQuote.String()),
				zap.String("min_notional", rules.MinNotionalSize.String()),
				zap.String("min_order_size", rules.MinOrderSize.String()))
			d.setCloseTypeLocked(CloseTypeFailed)
			d.terminateLocked()
			return nil
		}
	}

	ok, err := d.checkTotalBudget(ctx)
	if err != nil {
		return fmt.Errorf("余额检查失败: %w", err)
	}
	if !ok {
		d.logger.Error("余额不足，无法建立分批仓位",
			zap.String("max_amount_quote", d.cfg.MaxAmountQuote().String()))
		d.setCloseTypeLocked(CloseTypeInsufficientBalance)
		d.terminateLocked()
		return nil
	}
	if d.expired() {
		d.setCloseTypeLocked(CloseTypeExpired)
		d.terminateLocked()
	}
	return nil
}

// checkTotalBudget 校验余额能否覆盖整组级别。
func (d *DCAExecutor) checkTotalBudget(ctx context.Context) (bool, error) {
	baseAsset, quoteAsset := splitTradingPair(d.cfg.TradingPair)
	if d.cfg.Side == SideBuy {
		balance, err := d.gateway.AvailableBalance(ctx, d.cfg.Exchange, quoteAsset)
		if err != nil {
			return false, err
		}
		return balance.GreaterThanOrEqual(d.cfg.MaxAmountQuote()), nil
	}
	totalBase := decimal.Zero
	for i, amountQuote := range d.cfg.AmountsQuote {
		totalBase = totalBase.Add(amountQuote.Div(d.cfg.Prices[i]))
	}
	balance, err := d.gateway.AvailableBalance(ctx, d.cfg.Exchange, baseAsset)
	if err != nil {
		return false, err
	}
	return balance.GreaterThanOrEqual(totalBase), nil
}

func (d *DCAExecutor) onEarlyStop(ctx context.Context) {
	d.closeAndCancel(ctx, CloseTypeEarlyStop)
}

func (d *DCAExecutor) controlTask(ctx context.Context) {
	switch d.status {
	case StatusRunning:
		d.controlOpenOrders(ctx)
		d.controlBarriers(ctx)
	case StatusShuttingDown:
		d.controlShutdown(ctx)
	}
	d.exhaustRetriesLocked()
}

// controlOpenOrders 逐档挂出下一级别：级别价进入激活区间才下单。
// 已挂出的级别不会因行情离开区间而撤回。
func (d *DCAExecutor) controlOpenOrders(ctx context.Context) {
	next := len(d.openOrders)
	if next >= d.nLevels() || d.expired() {
		return
	}
	mid, err := d.gateway.Price(ctx, d.cfg.Exchange, d.cfg.TradingPair, PriceTypeMid)
	if err != nil {
		d.logger.Warn("获取行情失败", zap.Error(err))
		return
	}
	if d.withinActivationBounds(d.cfg.Prices[next], mid) {
		d.placeLevelOrder(ctx, next)
	}
}

// withinActivationBounds 判断级别价与当前价的关系是否允许挂出该级别。
// 挂单模式是单侧约束（不挂太深的单），吃单模式是围绕级别价的双侧区间。
func (d *DCAExecutor) withinActivationBounds(orderPrice, closePrice decimal.Decimal) bool {
	if d.cfg.Mode == DCAModeMaker {
		if len(d.bounds) == 0 {
			return true
		}
		if d.cfg.Side == SideBuy {
			return orderPrice.GreaterThan(closePrice.Mul(one.Sub(d.bounds[0])))
		}
		return orderPrice.LessThan(closePrice.Mul(one.Add(d.bounds[0])))
	}
	lower, upper := d.bounds[0], d.bounds[0]
	if len(d.bounds) == 2 {
		upper = d.bounds[1]
	}
	if d.cfg.Side == SideBuy {
		return closePrice.GreaterThan(orderPrice.Mul(one.Sub(lower))) &&
			closePrice.LessThan(orderPrice.Mul(one.Add(upper)))
	}
	return closePrice.GreaterThan(orderPrice.Mul(one.Sub(upper))) &&
		closePrice.LessThan(orderPrice.Mul(one.Add(lower)))
}

func (d *DCAExecutor) placeLevelOrder(ctx context.Context, level int) {
	price := d.cfg.Prices[level]
	amount := d.cfg.AmountsQuote[level].Div(price)
	order, err := d.submitOrder(ctx, OrderSpec{
		Exchange:    d.cfg.Exchange,
		TradingPair: d.cfg.TradingPair,
		Side:        d.cfg.Side,
		OrderType:   d.cfg.openOrderType(),
		Amount:      amount,
		Price:       price,
	})
	if err != nil {
		// 建仓级别下单失败不消耗重试预算，下个周期重挂本级别。
		d.logger.Warn("级别下单失败", zap.Int("level", level), zap.Error(err))
		return
	}
	d.logger.Info("级别已挂出",
		zap.Int("level", level),
		zap.String("price", price.String()),
		zap.String("amount", amount.String()))
	d.openOrders = append(d.openOrders, order)
}

func (d *DCAExecutor) controlBarriers(ctx context.Context) {
	closePrice, err := d.closePriceLive(ctx)
	if err != nil {
		d.logger.Warn("获取行情失败，本周期跳过屏障评估", zap.Error(err))
		return
	}
	d.markPrice = closePrice
	if d.controlStopLoss(ctx, closePrice) {
		return
	}
	if d.controlTrailingStop(ctx, closePrice) {
		return
	}
	if d.controlTakeProfit(ctx, closePrice) {
		return
	}
	d.controlTimeLimit(ctx)
}

// controlStopLoss 实现按模式区分的止损：
// 挂单模式要求整组级别全部落定后按净收益率判定；
// 吃单模式直接按计价币亏损额对照整组理论最大亏损判定。
func (d *DCAExecutor) controlStopLoss(ctx context.Context, closePrice decimal.Decimal) bool {
	if !d.cfg.StopLoss.IsPositive() {
		return false
	}
	if d.cfg.Mode == DCAModeMaker {
		if d.allOpenOrdersExecuted() && d.netPnlPct(closePrice).LessThanOrEqual(d.cfg.StopLoss.Neg()) {
			d.closeAndCancel(ctx, CloseTypeStopLoss)
			return true
		}
		return false
	}
	if d.netPnlQuote(closePrice).LessThanOrEqual(d.maxLossQuote().Neg()) {
		d.closeAndCancel(ctx, CloseTypeStopLoss)
		return true
	}
	return false
}

func (d *DCAExecutor) controlTrailingStop(ctx context.Context, closePrice decimal.Decimal) bool {
	ts := d.cfg.TrailingStop
	if ts == nil {
		return false
	}
	pnl := d.netPnlPct(closePrice)
	if !d.trailingArmed {
		if pnl.GreaterThan(ts.ActivationPrice) {
			d.trailingArmed = true
			d.trailingTrigger = pnl.Sub(ts.TrailingDelta)
			d.logger.Info("移动止损已激活", zap.String("trigger_pnl_pct", d.trailingTrigger.String()))
		}
		return false
	}
	if pnl.LessThan(d.trailingTrigger) {
		d.closeAndCancel(ctx, CloseTypeTrailingStop)
		return true
	}
	if next := pnl.Sub(ts.TrailingDelta); next.GreaterThan(d.trailingTrigger) {
		d.trailingTrigger = next
	}
	return false
}

func (d *DCAExecutor) controlTakeProfit(ctx context.Context, closePrice decimal.Decimal) bool {
	if !d.cfg.TakeProfit.IsPositive() {
		return false
	}
	if d.netPnlPct(closePrice).GreaterThan(d.cfg.TakeProfit) {
		d.closeAndCancel(ctx, CloseTypeTakeProfit)
		return true
	}
	return false
}

func (d *DCAExecutor) controlTimeLimit(ctx context.Context) {
	if !d.expired() {
		return
	}
	if d.openFilled().IsPositive() {
		d.closeAndCancel(ctx, CloseTypeTimeLimit)
		return
	}
	d.closeAndCancel(ctx, CloseTypeExpired)
}

// controlShutdown 推进收尾：开平数量对平即终结；
// 平仓单仍在场内则等待，否则补发平仓单并消耗一次重试。
func (d *DCAExecutor) controlShutdown(ctx context.Context) {
	if amountsReconciled(d.openFilled(), d.closeFilled(), d.rules) {
		d.terminateLocked()
		return
	}
	for _, o := range d.closeOrders {
		if o.IsOpen() {
			return
		}
	}
	d.bumpRetriesLocked()
	d.cancelOpenLevelOrders(ctx)
	if err := d.placeCloseOrder(ctx); err != nil {
		d.logger.Warn("补发平仓单失败", zap.Error(err), zap.Int("retries", d.retries))
	}
}

// closeAndCancel 撤掉未成交级别、挂出市价平仓单并进入收尾。
func (d *DCAExecutor) closeAndCancel(ctx context.Context, ct CloseType) {
	d.cancelOpenLevelOrders(ctx)
	if err := d.placeCloseOrder(ctx); err != nil {
		d.logger.Warn("平仓下单失败", zap.Error(err))
		d.bumpRetriesLocked()
	}
	d.beginShutdownLocked(ct)
}

func (d *DCAExecutor) placeCloseOrder(ctx context.Context) error {
	delta := d.openFilled().Sub(d.closeFilled())
	if !delta.IsPositive() || delta.LessThan(d.rules.MinOrderSize) {
		return nil
	}
	order, err := d.submitOrder(ctx, OrderSpec{
		Exchange:    d.cfg.Exchange,
		TradingPair: d.cfg.TradingPair,
		Side:        d.cfg.Side.Opposite(),
		OrderType:   OrderTypeMarket,
		Amount:      delta,
		ReduceOnly:  true,
	})
	if err != nil {
		return err
	}
	d.closeOrders = append(d.closeOrders, order)
	return nil
}

func (d *DCAExecutor) cancelOpenLevelOrders(ctx context.Context) {
	for _, o := range d.openOrders {
		if err := d.cancelOrder(ctx, o); err != nil {
			d.logger.Warn("撤销级别挂单失败", zap.String("order_id", o.OrderID), zap.Error(err))
		}
	}
}

func (d *DCAExecutor) processOrderEvent(ev OrderEvent) {
	order := d.lookupOrder(ev.OrderID)
	if order == nil {
		return
	}
	order.Apply(ev)
	if ev.Kind != OrderEventFailed {
		return
	}
	for i, o := range d.openOrders {
		if o.OrderID == ev.OrderID {
			// 失败级别移出队列，腾出档位重新挂出；不消耗重试预算。
			d.failedOrders = append(d.failedOrders, o)
			d.openOrders = append(d.openOrders[:i], d.openOrders[i+1:]...)
			d.logger.Error("级别订单失败", zap.String("order_id", ev.OrderID), zap.String("reason", ev.Reason))
			return
		}
	}
	for i, o := range d.closeOrders {
		if o.OrderID == ev.OrderID {
			d.failedOrders = append(d.failedOrders, o)
			d.closeOrders = append(d.closeOrders[:i], d.closeOrders[i+1:]...)
			d.logger.Error("平仓单失败", zap.String("order_id", ev.OrderID), zap.String("reason", ev.Reason))
			d.bumpRetriesLocked()
			return
		}
	}
}

func (d *DCAExecutor) lookupOrder(orderID string) *TrackedOrder {
	for _, o := range d.openOrders {
		if o.OrderID == orderID {
			return o
		}
	}
	for _, o := range d.closeOrders {
		if o.OrderID == orderID {
			return o
		}
	}
	return nil
}

// allOpenOrdersExecuted 判断整组级别是否全部挂出且全部落定。
// 挂单模式的止损被它闸住：只要还有级别未落定，净收益率止损就不会触发。
func (d *DCAExecutor) allOpenOrdersExecuted() bool {
	if len(d.openOrders) != d.nLevels() {
		return false
	}
	for _, o := range d.openOrders {
		if !o.IsDone() {
			return false
		}
	}
	return true
}

func (d *DCAExecutor) expired() bool {
	return d.cfg.TimeLimit > 0 && !d.now().Before(d.cfg.Timestamp.Add(d.cfg.TimeLimit))
}

func (d *DCAExecutor) openFilled() decimal.Decimal {
	total := decimal.Zero
	for _, o := range d.openOrders {
		total = total.Add(o.ExecutedAmountBase())
	}
	return total
}

func (d *DCAExecutor) closeFilled() decimal.Decimal {
	total := decimal.Zero
	for _, o := range d.closeOrders {
		total = total.Add(o.ExecutedAmountBase())
	}
	return total
}

// positionAveragePrice 返回已成交级别按数量加权的持仓均价。
func (d *DCAExecutor) positionAveragePrice() decimal.Decimal {
	filled := d.openFilled()
	if !filled.IsPositive() {
		return decimal.Zero
	}
	weighted := decimal.Zero
	for _, o := range d.openOrders {
		weighted = weighted.Add(o.AverageExecutedPrice().Mul(o.ExecutedAmountBase()))
	}
	return weighted.Div(filled)
}

func (d *DCAExecutor) openFilledQuote() decimal.Decimal {
	return d.openFilled().Mul(d.positionAveragePrice())
}

// maxLossQuote 返回整组级别在止损比例下的理论最大亏损额。
func (d *DCAExecutor) maxLossQuote() decimal.Decimal {
	return d.cfg.MaxAmountQuote().Mul(d.cfg.StopLoss)
}

func (d *DCAExecutor) cumFeesQuote() decimal.Decimal {
	total := decimal.Zero
	for _, o := range d.openOrders {
		total = total.Add(o.CumFeesQuote())
	}
	for _, o := range d.closeOrders {
		total = total.Add(o.CumFeesQuote())
	}
	return total
}

func (d *DCAExecutor) tradePnlPct(closePrice decimal.Decimal) decimal.Decimal {
	avg := d.positionAveragePrice()
	if !avg.IsPositive() || !closePrice.IsPositive() {
		return decimal.Zero
	}
	if d.cfg.Side == SideBuy {
		return closePrice.Sub(avg).Div(avg)
	}
	return avg.Sub(closePrice).Div(avg)
}

func (d *DCAExecutor) netPnlQuote(closePrice decimal.Decimal) decimal.Decimal {
	trade := d.tradePnlPct(closePrice).Mul(d.openFilledQuote())
	return trade.Sub(d.cumFeesQuote())
}

func (d *DCAExecutor) netPnlPct(closePrice decimal.Decimal) decimal.Decimal {
	quote := d.openFilledQuote()
	if !quote.IsPositive() {
		return decimal.Zero
	}
	return d.netPnlQuote(closePrice).Div(quote)
}

// closePriceLive 返回平仓侧的当前盘口价。
func (d *DCAExecutor) closePriceLive(ctx context.Context) (decimal.Decimal, error) {
	if d.cfg.Side == SideBuy {
		return d.gateway.Price(ctx, d.cfg.Exchange, d.cfg.TradingPair, PriceTypeBestBid)
	}
	return d.gateway.Price(ctx, d.cfg.Exchange, d.cfg.TradingPair, PriceTypeBestAsk)
}

// closePriceView 构建快照用：终结后取首笔平仓单均价，否则取最近行情。
func (d *DCAExecutor) closePriceView() decimal.Decimal {
	if d.status == StatusTerminated && len(d.closeOrders) > 0 && d.closeOrders[0].HasFills() {
		return d.closeOrders[0].AverageExecutedPrice()
	}
	return d.markPrice
}

// Info 构建当前快照。
func (d *DCAExecutor) Info() ExecutorInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := d.infoHeaderLocked(ConfigTypeDCA, d.cfg)
	closePrice := d.closePriceView()
	openFilled := d.openFilled()
	closeFilled := d.closeFilled()

	info.NetPnlPct = d.netPnlPct(closePrice)
	info.NetPnlQuote = d.netPnlQuote(closePrice)
	info.CumFeesQuote = d.cumFeesQuote()
	info.FilledAmountQuote = d.openFilledQuote().Add(closeFilled.Mul(closePrice))
	info.IsTrading = d.status == StatusRunning && openFilled.IsPositive()

	orderIDs := make([]string, 0, len(d.openOrders)+len(d.closeOrders))
	for _, o := range d.openOrders {
		orderIDs = append(orderIDs, o.OrderID)
	}
	for _, o := range d.closeOrders {
		orderIDs = append(orderIDs, o.OrderID)
	}
	info.CustomInfo = map[string]any{
		"side":                           string(d.cfg.Side),
		"mode":                           string(d.cfg.Mode),
		"n_levels":                       d.nLevels(),
		"current_position_average_price": d.positionAveragePrice(),
		"target_position_average_price":  d.cfg.TargetPositionAveragePrice(),
		"filled_amount":                  openFilled.Add(closeFilled),
		"max_amount_quote":               d.cfg.MaxAmountQuote(),
		"max_loss_quote":                 d.maxLossQuote(),
		"close_price":                    closePrice,
		"trailing_stop_armed":            d.trailingArmed,
		"trailing_stop_trigger_pct":      d.trailingTrigger,
		"current_retries":                d.retries,
		"max_retries":                    d.opts.MaxRetries,
		"order_ids":                      orderIDs,
	}
	return info
}
