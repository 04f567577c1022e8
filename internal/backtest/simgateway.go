package backtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trades-core/internal/exchange"
	"trades-core/internal/executor"
)

var one = decimal.NewFromInt(1)

// restingOrder 是尚未成交的限价挂单。
type restingOrder struct {
	id     string
	spec   executor.OrderSpec
	placed time.Time
}

// SimGateway 以历史K线回放同时实现执行器网关与特征数据源。
// 市价单按当前收盘价立即成交，限价单在后续K线扫过限价时按限价成交，
// 一根K线内视作全量成交。成交与撤销通过订阅回调对外广播，
// 事件形态与实盘网关一致。
type SimGateway struct {
	cfg Config

	mu       sync.Mutex
	series   []exchange.Candle
	cursor   int // 已回放的K线数量
	seq      int
	resting  []*restingOrder
	balances map[string]decimal.Decimal
	orders   int
	fills    int

	subMu sync.Mutex
	subs  []func(executor.OrderEvent)
}

// NewSimGateway 创建回放网关。序列必须按时间升序给出。
func NewSimGateway(cfg Config, series []exchange.Candle) *SimGateway {
	cfg = cfg.normalize()
	baseAsset, quoteAsset := splitPair(cfg.TradingPair)
	balances := map[string]decimal.Decimal{
		quoteAsset: cfg.InitialQuote,
	}
	if cfg.InitialBase.IsPositive() {
		balances[baseAsset] = cfg.InitialBase
	}
	return &SimGateway{
		cfg:      cfg,
		series:   series,
		balances: balances,
	}
}

// Subscribe 注册订单事件回调，回调必须是非阻塞的。
func (g *SimGateway) Subscribe(fn func(executor.OrderEvent)) {
	if fn == nil {
		return
	}
	g.subMu.Lock()
	g.subs = append(g.subs, fn)
	g.subMu.Unlock()
}

func (g *SimGateway) emit(ev executor.OrderEvent) {
	g.subMu.Lock()
	subs := append([]func(executor.OrderEvent)(nil), g.subs...)
	g.subMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Advance 揭示下一根K线并撮合被扫过的挂单。回放结束时返回 false。
func (g *SimGateway) Advance() (exchange.Candle, bool) {
	g.mu.Lock()
	if g.cursor >= len(g.series) {
		g.mu.Unlock()
		return exchange.Candle{}, false
	}
	candle := g.series[g.cursor]
	g.cursor++

	var filled []executor.OrderEvent
	keep := g.resting[:0]
	for _, o := range g.resting {
		if sweeps(candle, o.spec) {
			filled = append(filled, g.fillLocked(o.id, o.spec, o.spec.Price, candle.Timestamp))
		} else {
			keep = append(keep, o)
		}
	}
	g.resting = keep
	g.mu.Unlock()

	for _, ev := range filled {
		g.emit(ev)
	}
	return candle, true
}

// Revealed 返回已回放的K线数量。
func (g *SimGateway) Revealed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cursor
}

// OrderCount 返回提交过的订单总数。
func (g *SimGateway) OrderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orders
}

// FillCount 返回完全成交的订单总数。
func (g *SimGateway) FillCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fills
}

// MarkToMarket 以当前收盘价把全部余额折算成计价币净值。
func (g *SimGateway) MarkToMarket() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	baseAsset, quoteAsset := splitPair(g.cfg.TradingPair)
	equity := g.balances[quoteAsset]
	if g.cursor > 0 {
		last := decimal.NewFromFloat(g.series[g.cursor-1].Close)
		equity = equity.Add(g.balances[baseAsset].Mul(last))
	}
	return equity
}

// PlaceOrder 提交订单。市价单与越价限价单立即成交，其余限价单挂入队列。
func (g *SimGateway) PlaceOrder(ctx context.Context, spec executor.OrderSpec) (string, error) {
	if !spec.Amount.IsPositive() {
		return "", fmt.Errorf("backtest: 下单数量必须为正: %s", spec.Amount)
	}
	if spec.OrderType != executor.OrderTypeMarket && !spec.Price.IsPositive() {
		return "", fmt.Errorf("backtest: 限价单必须给出价格")
	}

	g.mu.Lock()
	if g.cursor == 0 {
		g.mu.Unlock()
		return "", fmt.Errorf("backtest: 回放尚未开始")
	}
	candle := g.series[g.cursor-1]
	last := decimal.NewFromFloat(candle.Close)
	g.seq++
	g.orders++
	orderID := fmt.Sprintf("SIM-%d", g.seq)

	events := []executor.OrderEvent{{
		Kind:        executor.OrderEventCreated,
		OrderID:     orderID,
		Exchange:    spec.Exchange,
		TradingPair: spec.TradingPair,
		Timestamp:   candle.Timestamp,
	}}

	switch {
	case spec.OrderType == executor.OrderTypeMarket:
		price := g.askLocked(last)
		if spec.Side == executor.SideSell {
			price = g.bidLocked(last)
		}
		events = append(events, g.fillLocked(orderID, spec, price, candle.Timestamp))
	case crossedNow(spec, last):
		// 下单瞬间已越价，按当前收盘价成交。
		events = append(events, g.fillLocked(orderID, spec, last, candle.Timestamp))
	default:
		g.resting = append(g.resting, &restingOrder{id: orderID, spec: spec, placed: candle.Timestamp})
	}
	g.mu.Unlock()

	for _, ev := range events {
		g.emit(ev)
	}
	return orderID, nil
}

// CancelOrder 撤销挂单。已成交或不存在的订单按空操作处理，
// 与交易所侧撤单竞态的语义一致。
func (g *SimGateway) CancelOrder(ctx context.Context, exchangeName, tradingPair, orderID string) error {
	g.mu.Lock()
	var canceled *restingOrder
	for i, o := range g.resting {
		if o.id == orderID {
			canceled = o
			g.resting = append(g.resting[:i], g.resting[i+1:]...)
			break
		}
	}
	ts := g.nowLocked()
	g.mu.Unlock()

	if canceled == nil {
		return nil
	}
	g.emit(executor.OrderEvent{
		Kind:        executor.OrderEventCanceled,
		OrderID:     orderID,
		Exchange:    exchangeName,
		TradingPair: tradingPair,
		Timestamp:   ts,
	})
	return nil
}

// Price 返回当前K线推导出的盘口价格。
func (g *SimGateway) Price(ctx context.Context, exchangeName, tradingPair string, priceType executor.PriceType) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cursor == 0 {
		return decimal.Zero, fmt.Errorf("backtest: 回放尚未开始")
	}
	last := decimal.NewFromFloat(g.series[g.cursor-1].Close)
	switch priceType {
	case executor.PriceTypeBestBid:
		return g.bidLocked(last), nil
	case executor.PriceTypeBestAsk:
		return g.askLocked(last), nil
	default:
		return last, nil
	}
}

// TradingRules 返回不构成约束的最小规则。
func (g *SimGateway) TradingRules(ctx context.Context, exchangeName, tradingPair string) (executor.TradingRules, error) {
	return executor.TradingRules{
		MinOrderSize:    decimal.New(1, -8),
		MinNotionalSize: decimal.New(1, -8),
		PriceIncrement:  decimal.New(1, -8),
		AmountIncrement: decimal.New(1, -8),
	}, nil
}

// AvailableBalance 返回模拟账户中指定资产的余额。
func (g *SimGateway) AvailableBalance(ctx context.Context, exchangeName, asset string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[asset], nil
}

// Candles 返回已回放窗口的尾部。回放数据只有单一粒度，
// 高周期请求按同一序列返回。
func (g *SimGateway) Candles(ctx context.Context, exchangeName, tradingPair, timeframe string, limit int) ([]exchange.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cursor == 0 {
		return nil, fmt.Errorf("backtest: 回放尚未开始")
	}
	window := g.series[:g.cursor]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return append([]exchange.Candle(nil), window...), nil
}

// OrderBook 返回围绕当前收盘价合成的单档盘口。
func (g *SimGateway) OrderBook(ctx context.Context, exchangeName, tradingPair string, depth int) (exchange.OrderBookSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cursor == 0 {
		return exchange.OrderBookSnapshot{}, fmt.Errorf("backtest: 回放尚未开始")
	}
	candle := g.series[g.cursor-1]
	last := decimal.NewFromFloat(candle.Close)
	bid, _ := g.bidLocked(last).Float64()
	ask, _ := g.askLocked(last).Float64()
	amount := candle.Volume
	if amount <= 0 {
		amount = 1
	}
	return exchange.OrderBookSnapshot{
		Symbol:    tradingPair,
		Bids:      []exchange.OrderBookLevel{{Price: bid, Amount: amount}},
		Asks:      []exchange.OrderBookLevel{{Price: ask, Amount: amount}},
		Timestamp: candle.Timestamp,
	}, nil
}

// fillLocked 结算一笔全量成交并更新余额，返回成交事件。
func (g *SimGateway) fillLocked(orderID string, spec executor.OrderSpec, price decimal.Decimal, ts time.Time) executor.OrderEvent {
	notional := spec.Amount.Mul(price)
	fee := notional.Mul(g.cfg.FeePct)
	baseAsset, quoteAsset := splitPair(spec.TradingPair)
	if spec.Side == executor.SideBuy {
		g.balances[quoteAsset] = g.balances[quoteAsset].Sub(notional).Sub(fee)
		g.balances[baseAsset] = g.balances[baseAsset].Add(spec.Amount)
	} else {
		g.balances[baseAsset] = g.balances[baseAsset].Sub(spec.Amount)
		g.balances[quoteAsset] = g.balances[quoteAsset].Add(notional).Sub(fee)
	}
	g.fills++
	return executor.OrderEvent{
		Kind:          executor.OrderEventCompleted,
		OrderID:       orderID,
		Exchange:      spec.Exchange,
		TradingPair:   spec.TradingPair,
		ExecutedBase:  spec.Amount,
		ExecutedQuote: notional,
		AvgPrice:      price,
		FeeQuote:      fee,
		Timestamp:     ts,
	}
}

func (g *SimGateway) nowLocked() time.Time {
	if g.cursor == 0 {
		return time.Time{}
	}
	return g.series[g.cursor-1].Timestamp
}

func (g *SimGateway) bidLocked(last decimal.Decimal) decimal.Decimal {
	return last.Mul(one.Sub(g.cfg.SpreadPct))
}

func (g *SimGateway) askLocked(last decimal.Decimal) decimal.Decimal {
	return last.Mul(one.Add(g.cfg.SpreadPct))
}

// crossedNow 判断限价单在下单瞬间是否已经越价。
func crossedNow(spec executor.OrderSpec, last decimal.Decimal) bool {
	if spec.Side == executor.SideBuy {
		return spec.Price.GreaterThanOrEqual(last)
	}
	return spec.Price.LessThanOrEqual(last)
}

// sweeps 判断K线的高低区间是否扫过挂单限价。
func sweeps(candle exchange.Candle, spec executor.OrderSpec) bool {
	if spec.Side == executor.SideBuy {
		return decimal.NewFromFloat(candle.Low).LessThanOrEqual(spec.Price)
	}
	return decimal.NewFromFloat(candle.High).GreaterThanOrEqual(spec.Price)
}

func splitPair(pair string) (string, string) {
	if i := strings.Index(pair, "-"); i > 0 {
		return pair[:i], pair[i+1:]
	}
	return pair, ""
}
