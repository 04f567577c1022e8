package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-core/internal/config"
	"trades-core/internal/executor"
)

// 订单连续查不到达到该次数后判定为丢失。
const orderMissLimit = 3

// watchedOrder 记录一笔在途订单的轮询进度。
type watchedOrder struct {
	exchange    string
	tradingPair string
	orderID     string
	lastFilled  decimal.Decimal
	misses      int
}

func (w *watchedOrder) key() string {
	return w.exchange + "/" + w.orderID
}

// Service 把多账户交易所客户端聚合成执行器可用的订单网关。
// 下单与撤单同步完成，订单状态变化通过轮询转成事件推送给订阅方。
type Service struct {
	logger  *zap.Logger
	clients map[string]*Client
	poll    time.Duration

	sinkMu sync.RWMutex
	sinks  []func(executor.OrderEvent)

	watchMu sync.Mutex
	watched map[string]*watchedOrder
}

// NewService 按配置构造全部交易所客户端。
func NewService(cfg config.ExchangeConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clients := make(map[string]*Client, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		if _, exists := clients[account.Name]; exists {
			return nil, fmt.Errorf("exchange: 账户 %s 重复配置", account.Name)
		}
		client, err := NewClient(account, cfg.Retry, logger)
		if err != nil {
			return nil, err
		}
		clients[account.Name] = client
	}

	return &Service{
		logger:  logger,
		clients: clients,
		poll:    cfg.OrderPollInterval,
		watched: make(map[string]*watchedOrder),
	}, nil
}

// Subscribe 注册订单事件回调，回调必须是非阻塞的。
func (s *Service) Subscribe(fn func(executor.OrderEvent)) {
	if fn == nil {
		return
	}
	s.sinkMu.Lock()
	s.sinks = append(s.sinks, fn)
	s.sinkMu.Unlock()
}

// Client 按交易所名称返回底层客户端。
func (s *Service) Client(exchange string) (*Client, error) {
	client, ok := s.clients[exchange]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, exchange)
	}
	return client, nil
}

// PlaceOrder 提交订单并登记轮询。
func (s *Service) PlaceOrder(ctx context.Context, spec executor.OrderSpec) (string, error) {
	client, err := s.Client(spec.Exchange)
	if err != nil {
		return "", err
	}

	orderID, err := client.CreateOrder(ctx, spec)
	if err != nil {
		return "", err
	}

	watch := &watchedOrder{
		exchange:    spec.Exchange,
		tradingPair: spec.TradingPair,
		orderID:     orderID,
	}
	s.watchMu.Lock()
	s.watched[watch.key()] = watch
	s.watchMu.Unlock()

	s.emit(executor.OrderEvent{
		Kind:        executor.OrderEventCreated,
		OrderID:     orderID,
		Exchange:    spec.Exchange,
		TradingPair: spec.TradingPair,
		Timestamp:   time.Now().UTC(),
	})

	return orderID, nil
}

// CancelOrder 撤销订单。
// 撤销结果不在这里回报，轮询观察到终态后统一发事件。
func (s *Service) CancelOrder(ctx context.Context, exchange, tradingPair, orderID string) error {
	client, err := s.Client(exchange)
	if err != nil {
		return err
	}
	return client.CancelOrder(ctx, tradingPair, orderID)
}

// Price 按取价方式返回当前价格。
func (s *Service) Price(ctx context.Context, exchange, tradingPair string, priceType executor.PriceType) (decimal.Decimal, error) {
	client, err := s.Client(exchange)
	if err != nil {
		return decimal.Zero, err
	}

	book, err := client.FetchOrderBook(ctx, tradingPair, 5)
	if err != nil {
		return decimal.Zero, err
	}

	var price decimal.Decimal
	switch priceType {
	case executor.PriceTypeBestBid:
		price = book.BestBid()
	case executor.PriceTypeBestAsk:
		price = book.BestAsk()
	default:
		// mid 与 last 共用盘口中间价。
		price = book.MidPrice()
	}

	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("exchange: %s %s 盘口为空", exchange, tradingPair)
	}
	return price, nil
}

// TradingRules 返回交易对的下单约束。
func (s *Service) TradingRules(ctx context.Context, exchange, tradingPair string) (executor.TradingRules, error) {
	client, err := s.Client(exchange)
	if err != nil {
		return executor.TradingRules{}, err
	}
	return client.SymbolRules(ctx, tradingPair)
}

// AvailableBalance 返回币种可用余额。
func (s *Service) AvailableBalance(ctx context.Context, exchange, asset string) (decimal.Decimal, error) {
	client, err := s.Client(exchange)
	if err != nil {
		return decimal.Zero, err
	}
	return client.FetchFreeBalance(ctx, asset)
}

// Candles 拉取指定交易所的K线数据。
func (s *Service) Candles(ctx context.Context, exchange, tradingPair, timeframe string, limit int) ([]Candle, error) {
	client, err := s.Client(exchange)
	if err != nil {
		return nil, err
	}
	return client.FetchCandles(ctx, tradingPair, timeframe, int64(limit))
}

// OrderBook 拉取指定交易所的订单簿快照。
func (s *Service) OrderBook(ctx context.Context, exchange, tradingPair string, depth int) (OrderBookSnapshot, error) {
	client, err := s.Client(exchange)
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	return client.FetchOrderBook(ctx, tradingPair, int64(depth))
}

// Run 启动订单状态轮询，阻塞直到上下文取消。
func (s *Service) Run(ctx context.Context) error {
	interval := s.poll
	if interval <= 0 {
		interval = 2 * time.Second
	}

	s.logger.Info("订单状态轮询启动", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("订单状态轮询退出")
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	s.watchMu.Lock()
	pending := make([]*watchedOrder, 0, len(s.watched))
	for _, w := range s.watched {
		pending = append(pending, w)
	}
	s.watchMu.Unlock()

	for _, w := range pending {
		if ctx.Err() != nil {
			return
		}
		s.pollOrder(ctx, w)
	}
}

func (s *Service) pollOrder(ctx context.Context, w *watchedOrder) {
	client, err := s.Client(w.exchange)
	if err != nil {
		s.logger.Error("在途订单找不到所属账户", zap.String("order_id", w.orderID), zap.Error(err))
		s.unwatch(w)
		return
	}

	state, err := client.FetchOrderState(ctx, w.tradingPair, w.orderID)
	if err != nil {
		if isOrderMissing(err) {
			w.misses++
			if w.misses >= orderMissLimit {
				s.logger.Warn("订单在交易所侧已丢失",
					zap.String("exchange", w.exchange),
					zap.String("order_id", w.orderID),
				)
				s.emit(executor.OrderEvent{
					Kind:        executor.OrderEventFailed,
					OrderID:     w.orderID,
					Exchange:    w.exchange,
					TradingPair: w.tradingPair,
					Reason:      "order not found",
					Timestamp:   time.Now().UTC(),
				})
				s.unwatch(w)
			}
			return
		}
		s.logger.Warn("查询订单状态失败",
			zap.String("exchange", w.exchange),
			zap.String("order_id", w.orderID),
			zap.Error(err),
		)
		return
	}

	w.misses = 0
	s.dispatchState(w, state)
}

// dispatchState 把一次订单查询结果转成零个或多个事件。
func (s *Service) dispatchState(w *watchedOrder, state OrderState) {
	base, quote := splitPair(w.tradingPair)
	ts := state.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	fill := executor.OrderEvent{
		OrderID:       w.orderID,
		Exchange:      w.exchange,
		TradingPair:   w.tradingPair,
		ExecutedBase:  state.FilledBase,
		ExecutedQuote: state.CostQuote,
		AvgPrice:      state.AvgPrice,
		FeeQuote:      state.FeeInQuote(base, quote),
		Timestamp:     ts,
	}

	switch state.Status {
	case OrderStatusClosed:
		fill.Kind = executor.OrderEventCompleted
		s.emit(fill)
		s.unwatch(w)
	case OrderStatusCanceled, OrderStatusExpired:
		if state.FilledBase.GreaterThan(w.lastFilled) {
			fill.Kind = executor.OrderEventFilled
			s.emit(fill)
		}
		s.emit(executor.OrderEvent{
			Kind:          executor.OrderEventCanceled,
			OrderID:       w.orderID,
			Exchange:      w.exchange,
			TradingPair:   w.tradingPair,
			ExecutedBase:  state.FilledBase,
			ExecutedQuote: state.CostQuote,
			AvgPrice:      state.AvgPrice,
			FeeQuote:      fill.FeeQuote,
			Timestamp:     ts,
		})
		s.unwatch(w)
	case OrderStatusRejected:
		s.emit(executor.OrderEvent{
			Kind:        executor.OrderEventFailed,
			OrderID:     w.orderID,
			Exchange:    w.exchange,
			TradingPair: w.tradingPair,
			Reason:      "order rejected",
			Timestamp:   ts,
		})
		s.unwatch(w)
	default:
		if state.FilledBase.GreaterThan(w.lastFilled) {
			w.lastFilled = state.FilledBase
			fill.Kind = executor.OrderEventFilled
			s.emit(fill)
		}
	}
}

func (s *Service) unwatch(w *watchedOrder) {
	s.watchMu.Lock()
	delete(s.watched, w.key())
	s.watchMu.Unlock()
}

func (s *Service) emit(ev executor.OrderEvent) {
	s.sinkMu.RLock()
	sinks := make([]func(executor.OrderEvent), len(s.sinks))
	copy(sinks, s.sinks)
	s.sinkMu.RUnlock()

	for _, sink := range sinks {
		sink(ev)
	}
}

// splitPair 拆出交易对的基础币与计价币。
func splitPair(pair string) (string, string) {
	if i := strings.Index(pair, "-"); i > 0 {
		return pair[:i], pair[i+1:]
	}
	return pair, ""
}
