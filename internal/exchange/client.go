package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-core/internal/config"
	"trades-core/internal/executor"
)

// tradingAPI 聚合客户端实际用到的 ccxt 能力子集，方便在测试中替换。
type tradingAPI interface {
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
	FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error)
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
}

// Client 负责与单个交易所账户交互并实现重试机制。
// 市场元数据方法在各交易所类型上没有公共接口，构造时以闭包绑定。
type Client struct {
	name   string
	retry  config.RetryConfig
	logger *zap.Logger

	api         tradingAPI
	loadMarkets func() (interface{}, error)
	market      func(symbol string) interface{}

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 按账户配置构造交易所客户端。
func NewClient(account config.ExchangeAccountConfig, retry config.RetryConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
		},
	}
	if account.APIKey != "" {
		userConfig["apiKey"] = account.APIKey
	}
	if account.APISecret != "" {
		userConfig["secret"] = account.APISecret
	}
	if account.APIPass != "" {
		userConfig["password"] = account.APIPass
	}

	client := &Client{
		name:   account.Name,
		retry:  retry,
		logger: logger.With(zap.String("exchange", account.Name)),
	}

	switch strings.ToLower(account.Name) {
	case "binance":
		ex := ccxt.NewBinance(userConfig)
		if account.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client.api = ex
		client.loadMarkets = func() (interface{}, error) { return ex.LoadMarkets() }
		client.market = func(symbol string) interface{} { return ex.Market(symbol) }
	case "binanceusdm":
		ex := ccxt.NewBinanceusdm(userConfig)
		if account.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client.api = ex
		client.loadMarkets = func() (interface{}, error) { return ex.LoadMarkets() }
		client.market = func(symbol string) interface{} { return ex.Market(symbol) }
	case "kucoin":
		ex := ccxt.NewKucoin(userConfig)
		if account.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client.api = ex
		client.loadMarkets = func() (interface{}, error) { return ex.LoadMarkets() }
		client.market = func(symbol string) interface{} { return ex.Market(symbol) }
	case "okx":
		ex := ccxt.NewOkx(userConfig)
		if account.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client.api = ex
		client.loadMarkets = func() (interface{}, error) { return ex.LoadMarkets() }
		client.market = func(symbol string) interface{} { return ex.Market(symbol) }
	case "hyperliquid":
		ex := ccxt.NewHyperliquid(userConfig)
		if account.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client.api = ex
		client.loadMarkets = func() (interface{}, error) { return ex.LoadMarkets() }
		client.market = func(symbol string) interface{} { return ex.Market(symbol) }
	default:
		return nil, fmt.Errorf("exchange: 不支持的交易所 %s", account.Name)
	}

	return client, nil
}

// Name 返回交易所名称。
func (c *Client) Name() string {
	return c.name
}

// FetchCandles 获取指定交易对与周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, tradingPair, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}
	symbol := unifiedSymbol(tradingPair)

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.api.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// FetchOrderBook 获取订单簿快照。
func (c *Client) FetchOrderBook(ctx context.Context, tradingPair string, depth int64) (OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 50
	}
	symbol := unifiedSymbol(tradingPair)

	var raw ccxt.OrderBook
	err := c.callWithRetry(ctx, "fetch_order_book", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		orderBook, err := c.api.FetchOrderBook(
			symbol,
			ccxt.WithFetchOrderBookLimit(depth),
		)
		if err != nil {
			return err
		}

		raw = orderBook
		return nil
	})
	if err != nil {
		return OrderBookSnapshot{}, err
	}

	return convertOrderBook(symbol, raw), nil
}

// FetchFreeBalance 获取某一币种的可用余额。
func (c *Client) FetchFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var balances ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		result, err := c.api.FetchBalance()
		if err != nil {
			return err
		}
		balances = result
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	if balances.Free != nil {
		if free, ok := balances.Free[strings.ToUpper(asset)]; ok && free != nil {
			return decimal.NewFromFloat(*free), nil
		}
	}
	return decimal.Zero, nil
}

// SymbolRules 读取交易对的下单约束。
func (c *Client) SymbolRules(ctx context.Context, tradingPair string) (executor.TradingRules, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return executor.TradingRules{}, err
	}

	symbol := unifiedSymbol(tradingPair)
	market, ok := c.market(symbol).(map[string]interface{})
	if !ok {
		return executor.TradingRules{}, fmt.Errorf("exchange: 未找到交易对 %s", tradingPair)
	}

	var rules executor.TradingRules
	if limits, ok := market["limits"].(map[string]interface{}); ok {
		if amount, ok := limits["amount"].(map[string]interface{}); ok {
			rules.MinOrderSize = decimalFromMarket(amount["min"])
		}
		if cost, ok := limits["cost"].(map[string]interface{}); ok {
			rules.MinNotionalSize = decimalFromMarket(cost["min"])
		}
	}
	if precision, ok := market["precision"].(map[string]interface{}); ok {
		rules.PriceIncrement = incrementFromPrecision(precision["price"])
		rules.AmountIncrement = incrementFromPrecision(precision["amount"])
	}

	return rules, nil
}

// CreateOrder 提交订单并返回交易所订单号。
func (c *Client) CreateOrder(ctx context.Context, spec executor.OrderSpec) (string, error) {
	symbol := unifiedSymbol(spec.TradingPair)
	amount := spec.Amount.InexactFloat64()

	params := map[string]interface{}{}
	if spec.ReduceOnly {
		params["reduceOnly"] = true
	}
	if spec.OrderType == executor.OrderTypeLimitMaker {
		params["postOnly"] = true
	}

	var placed ccxt.Order
	err := c.callWithRetry(ctx, "create_order", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		var (
			order ccxt.Order
			err   error
		)
		if spec.OrderType.IsLimit() {
			var opts []ccxt.CreateLimitOrderOptions
			if len(params) > 0 {
				opts = append(opts, ccxt.WithCreateLimitOrderParams(params))
			}
			order, err = c.api.CreateLimitOrder(symbol, string(spec.Side), amount, spec.Price.InexactFloat64(), opts...)
		} else {
			var opts []ccxt.CreateMarketOrderOptions
			if len(params) > 0 {
				opts = append(opts, ccxt.WithCreateMarketOrderParams(params))
			}
			order, err = c.api.CreateMarketOrder(symbol, string(spec.Side), amount, opts...)
		}
		if err != nil {
			return err
		}

		placed = order
		return nil
	})
	if err != nil {
		return "", err
	}

	orderID := derefString(placed.Id)
	if orderID == "" {
		return "", fmt.Errorf("exchange: %s 未返回订单号", c.name)
	}
	return orderID, nil
}

// CancelOrder 撤销订单，订单已不存在时视为成功。
func (c *Client) CancelOrder(ctx context.Context, tradingPair, orderID string) error {
	symbol := unifiedSymbol(tradingPair)

	return c.callWithRetry(ctx, "cancel_order", func() error {
		_, err := c.api.CancelOrder(orderID, ccxt.WithCancelOrderSymbol(symbol))
		if err != nil && isOrderMissing(err) {
			c.logger.Debug("撤单目标已不存在", zap.String("order_id", orderID))
			return nil
		}
		return err
	})
}

// FetchOrderState 查询订单的当前状态。
func (c *Client) FetchOrderState(ctx context.Context, tradingPair, orderID string) (OrderState, error) {
	symbol := unifiedSymbol(tradingPair)

	var raw ccxt.Order
	err := c.callWithRetry(ctx, "fetch_order", func() error {
		order, err := c.api.FetchOrder(orderID, ccxt.WithFetchOrderSymbol(symbol))
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		return OrderState{}, err
	}

	return convertOrderState(orderID, symbol, raw), nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.loadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载")
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

func convertOrderBook(symbol string, ob ccxt.OrderBook) OrderBookSnapshot {
	bids := make([]OrderBookLevel, 0, len(ob.Bids))
	for _, level := range ob.Bids {
		if len(level) < 2 {
			continue
		}
		bids = append(bids, OrderBookLevel{
			Price:  level[0],
			Amount: level[1],
		})
	}

	asks := make([]OrderBookLevel, 0, len(ob.Asks))
	for _, level := range ob.Asks {
		if len(level) < 2 {
			continue
		}
		asks = append(asks, OrderBookLevel{
			Price:  level[0],
			Amount: level[1],
		})
	}

	var ts time.Time
	if ob.Timestamp != nil {
		ts = time.UnixMilli(*ob.Timestamp).UTC()
	} else {
		ts = time.Now().UTC()
	}

	var nonce int64
	if ob.Nonce != nil {
		nonce = *ob.Nonce
	}

	return OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
		Nonce:     nonce,
	}
}

func convertOrderState(orderID, symbol string, order ccxt.Order) OrderState {
	state := OrderState{
		ID:         orderID,
		Symbol:     symbol,
		Status:     OrderStatus(strings.ToLower(derefString(order.Status))),
		FilledBase: decimal.NewFromFloat(derefFloat(order.Filled)),
		AvgPrice:   decimal.NewFromFloat(derefFloat(order.Average)),
		CostQuote:  decimal.NewFromFloat(derefFloat(order.Cost)),
	}

	if id := derefString(order.Id); id != "" {
		state.ID = id
	}
	if sym := derefString(order.Symbol); sym != "" {
		state.Symbol = sym
	}

	// 部分交易所不回报成交均价，用成交额反推。
	if state.AvgPrice.IsZero() && state.FilledBase.IsPositive() && state.CostQuote.IsPositive() {
		state.AvgPrice = state.CostQuote.Div(state.FilledBase)
	}

	state.FeeCost = decimal.NewFromFloat(derefFloat(order.Fee.Cost))
	state.FeeCurrency = derefString(order.Fee.Currency)

	if order.LastUpdateTimestamp != nil {
		state.Timestamp = time.UnixMilli(*order.LastUpdateTimestamp).UTC()
	} else if order.Timestamp != nil {
		state.Timestamp = time.UnixMilli(*order.Timestamp).UTC()
	}

	return state
}

func decimalFromMarket(value interface{}) decimal.Decimal {
	f, ok := value.(float64)
	if !ok || f <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// incrementFromPrecision 把 ccxt 的精度字段转成最小变动单位。
// 精度既可能是步长（0.001）也可能是小数位数（3），大于等于1的整数按位数处理。
func incrementFromPrecision(value interface{}) decimal.Decimal {
	f, ok := value.(float64)
	if !ok || f <= 0 {
		return decimal.Zero
	}
	if f >= 1 && f == math.Trunc(f) {
		return decimal.New(1, -int32(f))
	}
	return decimal.NewFromFloat(f)
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
